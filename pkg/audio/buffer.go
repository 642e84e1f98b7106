package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodeAudioData turns interleaved 16-bit PCM into a playable buffer
// allocated through alloc. data must hold a whole number of sample frames
// (channels*2 bytes each); otherwise ErrDecode is returned and nothing is
// allocated.
func DecodeAudioData(data []byte, alloc Allocator, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid shape %d channels at %d Hz", ErrDecode, channels, sampleRate)
	}
	frameBytes := channels * 2
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrDecode, len(data), frameBytes)
	}
	frames := len(data) / frameBytes

	buf, err := alloc.Allocate(channels, frames, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio: allocate buffer: %w", err)
	}
	for ch := range channels {
		dst := buf.Data[ch]
		for i := range frames {
			off := (i*channels + ch) * 2
			dst[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(data[off:])))
		}
	}
	return buf, nil
}

// HeapAllocator allocates plain buffers that are not tied to any context.
// It is useful when decoded audio is written to a file rather than played.
type HeapAllocator struct{}

// Allocate implements [Allocator].
func (HeapAllocator) Allocate(channels, frames, sampleRate int) (*Buffer, error) {
	if channels <= 0 || frames < 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid buffer shape %dx%d at %d Hz", channels, frames, sampleRate)
	}
	return NewBuffer(channels, frames, sampleRate), nil
}

// NewBuffer returns a zeroed buffer with the given shape.
func NewBuffer(channels, frames, sampleRate int) *Buffer {
	data := make([][]float32, channels)
	for i := range data {
		data[i] = make([]float32, frames)
	}
	return &Buffer{SampleRate: sampleRate, Data: data}
}
