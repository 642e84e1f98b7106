package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrDecode reports an audio payload that cannot be turned back into samples:
// malformed base64, a truncated sample or an impossible buffer shape.
var ErrDecode = errors.New("audio: malformed audio payload")

// FloatToPCM16 converts normalized float samples into 16-bit little-endian
// PCM. Samples outside [-1, 1] are clamped. NaN encodes as silence.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	case s < 0:
		return int16(s * 32768)
	default:
		return int16(s * 32767)
	}
}

// Encode packs a captured frame into its wire form. rate is recorded on the
// frame so providers can announce it.
func Encode(samples []float32, rate int) EncodedFrame {
	return EncodedFrame{
		Data:       base64.StdEncoding.EncodeToString(FloatToPCM16(samples)),
		SampleRate: rate,
	}
}

// Decode reverses the base64 framing of a wire payload. No resampling is
// performed.
func Decode(text string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return b, nil
}

// BytesToSamples interprets b as 16-bit little-endian PCM and returns
// samples normalized to [-1, 1].
func BytesToSamples(b []byte) ([]float32, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(b))
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = int16ToFloat(int16(binary.LittleEndian.Uint16(b[i*2:])))
	}
	return out, nil
}

// int16ToFloat mirrors the asymmetric scaling of floatToInt16 so that a
// round trip stays within one quantization step.
func int16ToFloat(v int16) float32 {
	if v < 0 {
		return float32(v) / 32768
	}
	return float32(v) / 32767
}

func pcmMIMEType(rate int) string {
	if rate <= 0 {
		return "audio/pcm"
	}
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}
