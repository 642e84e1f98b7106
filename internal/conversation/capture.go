package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/studysync/pkg/audio"
)

// Capture turns a microphone into a stream of encoded frames.
type Capture struct {
	device audio.InputDevice
	cfg    audio.InputConfig
}

// NewCapture creates a capture pipeline for device. Zero fields in cfg fall
// back to 16 kHz and 4096-sample frames.
func NewCapture(device audio.InputDevice, cfg audio.InputConfig) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.CaptureSampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.CaptureFrameSize
	}
	return &Capture{device: device, cfg: cfg}
}

// Start acquires the microphone and starts tapping it. onFrame runs on the
// device's audio thread once per frame and must not block. Opening may wait
// on a permission prompt; cancelling ctx abandons it. Errors wrap
// [ErrPermission].
func (c *Capture) Start(ctx context.Context, onFrame func(audio.EncodedFrame)) (*CaptureHandle, error) {
	stream, err := c.device.Open(ctx, c.cfg)
	if err != nil {
		if !errors.Is(err, audio.ErrPermission) {
			err = fmt.Errorf("%w: %w", audio.ErrPermission, err)
		}
		return nil, fmt.Errorf("conversation: open microphone: %w", err)
	}

	rate := c.cfg.SampleRate
	h := &CaptureHandle{stream: stream}
	if err := stream.Start(func(frame []float32) {
		onFrame(audio.Encode(frame, rate))
	}); err != nil {
		h.Stop()
		return nil, fmt.Errorf("conversation: start microphone: %w: %w", audio.ErrPermission, err)
	}
	return h, nil
}

// CaptureHandle is a running capture. The zero value and nil are valid,
// stopped handles.
type CaptureHandle struct {
	stream audio.InputStream
	once   sync.Once
}

// Stop detaches the tap and releases the microphone. Idempotent.
func (h *CaptureHandle) Stop() {
	if h == nil || h.stream == nil {
		return
	}
	h.once.Do(func() {
		if err := h.stream.Close(); err != nil {
			slog.Debug("conversation: close microphone", "error", err)
		}
	})
}
