package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/audio/mock"
)

func TestCapture_EncodesFrames(t *testing.T) {
	t.Parallel()

	mic := &mock.InputDevice{}
	c := NewCapture(mic, audio.InputConfig{})

	var got []audio.EncodedFrame
	h, err := c.Start(context.Background(), func(f audio.EncodedFrame) { got = append(got, f) })
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	if cfg := mic.OpenCalls[0]; cfg.SampleRate != 16000 || cfg.FrameSize != 4096 {
		t.Errorf("opened with %+v, want 16000 Hz / 4096 frames", cfg)
	}

	frame := []float32{0, 0.5, -0.5, 1}
	if !mic.LastStream().Emit(frame) {
		t.Fatal("tap not registered")
	}
	if len(got) != 1 {
		t.Fatalf("onFrame calls = %d, want 1", len(got))
	}
	if want := audio.Encode(frame, 16000); got[0] != want {
		t.Errorf("frame = %+v, want %+v", got[0], want)
	}
}

func TestCapture_OpenDenied(t *testing.T) {
	t.Parallel()

	mic := &mock.InputDevice{OpenErr: errors.New("denied by user")}
	_, err := NewCapture(mic, audio.InputConfig{}).Start(context.Background(), func(audio.EncodedFrame) {})
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("got %v, want ErrPermission", err)
	}
}

type plainDevice struct{}

func (plainDevice) Open(context.Context, audio.InputConfig) (audio.InputStream, error) {
	return nil, errors.New("no device")
}

func TestCapture_UnwrappedOpenErrorBecomesPermission(t *testing.T) {
	t.Parallel()

	_, err := NewCapture(plainDevice{}, audio.InputConfig{}).Start(context.Background(), func(audio.EncodedFrame) {})
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("got %v, want ErrPermission", err)
	}
}

// failingStartDevice hands out streams that refuse to start.
type failingStartDevice struct {
	stream *mock.InputStream
}

func (d *failingStartDevice) Open(context.Context, audio.InputConfig) (audio.InputStream, error) {
	d.stream = &mock.InputStream{StartErr: errors.New("device busy")}
	return d.stream, nil
}

func TestCapture_StartFailureReleasesStream(t *testing.T) {
	t.Parallel()

	dev := &failingStartDevice{}
	_, err := NewCapture(dev, audio.InputConfig{}).Start(context.Background(), func(audio.EncodedFrame) {})
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("got %v, want ErrPermission", err)
	}
	if !dev.stream.Closed() {
		t.Error("stream not closed after failed start")
	}
}

func TestCaptureHandle_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	mic := &mock.InputDevice{}
	h, err := NewCapture(mic, audio.InputConfig{}).Start(context.Background(), func(audio.EncodedFrame) {})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Stop()
	h.Stop()

	s := mic.LastStream()
	if got := s.CloseCount(); got != 1 {
		t.Errorf("CloseCount = %d, want 1", got)
	}
	if s.Emit(make([]float32, 4)) {
		t.Error("tap still attached after Stop")
	}

	var nilHandle *CaptureHandle
	nilHandle.Stop()
	(&CaptureHandle{}).Stop()
}
