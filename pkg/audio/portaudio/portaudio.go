//go:build portaudio

// Package portaudio implements the audio device interfaces on top of the
// PortAudio library. Build with -tags portaudio; the package needs cgo and
// the PortAudio development headers.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/studysync/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice  = (*Input)(nil)
	_ audio.OutputDevice = (*Output)(nil)
)

// The PortAudio library is initialised while at least one stream is open.
var (
	libMu   sync.Mutex
	libRefs int
)

func acquire() error {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if err := pa.Initialize(); err != nil {
			return err
		}
	}
	libRefs++
	return nil
}

func release() {
	libMu.Lock()
	defer libMu.Unlock()
	libRefs--
	if libRefs == 0 {
		if err := pa.Terminate(); err != nil {
			slog.Warn("portaudio: terminate failed", "error", err)
		}
	}
}

// Input opens the system default microphone.
type Input struct{}

// Open implements [audio.InputDevice]. The stream is opened at the
// requested rate and frame size; devices that cannot capture at that rate
// are reported as unavailable.
func (Input) Open(ctx context.Context, cfg audio.InputConfig) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrPermission, err)
	}
	if err := acquire(); err != nil {
		return nil, fmt.Errorf("%w: initialise portaudio: %w", audio.ErrPermission, err)
	}
	s := &inputStream{}
	stream, err := pa.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.FrameSize, s.process)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: open input stream: %w", audio.ErrPermission, err)
	}
	s.stream = stream
	return s, nil
}

type inputStream struct {
	stream *pa.Stream

	mu     sync.Mutex
	tap    func([]float32)
	closed bool
}

func (s *inputStream) process(in []float32) {
	s.mu.Lock()
	tap := s.tap
	s.mu.Unlock()
	if tap != nil {
		tap(in)
	}
}

// Start implements [audio.InputStream].
func (s *inputStream) Start(tap func([]float32)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("portaudio: input stream closed")
	}
	s.tap = tap
	s.mu.Unlock()
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}
	return nil
}

// Close implements [audio.InputStream].
func (s *inputStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.tap = nil
	s.mu.Unlock()

	defer release()
	// Stop fails on a stream that was never started; Close still frees it.
	_ = s.stream.Stop()
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close input stream: %w", err)
	}
	return nil
}

// Output opens the system default speaker.
type Output struct{}

// Open implements [audio.OutputDevice].
func (Output) Open(ctx context.Context, cfg audio.OutputConfig, render func([]float32)) (audio.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrPermission, err)
	}
	if err := acquire(); err != nil {
		return nil, fmt.Errorf("%w: initialise portaudio: %w", audio.ErrPermission, err)
	}
	frames := cfg.FrameSize
	if frames <= 0 {
		frames = pa.FramesPerBufferUnspecified
	}
	stream, err := pa.OpenDefaultStream(0, 1, float64(cfg.SampleRate), frames, func(out []float32) {
		render(out)
	})
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: open output stream: %w", audio.ErrPermission, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("%w: start output stream: %w", audio.ErrPermission, err)
	}
	return &outputStream{stream: stream}, nil
}

type outputStream struct {
	stream *pa.Stream
	once   sync.Once
	err    error
}

// Close implements [audio.OutputStream].
func (s *outputStream) Close() error {
	s.once.Do(func() {
		defer release()
		_ = s.stream.Stop()
		if err := s.stream.Close(); err != nil {
			s.err = fmt.Errorf("portaudio: close output stream: %w", err)
		}
	})
	return s.err
}
