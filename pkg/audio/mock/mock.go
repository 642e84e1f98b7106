// Package mock provides in-memory implementations of the [audio.InputDevice]
// and [audio.OutputDevice] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on call counts, and they expose exported fields that control return
// values.
//
// Typical usage:
//
//	mic := &mock.InputDevice{}
//	stream, _ := mic.Open(ctx, audio.InputConfig{SampleRate: 16000, FrameSize: 4096})
//	_ = stream.Start(tap)
//	mic.LastStream().Emit(make([]float32, 4096)) // invokes tap synchronously
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/studysync/pkg/audio"
)

// ─── Input ────────────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
type InputDevice struct {
	mu sync.Mutex

	// OpenErr, when non-nil, is returned (wrapped in [audio.ErrPermission])
	// by Open.
	OpenErr error

	// Gate, when non-nil, makes Open block until a value is received or the
	// channel is closed. This simulates a pending permission prompt.
	Gate chan struct{}

	// IgnoreCancel makes a gated Open ignore ctx cancellation and return a
	// granted stream once Gate opens, like a prompt that resolves late.
	IgnoreCancel bool

	// OpenCalls records the configs passed to Open.
	OpenCalls []audio.InputConfig

	// Streams holds every stream handed out by Open, in order.
	Streams []*InputStream
}

// Compile-time interface assertion.
var _ audio.InputDevice = (*InputDevice)(nil)

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(ctx context.Context, cfg audio.InputConfig) (audio.InputStream, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, cfg)
	gate, openErr, ignoreCancel := d.Gate, d.OpenErr, d.IgnoreCancel
	d.mu.Unlock()

	if gate != nil {
		if ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", audio.ErrPermission, ctx.Err())
			}
		}
	}
	if openErr != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrPermission, openErr)
	}

	s := &InputStream{Config: cfg}
	d.mu.Lock()
	d.Streams = append(d.Streams, s)
	d.mu.Unlock()
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (d *InputDevice) LastStream() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// OpenCount returns how many times Open was called.
func (d *InputDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// InputStream is a mock implementation of [audio.InputStream].
type InputStream struct {
	mu sync.Mutex

	// Config is the configuration the stream was opened with.
	Config audio.InputConfig

	// StartErr is returned by Start.
	StartErr error

	tap        func([]float32)
	startCalls int
	closeCalls int
}

// Compile-time interface assertion.
var _ audio.InputStream = (*InputStream)(nil)

// Start implements [audio.InputStream].
func (s *InputStream) Start(tap func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.tap = tap
	return nil
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.tap = nil
	return nil
}

// Emit delivers frame to the registered tap, as the audio thread would.
// It reports whether a tap was registered and the stream was still open.
func (s *InputStream) Emit(frame []float32) bool {
	s.mu.Lock()
	tap := s.tap
	s.mu.Unlock()
	if tap == nil {
		return false
	}
	tap(frame)
	return true
}

// Closed reports whether Close has been called at least once.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls > 0
}

// CloseCount returns how many times Close was called.
func (s *InputStream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// StartCount returns how many times Start was called.
func (s *InputStream) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

// ─── Output ───────────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice]. It never
// calls render on its own; tests drive rendering with [OutputStream.Pull].
type OutputDevice struct {
	mu sync.Mutex

	// OpenErr, when non-nil, is returned (wrapped in [audio.ErrPermission])
	// by Open.
	OpenErr error

	// Streams holds every stream handed out by Open, in order.
	Streams []*OutputStream
}

// Compile-time interface assertion.
var _ audio.OutputDevice = (*OutputDevice)(nil)

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(_ context.Context, cfg audio.OutputConfig, render func([]float32)) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrPermission, d.OpenErr)
	}
	s := &OutputStream{Config: cfg, render: render}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (d *OutputDevice) LastStream() *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// OutputStream is a mock implementation of [audio.OutputStream].
type OutputStream struct {
	mu sync.Mutex

	// Config is the configuration the stream was opened with.
	Config audio.OutputConfig

	render     func([]float32)
	closeCalls int
}

// Compile-time interface assertion.
var _ audio.OutputStream = (*OutputStream)(nil)

// Pull asks the renderer for n frames, as the device thread would. It
// returns nil once the stream is closed.
func (s *OutputStream) Pull(n int) []float32 {
	s.mu.Lock()
	render, closed := s.render, s.closeCalls > 0
	s.mu.Unlock()
	if closed || render == nil {
		return nil
	}
	out := make([]float32, n)
	render(out)
	return out
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *OutputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls > 0
}
