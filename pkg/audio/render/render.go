// Package render implements a software audio rendering context: a sample
// clock plus a set of buffers scheduled against it. An output device pulls
// mixed audio from the context with [Context.Render]; every call advances the
// clock by the number of frames rendered.
//
// The context plays the role a browser AudioContext plays for web audio:
// buffers are allocated in it, scheduled at absolute times and reported back
// through an ended callback once they finish or are stopped.
package render

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/studysync/pkg/audio"
)

var (
	// ErrClosed is returned when allocating or scheduling on a closed context.
	ErrClosed = errors.New("render: context closed")

	// ErrRateMismatch is returned when a buffer's sample rate differs from
	// the context rate.
	ErrRateMismatch = errors.New("render: sample rate mismatch")
)

// Compile-time interface assertion.
var _ audio.OutputContext = (*Context)(nil)

// Option configures a [Context].
type Option func(*Context)

// WithGain sets the output gain applied to the mixed signal. Default 1.
func WithGain(g float32) Option {
	return func(c *Context) {
		c.gain = g
	}
}

// Context is a mono software rendering context. All methods are safe for
// concurrent use; ended callbacks run on the goroutine that triggered them
// (usually the device thread inside Render) without the context lock held.
type Context struct {
	rate int

	mu      sync.Mutex
	frame   int64
	gain    float32
	sources []*source
	closed  bool
}

// New creates a context running at sampleRate Hz.
func New(sampleRate int, opts ...Option) *Context {
	c := &Context{rate: sampleRate, gain: 1}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SampleRate returns the context rate in Hz.
func (c *Context) SampleRate() int {
	return c.rate
}

// CurrentTime returns the number of seconds rendered so far.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frame) / float64(c.rate)
}

// SetGain changes the output gain. It takes effect on the next render.
func (c *Context) SetGain(g float32) {
	c.mu.Lock()
	c.gain = g
	c.mu.Unlock()
}

// Active returns the number of scheduled sources that have not ended.
func (c *Context) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// Allocate implements [audio.Allocator].
func (c *Context) Allocate(channels, frames, sampleRate int) (*audio.Buffer, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if sampleRate != c.rate {
		return nil, fmt.Errorf("%w: buffer %d Hz, context %d Hz", ErrRateMismatch, sampleRate, c.rate)
	}
	return audio.HeapAllocator{}.Allocate(channels, frames, sampleRate)
}

// Schedule implements [audio.OutputContext].
func (c *Context) Schedule(buf *audio.Buffer, at float64, onEnded func()) (audio.Source, error) {
	if buf.SampleRate != c.rate {
		return nil, fmt.Errorf("%w: buffer %d Hz, context %d Hz", ErrRateMismatch, buf.SampleRate, c.rate)
	}
	s := &source{
		ctx:     c,
		samples: audio.DownmixMono(buf),
		onEnded: onEnded,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s.start = max(int64(math.Round(at*float64(c.rate))), c.frame)
	c.sources = append(c.sources, s)
	return s, nil
}

// Render fills out with the next len(out) frames of mixed audio and
// advances the clock. Sources that finish during the block are removed and
// their ended callbacks invoked before Render returns. A closed context
// renders silence without advancing.
func (c *Context) Render(out []float32) {
	clear(out)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	blockStart := c.frame
	blockEnd := blockStart + int64(len(out))

	var finished []*source
	kept := c.sources[:0]
	for _, s := range c.sources {
		if s.start < blockEnd {
			i := int(max(s.start-blockStart, 0))
			for ; i < len(out) && s.pos < len(s.samples); i++ {
				out[i] += s.samples[s.pos] * c.gain
				s.pos++
			}
			if s.pos >= len(s.samples) {
				s.ended = true
				finished = append(finished, s)
				continue
			}
		}
		kept = append(kept, s)
	}
	clear(c.sources[len(kept):])
	c.sources = kept
	c.frame = blockEnd
	c.mu.Unlock()

	for i, v := range out {
		out[i] = min(max(v, -1), 1)
	}
	for _, s := range finished {
		s.fireEnded()
	}
}

// Close stops every scheduled source and makes the context inert. Ended
// callbacks of the stopped sources fire. Close is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stopped := c.sources
	c.sources = nil
	for _, s := range stopped {
		s.ended = true
	}
	c.mu.Unlock()

	for _, s := range stopped {
		s.fireEnded()
	}
	return nil
}

// source is one scheduled buffer.
type source struct {
	ctx     *Context
	samples []float32
	start   int64 // absolute frame the source begins at
	pos     int   // frames already rendered

	ended   bool // guarded by ctx.mu
	onEnded func()
}

// Stop implements [audio.Source].
func (s *source) Stop() {
	c := s.ctx
	c.mu.Lock()
	if s.ended {
		c.mu.Unlock()
		return
	}
	s.ended = true
	for i, other := range c.sources {
		if other == s {
			c.sources = append(c.sources[:i], c.sources[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	s.fireEnded()
}

func (s *source) fireEnded() {
	if s.onEnded != nil {
		s.onEnded()
	}
}
