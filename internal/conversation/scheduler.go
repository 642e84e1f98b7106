package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/studysync/internal/observe"
	"github.com/MrWong99/studysync/pkg/audio"
)

// Scheduler plays decoded buffers back to back on an output context. Each
// buffer starts where the previous one ends; if the output clock has already
// passed that point (the network stalled), the buffer starts immediately.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out     audio.OutputContext
	metrics *observe.Metrics

	mu      sync.Mutex
	next    float64
	playing map[*playback]struct{}
}

// playback is one scheduled buffer.
type playback struct {
	src   audio.Source
	start float64
}

// NewScheduler creates a scheduler whose next start time is 0.
func NewScheduler(out audio.OutputContext, metrics *observe.Metrics) *Scheduler {
	return &Scheduler{
		out:     out,
		metrics: metrics,
		playing: make(map[*playback]struct{}),
	}
}

// Enqueue schedules buf right after the previously enqueued buffer and
// returns its start time on the output clock.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.out.CurrentTime()
	if now > s.next {
		if s.next > 0 && s.metrics != nil {
			s.metrics.PlaybackCatchUp.Record(context.Background(), now-s.next)
		}
		s.next = now
	}

	p := &playback{start: s.next}
	// The ended callback takes s.mu, so it cannot observe p before it is
	// tracked below.
	src, err := s.out.Schedule(buf, p.start, func() { s.ended(p) })
	if err != nil {
		return 0, fmt.Errorf("conversation: schedule playback: %w", err)
	}
	p.src = src
	s.playing[p] = struct{}{}
	s.next += buf.Duration()
	return p.start, nil
}

func (s *Scheduler) ended(p *playback) {
	s.mu.Lock()
	delete(s.playing, p)
	s.mu.Unlock()
}

// StopAll stops every buffer that is still playing or waiting to play.
// Stop runs without s.mu held because it fires the ended callback.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	stopping := make([]*playback, 0, len(s.playing))
	for p := range s.playing {
		stopping = append(stopping, p)
	}
	clear(s.playing)
	s.mu.Unlock()

	for _, p := range stopping {
		p.src.Stop()
	}
}

// Pending returns the number of buffers that have not ended.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.playing)
}

// NextStart returns the time the next enqueued buffer would start at, before
// clamping to the output clock.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
