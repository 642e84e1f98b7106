// Package mock provides test doubles for the live package interfaces.
//
// Provider records Connect calls and hands out Sessions. A Session behaves
// like a real one from the consumer's side: events pushed with Push arrive on
// Events in order, End delivers an optional terminal event and closes the
// stream, and Close ends the stream without an event.
//
// Example:
//
//	p := &mock.Provider{}
//	sess, _ := p.Connect(ctx, cfg)
//	p.LastSession().Push(live.Event{Kind: live.EventUserText, Text: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/provider/live"
)

// Ensure the mocks implement the live interfaces at compile time.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session, if non-nil, is returned by every Connect. Otherwise each
	// Connect creates a fresh Session and records it in Sessions.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, blocks Connect until it is closed or ctx is done.
	Gate chan struct{}

	// IgnoreCancel makes a gated Connect wait for Gate only, succeeding even
	// after its context was cancelled. It simulates a handshake that
	// completes just as the caller gives up.
	IgnoreCancel bool

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions lists the sessions created by Connect.
	Sessions []*Session
}

// Connect records the call, honours Gate and returns a session or ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	ignore := p.IgnoreCancel
	p.mu.Unlock()

	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// LastSession returns the most recently created session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Session != nil {
		return p.Session
	}
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a mock implementation of live.Session.
type Session struct {
	events *live.Emitter
	done   chan struct{}

	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	sent       []audio.EncodedFrame
	closed     bool
	closeCount int
}

// NewSession returns an open session with a buffered event stream.
func NewSession() *Session {
	done := make(chan struct{})
	return &Session{events: live.NewEmitter(64, done), done: done}
}

// Push delivers ev to the consumer. It reports false once the session has
// been closed.
func (s *Session) Push(ev live.Event) bool {
	return s.events.Emit(ev)
}

// End emits the optional terminal event and closes the event stream, as a
// remote hang-up or failure would.
func (s *Session) End(terminal *live.Event) {
	s.events.Finish(terminal)
}

// SendAudio records the frame.
func (s *Session) SendAudio(frame audio.EncodedFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.sent = append(s.sent, frame)
	return nil
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events.Events() }

// Close ends the event stream without a terminal event. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCount++
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.events.Finish(nil)
	return nil
}

// Sent returns a copy of the frames passed to SendAudio.
func (s *Session) Sent() []audio.EncodedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.EncodedFrame, len(s.sent))
	copy(out, s.sent)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCount returns the number of Close calls.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}
