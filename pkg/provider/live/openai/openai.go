// Package openai implements the live.Provider interface for OpenAI's Realtime API.
//
// The Realtime API expects 24 kHz PCM16 in both directions, so captured
// 16 kHz frames are resampled before they are appended to the input buffer.
// Partial transcripts arrive as deltas and are emitted as-is; the consumer
// aggregates them.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	// DefaultModel is the realtime model used when none is configured.
	DefaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// realtimeRate is the only PCM16 rate the Realtime API accepts.
	realtimeRate = 24000

	transcriptionModel = "whisper-1"
	keepaliveInterval  = 20 * time.Second
	keepaliveTimeout   = 5 * time.Second
	eventBuffer        = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithKeepalive overrides the ping interval. Zero disables pings.
func WithKeepalive(d time.Duration) Option {
	return func(p *Provider) { p.keepalive = d }
}

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	keepalive time.Duration
	log       *slog.Logger
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		baseURL:   defaultBaseURL,
		keepalive: keepaliveInterval,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Realtime endpoint, sends session.update and waits until
// the server confirms it with session.updated.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	wsURL := p.baseURL + "?model=" + url.QueryEscape(model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: dial: %w", live.ErrConnection, err)
	}
	conn.SetReadLimit(-1)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sess := &session{
		conn:   conn,
		events: live.NewEmitter(eventBuffer, done),
		done:   done,
		ctx:    sessCtx,
		cancel: sessCancel,
		log:    p.log.With("provider", "openai"),
	}

	if err := sess.writeJSON(ctx, buildSessionUpdate(cfg)); err != nil {
		sess.abort("session update failed")
		return nil, fmt.Errorf("%w: openai: session update: %w", live.ErrConnection, err)
	}
	if err := sess.awaitSessionUpdated(ctx); err != nil {
		sess.abort("session rejected")
		return nil, fmt.Errorf("%w: openai: %w", live.ErrConnection, err)
	}

	go sess.receiveLoop()
	if p.keepalive > 0 {
		go sess.keepaliveLoop(p.keepalive)
	}
	return sess, nil
}

// ── Protocol message types ────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *serverErrorDetail) Error() string {
	if e.Message == "" {
		return "unknown error"
	}
	return e.Message
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta and response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

func buildSessionUpdate(cfg live.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events *live.Emitter
	log    *slog.Logger

	mu      sync.Mutex
	closed  bool
	pingErr error
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// awaitSessionUpdated reads until the server acknowledges session.update.
// session.created arrives first on every connection and is skipped.
func (s *session) awaitSessionUpdated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await session.updated: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.log.Debug("openai: skipping malformed event during setup", "error", err)
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			if evt.Error == nil {
				evt.Error = &serverErrorDetail{}
			}
			return fmt.Errorf("session rejected: %w", evt.Error)
		}
	}
}

func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.events.Finish(s.terminalFor(err))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			s.log.Debug("openai: skipping malformed event", "error", err)
			continue
		}
		if evt.Type == "error" {
			if evt.Error == nil {
				evt.Error = &serverErrorDetail{}
			}
			s.events.Finish(&live.Event{
				Kind: live.EventError,
				Err:  fmt.Errorf("%w: openai: %w", live.ErrRemote, evt.Error),
			})
			return
		}
		ev, ok := translate(&evt)
		if !ok {
			continue
		}
		if !s.events.Emit(ev) {
			s.events.Finish(nil)
			return
		}
	}
}

// translate maps a Realtime server event onto a live event. Event types
// without a counterpart report false.
func translate(evt *serverEvent) (live.Event, bool) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return live.Event{}, false
		}
		return live.Event{Kind: live.EventAudio, Audio: evt.Delta, SampleRate: realtimeRate}, true
	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return live.Event{}, false
		}
		return live.Event{Kind: live.EventModelText, Text: evt.Delta}, true
	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return live.Event{}, false
		}
		return live.Event{Kind: live.EventUserText, Text: evt.Transcript}, true
	case "response.done":
		return live.Event{Kind: live.EventTurnComplete}, true
	}
	return live.Event{}, false
}

func (s *session) terminalFor(err error) *live.Event {
	if s.ctx.Err() != nil {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return &live.Event{Kind: live.EventClose}
	}
	s.mu.Lock()
	if s.pingErr != nil {
		err = s.pingErr
	}
	s.mu.Unlock()
	return &live.Event{
		Kind: live.EventError,
		Err:  fmt.Errorf("%w: openai: %w", live.ErrConnection, err),
	}
}

func (s *session) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil && s.ctx.Err() == nil {
				s.mu.Lock()
				s.pingErr = fmt.Errorf("keepalive: %w", err)
				s.mu.Unlock()
				_ = s.conn.CloseNow()
				return
			}
		}
	}
}

func (s *session) abort(reason string) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusInternalError, reason)
}

// ── live.Session methods ───────────────────────────────────────────────────────

// SendAudio resamples the frame to 24 kHz and appends it to the input buffer.
func (s *session) SendAudio(frame audio.EncodedFrame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrClosed
	}

	pcm, err := audio.Decode(frame.Data)
	if err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	pcm = audio.ResampleMono16(pcm, frame.SampleRate, realtimeRate)

	msg := appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
	if err := s.writeJSON(s.ctx, msg); err != nil {
		if s.ctx.Err() != nil {
			return live.ErrClosed
		}
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// Events returns the channel on which server events arrive.
func (s *session) Events() <-chan live.Event { return s.events.Events() }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
		s.log.Debug("openai: close handshake", "error", err)
	}
	return nil
}
