// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Microphone audio is sent as base64 PCM media chunks; the server
// answers with serverContent messages that may bundle transcripts, a
// turn-complete flag and audio in a single payload.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
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
	// DefaultModel is the native-audio model used when none is configured.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	servicePath    = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
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

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	keepalive time.Duration
	log       *slog.Logger
}

// New creates a new Gemini Live Provider with the given API key and options.
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

// Connect dials Gemini Live, sends the setup message and waits for
// setupComplete before returning the session.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	wsURL := p.baseURL + servicePath + "?key=" + url.QueryEscape(p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: dial: %w", live.ErrConnection, err)
	}
	conn.SetReadLimit(-1)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sess := &session{
		conn:    conn,
		events:  live.NewEmitter(eventBuffer, done),
		done:    done,
		ctx:     sessCtx,
		cancel:  sessCancel,
		log:     p.log.With("provider", "gemini"),
		rateOut: audio.PlaybackSampleRate,
	}

	if err := sess.writeJSON(ctx, buildSetup(model, cfg)); err != nil {
		sess.abort("setup failed")
		return nil, fmt.Errorf("%w: gemini: setup: %w", live.ErrConnection, err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		sess.abort("setup rejected")
		return nil, fmt.Errorf("%w: gemini: %w", live.ErrConnection, err)
	}

	go sess.receiveLoop()
	if p.keepalive > 0 {
		go sess.keepaliveLoop(p.keepalive)
	}
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("error code %d", e.Code)
	}
	return e.Message
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

func buildSetup(model string, cfg live.SessionConfig) setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	events  *live.Emitter
	log     *slog.Logger
	rateOut int

	mu     sync.Mutex
	closed bool
	// pingErr is set when a keepalive ping fails and the connection is torn
	// down from our side.
	pingErr error
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// awaitSetupComplete reads until the server acknowledges the setup message.
// Any server content received before the acknowledgement is ignored.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("gemini: skipping malformed frame during setup", "error", err)
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("setup rejected: %w", msg.Error)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// receiveLoop reads messages from the WebSocket and emits events. It owns the
// event channel and closes it when it exits.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.events.Finish(s.terminalFor(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("gemini: skipping malformed frame", "error", err)
			continue
		}
		if msg.Error != nil {
			s.events.Finish(&live.Event{
				Kind: live.EventError,
				Err:  fmt.Errorf("%w: gemini: %w", live.ErrRemote, msg.Error),
			})
			return
		}
		if msg.GoAway != nil {
			s.log.Info("gemini: server announced disconnect")
		}
		if msg.ServerContent != nil && !s.handleServerContent(msg.ServerContent) {
			s.events.Finish(nil)
			return
		}
	}
}

// terminalFor classifies a read error into the terminal event to emit. A
// local Close produces no event.
func (s *session) terminalFor(err error) *live.Event {
	if s.ctx.Err() != nil {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return &live.Event{Kind: live.EventClose}
	}
	s.mu.Lock()
	pingErr := s.pingErr
	s.mu.Unlock()
	if pingErr != nil {
		err = pingErr
	}
	return &live.Event{
		Kind: live.EventError,
		Err:  fmt.Errorf("%w: gemini: %w", live.ErrConnection, err),
	}
}

// handleServerContent splits one serverContent payload into events, in the
// order user text, model text, turn complete, audio. It reports false when
// the session was closed while emitting.
func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !s.events.Emit(live.Event{Kind: live.EventUserText, Text: sc.InputTranscription.Text}) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.events.Emit(live.Event{Kind: live.EventModelText, Text: sc.OutputTranscription.Text}) {
			return false
		}
	}
	if sc.TurnComplete {
		if !s.events.Emit(live.Event{Kind: live.EventTurnComplete}) {
			return false
		}
	}
	if sc.Interrupted {
		s.log.Debug("gemini: model output interrupted")
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			ev := live.Event{
				Kind:       live.EventAudio,
				Audio:      p.InlineData.Data,
				SampleRate: rateFromMIME(p.InlineData.MIMEType, s.rateOut),
			}
			if !s.events.Emit(ev) {
				return false
			}
		}
	}
	return true
}

// rateFromMIME extracts the rate parameter of a type such as
// "audio/pcm;rate=24000", falling back to def.
func rateFromMIME(mime string, def int) int {
	_, params, ok := strings.Cut(mime, ";")
	if !ok {
		return def
	}
	for _, kv := range strings.Split(params, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
		if k != "rate" {
			continue
		}
		var rate int
		if _, err := fmt.Sscanf(v, "%d", &rate); err == nil && rate > 0 {
			return rate
		}
	}
	return def
}

// keepaliveLoop pings the server. A failed ping drops the connection, which
// the receive loop reports as a connection error.
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

// abort tears down a session that never finished its handshake.
func (s *session) abort(reason string) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusInternalError, reason)
}

// ── live.Session methods ───────────────────────────────────────────────────────

// SendAudio delivers one encoded PCM frame to the model.
func (s *session) SendAudio(frame audio.EncodedFrame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrClosed
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: frame.MIMEType(), Data: frame.Data}},
		},
	}
	if err := s.writeJSON(s.ctx, msg); err != nil {
		if s.ctx.Err() != nil {
			return live.ErrClosed
		}
		return fmt.Errorf("gemini: send audio: %w", err)
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

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // stops event emission
	if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
		s.log.Debug("gemini: close handshake", "error", err)
	}
	return nil
}
