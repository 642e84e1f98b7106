// Package conversation runs live voice conversations: it captures the
// microphone, streams it to a live provider, plays the spoken answer without
// gaps and keeps a readable transcript of both sides.
//
// A [Controller] owns at most one session at a time. Every resource a
// session acquires (the provider session, the microphone, the speaker, the
// rendering context and the goroutines between them) lives in a single
// sessionResources value that is released in a fixed order on every exit
// path: Stop, a remote close, a remote error or a failed start.
//
// Concurrency: the device audio thread, a sender goroutine and a dispatch
// goroutine run alongside the caller. Each of them captures the generation
// of the session it was started for; work for a generation that is no
// longer current is discarded.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/studysync/internal/observe"
	"github.com/MrWong99/studysync/pkg/audio"
	"github.com/MrWong99/studysync/pkg/audio/render"
	"github.com/MrWong99/studysync/pkg/provider/live"
)

const defaultSendQueue = 16

// Config holds the session and audio parameters of a [Controller].
type Config struct {
	// Session is passed to the live provider on every Start.
	Session live.SessionConfig

	// Input is the microphone format. Defaults to 16 kHz, 4096-sample frames.
	Input audio.InputConfig

	// OutputSampleRate is the playback rate. Default 24000.
	OutputSampleRate int

	// OutputGain scales the played audio. Default 1.
	OutputGain float32

	// SendQueue is the number of encoded frames buffered between the
	// microphone and the network. Frames are dropped when it is full.
	SendQueue int
}

func (c *Config) applyDefaults() {
	if c.Input.SampleRate <= 0 {
		c.Input.SampleRate = audio.CaptureSampleRate
	}
	if c.Input.FrameSize <= 0 {
		c.Input.FrameSize = audio.CaptureFrameSize
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = audio.PlaybackSampleRate
	}
	if c.OutputGain <= 0 {
		c.OutputGain = 1
	}
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	Status Status

	// Entries is the finalized transcript of the current or last session.
	Entries []Entry

	// UserLine and ModelLine are the in-progress lines.
	UserLine  string
	ModelLine string

	// Err is the error that moved the controller to StatusError.
	Err error

	seq uint64
}

// Controller orchestrates live conversations. It is safe for concurrent use.
type Controller struct {
	provider live.Provider
	capture  *Capture
	speaker  audio.OutputDevice
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics

	mu          sync.Mutex
	status      Status
	gen         uint64
	seq         uint64
	transcript  Aggregator
	lastErr     error
	res         *sessionResources
	cancelStart context.CancelFunc
	observers   []func(Snapshot)

	delivered atomic.Uint64
}

// New creates an idle controller.
func New(provider live.Provider, mic audio.InputDevice, speaker audio.OutputDevice, cfg Config, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		provider: provider,
		capture:  NewCapture(mic, cfg.Input),
		speaker:  speaker,
		cfg:      cfg,
		log:      slog.Default(),
		status:   StatusIdle,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// OnChange registers fn to receive a snapshot after every state change.
// fn may be called from any goroutine, including the audio and dispatch
// goroutines, and must not block. Stale snapshots are skipped.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	user, model := c.transcript.Lines()
	return Snapshot{
		Status:    c.status,
		Entries:   c.transcript.Entries(),
		UserLine:  user,
		ModelLine: model,
		Err:       c.lastErr,
		seq:       c.seq,
	}
}

// notify delivers the current snapshot to the observers unless a newer one
// was already delivered.
func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	observers := c.observers
	c.mu.Unlock()

	for {
		d := c.delivered.Load()
		if snap.seq <= d {
			return
		}
		if c.delivered.CompareAndSwap(d, snap.seq) {
			break
		}
	}
	for _, fn := range observers {
		fn(snap)
	}
}

// Start opens a live session and begins the conversation. It blocks until
// the provider accepted the session and the microphone was granted.
//
// Start returns [ErrAlreadyActive] unless the controller is idle, an error
// wrapping [ErrConnection] or [ErrPermission] when a step fails (the
// controller then reports StatusError) and [ErrAborted] when Stop ran
// before Start finished.
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.status.Active() {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.gen++
	gen := c.gen
	startCtx, cancel := context.WithCancel(ctx)
	c.cancelStart = cancel
	c.res = &sessionResources{log: c.log, metrics: c.metrics}
	c.transcript.Reset()
	c.lastErr = nil
	c.status = StatusConnecting
	c.seq++
	c.mu.Unlock()
	defer cancel()
	c.notify()

	ctx, span := observe.StartSpan(startCtx, "conversation.start")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx, c.log).With("session", gen)

	sess, err := c.provider.Connect(ctx, c.cfg.Session)
	if err != nil {
		if !errors.Is(err, live.ErrConnection) {
			err = fmt.Errorf("%w: %w", live.ErrConnection, err)
		}
		return c.startFailed(gen, fmt.Errorf("conversation: connect: %w", err))
	}
	if !c.adopt(gen, func(r *sessionResources) { r.session = sess }) {
		_ = sess.Close()
		return ErrAborted
	}
	log.Debug("live session open")

	if err := c.openOutput(ctx, gen); err != nil {
		return c.startFailed(gen, err)
	}

	// Events that arrive while the microphone prompt is pending are handled
	// right away; a remote close during the prompt aborts the start.
	var (
		sched *Scheduler
		alloc audio.Allocator
	)
	c.mu.Lock()
	if c.gen == gen {
		sched, alloc = c.res.scheduler, c.res.renderCtx
	}
	c.mu.Unlock()
	if sched == nil {
		return ErrAborted
	}
	go c.dispatch(gen, sess, sched, alloc)

	frames := make(chan audio.EncodedFrame, c.cfg.SendQueue)
	h, err := c.capture.Start(ctx, func(f audio.EncodedFrame) {
		c.metrics.RecordFrame(context.Background(), observe.OutcomeCaptured)
		select {
		case frames <- f:
		default:
			c.metrics.RecordFrame(context.Background(), observe.OutcomeDropped)
		}
	})
	if err != nil {
		return c.startFailed(gen, err)
	}
	if !c.adopt(gen, func(r *sessionResources) {
		r.capture = h
		r.startSender(sess, frames)
		r.countSession()
		c.status = StatusConnected
		c.seq++
	}) {
		h.Stop()
		return ErrAborted
	}
	c.notify()
	log.Info("live conversation started")
	return nil
}

// openOutput acquires the speaker and its rendering context.
func (c *Controller) openOutput(ctx context.Context, gen uint64) error {
	rc := render.New(c.cfg.OutputSampleRate, render.WithGain(c.cfg.OutputGain))
	out, err := c.speaker.Open(ctx, audio.OutputConfig{SampleRate: c.cfg.OutputSampleRate}, rc.Render)
	if err != nil {
		_ = rc.Close()
		if !errors.Is(err, audio.ErrPermission) {
			err = fmt.Errorf("%w: %w", audio.ErrPermission, err)
		}
		return fmt.Errorf("conversation: open speaker: %w", err)
	}
	if !c.adopt(gen, func(r *sessionResources) {
		r.output = out
		r.renderCtx = rc
		r.scheduler = NewScheduler(rc, c.metrics)
	}) {
		_ = out.Close()
		_ = rc.Close()
		return ErrAborted
	}
	return nil
}

// adopt hands freshly acquired resources to the session of generation gen.
// It reports false, without calling fn, when that session was torn down in
// the meantime; the caller must then release what it acquired.
func (c *Controller) adopt(gen uint64, fn func(*sessionResources)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.res == nil {
		return false
	}
	fn(c.res)
	return true
}

// startFailed ends a start attempt. Failures of a session that Stop already
// ended are reported as ErrAborted.
func (c *Controller) startFailed(gen uint64, err error) error {
	if errors.Is(err, ErrAborted) || !c.teardown(gen, StatusError, err) {
		return ErrAborted
	}
	return err
}

// Stop ends the current session, if any, and returns to idle. It releases
// every resource, cancels an in-flight Start and clears the live lines. The
// finalized transcript stays readable until the next Start. Stop is
// idempotent and may be called from any goroutine, including OnChange
// observers.
func (c *Controller) Stop() {
	c.teardown(0, StatusIdle, nil)
}

// teardown moves to status and releases the session resources. A non-zero
// gen restricts it to that session; it reports false when gen is stale.
func (c *Controller) teardown(gen uint64, status Status, cause error) bool {
	c.mu.Lock()
	if gen != 0 && gen != c.gen {
		c.mu.Unlock()
		return false
	}
	user, model := c.transcript.Lines()
	changed := c.status != status || user != "" || model != "" || c.res != nil || cause != nil
	c.gen++
	res := c.res
	c.res = nil
	cancel := c.cancelStart
	c.cancelStart = nil
	c.status = status
	if cause != nil {
		c.lastErr = cause
	}
	c.transcript.DiscardLines()
	if changed {
		c.seq++
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	res.release()

	if cause != nil {
		kind := errorKind(cause)
		c.metrics.RecordSessionError(context.Background(), kind)
		c.log.Error("live conversation failed", "kind", kind, "error", cause)
	} else if res != nil {
		c.log.Info("live conversation stopped", "status", status)
	}
	if changed {
		c.notify()
	}
	return true
}

// dispatch drives the transcript and playback from the session's events.
func (c *Controller) dispatch(gen uint64, sess live.Session, sched *Scheduler, alloc audio.Allocator) {
	for ev := range sess.Events() {
		switch ev.Kind {
		case live.EventUserText, live.EventModelText, live.EventTurnComplete:
			c.applyText(gen, ev)
		case live.EventAudio:
			c.play(gen, ev, sched, alloc)
		case live.EventError:
			err := ev.Err
			if err == nil {
				err = live.ErrRemote
			}
			c.teardown(gen, StatusError, err)
			return
		case live.EventClose:
			c.teardown(gen, StatusIdle, nil)
			return
		}
	}
	// Closed without a terminal event: either Stop closed the session (gen
	// is stale and this is a no-op) or the provider gave up silently.
	c.teardown(gen, StatusIdle, nil)
}

func (c *Controller) applyText(gen uint64, ev live.Event) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	switch ev.Kind {
	case live.EventUserText:
		c.transcript.User(ev.Text)
	case live.EventModelText:
		c.transcript.Model(ev.Text)
	case live.EventTurnComplete:
		c.transcript.TurnComplete()
	}
	c.seq++
	c.mu.Unlock()
	c.notify()
}

// play decodes one audio fragment and queues it. Malformed fragments are
// dropped; the session goes on.
func (c *Controller) play(gen uint64, ev live.Event, sched *Scheduler, alloc audio.Allocator) {
	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()
	if !current {
		return
	}

	buf, err := c.decode(ev, alloc)
	if err != nil {
		if errors.Is(err, audio.ErrDecode) {
			c.metrics.RecordFragment(context.Background(), observe.OutcomeDropped)
			c.log.Warn("dropping malformed audio fragment", "session", gen, "error", err)
			return
		}
		c.log.Debug("audio fragment not played", "session", gen, "error", err)
		return
	}
	if _, err := sched.Enqueue(buf); err != nil {
		c.log.Debug("audio fragment not scheduled", "session", gen, "error", err)
		return
	}
	c.metrics.RecordFragment(context.Background(), observe.OutcomeScheduled)
}

func (c *Controller) decode(ev live.Event, alloc audio.Allocator) (*audio.Buffer, error) {
	pcm, err := audio.Decode(ev.Audio)
	if err != nil {
		return nil, err
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", audio.ErrDecode, len(pcm))
	}
	rate := ev.SampleRate
	if rate <= 0 {
		rate = c.cfg.OutputSampleRate
	}
	if rate != c.cfg.OutputSampleRate {
		pcm = audio.ResampleMono16(pcm, rate, c.cfg.OutputSampleRate)
	}
	return audio.DecodeAudioData(pcm, alloc, c.cfg.OutputSampleRate, 1)
}

// sessionResources is everything one session owns.
type sessionResources struct {
	log     *slog.Logger
	metrics *observe.Metrics

	session   live.Session
	capture   *CaptureHandle
	scheduler *Scheduler
	output    audio.OutputStream
	renderCtx *render.Context

	senderStop chan struct{}
	senderWG   sync.WaitGroup
	counted    bool

	once sync.Once
}

// startSender drains frames into the session until release.
func (r *sessionResources) startSender(sess live.Session, frames <-chan audio.EncodedFrame) {
	r.senderStop = make(chan struct{})
	r.senderWG.Add(1)
	go func() {
		defer r.senderWG.Done()
		for {
			select {
			case <-r.senderStop:
				return
			case f := <-frames:
				if err := sess.SendAudio(f); err != nil {
					if errors.Is(err, live.ErrClosed) {
						return
					}
					r.metrics.RecordFrame(context.Background(), observe.OutcomeDropped)
					r.log.Warn("send audio frame", "error", err)
					continue
				}
				r.metrics.RecordFrame(context.Background(), observe.OutcomeSent)
			}
		}
	}()
}

func (r *sessionResources) countSession() {
	r.counted = true
	r.metrics.LiveSessions.Add(context.Background(), 1)
}

// release frees the resources in a fixed order: network first so nothing
// new arrives, then the microphone, the sender, queued playback and
// finally the output device and its context. Safe on nil and idempotent.
func (r *sessionResources) release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.session != nil {
			if err := r.session.Close(); err != nil {
				r.log.Debug("close live session", "error", err)
			}
		}
		r.capture.Stop()
		if r.senderStop != nil {
			close(r.senderStop)
			r.senderWG.Wait()
		}
		if r.scheduler != nil {
			r.scheduler.StopAll()
		}
		if r.output != nil {
			if err := r.output.Close(); err != nil {
				r.log.Debug("close speaker", "error", err)
			}
		}
		if r.renderCtx != nil {
			_ = r.renderCtx.Close()
		}
		if r.counted {
			r.metrics.LiveSessions.Add(context.Background(), -1)
		}
	})
}
