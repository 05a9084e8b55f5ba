// Package player drives playback of a synthesized timelapse playlist: it
// validates the manifest, attaches a segment-fetch engine to a video sink,
// gates playback on a readiness target, trims consumed buffer and recovers
// from transient failures.
package player

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tickInterval is how often Run evaluates deferred actions and stalls.
const tickInterval = 100 * time.Millisecond

// Config configures a Controller.
type Config struct {
	// BaseURL is the server serving /api/playlist.
	BaseURL   string
	Fetcher   ManifestFetcher
	NewEngine EngineFactory
	Sink      Sink
	Policy    Policy
	Clock     Clock
	Log       *slog.Logger
	// OnChange, when set, receives a snapshot after every state change. It
	// runs with the controller locked and must not call back into it.
	OnChange func(Session)
}

type envelope struct {
	session uuid.UUID
	event   Event
}

type deferred struct {
	at      time.Time
	session uuid.UUID
	name    string
	fn      func(s *session)
}

// session is the live state behind a Session snapshot. It owns its engine.
type session struct {
	Session
	cancel context.CancelFunc
	engine Engine
	unsubs []func()

	attachedAt       time.Time
	lastReloadAt     time.Time
	lastTrimAt       time.Time
	mediaRecoveryRun bool
}

// Controller is the adaptive playback controller for one sink. Engine and
// sink callbacks only enqueue; all state changes happen under mu, driven by
// Run or, in tests, by draining the queue directly.
type Controller struct {
	cfg   Config
	log   *slog.Logger
	clock Clock
	pol   Policy
	spawn func(func())

	mu        sync.Mutex
	cur       *session
	rate      float64
	deferred  []deferred
	lastCheck time.Time
	closed    bool

	qmu    sync.Mutex
	queue  []envelope
	notify chan struct{}
}

// NewController returns an idle Controller.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.DiscardHandler)
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = HTTPFetcher{}
	}
	return &Controller{
		cfg:    cfg,
		log:    cfg.Log.With("component", "player"),
		clock:  cfg.Clock,
		pol:    cfg.Policy.withDefaults(),
		spawn:  func(f func()) { go f() },
		rate:   1,
		notify: make(chan struct{}, 1),
	}
}

// Snapshot returns the current session, or an idle one.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Session {
	if c.cur == nil {
		return Session{State: StateIdle}
	}
	return c.cur.Session
}

// PlaybackRate returns the rate applied to the sink.
func (c *Controller) PlaybackRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// SetPlaybackRate stores r and applies it to the sink when attached.
func (c *Controller) SetPlaybackRate(r float64) {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = r
	if c.cur != nil && c.cur.engine != nil {
		c.cfg.Sink.SetPlaybackRate(r)
	}
}

// Select tears down the current session and, for a complete selection,
// starts a new one. The previous engine is destroyed before Select returns.
func (c *Controller) Select(sel Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.teardownLocked()

	if !sel.Complete() {
		c.changedLocked()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		Session: Session{ID: uuid.New(), Selection: sel, State: StateManifestLoading},
		cancel:  cancel,
	}
	c.cur = s
	c.log.Info("session started",
		slog.String("session", s.ID.String()),
		slog.String("from", sel.From),
		slog.String("to", sel.To))
	c.changedLocked()

	url := PlaylistURL(c.cfg.BaseURL, sel)
	id := s.ID
	c.spawn(func() {
		body, err := c.cfg.Fetcher.Fetch(ctx, url)
		c.post(id, manifestResult{body: body, err: err})
	})
}

// Close tears down the current session and leaves the sink detached.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.closed = true
}

// Run drains events and evaluates timers until ctx is done, then closes
// the controller.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.notify:
			c.drain()
		case <-ticker.C:
			c.drain()
			c.Tick()
		}
	}
}

// Dispatch handles ev for the session with the given id. Events of any
// other session are dropped.
func (c *Controller) Dispatch(id uuid.UUID, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchLocked(id, ev)
}

// Tick runs due deferred actions and, once per check interval, the stall
// check.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()

	var due []deferred
	pending := c.deferred[:0]
	for _, d := range c.deferred {
		if !d.at.After(now) {
			due = append(due, d)
		} else {
			pending = append(pending, d)
		}
	}
	c.deferred = pending
	for _, d := range due {
		if c.cur == nil || c.cur.ID != d.session || c.cur.engine == nil {
			continue
		}
		c.log.Debug("running deferred action", slog.String("action", d.name))
		d.fn(c.cur)
	}

	if now.Sub(c.lastCheck) >= c.pol.CheckInterval {
		c.lastCheck = now
		c.checkStallLocked(now)
	}
}

// post enqueues without blocking; it is safe from any goroutine.
func (c *Controller) post(id uuid.UUID, ev Event) {
	c.qmu.Lock()
	c.queue = append(c.queue, envelope{session: id, event: ev})
	c.qmu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// drain dispatches every queued event in order.
func (c *Controller) drain() {
	for {
		c.qmu.Lock()
		batch := c.queue
		c.queue = nil
		c.qmu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			c.Dispatch(e.session, e.event)
		}
	}
}

func (c *Controller) dispatchLocked(id uuid.UUID, ev Event) {
	s := c.cur
	if s == nil || s.ID != id {
		return
	}
	now := c.clock.Now()

	switch e := ev.(type) {
	case manifestResult:
		c.onManifestLocked(s, e, now)

	case ManifestFetched:
		c.log.Debug("engine fetched manifest", slog.String("url", e.URL))

	case ManifestParsed:
		if s.State == StateError {
			return
		}
		s.Total = e.TotalSegments
		s.Target = readinessTarget(e.TotalSegments)
		if s.Total == 0 {
			c.failLocked(s, NoContentMessage(s.Selection))
			return
		}
		t := tuningFor(s.Total, s.Target)
		s.engine.Tune(t)
		c.cfg.Sink.SetPlaybackRate(c.rate)
		c.log.Info("manifest parsed",
			slog.Int("segments", s.Total),
			slog.Int("target", s.Target),
			slog.Float64("max_duration", e.MaxDuration),
			slog.Int("sync_count", t.SyncCount),
			slog.Int("max_latency_count", t.MaxLatencyCount))
		c.checkReadyLocked(s, now)
		c.changedLocked()

	case FragmentLoading:
		c.log.Debug("loading fragment", slog.Int("sequence", e.Sequence))

	case FragmentLoaded:
		if s.State == StateError {
			return
		}
		s.Loaded++
		s.LastFragmentAt = now
		if c.sinkPlaying() {
			c.trimLocked(s, now)
		}
		c.checkReadyLocked(s, now)
		c.changedLocked()

	case BufferFull:
		if s.Target > 0 && s.Loaded >= s.Target {
			return
		}
		c.log.Warn("buffer full before readiness, trimming", slog.Int("loaded", s.Loaded), slog.Int("target", s.Target))
		c.trimLocked(s, now)
		c.deferLocked(s, now, c.pol.ResumePause, "resume after buffer full", func(s *session) {
			s.engine.StartLoad()
		})

	case FatalError:
		c.onFatalLocked(s, e, now)

	case MetadataLoaded:
		c.cfg.Sink.SetPlaybackRate(c.rate)
		c.resumeLocked(s, now, "media reattached")

	case TimeUpdate:
		if now.Sub(s.lastTrimAt) >= c.pol.TrimThrottle {
			c.trimLocked(s, now)
		}
	}
}

func (c *Controller) onManifestLocked(s *session, r manifestResult, now time.Time) {
	if s.State != StateManifestLoading {
		return
	}
	if r.err != nil {
		if errors.Is(r.err, context.Canceled) {
			return
		}
		c.log.Warn("manifest fetch failed", slog.String("error", r.err.Error()))
		if errors.Is(r.err, ErrNoContent) {
			c.failLocked(s, NoContentMessage(s.Selection))
		} else {
			c.failLocked(s, UnavailableMessage(s.Selection, r.err))
		}
		return
	}
	if err := ValidateManifest(r.body); err != nil {
		c.failLocked(s, NoContentMessage(s.Selection))
		return
	}

	engine := c.cfg.NewEngine()
	id := s.ID
	s.engine = engine
	s.unsubs = append(s.unsubs,
		engine.Subscribe(func(ev Event) { c.post(id, ev) }),
		c.cfg.Sink.Subscribe(func(ev Event) { c.post(id, ev) }),
	)
	engine.LoadSource(PlaylistURL(c.cfg.BaseURL, s.Selection))
	if err := engine.AttachMedia(c.cfg.Sink); err != nil {
		c.failLocked(s, UnavailableMessage(s.Selection, err))
		return
	}
	c.cfg.Sink.SetPlaybackRate(c.rate)

	s.State = StateBuffering
	s.attachedAt = now
	s.LastFragmentAt = now
	c.changedLocked()
}

func (c *Controller) onFatalLocked(s *session, e FatalError, now time.Time) {
	attrs := []any{slog.String("category", e.Category.String()), slog.String("details", e.Details)}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	c.log.Warn("fatal engine error", attrs...)

	switch e.Category {
	case CategoryNetwork:
		if e.Details == DetailsManifestLoadError {
			c.failLocked(s, NoContentMessage(s.Selection))
			return
		}
		c.deferLocked(s, now, c.pol.RetryDelay, "reload after network error", func(s *session) {
			s.engine.StartLoad()
		})
	case CategoryMedia:
		if s.mediaRecoveryRun {
			c.failLocked(s, PlaybackErrorMessage(""))
			return
		}
		s.mediaRecoveryRun = true
		c.deferLocked(s, now, c.pol.RetryDelay, "recover media error", func(s *session) {
			s.engine.RecoverMediaError()
			c.resumeLocked(s, c.clock.Now(), "media error recovered")
		})
	default:
		c.failLocked(s, PlaybackErrorMessage(e.Details))
	}
}

func (c *Controller) checkReadyLocked(s *session, now time.Time) {
	if s.State != StateBuffering || s.Total <= 0 || s.Loaded < s.Target {
		return
	}
	c.playableLocked(s, now, "readiness target reached")
}

func (c *Controller) playableLocked(s *session, now time.Time, reason string) {
	s.State = StatePlayable
	c.log.Info("playable", slog.String("reason", reason), slog.Int("loaded", s.Loaded), slog.Int("total", s.Total))
	c.playLaterLocked(s, now)
	c.changedLocked()
}

// resumeLocked issues play again when a playable session's sink was left
// paused, as after a media reattach.
func (c *Controller) resumeLocked(s *session, now time.Time, reason string) {
	if s.State != StatePlayable || !c.cfg.Sink.Paused() {
		return
	}
	c.log.Info("resuming playback", slog.String("reason", reason))
	c.playLaterLocked(s, now)
}

func (c *Controller) playLaterLocked(s *session, now time.Time) {
	c.deferLocked(s, now, c.pol.PlayDelay, "play", func(s *session) {
		if err := c.cfg.Sink.Play(); err != nil {
			c.log.Warn("play failed", slog.String("error", err.Error()))
		}
	})
}

func (c *Controller) checkStallLocked(now time.Time) {
	s := c.cur
	if s == nil || s.State != StateBuffering || s.engine == nil {
		return
	}
	since := now.Sub(s.LastFragmentAt)
	if since >= c.pol.LongStall && now.Sub(s.lastReloadAt) >= c.pol.LongStall {
		c.log.Warn("no fragment received, forcing reload", slog.Duration("since", since), slog.Int("loaded", s.Loaded))
		s.lastReloadAt = now
		s.engine.StartLoad()
	}
	if since >= c.pol.ShortStall && s.Loaded > 0 {
		c.playableLocked(s, now, "stalled with partial buffer")
	}
}

func (c *Controller) trimLocked(s *session, now time.Time) {
	if s.engine == nil {
		return
	}
	s.lastTrimAt = now
	ranges := TrimRanges(c.cfg.Sink.Buffered(), c.cfg.Sink.CurrentTime(), c.pol.Retention.Seconds())
	for _, r := range ranges {
		if err := s.engine.FlushBuffer(r.Start, r.End); err != nil {
			c.log.Debug("buffer trim failed", slog.Float64("start", r.Start), slog.Float64("end", r.End), slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) sinkPlaying() bool {
	return !c.cfg.Sink.Paused() && c.cfg.Sink.CurrentTime() > 0
}

func (c *Controller) deferLocked(s *session, now time.Time, after time.Duration, name string, fn func(*session)) {
	c.deferred = append(c.deferred, deferred{at: now.Add(after), session: s.ID, name: name, fn: fn})
}

func (c *Controller) failLocked(s *session, msg string) {
	s.State = StateError
	s.Message = msg
	c.log.Info("playback stopped", slog.String("message", msg))
	c.releaseLocked(s)
	c.changedLocked()
}

// releaseLocked stops everything the session owns but keeps its snapshot.
func (c *Controller) releaseLocked(s *session) {
	s.cancel()
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
	if s.engine != nil {
		s.engine.Destroy()
		s.engine = nil
	}
	kept := c.deferred[:0]
	for _, d := range c.deferred {
		if d.session != s.ID {
			kept = append(kept, d)
		}
	}
	c.deferred = kept
}

func (c *Controller) teardownLocked() {
	if c.cur == nil {
		return
	}
	c.releaseLocked(c.cur)
	c.log.Debug("session torn down", slog.String("session", c.cur.ID.String()))
	c.cur = nil
}

func (c *Controller) changedLocked() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(c.snapshotLocked())
	}
}
