package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultRetries         = 3
	defaultManifestTimeout = 60 * time.Second
	defaultSegmentTimeout  = 300 * time.Second
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultPollInterval    = 100 * time.Millisecond
	maxSegmentBytes        = 256 << 20
)

// NewHTTPClient returns a client whose requests are traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// HTTPEngineConfig configures an HTTPEngine. Zero values take defaults.
type HTTPEngineConfig struct {
	Client          *http.Client
	Log             *slog.Logger
	Retries         int
	ManifestTimeout time.Duration
	SegmentTimeout  time.Duration
	RetryBackoff    time.Duration
	PollInterval    time.Duration
}

type segmentRef struct {
	url      string
	start    float64
	duration float64
}

// HTTPEngine fetches an on-demand media playlist and its segments in
// order, keeping at most MaxLatencyCount segments ahead of the sink.
type HTTPEngine struct {
	cfg HTTPEngineConfig
	log *slog.Logger

	mu        sync.Mutex
	listeners map[int]func(Event)
	nextID    int
	src       string
	sink      Sink
	tuning    Tuning
	segments  []segmentRef
	next      int
	paused    bool
	// full is set after ErrBufferFull; fetching resumes on StartLoad or
	// once playback has moved past fullAt.
	full      bool
	fullAt    float64
	running   bool
	destroyed bool
	// attempt cancels the in-flight manifest or segment fetch; restarted
	// records that StartLoad did so.
	attempt   context.CancelFunc
	restarted bool
	ctx       context.Context
	cancel    context.CancelFunc
	wake      chan struct{}
	wg        sync.WaitGroup
}

// NewHTTPEngine returns an idle engine.
func NewHTTPEngine(cfg HTTPEngineConfig) *HTTPEngine {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient()
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.DiscardHandler)
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = defaultManifestTimeout
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = defaultSegmentTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPEngine{
		cfg:       cfg,
		log:       cfg.Log.With("component", "engine"),
		listeners: make(map[int]func(Event)),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
	}
}

// Subscribe implements Engine.Subscribe.
func (e *HTTPEngine) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// LoadSource implements Engine.LoadSource.
func (e *HTTPEngine) LoadSource(u string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = u
	e.startLocked()
}

// AttachMedia implements Engine.AttachMedia.
func (e *HTTPEngine) AttachMedia(sink Sink) error {
	if err := sink.Attach(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
	e.startLocked()
	return nil
}

// Tune implements Engine.Tune.
func (e *HTTPEngine) Tune(t Tuning) {
	e.mu.Lock()
	e.tuning = t
	e.mu.Unlock()
	e.poke()
}

// StartLoad implements Engine.StartLoad. A fetch still in flight is
// abandoned and issued again.
func (e *HTTPEngine) StartLoad() {
	e.mu.Lock()
	e.paused = false
	e.full = false
	if e.attempt != nil {
		e.restarted = true
		e.attempt()
	}
	e.startLocked()
	e.mu.Unlock()
	e.poke()
}

// RecoverMediaError resumes loading at the first segment the sink has not
// accepted. The sink keeps its buffer, position and play state, so nothing
// it already holds is appended twice.
func (e *HTTPEngine) RecoverMediaError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink == nil {
		return
	}
	e.log.Info("recovering from media error", slog.Int("next", e.next))
	e.paused = false
	e.full = false
	e.startLocked()
	e.wakeLocked()
}

// FlushBuffer implements Engine.FlushBuffer.
func (e *HTTPEngine) FlushBuffer(start, end float64) error {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return errors.New("no media attached")
	}
	return sink.Remove(start, end)
}

// Destroy implements Engine.Destroy.
func (e *HTTPEngine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.listeners = nil
	sink := e.sink
	e.sink = nil
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	if sink != nil {
		sink.Detach()
	}
}

func (e *HTTPEngine) startLocked() {
	if e.running || e.destroyed || e.src == "" || e.sink == nil {
		return
	}
	e.running = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(e.ctx)
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
}

func (e *HTTPEngine) poke() {
	e.wakeLocked()
}

// wakeLocked never blocks, so it is safe with or without e.mu held.
func (e *HTTPEngine) wakeLocked() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// beginAttempt returns a context for one fetch that StartLoad may cancel,
// and a func ending the attempt that reports whether StartLoad did.
func (e *HTTPEngine) beginAttempt(ctx context.Context) (context.Context, func() bool) {
	actx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.attempt = cancel
	e.restarted = false
	e.mu.Unlock()
	return actx, func() bool {
		e.mu.Lock()
		restarted := e.restarted
		e.attempt = nil
		e.restarted = false
		e.mu.Unlock()
		cancel()
		return restarted
	}
}

func (e *HTTPEngine) emit(ev Event) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	fns := make([]func(Event), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (e *HTTPEngine) run(ctx context.Context) {
	e.mu.Lock()
	loaded := e.segments != nil
	src := e.src
	e.mu.Unlock()

	for !loaded {
		actx, end := e.beginAttempt(ctx)
		segs, err := e.loadManifest(actx, src)
		restarted := end()
		if ctx.Err() != nil {
			return
		}
		if err != nil && restarted {
			e.log.Debug("manifest fetch restarted")
			continue
		}
		if err != nil {
			e.emit(FatalError{Category: CategoryNetwork, Details: detailsFor(err), Err: err})
			return
		}
		e.mu.Lock()
		e.segments = segs
		e.mu.Unlock()
		loaded = true
	}

	for {
		seg, seq, ok := e.nextSegment(ctx)
		if !ok {
			return
		}

		e.emit(FragmentLoading{Sequence: seq})
		actx, end := e.beginAttempt(ctx)
		data, err := e.fetchWithRetry(actx, seg.url, e.cfg.SegmentTimeout)
		restarted := end()
		if ctx.Err() != nil {
			return
		}
		if err != nil && restarted {
			e.log.Debug("segment fetch restarted", slog.Int("sequence", seq))
			continue
		}
		if err != nil {
			e.pause()
			e.emit(FatalError{Category: CategoryNetwork, Details: DetailsFragLoadError, Err: err})
			continue
		}

		e.mu.Lock()
		sink := e.sink
		e.mu.Unlock()
		if sink == nil {
			return
		}
		err = sink.Append(SegmentData{Sequence: seq, Start: seg.start, Duration: seg.duration, Data: data})
		switch {
		case errors.Is(err, ErrBufferFull):
			e.mu.Lock()
			e.full = true
			e.fullAt = sink.CurrentTime()
			e.mu.Unlock()
			e.emit(BufferFull{})
			continue
		case err != nil:
			e.pause()
			e.emit(FatalError{Category: CategoryMedia, Details: DetailsBufferAppendError, Err: err})
			continue
		}

		e.mu.Lock()
		if e.next == seq {
			e.next++
		}
		e.mu.Unlock()
		e.emit(FragmentLoaded{Sequence: seq})
	}
}

type manifestParseError struct{ err error }

func (e manifestParseError) Error() string { return "parse manifest: " + e.err.Error() }
func (e manifestParseError) Unwrap() error { return e.err }

func detailsFor(err error) string {
	var pe manifestParseError
	if errors.As(err, &pe) {
		return DetailsManifestParsingError
	}
	return DetailsManifestLoadError
}

func (e *HTTPEngine) loadManifest(ctx context.Context, src string) ([]segmentRef, error) {
	body, err := e.fetchWithRetry(ctx, src, e.cfg.ManifestTimeout)
	if err != nil {
		return nil, err
	}
	e.emit(ManifestFetched{URL: src})

	pl, err := playlist.Unmarshal(body)
	if err != nil {
		return nil, manifestParseError{err}
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, manifestParseError{errors.New("expected media playlist, got multivariant")}
	}

	base, err := url.Parse(src)
	if err != nil {
		return nil, manifestParseError{err}
	}

	segs := make([]segmentRef, 0, len(media.Segments))
	var start, maxDur float64
	for _, s := range media.Segments {
		if s == nil {
			continue
		}
		ref, err := url.Parse(s.URI)
		if err != nil {
			return nil, manifestParseError{fmt.Errorf("segment %q: %w", s.URI, err)}
		}
		d := s.Duration.Seconds()
		segs = append(segs, segmentRef{url: base.ResolveReference(ref).String(), start: start, duration: d})
		start += d
		maxDur = max(maxDur, d)
	}
	e.log.Debug("manifest parsed", slog.Int("segments", len(segs)), slog.Float64("duration", start))
	e.emit(ManifestParsed{TotalSegments: len(segs), MaxDuration: maxDur})
	return segs, nil
}

// nextSegment blocks until a segment may be fetched. It reports false when
// the engine is done or cancelled.
func (e *HTTPEngine) nextSegment(ctx context.Context) (segmentRef, int, bool) {
	for {
		e.mu.Lock()
		if e.next >= len(e.segments) {
			e.mu.Unlock()
			return segmentRef{}, 0, false
		}
		idx, paused, limit, sink := e.next, e.paused, e.tuning.MaxLatencyCount, e.sink
		full, fullAt := e.full, e.fullAt
		seg := e.segments[idx]
		e.mu.Unlock()

		if !paused && sink != nil {
			pos := sink.CurrentTime()
			if full && pos > fullAt {
				e.mu.Lock()
				e.full = false
				e.mu.Unlock()
				full = false
			}
			if !full && (limit <= 0 || idx-e.segmentAt(pos) < limit) {
				return seg, idx, true
			}
		}

		select {
		case <-ctx.Done():
			return segmentRef{}, 0, false
		case <-e.wake:
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// segmentAt returns the index of the segment playing at position.
func (e *HTTPEngine) segmentAt(position float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.segments {
		if position < s.start+s.duration {
			return i
		}
	}
	return len(e.segments)
}

func (e *HTTPEngine) pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *HTTPEngine) fetchWithRetry(ctx context.Context, u string, timeout time.Duration) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := fetch(attemptCtx, e.cfg.Client, u, maxSegmentBytes)
		cancel()
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			break
		}
		e.log.Debug("fetch failed, retrying", slog.String("url", u), slog.Int("attempt", attempt), slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}
