package player

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JohannPlaye/earthimagery/internal/platform/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 22, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeFetcher struct {
	body []byte
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, u string) ([]byte, error) {
	f.urls = append(f.urls, u)
	return f.body, f.err
}

type listeners struct {
	mu  sync.Mutex
	fns map[int]func(Event)
	n   int
}

func (l *listeners) subscribe(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(Event))
	}
	id := l.n
	l.n++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(ev Event) {
	l.mu.Lock()
	fns := make([]func(Event), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (l *listeners) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

type fakeEngine struct {
	listeners
	src        string
	sink       Sink
	tuning     Tuning
	startLoads int
	recovers   int
	flushes    []TimeRange
	destroyed  bool
}

func (e *fakeEngine) Subscribe(fn func(Event)) func() { return e.subscribe(fn) }
func (e *fakeEngine) LoadSource(u string)             { e.src = u }
func (e *fakeEngine) AttachMedia(s Sink) error {
	if err := s.Attach(); err != nil {
		return err
	}
	e.sink = s
	return nil
}
func (e *fakeEngine) Tune(t Tuning)      { e.tuning = t }
func (e *fakeEngine) StartLoad()         { e.startLoads++ }
func (e *fakeEngine) RecoverMediaError() { e.recovers++ }
func (e *fakeEngine) FlushBuffer(start, end float64) error {
	e.flushes = append(e.flushes, TimeRange{Start: start, End: end})
	return nil
}
func (e *fakeEngine) Destroy() {
	e.destroyed = true
	if e.sink != nil {
		e.sink.Detach()
	}
}

type fakeSink struct {
	listeners
	attached bool
	buffered []TimeRange
	position float64
	paused   bool
	plays    int
	rate     float64
}

func (s *fakeSink) Attach() error {
	if s.attached {
		return ErrSinkBusy
	}
	s.attached = true
	return nil
}
func (s *fakeSink) Detach() {
	s.attached = false
	s.rate = 1
}
func (s *fakeSink) Append(SegmentData) error        { return nil }
func (s *fakeSink) Remove(float64, float64) error   { return nil }
func (s *fakeSink) Buffered() []TimeRange           { return s.buffered }
func (s *fakeSink) CurrentTime() float64            { return s.position }
func (s *fakeSink) Paused() bool                    { return s.paused }
func (s *fakeSink) Play() error                     { s.plays++; s.paused = false; return nil }
func (s *fakeSink) SetPlaybackRate(r float64)       { s.rate = r }
func (s *fakeSink) Subscribe(fn func(Event)) func() { return s.subscribe(fn) }

const validManifest = "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.000000,\n/api/hls/k/2025-07-20/a.ts\n#EXT-X-ENDLIST\n"

var testSelection = Selection{
	Satellite: "GOES18", Sector: "hi", Product: "GEOCOLOR", Resolution: "600x600",
	From: "2025-07-20", To: "2025-07-22",
}

type harness struct {
	c       *Controller
	clock   *fakeClock
	sink    *fakeSink
	fetcher *fakeFetcher
	engines []*fakeEngine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   newFakeClock(),
		sink:    &fakeSink{paused: true, rate: 1},
		fetcher: &fakeFetcher{body: []byte(validManifest)},
	}
	h.c = NewController(Config{
		BaseURL: "http://example.test",
		Fetcher: h.fetcher,
		NewEngine: func() Engine {
			e := &fakeEngine{}
			h.engines = append(h.engines, e)
			return e
		},
		Sink:  h.sink,
		Clock: h.clock,
		Log:   logger.Discard(),
	})
	h.c.spawn = func(f func()) { f() }
	return h
}

func (h *harness) engine() *fakeEngine {
	return h.engines[len(h.engines)-1]
}

// emit sends ev from the current engine and processes the queue.
func (h *harness) emit(ev Event) {
	h.engine().emit(ev)
	h.c.drain()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.c.Tick()
}

// start selects testSelection and reports total segments.
func (h *harness) start(t *testing.T, total int) {
	t.Helper()
	h.c.Select(testSelection)
	h.c.drain()
	require.Equal(t, StateBuffering, h.c.Snapshot().State)
	h.emit(ManifestParsed{TotalSegments: total, MaxDuration: 10})
}
