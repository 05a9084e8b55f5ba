package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohannPlaye/earthimagery/internal/platform/logger"
	"github.com/JohannPlaye/earthimagery/internal/timelapse"
)

// streamServer serves a synthesized playlist of n segments and the
// segments themselves through the gateway path.
type streamServer struct {
	*httptest.Server
	segmentHits atomic.Int32
	failSegment atomic.Int32 // sequence+1 to fail with 500, 0 for none
	hangSegment atomic.Int32 // sequence+1 whose first request never answers
	playlist    string
	quit        chan struct{}
}

func newStreamServer(t *testing.T, n int) *streamServer {
	t.Helper()
	day := time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC)
	p := timelapse.VirtualPlaylist{TargetDuration: 10}
	for i := 0; i < n; i++ {
		p.Segments = append(p.Segments, timelapse.PlaylistSegment{
			Duration: 10,
			URI:      fmt.Sprintf("/api/hls/GOES18.hi.GEOCOLOR.600x600/2025-07-20/seg%03d.ts", i),
			Date:     day,
		})
	}

	s := &streamServer{playlist: timelapse.BuildVODPlaylist(p), quit: make(chan struct{})}
	r := chi.NewRouter()
	r.Get("/api/playlist", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(s.playlist))
	})
	r.Get("/api/hls/*", func(w http.ResponseWriter, r *http.Request) {
		s.segmentHits.Add(1)
		name := chi.URLParam(r, "*")
		var seq int
		fmt.Sscanf(name[strings.LastIndex(name, "seg")+3:], "%03d", &seq)
		if s.hangSegment.CompareAndSwap(int32(seq+1), 0) {
			select {
			case <-r.Context().Done():
			case <-s.quit:
			}
			return
		}
		if s.failSegment.Load() == int32(seq+1) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(fmt.Sprintf("segment-%03d;", seq)))
	})
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	t.Cleanup(func() { close(s.quit) })
	return s
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(match func(Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func isLoaded(ev Event) bool { _, ok := ev.(FragmentLoaded); return ok }

func testEngine(srv *streamServer) *HTTPEngine {
	return NewHTTPEngine(HTTPEngineConfig{
		Client:       srv.Client(),
		Log:          logger.Discard(),
		RetryBackoff: time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
}

func TestHTTPEngine_loads_all_segments_in_order(t *testing.T) {
	srv := newStreamServer(t, 4)
	var out strings.Builder
	sink := NewBufferSink(&syncWriter{w: &out}, 0)
	e := testEngine(srv)
	var log eventLog
	e.Subscribe(log.add)

	e.LoadSource(PlaylistURL(srv.URL, testSelection))
	require.NoError(t, e.AttachMedia(sink))

	require.Eventually(t, func() bool { return log.count(isLoaded) == 4 }, 5*time.Second, 5*time.Millisecond)
	e.Destroy()

	assert.Equal(t, 1, log.count(func(ev Event) bool {
		mp, ok := ev.(ManifestParsed)
		return ok && mp.TotalSegments == 4 && mp.MaxDuration == 10
	}))
	assert.Equal(t, "segment-000;segment-001;segment-002;segment-003;", out.String())
	assert.False(t, sink.Attached(), "Destroy left the sink attached")
}

func TestHTTPEngine_respects_lookahead(t *testing.T) {
	srv := newStreamServer(t, 6)
	sink := NewBufferSink(nil, 0)
	e := testEngine(srv)
	var log eventLog
	e.Subscribe(log.add)
	e.Tune(Tuning{SyncCount: 2, MaxLatencyCount: 2})

	e.LoadSource(PlaylistURL(srv.URL, testSelection))
	require.NoError(t, e.AttachMedia(sink))
	defer e.Destroy()

	require.Eventually(t, func() bool { return log.count(isLoaded) == 2 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, log.count(isLoaded), "fetched beyond the lookahead window")

	require.NoError(t, sink.Play())
	sink.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return log.count(isLoaded) == 3 }, 5*time.Second, 5*time.Millisecond)
}

func TestHTTPEngine_buffer_full_pauses_until_start_load(t *testing.T) {
	srv := newStreamServer(t, 3)
	sink := NewBufferSink(nil, len("segment-000;")*2)
	e := testEngine(srv)
	var log eventLog
	e.Subscribe(log.add)

	e.LoadSource(PlaylistURL(srv.URL, testSelection))
	require.NoError(t, e.AttachMedia(sink))
	defer e.Destroy()

	require.Eventually(t, func() bool {
		return log.count(func(ev Event) bool { _, ok := ev.(BufferFull); return ok }) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, log.count(isLoaded))

	require.NoError(t, e.FlushBuffer(0, 10))
	e.StartLoad()
	require.Eventually(t, func() bool { return log.count(isLoaded) == 3 }, 5*time.Second, 5*time.Millisecond)
}

func TestHTTPEngine_segment_failure_is_fatal_after_retries(t *testing.T) {
	srv := newStreamServer(t, 2)
	srv.failSegment.Store(2) // sequence 1
	e := testEngine(srv)
	var log eventLog
	e.Subscribe(log.add)

	e.LoadSource(PlaylistURL(srv.URL, testSelection))
	require.NoError(t, e.AttachMedia(NewBufferSink(nil, 0)))
	defer e.Destroy()

	require.Eventually(t, func() bool {
		return log.count(func(ev Event) bool {
			fe, ok := ev.(FatalError)
			return ok && fe.Category == CategoryNetwork && fe.Details == DetailsFragLoadError
		}) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1+defaultRetries), srv.segmentHits.Load())

	srv.failSegment.Store(0)
	e.StartLoad()
	require.Eventually(t, func() bool { return log.count(isLoaded) == 2 }, 5*time.Second, 5*time.Millisecond)
}

func TestHTTPEngine_start_load_abandons_hung_fetch(t *testing.T) {
	srv := newStreamServer(t, 2)
	srv.hangSegment.Store(1) // sequence 0
	var out strings.Builder
	sink := NewBufferSink(&syncWriter{w: &out}, 0)
	e := testEngine(srv)
	var log eventLog
	e.Subscribe(log.add)

	e.LoadSource(PlaylistURL(srv.URL, testSelection))
	require.NoError(t, e.AttachMedia(sink))
	defer e.Destroy()

	require.Eventually(t, func() bool { return srv.segmentHits.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, log.count(isLoaded))

	e.StartLoad()
	require.Eventually(t, func() bool { return log.count(isLoaded) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), srv.segmentHits.Load(), "hung request was not reissued")
	assert.Equal(t, "segment-000;segment-001;", out.String())
	assert.Zero(t, log.count(func(ev Event) bool { _, ok := ev.(FatalError); return ok }))
}

func TestHTTPEngine_recover_media_error_keeps_playback(t *testing.T) {
	srv := newStreamServer(t, 4)
	var out strings.Builder
	w := &flakyWriter{w: &out, failOn: "segment-002;"}
	sink := NewBufferSink(w, 0)
	e := testEngine(srv)
	var log eventLog
	e.Subscribe(log.add)

	e.LoadSource(PlaylistURL(srv.URL, testSelection))
	require.NoError(t, e.AttachMedia(sink))
	defer e.Destroy()

	require.Eventually(t, func() bool {
		return log.count(func(ev Event) bool {
			fe, ok := ev.(FatalError)
			return ok && fe.Category == CategoryMedia
		}) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, sink.Play())
	sink.Advance(5 * time.Second)

	e.RecoverMediaError()
	require.Eventually(t, func() bool { return log.count(isLoaded) == 4 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, "segment-000;segment-001;segment-002;segment-003;", w.String())
	assert.False(t, sink.Paused(), "recovery paused playback")
	assert.Equal(t, 5.0, sink.CurrentTime(), "recovery rewound playback")
	assert.Equal(t, []TimeRange{{Start: 0, End: 40}}, sink.Buffered())
}

func TestHTTPEngine_manifest_not_found(t *testing.T) {
	srv := newStreamServer(t, 1)
	e := testEngine(srv)
	var log eventLog
	e.Subscribe(log.add)

	e.LoadSource(srv.URL + "/missing.m3u8")
	require.NoError(t, e.AttachMedia(NewBufferSink(nil, 0)))
	defer e.Destroy()

	require.Eventually(t, func() bool {
		return log.count(func(ev Event) bool {
			fe, ok := ev.(FatalError)
			return ok && fe.Details == DetailsManifestLoadError
		}) == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestHTTPEngine_no_callbacks_after_destroy(t *testing.T) {
	srv := newStreamServer(t, 50)
	e := testEngine(srv)
	var after atomic.Bool
	var destroyed atomic.Bool
	e.Subscribe(func(Event) {
		if destroyed.Load() {
			after.Store(true)
		}
	})
	e.LoadSource(PlaylistURL(srv.URL, testSelection))
	require.NoError(t, e.AttachMedia(NewBufferSink(nil, 0)))
	time.Sleep(10 * time.Millisecond)

	e.Destroy()
	destroyed.Store(true)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, after.Load())
}

func TestController_end_to_end(t *testing.T) {
	srv := newStreamServer(t, 9)
	sink := NewBufferSink(nil, 0)
	var mu sync.Mutex
	var last Session
	c := NewController(Config{
		BaseURL:   srv.URL,
		Fetcher:   HTTPFetcher{Client: srv.Client()},
		NewEngine: func() Engine { return testEngine(srv) },
		Sink:      sink,
		Log:       logger.Discard(),
		OnChange: func(s Session) {
			mu.Lock()
			last = s
			mu.Unlock()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Select(testSelection)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.State == StatePlayable && last.Loaded == 9
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !sink.Paused() }, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.False(t, sink.Attached())
}

func TestController_media_error_after_play_resumes(t *testing.T) {
	srv := newStreamServer(t, 9)
	var out strings.Builder
	w := &flakyWriter{w: &out, failOn: "segment-007;"}
	sink := NewBufferSink(w, 0)
	var mu sync.Mutex
	var last Session
	c := NewController(Config{
		BaseURL:   srv.URL,
		Fetcher:   HTTPFetcher{Client: srv.Client()},
		NewEngine: func() Engine { return testEngine(srv) },
		Sink:      sink,
		Policy:    Policy{PlayDelay: time.Millisecond, RetryDelay: 50 * time.Millisecond},
		Log:       logger.Discard(),
		OnChange: func(s Session) {
			mu.Lock()
			last = s
			mu.Unlock()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	c.Select(testSelection)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Loaded == 9 && !sink.Paused()
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.True(t, w.hasFailed())
	s := c.Snapshot()
	assert.Equal(t, StatePlayable, s.State)
	assert.Equal(t, 9, s.Loaded)
	assert.Equal(t, 9, s.Total)
	assert.Equal(t, "segment-000;segment-001;segment-002;segment-003;segment-004;"+
		"segment-005;segment-006;segment-007;segment-008;", w.String())
}

func TestController_long_stall_reissues_hung_fetch(t *testing.T) {
	srv := newStreamServer(t, 3)
	srv.hangSegment.Store(1) // sequence 0
	sink := NewBufferSink(nil, 0)
	c := NewController(Config{
		BaseURL:   srv.URL,
		Fetcher:   HTTPFetcher{Client: srv.Client()},
		NewEngine: func() Engine { return testEngine(srv) },
		Sink:      sink,
		Policy: Policy{
			CheckInterval: 50 * time.Millisecond,
			LongStall:     300 * time.Millisecond,
			PlayDelay:     time.Millisecond,
		},
		Log: logger.Discard(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	c.Select(testSelection)
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.State == StatePlayable && s.Loaded == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, srv.segmentHits.Load(), int32(4))
}

// flakyWriter fails the first write equal to failOn.
type flakyWriter struct {
	mu     sync.Mutex
	w      *strings.Builder
	failOn string
	failed bool
}

func (f *flakyWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failed && string(p) == f.failOn {
		f.failed = true
		return 0, errors.New("write failed")
	}
	return f.w.Write(p)
}

func (f *flakyWriter) hasFailed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (f *flakyWriter) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.String()
}

type syncWriter struct {
	mu sync.Mutex
	w  *strings.Builder
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
