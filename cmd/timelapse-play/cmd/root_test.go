package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohannPlaye/earthimagery/internal/player"
	"github.com/JohannPlaye/earthimagery/internal/timelapse"
)

func newPlaylistServer(t *testing.T, n int) *httptest.Server {
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
	body := timelapse.BuildVODPlaylist(p)

	r := chi.NewRouter()
	r.Get("/api/playlist", func(w http.ResponseWriter, r *http.Request) {
		if n == 0 {
			http.Error(w, `{"error":"no segments"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(body))
	})
	r.Get("/api/hls/{id}/{date}/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chi.URLParam(r, "name") + ";"))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testOptions(server, output string) playOptions {
	return playOptions{
		server: server,
		sel: player.Selection{
			Satellite: "GOES18", Sector: "hi", Product: "GEOCOLOR", Resolution: "600x600",
			From: "2025-07-20", To: "2025-07-20",
		},
		output:    output,
		rate:      1,
		timeout:   10 * time.Second,
		maxBuffer: player.DefaultSinkBytes,
		logLevel:  "error",
		logFormat: "text",
	}
}

func TestRunPlay_writesStream(t *testing.T) {
	srv := newPlaylistServer(t, 3)
	out := filepath.Join(t.TempDir(), "out.ts")

	require.NoError(t, runPlay(context.Background(), testOptions(srv.URL, out)))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "seg000.ts;seg001.ts;seg002.ts;", string(data))
}

func TestRunPlay_noContent(t *testing.T) {
	srv := newPlaylistServer(t, 0)

	err := runPlay(context.Background(), testOptions(srv.URL, ""))
	require.Error(t, err)
	assert.Equal(t, "No video available for the period from 2025-07-20 to 2025-07-20", err.Error())
}

func TestRunPlay_cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := runPlay(ctx, testOptions(srv.URL, ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
