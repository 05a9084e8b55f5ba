package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JohannPlaye/earthimagery/internal/datasets"
	"github.com/JohannPlaye/earthimagery/internal/platform/logger"
	"github.com/JohannPlaye/earthimagery/internal/platform/metrics"
	"github.com/JohannPlaye/earthimagery/internal/platform/ratelimit"
	"github.com/JohannPlaye/earthimagery/internal/timelapse"
)

type routerDeps struct {
	log           *slog.Logger
	metrics       *metrics.Metrics
	playlists     *timelapse.Handler
	gateway       *timelapse.Gateway
	datasets      *datasets.Handler
	gatewayPrefix string
	rateLimit     int
	updateGauges  func()
}

func newRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(d.log, d.gatewayPrefix))
	r.Use(metrics.RequestMiddleware(d.metrics))
	r.Use(middleware.Recoverer)

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		d.metrics.Handler(d.updateGauges).ServeHTTP(w, r)
	})

	limited := ratelimit.Middleware(ratelimit.Config{RequestLimit: d.rateLimit, WindowSize: time.Minute})
	r.With(limited).Get("/api/playlist", d.playlists.GetPlaylist)
	r.With(limited).Post("/api/playlist", d.playlists.PostRangeInfo)
	r.Get("/api/datasets/playlists", d.playlists.ListDayPlaylists)
	r.Get("/api/datasets/status", d.datasets.Status)

	prefix := "/" + strings.Trim(d.gatewayPrefix, "/")
	r.Handle(prefix+"/*", d.gateway)
	return r
}
