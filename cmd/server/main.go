package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JohannPlaye/earthimagery/internal/datasets"
	"github.com/JohannPlaye/earthimagery/internal/platform/cache"
	"github.com/JohannPlaye/earthimagery/internal/platform/config"
	"github.com/JohannPlaye/earthimagery/internal/platform/logger"
	"github.com/JohannPlaye/earthimagery/internal/platform/metrics"
	"github.com/JohannPlaye/earthimagery/internal/timelapse"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	dataRoot := config.GetEnv("DATA_ROOT_PATH", "./public/data")
	hlsDir := config.GetEnv("HLS_DIR", "hls")
	gatewayPrefix := config.GetEnv("GATEWAY_PREFIX", timelapse.DefaultGatewayPrefix)
	maxRangeDays := config.GetEnvInt("MAX_DATE_RANGE_DAYS", timelapse.DefaultMaxRangeDays)
	segmentTime := config.GetEnvInt("HLS_SEGMENT_TIME", timelapse.DefaultNominalSegmentSeconds)
	cacheTTL := config.GetEnvDuration("PLAYLIST_CACHE_TTL", 30*time.Second)
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	rateLimit := config.GetEnvInt("RATE_LIMIT_PER_MINUTE", 600)
	datasetsDir := config.GetEnv("DATASETS_CONFIG_DIR", "./config")
	markDays := config.GetEnvBool("MARK_DAY_BOUNDARIES", false)

	log := logger.New(logLevel, logFormat)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hlsRoot := filepath.Join(dataRoot, hlsDir)
	store := timelapse.NewDirStore(hlsRoot)
	opts := timelapse.Options{
		GatewayPrefix:     gatewayPrefix,
		MarkDayBoundaries: markDays,
		Log:               log.With("component", "synthesizer"),
	}

	var c cache.Cache
	if redisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      redisAddr,
			Password:  config.GetEnv("REDIS_PASSWORD", ""),
			DB:        config.GetEnvInt("REDIS_DB", 0),
			KeyPrefix: "earthimagery:",
		}, log)
		if err != nil {
			log.Warn("redis unavailable, using in-memory playlist cache", "error", err)
		} else {
			c = rc
		}
	}
	if c == nil {
		c = cache.NewMemoryCache(time.Minute)
	}
	defer c.Close()

	namespace := ""
	if markDays {
		namespace = "d"
	}
	repo := timelapse.NewCachedRepository(
		timelapse.NewSynthesizingRepository(store, opts), c, cacheTTL, namespace, log.With("component", "cache"))
	svc := timelapse.NewService(repo, store, timelapse.ServiceConfig{
		MaxRangeDays:          maxRangeDays,
		NominalSegmentSeconds: segmentTime,
		GatewayPrefix:         gatewayPrefix,
	})

	holder := datasets.NewHolder(datasetsDir, log.With("component", "datasets"))
	if err := holder.Reload(); err != nil {
		log.Warn("dataset status not loaded", "error", err)
	}
	if err := holder.StartWatcher(ctx); err != nil {
		log.Warn("dataset status watcher disabled", "error", err)
	}

	met := metrics.New()
	r := newRouter(routerDeps{
		log:           log,
		metrics:       met,
		playlists:     timelapse.NewHandler(svc, log, met, cacheTTL),
		gateway:       timelapse.NewGateway(hlsRoot, log.With("component", "gateway"), met),
		datasets:      datasets.NewHandler(holder),
		gatewayPrefix: gatewayPrefix,
		rateLimit:     rateLimit,
		updateGauges: func() {
			s := repo.Stats()
			met.SetCacheStats(s.Hits, s.Misses, s.CurrentSize)
			met.SetEnabledDatasets(holder.Snapshot().EnabledCount())
		},
	})

	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "earthimagery"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"hls_root", hlsRoot,
		"gateway_prefix", gatewayPrefix,
		"max_date_range_days", maxRangeDays,
		"playlist_cache_ttl", cacheTTL.String(),
		"mark_day_boundaries", markDays,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	holder.Wait()

	log.Info("server stopped")
}
