// Package cmd implements the timelapse-play CLI: a headless player that
// drives the playback controller against a running server and writes the
// received MPEG-TS stream to a file.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JohannPlaye/earthimagery/internal/platform/logger"
	"github.com/JohannPlaye/earthimagery/internal/player"
)

const advanceInterval = 100 * time.Millisecond

type playOptions struct {
	server     string
	sel        player.Selection
	output     string
	rate       float64
	timeout    time.Duration
	maxBuffer  int
	logLevel   string
	logFormat  string
	noRealtime bool
}

var opts playOptions

var rootCmd = &cobra.Command{
	Use:   "timelapse-play",
	Short: "Play a synthesized timelapse range headlessly",
	Long: `timelapse-play requests the virtual playlist for one dataset and date
range, buffers it with the adaptive playback controller and writes every
fetched segment, in order, to --output.

It exits 0 once every segment has been received and playback has started,
and non-zero with the user-facing message when the range has no video or
cannot be played.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPlay(cmd.Context(), opts)
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8080", "base URL of the timelapse server")
	f.StringVar(&opts.sel.Satellite, "satellite", "", "capture source, e.g. GOES18")
	f.StringVar(&opts.sel.Sector, "sector", "", "sector, e.g. hi")
	f.StringVar(&opts.sel.Product, "product", "", "product, e.g. GEOCOLOR")
	f.StringVar(&opts.sel.Resolution, "resolution", "", "resolution, e.g. 600x600")
	f.StringVar(&opts.sel.From, "from", "", "first day, YYYY-MM-DD")
	f.StringVar(&opts.sel.To, "to", "", "last day, YYYY-MM-DD")
	f.StringVarP(&opts.output, "output", "o", "", "file receiving the MPEG-TS stream (default: discard)")
	f.Float64Var(&opts.rate, "rate", 1, "playback rate multiplier")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "give up after this long (0 = never)")
	f.IntVar(&opts.maxBuffer, "max-buffer-bytes", player.DefaultSinkBytes, "sink buffer budget in bytes")
	f.BoolVar(&opts.noRealtime, "no-realtime", false, "do not advance the playback clock")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	for _, name := range []string{"satellite", "sector", "product", "resolution", "from", "to"} {
		_ = rootCmd.MarkFlagRequired(name)
	}
}

func runPlay(ctx context.Context, o playOptions) error {
	log := logger.NewWithWriter(os.Stderr, o.logLevel, o.logFormat)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var w io.Writer
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	client := player.NewHTTPClient()
	sink := player.NewBufferSink(w, o.maxBuffer)
	c := player.NewController(player.Config{
		BaseURL: o.server,
		Fetcher: player.HTTPFetcher{Client: client},
		NewEngine: func() player.Engine {
			return player.NewHTTPEngine(player.HTTPEngineConfig{Client: client, Log: log})
		},
		Sink: sink,
		Log:  log,
	})
	c.SetPlaybackRate(o.rate)

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = c.Run(runCtx)
	}()
	defer func() {
		cancelRun()
		<-runDone
	}()

	c.Select(o.sel)

	ticker := time.NewTicker(advanceInterval)
	defer ticker.Stop()
	lastLoaded := -1
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("playback did not finish: %w", ctx.Err())
		case <-ticker.C:
		}

		if !o.noRealtime {
			sink.Advance(advanceInterval)
		}

		s := c.Snapshot()
		if s.Loaded != lastLoaded && s.Total > 0 {
			lastLoaded = s.Loaded
			log.Info("buffering",
				slog.String("state", s.State.String()),
				slog.Int("loaded", s.Loaded),
				slog.Int("total", s.Total),
				slog.Float64("progress", s.Progress()))
		}

		switch {
		case s.State == player.StateError:
			log.Error("playback failed", slog.String("message", s.Message))
			return errors.New(s.Message)
		case s.State == player.StatePlayable && s.Total > 0 && s.Loaded >= s.Total && !sink.Paused():
			log.Info("stream received",
				slog.Int("segments", s.Total),
				slog.Float64("position", sink.CurrentTime()))
			return nil
		}
	}
}
