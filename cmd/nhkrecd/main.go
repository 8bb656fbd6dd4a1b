// Command nhkrecd runs the recording appliance: it serves ApiSurface over
// HTTP and drives the scheduler's reconciliation loop until terminated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nhkrec/internal/api"
	"nhkrec/internal/capture"
	"nhkrec/internal/clock"
	"nhkrec/internal/config"
	xglog "nhkrec/internal/log"
	"nhkrec/internal/scheduler"
	"nhkrec/internal/store"
	"nhkrec/internal/upstream"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	fs := config.NewFlagSet(flag.CommandLine)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nhkrecd %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	cfg := fs.Resolved()
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "nhkrecd"})
	logger := xglog.WithComponent("daemon")

	if cfg.EventsBaseURL == "" || cfg.SeriesListURL == "" || cfg.StreamConfigURL == "" {
		logger.Fatal().
			Str("event", "startup.check_failed").
			Msg("NHKREC_EVENTS_BASE_URL, NHKREC_SERIES_LIST_URL and NHKREC_STREAM_CONFIG_URL must all be set")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("listen", cfg.ListenAddr).
		Str("data_root", cfg.DataRoot).
		Bool("dry_run", cfg.DryRun).
		Msg("starting nhkrecd")

	st, err := store.Open(cfg.DataRoot)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open data store")
	}

	capture.MuxerExecutable = cfg.MuxerExecutable

	upstreamClient := upstream.NewClient(upstream.Config{
		EventsBaseURL:   cfg.EventsBaseURL,
		SeriesListURL:   cfg.SeriesListURL,
		StreamConfigURL: cfg.StreamConfigURL,
		CacheTTL:        cfg.SeriesCacheTTL,
		OutboundRPS:     cfg.UpstreamRPS,
	})

	var worker scheduler.CaptureRunner
	if cfg.DryRun {
		logger.Warn().Msg("dry-run mode: no muxer will be spawned and no recordings will be written")
		worker = capture.NewDryRunWorker(capture.Config{
			LeadIn:          cfg.LeadIn,
			TailOut:         cfg.TailOut,
			SegmentDuration: cfg.SegmentDuration,
			StopGrace:       cfg.StopGrace,
		})
	} else {
		worker = capture.New(capture.Config{
			LeadIn:          cfg.LeadIn,
			TailOut:         cfg.TailOut,
			SegmentDuration: cfg.SegmentDuration,
			StopGrace:       cfg.StopGrace,
		}, clock.Real{}, st)
	}

	sched := scheduler.New(scheduler.Config{
		ReconcileInterval: cfg.ReconcileInterval,
		SchedulingHorizon: cfg.SchedulingHorizon,
		EventsHorizon:     cfg.EventsHorizon,
		GraceInterval:     cfg.GraceInterval,
	}, st, upstreamClient, worker, clock.Real{})

	apiServer := api.New(api.Config{
		EventsHorizon: cfg.EventsHorizon,
	}, st, upstreamClient, sched)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // downloads and bulk downloads stream for as long as the recording is
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		sched.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown did not complete cleanly")
	}

	<-schedulerDone
	logger.Info().Msg("nhkrecd exiting")
}
