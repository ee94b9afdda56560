package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/Jincoo/youtube-music-remote/internal/adapters/http"
	"github.com/Jincoo/youtube-music-remote/internal/adapters/ws"
	"github.com/Jincoo/youtube-music-remote/internal/app"
	"github.com/Jincoo/youtube-music-remote/internal/app/orch"
	"github.com/Jincoo/youtube-music-remote/internal/config"
	"github.com/Jincoo/youtube-music-remote/internal/core"
	"github.com/Jincoo/youtube-music-remote/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		// JSON lines for log shippers
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		log.Fatal().Err(err).Msg("backpressure policy")
	}
	clock := core.RealClock{}
	reg := app.NewRegistry(clock, cfg.MaxSessions)
	relay := app.NewRouter(reg, policy, m)
	conns := app.NewConnections()
	o := orch.New(reg, relay, conns, clock, m)

	ctl := ws.NewController(o, ws.Config{
		ReadLimit:  cfg.ReadLimit,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
		RateLimit:  cfg.RateLimitPerSec,
		RateBurst:  cfg.RateLimitBurst,
	}, clock, m)

	monitor := app.NewMonitor(app.MonitorConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		LivenessInterval:  cfg.LivenessInterval,
		LivenessThreshold: cfg.LivenessThreshold,
		GCInterval:        cfg.GCInterval,
		StaleTimeout:      cfg.StaleTimeout,
		ServerName:        cfg.ServerName,
	}, clock, conns, reg, relay, m)

	r := router.SetupRouter(ctx, cfg, router.Deps{Registry: reg, WS: ctl, Gatherer: promReg})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("server", cfg.ServerName).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		conns.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
