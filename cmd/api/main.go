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

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"github.com/bighogz/ownership-lens/internal/config"
	"github.com/bighogz/ownership-lens/internal/pipeline"
	"github.com/bighogz/ownership-lens/internal/telemetry"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	config.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(cfg.TraceStdout, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}

	svc, err := pipeline.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline setup failed")
	}

	sched, err := scheduleIdentifierRefresh(svc, cfg.IdentifierRefreshSchedule)
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.IdentifierRefreshSchedule).Msg("invalid identifier refresh schedule")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newServer(svc, cfg.AdminAPIKey).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("http server stopped")
	}

	if sched != nil {
		<-sched.Stop().Done()
	}
	cctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := svc.Close(cctx); err != nil {
		log.Warn().Err(err).Msg("pipeline close")
	}
	if err := shutdownTracing(cctx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}

// scheduleIdentifierRefresh reloads the ticker table on spec. An empty spec
// disables the job.
func scheduleIdentifierRefresh(svc *pipeline.Service, spec string) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := svc.RefreshIdentifiers(ctx); err != nil {
			log.Warn().Err(err).Msg("scheduled identifier refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
