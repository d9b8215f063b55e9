package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arhyth/ledgerxgo"
	"github.com/bwmarrin/snowflake"
	"github.com/sony/gobreaker/v2"

	"github.com/rs/zerolog"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	cfg, err := ledgerxgo.LoadConfig(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error loading config file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := ledgerxgo.NewRepository(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("error starting database")
	}
	defer closeRepo()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatal().Err(err).Int64("node_id", cfg.NodeID).Msg("error creating request id node")
	}

	brkrs := ledgerxgo.NewServiceBreaker(ledgerxgo.BreakerSettings{
		MaxRequests:         cfg.Service.Breaker.MaxRequests,
		Interval:            cfg.Service.Breaker.Interval,
		Timeout:             cfg.Service.Breaker.Timeout,
		ConsecutiveFailures: cfg.Service.Breaker.ConsecutiveFailures,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	svc := ledgerxgo.Chain(
		ledgerxgo.NewService(repo, &logger),
		ledgerxgo.NewLoggingMiddleware(&logger),
		ledgerxgo.NewLimitMiddleware(ledgerxgo.NewServiceLimits(cfg.Service.MaxInFlight)),
		ledgerxgo.NewCircuitBreakMiddleware(brkrs),
		ledgerxgo.NewRetryMiddleware(ledgerxgo.RetryPolicy{
			Attempts:  cfg.Service.Retry.Attempts,
			BaseDelay: cfg.Service.Retry.BaseDelay,
		}),
	)
	hndlr := ledgerxgo.NewHTTPHandler(svc, node, cfg.HTTP.RequestTimeout, &logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           hndlr,
		ReadHeaderTimeout: cfg.HTTP.RequestTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Err(err).Msg("error shutting down HTTP server")
		}
	}()

	logger.Info().Str("addr", cfg.HTTP.Addr).Msg("ledger server listening")
	if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("error serving HTTP")
	}
}
