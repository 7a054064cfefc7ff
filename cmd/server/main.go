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
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/duel-engine/internal/auth"
	"github.com/DoyleJ11/duel-engine/internal/catalog"
	"github.com/DoyleJ11/duel-engine/internal/config"
	"github.com/DoyleJ11/duel-engine/internal/httpapi"
	"github.com/DoyleJ11/duel-engine/internal/hub"
	"github.com/DoyleJ11/duel-engine/internal/logging"
	"github.com/DoyleJ11/duel-engine/internal/match"
	"github.com/DoyleJ11/duel-engine/internal/metrics"
	"github.com/DoyleJ11/duel-engine/internal/ratelimit"
	"github.com/DoyleJ11/duel-engine/internal/results"
	"github.com/DoyleJ11/duel-engine/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	var closers []func() error
	defer func() {
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
	}()

	var cat catalog.Catalog
	if cfg.DatabaseURL != "" {
		db, err := catalog.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		closers = append(closers, db.Close)
		cat = db
		log.Info("card catalog connected")
	}

	sinks := results.Multi{results.LogSink{Logger: log}}
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable at startup", zap.Error(err))
		}
		sinks = append(sinks, results.NewRedisPublisher(rdb, cfg.ResultsChannel))
		limiter = ratelimit.New(rdb, cfg.RateLimit, cfg.RateWindow, m, log)
	}

	// The hub outlives the signal context; it is stopped by Shutdown.
	h := hub.NewHub(context.Background(), cfg.Match, match.Deps{
		Logger:  log,
		Sink:    sinks,
		Metrics: m,
	})

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:      h,
			Verifier: verifier,
			Catalog:  cat,
			Limiter:  limiter,
			Gatherer: reg,
			Logger:   log,
			WS: ws.Options{
				Metrics:        m,
				OriginPatterns: cfg.AllowedOrigins,
				SendQueueSize:  cfg.SendQueueSize,
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Abort sessions before the listener goes away.
		return multierr.Combine(h.Shutdown(sctx), srv.Shutdown(sctx))
	})
	return g.Wait()
}
