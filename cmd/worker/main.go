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

	"github.com/geocoder89/medcard/internal/account"
	"github.com/geocoder89/medcard/internal/auth"
	"github.com/geocoder89/medcard/internal/config"
	"github.com/geocoder89/medcard/internal/db"
	"github.com/geocoder89/medcard/internal/notifications"
	"github.com/geocoder89/medcard/internal/observability"
	"github.com/geocoder89/medcard/internal/worker"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	if cfg.StoreDriver == config.StoreMemory {
		log.Error("worker needs a shared store; STORE_DRIVER=memory has nothing to sweep")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing("medcard-worker"))
		if err != nil {
			log.Error("tracer init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			sctx, cancel := config.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	stores, err := db.Open(ctx, cfg, prom)
	if err != nil {
		log.Error("store connect failed", "err", err)
		os.Exit(1)
	}
	defer stores.Close()

	// the sweep never issues tokens or sends mail
	svc := account.NewService(stores.Users, stores.Codes,
		auth.NewManager(auth.Config{AccessSecret: cfg.JWTAccessSecret, RefreshSecret: cfg.JWTRefreshSecret}),
		notifications.NewLogNotifier(log, false),
		account.WithLogger(log),
	)

	w := worker.New(worker.Config{Interval: cfg.SweepInterval}, svc, prom, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerPort),
		Handler:           w.HealthHandler(pinger(stores.Ping), reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker has started", "store", stores.Driver, "interval", cfg.SweepInterval.String())

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	sctx, cancel := config.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)

	log.Info("worker shutdown complete")
}

type pinger func(ctx context.Context) error

func (p pinger) Ping(ctx context.Context) error { return p(ctx) }
