package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/geocoder89/medcard/internal/account"
	"github.com/geocoder89/medcard/internal/auth"
	"github.com/geocoder89/medcard/internal/config"
	"github.com/geocoder89/medcard/internal/db"
	"github.com/geocoder89/medcard/internal/graphql"
	httpx "github.com/geocoder89/medcard/internal/http"
	"github.com/geocoder89/medcard/internal/http/handlers"
	"github.com/geocoder89/medcard/internal/http/middlewares"
	"github.com/geocoder89/medcard/internal/notifications"
	"github.com/geocoder89/medcard/internal/observability"
	"github.com/geocoder89/medcard/internal/redisclient"
	"github.com/geocoder89/medcard/internal/storage"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing("medcard-api"))
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := config.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	stores, err := db.Open(ctx, cfg, prom)
	if err != nil {
		return err
	}
	defer stores.Close()

	notifier, err := buildNotifier(cfg, log, prom)
	if err != nil {
		return err
	}

	tokens := auth.NewManager(auth.Config{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshTTL:    cfg.JWTRefreshTTL,
		Issuer:        cfg.JWTIssuer,
	})

	svc := account.NewService(stores.Users, stores.Codes, tokens, notifier,
		account.WithHashCost(cfg.BcryptCost),
		account.WithRecorder(prom),
		account.WithLogger(log),
	)

	created, err := db.EnsureDoctor(ctx, stores.Users, db.SeedDoctor{
		Email:    cfg.SeedDoctorEmail,
		Password: cfg.SeedDoctorPassword,
		Cost:     cfg.BcryptCost,
	})
	if err != nil {
		return fmt.Errorf("seed doctor: %w", err)
	}
	if created {
		log.Info("seeded doctor account", "email", cfg.SeedDoctorEmail)
	}

	deps := httpx.Deps{
		Log:            log,
		Env:            cfg.Env,
		Accounts:       svc,
		Tokens:         tokens,
		Prom:           prom,
		Gatherer:       reg,
		CORSOrigins:    cfg.CORSOrigins,
		UploadMaxBytes: cfg.UploadMaxBytes,
		Checks:         map[string]handlers.Pinger{"store": stores.Ping},
	}

	if cfg.RedisAddr != "" {
		rdb := redisclient.New(redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()

		if err := rdb.Ping(ctx); err != nil {
			log.Warn("redis unreachable, rate limits fall back to memory", "err", err)
		}

		deps.SendCodeLimiter = middlewares.NewRedisLimiter(rdb, "send-code", cfg.SendCodeLimit, time.Minute, log)
		deps.LoginLimiter = middlewares.NewRedisLimiter(rdb, "login", cfg.LoginLimit, time.Minute, log)
	} else {
		deps.SendCodeLimiter = middlewares.NewRateLimiter(cfg.SendCodeLimit, time.Minute)
		deps.LoginLimiter = middlewares.NewRateLimiter(cfg.LoginLimit, time.Minute)
	}

	// GraphQL spends the same per-client budget as the REST auth routes
	deps.GraphQL, err = graphql.NewHandler(svc, log,
		graphql.WithLimiters(deps.SendCodeLimiter, deps.LoginLimiter),
		graphql.WithOnLimited(prom.RateLimited),
		graphql.WithTimeout(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("graphql schema: %w", err)
	}

	if cfg.S3Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, storage.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return err
		}
		if err := uploader.Ping(ctx); err != nil {
			return err
		}
		deps.Uploader = uploader
		deps.Checks["storage"] = uploader.Ping
	}

	router := httpx.NewRouter(deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "store", stores.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("server shutting down")

	sctx, cancel := config.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

// buildNotifier picks SMTP when configured and the log sender otherwise,
// both behind the circuit breaker.
func buildNotifier(cfg config.Config, log *slog.Logger, prom *observability.Prom) (notifications.Notifier, error) {
	smtpCfg, err := notifications.LoadSMTPConfig()
	if err != nil {
		return nil, err
	}

	var inner notifications.Notifier
	if smtpCfg.Enabled() {
		n, err := notifications.NewSMTPNotifier(smtpCfg)
		if err != nil {
			return nil, err
		}
		inner = n
	} else {
		if cfg.Env == "prod" {
			return nil, fmt.Errorf("SMTP_HOST is required in prod")
		}
		// codes only show up in dev logs
		inner = notifications.NewLogNotifier(log, cfg.Env == "dev")
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:  10 * time.Second,
		OnResult: prom.NotificationResult,
	}), nil
}
