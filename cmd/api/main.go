package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/tourhub/internal/accounts"
	"github.com/geocoder89/tourhub/internal/auth"
	"github.com/geocoder89/tourhub/internal/config"
	"github.com/geocoder89/tourhub/internal/db"
	httpx "github.com/geocoder89/tourhub/internal/http"
	"github.com/geocoder89/tourhub/internal/http/middlewares"
	"github.com/geocoder89/tourhub/internal/notifications"
	"github.com/geocoder89/tourhub/internal/observability"
	"github.com/geocoder89/tourhub/internal/redisclient"
	"github.com/geocoder89/tourhub/internal/repo/memory"
	"github.com/geocoder89/tourhub/internal/repo/postgres"
	"github.com/geocoder89/tourhub/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type userStore interface {
	accounts.UserStore
	Ping(ctx context.Context) error
}

func main() {
	// Load the config set up; a bad secret must stop the process here
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx := context.Background()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Env:         cfg.Env,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(reg)

	hasher := security.NewHasher(cfg.BcryptCost, cfg.HashConcurrency)

	store, closeStore, err := openStore(ctx, cfg, prom, log)
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	seedCtx, cancelSeed := context.WithTimeout(ctx, 10*time.Second)
	if err := db.EnsureAdminUser(seedCtx, store, hasher, cfg); err != nil {
		log.Error("admin seed failed", "err", err)
	}
	cancelSeed()

	limiter, closeLimiter := openLimiter(ctx, cfg, log)
	defer closeLimiter()

	svc := accounts.NewService(
		store,
		hasher,
		auth.NewManager(auth.NewHMACSigner(cfg.JWTSecret), cfg.JWTTTL),
		auth.NewResetTokens(cfg.ResetTTL),
		newNotifier(cfg, prom, log),
		accounts.Options{
			ResetURLBase: cfg.ResetURLBase,
			Logger:       log,
			Metrics:      prom,
		},
	)

	router := httpx.NewRouter(httpx.Deps{
		Config:   cfg,
		Logger:   log,
		Accounts: svc,
		Limiter:  limiter,
		Prom:     prom,
		Gatherer: reg,
		Ping:     store.Ping,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", "err", err)
	}

	log.Info("shutdown complete")
}

// openStore connects to postgres and migrates it. Without a database URL only
// dev and test fall back to the in-memory store.
func openStore(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (userStore, func(), error) {
	if cfg.DBURL == "" {
		if cfg.Env != "dev" && cfg.Env != "test" {
			return nil, nil, errors.New("DATABASE_URL or DB_HOST is required outside dev")
		}
		log.Warn("no database configured, using in-memory user store")
		return memory.NewUsersRepo(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.Migrate(migrateCtx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return postgres.NewUsersRepo(pool, prom), pool.Close, nil
}

// openLimiter shares rate limit windows through Redis when it is configured
// and reachable, and falls back to per-process counting otherwise.
func openLimiter(ctx context.Context, cfg config.Config, log *slog.Logger) (middlewares.Limiter, func()) {
	local := middlewares.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)

	if cfg.RedisAddr == "" {
		return local, func() {}
	}

	rc := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rc.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable, using in-process rate limiter", "addr", cfg.RedisAddr, "err", err)
		_ = rc.Close()
		return local, func() {}
	}

	return middlewares.NewRedisRateLimiter(rc, cfg.RateLimit, cfg.RateLimitWindow), func() { _ = rc.Close() }
}

func newNotifier(cfg config.Config, prom *observability.Prom, log *slog.Logger) notifications.Notifier {
	if !cfg.MailSendEnabled {
		if cfg.Env == "prod" {
			log.Warn("MAIL_SEND_ENABLED=false: reset emails are only logged")
		}
		return notifications.NewLogNotifier(log)
	}

	return notifications.NewProtectedNotifier(
		notifications.NewMailgunNotifier(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender),
		notifications.ProtectedNotifierConfig{
			Timeout:          10 * time.Second,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
			OnStateChange: func(from, to notifications.BreakerState) {
				prom.MailBreakerState.Set(float64(to))
				log.Warn("mail provider circuit changed", "from", from.String(), "to", to.String())
			},
		},
	)
}
