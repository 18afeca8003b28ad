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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/platewise/researchd/internal/adapter/backend"
	rdhttp "github.com/platewise/researchd/internal/adapter/http"
	rdnats "github.com/platewise/researchd/internal/adapter/nats"
	"github.com/platewise/researchd/internal/adapter/natskv"
	rdotel "github.com/platewise/researchd/internal/adapter/otel"
	"github.com/platewise/researchd/internal/adapter/postgres"
	"github.com/platewise/researchd/internal/adapter/ristretto"
	"github.com/platewise/researchd/internal/adapter/tiered"
	"github.com/platewise/researchd/internal/adapter/ws"
	"github.com/platewise/researchd/internal/config"
	"github.com/platewise/researchd/internal/logger"
	"github.com/platewise/researchd/internal/middleware"
	"github.com/platewise/researchd/internal/resilience"
	"github.com/platewise/researchd/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"backend_url", cfg.Backend.URL,
		"backend_mode", cfg.Backend.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := rdotel.Init(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := rdotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := rdnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	slog.Info("nats connected")

	// Tiered answer cache: ristretto in-process, NATS KV shared.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("nats kv: %w", err)
	}
	answerCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL)

	// --- Research pipeline ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.ConnectTimeout)
	client.SetBreaker(breaker)

	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	research := service.NewResearchService(service.ResearchConfig{
		Stream: service.StreamConfig{
			IdleWindow:     cfg.Stream.IdleWindow,
			MinAnswerChars: cfg.Stream.MinAnswerChars,
		},
		Driver: service.DriverConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BackoffBase: cfg.Retry.BackoffBase,
		},
		Pacer: service.PacerConfig{
			Granularity:  cfg.Pacer.Granularity,
			ShortDelay:   cfg.Pacer.ShortDelay,
			LongDelay:    cfg.Pacer.LongDelay,
			DefaultDelay: cfg.Pacer.DefaultDelay,
		},
		Stages: service.StagesConfig{
			SettleDelay: cfg.Stages.SettleDelay,
			MinDwell:    cfg.Stages.MinDwell,
		},
		Mode:     cfg.Backend.Mode,
		CacheTTL: cfg.Cache.AnswerTTL,
	}, client, ws.NewSink(hub), store, answerCache, queue, metrics)
	defer research.Shutdown()

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &rdhttp.Handlers{
		Research: research,
		Hub:      hub,
		Queue:    queue,
		Breaker:  breaker,
	}

	r := chi.NewRouter()
	r.Use(rdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rdhttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(rdhttp.Logger)
	r.Use(rdotel.HTTPMiddleware("researchd"))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)
	r.Use(middleware.APIKeyAuth(cfg.Auth.APIKeyHash))

	rdhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: /ws connections are long-lived.
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
