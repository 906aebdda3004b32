package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/klaroops/backend/internal/applications"
	"github.com/klaroops/backend/internal/assistant"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/auth"
	"github.com/klaroops/backend/internal/config"
	"github.com/klaroops/backend/internal/dashboard"
	"github.com/klaroops/backend/internal/database"
	"github.com/klaroops/backend/internal/email"
	"github.com/klaroops/backend/internal/execution"
	"github.com/klaroops/backend/internal/google"
	"github.com/klaroops/backend/internal/handlers"
	"github.com/klaroops/backend/internal/llm"
	"github.com/klaroops/backend/internal/metrics"
	"github.com/klaroops/backend/internal/middleware"
	"github.com/klaroops/backend/internal/ratelimit"
	"github.com/klaroops/backend/internal/repository"
	"github.com/klaroops/backend/internal/router"
	"github.com/klaroops/backend/internal/templates"
)

const sessionTTL = 24 * time.Hour

func runServe(cmd *cobra.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to PostgreSQL")

	if err := database.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	m := metrics.New()

	// Job queue: application notification emails.
	sender := email.NewClient(cfg.Email.APIURL, cfg.Email.APIKey, cfg.Email.From)
	if !sender.Configured() {
		logger.Warn("email delivery disabled: EMAIL_API_KEY not set")
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewApplicationNotificationWorker(sender, cfg.Email.NotifyEmail, logger))
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 5},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}
	notifier := execution.NewNotifier(func(ctx context.Context, args river.JobArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	})

	completer := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout,
		llm.WithLogger(logger),
		llm.WithObserver(func(err error) { m.Upstream("llm", err) }),
	)
	if cfg.LLM.APIKey == "" {
		logger.Warn("LLM features disabled: LLM_API_KEY not set")
	}

	catalog, err := templates.Load()
	if err != nil {
		return fmt.Errorf("load dashboard templates: %w", err)
	}

	limiter := ratelimit.NewLimiter(rateLimitStore(ctx, cfg, logger), logger)
	limiter.OnReject(m.RateLimited)

	mux := buildRouter(cfg, pool, logger, m, limiter, completer, catalog, notifier)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(middleware.RequestLog(logger)(m.Middleware(mux)))

	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	if err := riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		logger.Error("river shutdown", "error", err)
	}
	return nil
}

// rateLimitStore prefers Redis and falls back to per-process counters.
func rateLimitStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) ratelimit.Store {
	if cfg.RedisURL == "" {
		logger.Info("rate limiting with in-memory counters")
		return ratelimit.NewMemoryStore()
	}
	client, err := ratelimit.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting with in-memory counters", "error", err)
		return ratelimit.NewMemoryStore()
	}
	return ratelimit.NewRedisStore(client)
}

func buildRouter(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger, m *metrics.Metrics, limiter *ratelimit.Limiter,
	completer llm.Completer, catalog *templates.Catalog, notifier *execution.Notifier) http.Handler {
	users := repository.NewUserRepo(pool)
	ambassadors := repository.NewAmbassadorRepo(pool)
	clients := repository.NewClientRepo(pool)
	commissions := repository.NewCommissionRepo(pool)
	appointments := repository.NewAppointmentRepo(pool)
	auditRepo := repository.NewAuditRepo(pool)
	applicationRepo := repository.NewApplicationRepo(pool)
	dashboards := repository.NewDashboardRepo(pool)
	threads := repository.NewAIRepo(pool)
	integrations := repository.NewIntegrationRepo(pool)

	mutator := audit.NewRecorder(pool, auditRepo, logger)

	authSvc := auth.NewService(users, clients, mutator, auth.Options{
		Secret:        cfg.SessionSecret,
		AdminPassword: cfg.AdminPassword,
		AdminEmail:    cfg.AdminEmail,
		TrialDays:     cfg.TrialDays,
		TTL:           sessionTTL,
	})

	googleSvc := google.NewService(cfg.Google, integrations, logger)
	googleSvc.SetObserver(func(err error) { m.Upstream("google", err) })

	dashSvc := dashboard.NewService(catalog, dashboards, clients, completer, mutator, logger)
	assistantSvc := assistant.NewService(threads, clients, dashboards, completer, logger)
	applicationSvc := applications.NewService(applicationRepo, mutator, notifier, completer, logger)

	h := router.Handlers{
		Auth:         auth.NewHandler(authSvc, auth.CookieConfig{Secure: cfg.IsProduction()}, logger),
		Me:           &handlers.MeHandler{Clients: clients, Logger: logger},
		Ambassadors:  &handlers.AmbassadorHandler{Users: users, Ambassadors: ambassadors, Audit: mutator, Logger: logger},
		Clients:      &handlers.ClientHandler{Clients: clients, Ambassadors: ambassadors, Audit: mutator, TrialDays: cfg.TrialDays, Logger: logger},
		Commissions:  &handlers.CommissionHandler{Commissions: commissions, Ambassadors: ambassadors, Audit: mutator, Logger: logger},
		Appointments: &handlers.AppointmentHandler{Appointments: appointments, Clients: clients, Ambassadors: ambassadors, Audit: mutator, Logger: logger},
		AuditLogs:    &handlers.AuditLogHandler{Logs: auditRepo, Logger: logger},
		Applications: applications.NewHandler(applicationSvc, logger),
		Dashboard:    dashboard.NewHandler(dashSvc, googleSvc, logger),
		Assistant:    assistant.NewHandler(assistantSvc, logger),
		Google:       google.NewHandler(googleSvc, cfg.IsProduction(), logger),
	}

	return router.New(h, router.Options{
		Session:   middleware.SessionAuth(authSvc, ambassadors, clients, logger),
		Limiter:   limiter,
		Metrics:   m.Handler(),
		StaticDir: cfg.StaticDir,
		Logger:    logger,
	})
}
