package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/foreman/pkg/api"
	"github.com/platinummonkey/foreman/pkg/audit"
	"github.com/platinummonkey/foreman/pkg/auth"
	"github.com/platinummonkey/foreman/pkg/config"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/mailer"
	"github.com/platinummonkey/foreman/pkg/middleware"
	"github.com/platinummonkey/foreman/pkg/migrations"
	"github.com/platinummonkey/foreman/pkg/observability"
	"github.com/platinummonkey/foreman/pkg/projects"
	"github.com/platinummonkey/foreman/pkg/tasks"
	"github.com/platinummonkey/foreman/pkg/timesheets"
	"github.com/platinummonkey/foreman/pkg/users"
	"github.com/platinummonkey/foreman/pkg/visibility"
)

// loginAttemptRetention bounds the login_attempts table; the limiter only
// ever looks at the configured window.
const loginAttemptRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	if err := migrations.Run(context.Background(), db, logger); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("failed to parse redis URL")
			os.Exit(1)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Error("failed to ping redis")
			os.Exit(1)
		}
	}

	var sender mailer.Sender
	if cfg.Mail.Enabled {
		sender = mailer.NewSMTPSender(cfg.Mail, logger, metrics)
	} else {
		sender = mailer.NewNoopSender(logger)
	}
	invitationMailer := mailer.NewInvitationMailer(sender, cfg.Server.BaseURL)

	userService := users.NewPostgresService(db, logger)
	projectService := projects.NewPostgresService(db, logger, invitationMailer, cfg.Auth.InvitationValidity)
	taskService := tasks.NewPostgresService(db, logger)
	timesheetService := timesheets.NewPostgresService(db, logger)
	auditStore := audit.NewPostgresStore(db, logger)

	recorder := audit.NewDBRecorder(db, logger, metrics)
	notifier := mailer.NewNotifier(sender, userService, cfg.Server.BaseURL, logger)
	dispatcher := events.NewDispatcher(logger, recorder, notifier)

	sessions := auth.NewSessionStore(db, cfg.Auth.SessionTTL, logger)
	limiter := auth.NewLoginLimiter(db, cfg.Auth.LoginWindow, cfg.Auth.LoginMaxAttempts, logger, metrics)

	var rateLimit *middleware.RateLimitMiddleware
	if redisClient != nil {
		rateLimit = middleware.NewRateLimitMiddleware(redisClient, logger, metrics)
	}

	server := api.NewServer(api.Dependencies{
		Users:       userService,
		Projects:    projectService,
		Tasks:       taskService,
		Timesheets:  timesheetService,
		AuditStore:  auditStore,
		Visibility:  visibility.NewEngine(projectService),
		Sessions:    sessions,
		Limiter:     limiter,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
		Registry:    registry,
		RateLimit:   rateLimit,
		SessionAuth: middleware.NewAuthenticator(sessions, userService),
		Health:      observability.NewHealthChecker(db, redisClient),
	})

	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 15m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := projectService.ExpireOverdueInvitations(ctx); err != nil {
			logger.WithError(err).Warn("invitation expiry sweep failed")
		} else if n > 0 {
			logger.WithField("count", n).Info("expired overdue invitations")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule invitation sweep")
		os.Exit(1)
	}
	if _, err := sweeper.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := sessions.DeleteExpired(ctx); err != nil {
			logger.WithError(err).Warn("session sweep failed")
		} else if n > 0 {
			logger.WithField("count", n).Info("deleted expired sessions")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule session sweep")
		os.Exit(1)
	}
	if _, err := sweeper.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := limiter.DeleteOlderThan(ctx, loginAttemptRetention); err != nil {
			logger.WithError(err).Warn("login attempt sweep failed")
		} else if n > 0 {
			logger.WithField("count", n).Info("pruned old login attempts")
		}
	}); err != nil {
		logger.WithError(err).Error("failed to schedule login attempt sweep")
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	logger.Info("server stopped")
}
