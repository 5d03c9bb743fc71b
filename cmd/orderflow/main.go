package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/orderflow/backend/internal/ai"
	"github.com/orderflow/backend/internal/api"
	"github.com/orderflow/backend/internal/api/middleware"
	"github.com/orderflow/backend/internal/auth"
	"github.com/orderflow/backend/internal/config"
	"github.com/orderflow/backend/internal/core"
	"github.com/orderflow/backend/internal/db"
	"github.com/orderflow/backend/internal/email"
	"github.com/orderflow/backend/internal/logging"
	"github.com/orderflow/backend/internal/orderjobs"
	"github.com/orderflow/backend/internal/orders"
	"github.com/orderflow/backend/internal/store"
	"github.com/orderflow/backend/internal/webhook"
)

func main() {
	configPath := flag.String("config", os.Getenv("ORDERFLOW_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("orderflow exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(db.Config{Driver: cfg.Database.Driver, Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	jobs, err := store.Open(ctx, cfg.Queue, sqlDB, logger)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobs.Close()

	registry := core.NewRegistry()
	if err := orderjobs.Register(registry, cfg.Worker.HandlerDelay, logger); err != nil {
		return err
	}

	workerOpts := []core.WorkerOption{
		core.WithWorkerLogger(logger),
		core.WithPollInterval(cfg.Worker.PollInterval),
		core.WithStaleReclaim(cfg.Worker.StaleAfter, cfg.Worker.ReclaimInterval),
	}
	if len(cfg.Webhooks) > 0 {
		sender := webhook.NewSender(webhookEndpoints(cfg.Webhooks), webhook.Config{}, logger)
		sender.Start()
		defer sender.Stop()
		workerOpts = append(workerOpts, core.WithNotifier(sender))
	}
	worker := core.NewWorker(jobs, registry, workerOpts...)

	repos := db.NewRepositories(sqlDB)
	mailer := email.NewClient(email.Config{
		APIKey:  cfg.Email.ResendAPIKey,
		From:    cfg.Email.From,
		BaseURL: cfg.Email.BaseURL,
		Timeout: cfg.Email.Timeout,
	}, logger)
	summarizer := ai.NewOpenAIClient(ai.Config{
		APIKey:  cfg.AI.OpenAIAPIKey,
		Model:   cfg.AI.Model,
		BaseURL: cfg.AI.BaseURL,
		Timeout: cfg.AI.Timeout,
	}, logger)

	signer := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService := auth.NewService(repos, signer, auth.Config{
		VerifyURL: cfg.Auth.VerifyURL,
		LinkTTL:   cfg.Auth.MagicLinkTTL,
		Secret:    cfg.Auth.JWTSecret,
	}, auth.WithMailer(mailer), auth.WithLogger(logger))
	orderService := orders.NewService(repos, mailer, summarizer, core.NewEnqueuer(jobs, logger), logger)

	gin.SetMode(gin.ReleaseMode)
	if len(cfg.Auth.OperatorEmails) == 0 {
		logger.Warn("no operator emails configured, /jobs routes are closed")
	}
	router := api.NewRouter(api.Deps{
		DB:              sqlDB,
		Auth:            authService,
		Orders:          orderService,
		Jobs:            jobs,
		Logger:          logger,
		Limiter:         middleware.NewIPRateLimiter(cfg.Auth.MagicLinkRate, cfg.Auth.MagicLinkBurst),
		Origins:         cfg.Server.AllowedOrigins,
		SecureCookies:   cfg.Server.SecureCookies,
		Operators:       cfg.Auth.OperatorEmails,
		ExposeMagicLink: cfg.Auth.ExposeMagicLink || !mailer.IsConfigured(),
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			slog.Int("port", cfg.Server.Port),
			slog.String("queue_backend", cfg.Queue.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		worker.Start(gctx)
		<-gctx.Done()
		worker.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("orderflow stopped")
	return err
}

func webhookEndpoints(cfgs []config.WebhookConfig) []webhook.Endpoint {
	endpoints := make([]webhook.Endpoint, 0, len(cfgs))
	for _, c := range cfgs {
		events := make([]webhook.Event, 0, len(c.Events))
		for _, e := range c.Events {
			events = append(events, webhook.Event(e))
		}
		endpoints = append(endpoints, webhook.Endpoint{URL: c.URL, Secret: c.Secret, Events: events})
	}
	return endpoints
}
