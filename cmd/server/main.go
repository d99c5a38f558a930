package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"newsletter/internal/email"
	newsletterservice "newsletter/internal/newsletter/service"
	"newsletter/internal/platform/config"
	"newsletter/internal/platform/httpserver"
	"newsletter/internal/platform/logger"
	"newsletter/internal/platform/metrics"
	"newsletter/internal/platform/postgres"
	"newsletter/internal/platform/tracing"
	publisherservice "newsletter/internal/publisher/service"
	publisherstore "newsletter/internal/publisher/store"
	subscriptionservice "newsletter/internal/subscription/service"
	subscriptionstore "newsletter/internal/subscription/store"
	httptransport "newsletter/internal/transport/http"
	auditpublisher "newsletter/pkg/platform/audit/publisher"
	auditpostgres "newsletter/pkg/platform/audit/store/postgres"
)

const (
	serviceName     = "newsletter"
	shutdownTimeout = 10 * time.Second
	auditBufferSize = 1024
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

// run wires dependencies and blocks until the server stops. Business logic
// lives in the internal service packages.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err.Error())
		}
	}()

	db, err := postgres.Open(ctx, cfg.Database())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	sender, err := email.NewSender(cfg.Email())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, serviceName),
	)
	m := metrics.New(registry)

	auditor := auditpublisher.NewPublisher(auditpostgres.New(db),
		auditpublisher.WithLogger(log),
		auditpublisher.WithAsyncBuffer(auditBufferSize),
	)
	defer auditor.Close()

	subscriptions, err := subscriptionservice.New(
		newSubscriptionPostgresTx(db, cfg.TxTimeout),
		sender,
		cfg.AppBaseURL,
		subscriptionservice.WithLogger(log),
		subscriptionservice.WithMetrics(m),
		subscriptionservice.WithAuditor(auditor),
	)
	if err != nil {
		return err
	}

	newsletters, err := newsletterservice.New(
		subscriptionstore.NewPostgres(db),
		sender,
		newsletterservice.WithLogger(log),
		newsletterservice.WithMetrics(m),
		newsletterservice.WithAuditor(auditor),
		newsletterservice.WithConcurrency(cfg.FanoutConcurrency),
	)
	if err != nil {
		return err
	}

	publishers, err := publisherservice.New(publisherstore.NewPostgres(db),
		publisherservice.WithLogger(log),
		publisherservice.WithAuditor(auditor),
	)
	if err != nil {
		return err
	}
	if cfg.PublisherUsername != "" {
		if err := publishers.EnsurePublisher(ctx, cfg.PublisherUsername, cfg.PublisherPassword); err != nil {
			return err
		}
		log.Info("publisher account ready", "username", cfg.PublisherUsername)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:        log,
		Metrics:       m,
		Gatherer:      registry,
		Subscriptions: subscriptions,
		Newsletters:   newsletters,
		Publishers:    publishers,
	})
	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting newsletter service", "addr", cfg.Addr, "email_transport", cfg.EmailTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
