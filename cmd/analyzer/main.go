package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Merkirus/cloud-raporting/db"
	"github.com/Merkirus/cloud-raporting/internal/app/migrate"
	"github.com/Merkirus/cloud-raporting/internal/config"
	httpx "github.com/Merkirus/cloud-raporting/internal/http"
	"github.com/Merkirus/cloud-raporting/internal/logger"
	"github.com/Merkirus/cloud-raporting/internal/repository/postgres"
	"github.com/Merkirus/cloud-raporting/internal/service/aggregate"
	"github.com/Merkirus/cloud-raporting/internal/service/analysis"
	"github.com/Merkirus/cloud-raporting/internal/service/ingest"
	"github.com/Merkirus/cloud-raporting/internal/service/report"
	"github.com/Merkirus/cloud-raporting/internal/service/sessions"
	"github.com/Merkirus/cloud-raporting/internal/transport/rabbit"
)

func main() {
	cfg := config.LoadAnalyzerConfig()
	log := logger.New("analyzer", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, db.Migrations, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	broker, err := rabbit.Dial(rabbit.Config{
		URL:        cfg.RabbitURL,
		Exchange:   cfg.SummaryExchange,
		StartQueue: cfg.SummaryQueue,
		StartKey:   cfg.SummaryKey,
		DoneQueue:  cfg.DoneQueue,
		DoneKey:    cfg.DoneKey,
		RawQueue:   cfg.RawQueue,
	}, log)
	if err != nil {
		log.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	control, err := broker.StartSource()
	if err != nil {
		log.Error("failed to consume control queue", "error", err)
		os.Exit(1)
	}
	data, err := broker.RawSource()
	if err != nil {
		log.Error("failed to consume data queue", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	sink := ingest.NewSink(repo, log)
	materializer := sessions.New(repo, log)
	engine := aggregate.New(repo, repo, log)
	exporter, err := report.New(repo, repo, cfg.ReportsDir, log)
	if err != nil {
		log.Error("failed to configure report exporter", "error", err)
		os.Exit(1)
	}

	metrics := analysis.NewMetrics()
	collector := analysis.NewCollector(control, data, sink, materializer, engine, exporter, broker, metrics, log, cfg.AnalysisTimeout, cfg.BucketSeconds)

	router := httpx.New(log, map[string]httpx.HealthCheck{
		"database": runner.Ping,
		"broker":   func(context.Context) error { return broker.Healthy() },
	})
	srv := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("ops server starting", "addr", cfg.OpsAddr)
		serverErr <- srv.ListenAndServe()
	}()

	collectorErr := make(chan error, 1)
	go func() {
		collectorErr <- collector.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server error", "error", err)
		}
	case err := <-collectorErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("collector error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("analyzer stopped")
}
