package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Merkirus/cloud-raporting/db"
	"github.com/Merkirus/cloud-raporting/internal/app/migrate"
	"github.com/Merkirus/cloud-raporting/internal/config"
	"github.com/Merkirus/cloud-raporting/internal/domain"
	"github.com/Merkirus/cloud-raporting/internal/logger"
	"github.com/Merkirus/cloud-raporting/internal/repository/postgres"
	"github.com/Merkirus/cloud-raporting/internal/service/aggregate"
	"github.com/Merkirus/cloud-raporting/internal/service/ingest"
	"github.com/Merkirus/cloud-raporting/internal/service/report"
	"github.com/Merkirus/cloud-raporting/internal/service/sessions"
)

// ingest runs the one-shot local pipeline: it reads a JSON array of
// measurement DTOs from a file, persists them, materializes one session
// where a job's depth equals its record count, recomputes aggregates for
// every stored session, and renders the report for the new one.
func main() {
	cfg := config.LoadIngestConfig()
	log := logger.New("ingest", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	payload, err := os.ReadFile(cfg.InputJSON)
	if err != nil {
		log.Error("failed to read input file", "path", cfg.InputJSON, "error", err)
		os.Exit(1)
	}
	results, err := ingest.DecodeBatch(payload)
	if err != nil {
		log.Error("input file is not a valid measurement batch", "path", cfg.InputJSON, "error", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		log.Error("input file holds no measurements", "path", cfg.InputJSON)
		os.Exit(1)
	}

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
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	sink := ingest.NewSink(repo, log)
	stored, err := sink.Store(ctx, results)
	if err != nil {
		log.Error("failed to persist measurements", "stored", stored, "error", err)
		os.Exit(1)
	}
	log.Info("raw results stored", "count", stored)

	// File ingest treats every record as its own delivery: a job's depth is
	// simply how many records carry its id.
	depths := make(map[int64]int)
	for _, result := range results {
		depths[result.JobID]++
	}

	materializer := sessions.New(repo, log)
	session, err := materializer.Create(ctx, cfg.SessionDesc, cfg.SessionDepth, depths, domain.SessionStatusDone)
	if err != nil {
		log.Error("failed to materialize session", "error", err)
		os.Exit(1)
	}
	log.Info("session created", "session_id", session.ID, "jobs", len(depths))

	engine := aggregate.New(repo, repo, log)
	attempted, failed, err := engine.RecomputeAll(ctx, cfg.BucketSeconds)
	if err != nil {
		log.Error("failed to recompute aggregates", "error", err)
		os.Exit(1)
	}
	log.Info("aggregates recomputed", "sessions", attempted, "failed", failed)

	exporter, err := report.New(repo, repo, cfg.ReportsDir, log)
	if err != nil {
		log.Error("failed to configure report exporter", "error", err)
		os.Exit(1)
	}
	filename, body, err := exporter.Generate(ctx, session.ID, cfg.BucketSeconds)
	if err != nil {
		log.Error("failed to render report", "session_id", session.ID, "error", err)
		os.Exit(1)
	}
	log.Info("report generated", "filename", filename, "size_bytes", len(body))
}
