package migrate

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Merkirus/cloud-raporting/db"
)

func TestNewAcceptsEmbeddedMigrations(t *testing.T) {
	runner, err := New(&pgxpool.Pool{}, "postgres://localhost/raporting", db.Migrations, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if runner.dsn == "" {
		t.Fatal("runner lost its dsn")
	}
}

func TestNewRejectsMissingInputs(t *testing.T) {
	if _, err := New(nil, "postgres://localhost/raporting", db.Migrations, nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
	if _, err := New(&pgxpool.Pool{}, "", db.Migrations, nil); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	if _, err := New(&pgxpool.Pool{}, "postgres://localhost/raporting", fstest.MapFS{}, nil); err == nil {
		t.Fatal("expected error for a filesystem without migrations")
	}
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	names, err := fs.Glob(db.Migrations, migrationsRoot+"/*.sql")
	if err != nil {
		t.Fatalf("glob embedded migrations: %v", err)
	}
	if len(names) < 2 {
		t.Fatalf("expected the core and aggregate migrations, got %v", names)
	}
	for _, name := range names {
		body, err := fs.ReadFile(db.Migrations, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(body), "-- +goose Up") || !strings.Contains(string(body), "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", name)
		}
	}
}
