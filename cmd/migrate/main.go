// migrate applies the SQL files under -dir in filename order. Each file runs
// in its own transaction and is recorded with its checksum; a file that was
// changed after being applied stops the run.
//
// Usage: go run ./cmd/migrate [-dir migrations]
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"backoffice/internal/config"
	"backoffice/internal/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const migrateLockID = 7462839

var log *logrus.Entry

func main() {
	dir := flag.String("dir", "migrations", "directory holding NNN_description.sql files")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log = logging.New(cfg.LogLevel).WithField("module", "Migrate")

	ctx := context.Background()
	pool := connectDB(ctx, cfg.DatabaseURL)
	defer pool.Close()

	conn := acquireLock(ctx, pool)
	defer conn.Release()

	setupSchemaMigrations(ctx, pool)

	for _, filename := range discoverMigrations(*dir) {
		applyMigration(ctx, pool, *dir, filename)
	}
	reportTables(ctx, pool)

	log.Info("all migrations processed")
}

func connectDB(ctx context.Context, url string) *pgxpool.Pool {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}
	log.Info("connected")
	return pool
}

func acquireLock(ctx context.Context, pool *pgxpool.Pool) *pgxpool.Conn {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		log.Fatalf("failed to acquire connection for lock: %v", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migrateLockID).Scan(&locked); err != nil {
		log.Fatalf("failed to query advisory lock: %v", err)
	}
	if !locked {
		log.Fatal("another migrator is currently running")
	}
	return conn
}

func setupSchemaMigrations(ctx context.Context, pool *pgxpool.Pool) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		log.Fatalf("failed to create schema_migrations table: %v", err)
	}
}

func discoverMigrations(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("failed to read migrations directory: %v", err)
	}

	var filenames []string
	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := extractVersion(entry.Name())
		if seen[version] {
			log.Fatalf("duplicate migration version: %s", version)
		}
		seen[version] = true
		filenames = append(filenames, entry.Name())
	}

	sort.Strings(filenames)
	return filenames
}

func extractVersion(filename string) string {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) < 2 {
		log.Fatalf("invalid migration filename %s, expected NNN_description.sql", filename)
	}
	return parts[0]
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, dir, filename string) {
	entry := log.WithField("file", filename)
	version := extractVersion(filename)

	sqlBytes, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		entry.Fatalf("failed to read migration: %v", err)
	}
	sum := sha256.Sum256(sqlBytes)
	checksum := hex.EncodeToString(sum[:])

	var existing string
	err = pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", version).Scan(&existing)
	switch {
	case err == nil && existing == checksum:
		entry.Info("already applied")
		return
	case err == nil:
		entry.Fatalf("checksum mismatch: recorded %s, file %s", existing, checksum)
	case !errors.Is(err, pgx.ErrNoRows):
		entry.Fatalf("failed to query schema_migrations: %v", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		entry.Fatalf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
		entry.Fatalf("failed to execute migration: %v", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		version, filename, checksum,
	); err != nil {
		entry.Fatalf("failed to record migration: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		entry.Fatalf("failed to commit migration: %v", err)
	}
	entry.Info("applied")
}

// reportTables logs the public tables present after migrating.
func reportTables(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' ORDER BY table_name`)
	if err != nil {
		log.WithError(err).Warn("failed to list tables")
		return
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		log.WithError(err).Warn("failed to list tables")
		return
	}
	log.WithField("tables", tables).Info("schema ready")
}
