package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"OminisNode/internal/config"
	"OminisNode/internal/db"
	"OminisNode/internal/logger"
)

func main() {
	log := logger.New("migrate")
	if err := run(context.Background(), log); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}
}

// run applies every migrations/*.sql file not yet recorded in
// schema_migrations, in file-name order.
func run(ctx context.Context, log *logger.Logger) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if cfg.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}

	pool, err := db.Connect(ctx, db.Options{DSN: cfg.DB.DSN, MaxConns: cfg.DB.MaxConns})
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if err := ensureSchemaTable(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema table: %w", err)
	}

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	files, err := listSQLFiles(dir)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, file := range files {
		name := filepath.Base(file)
		applied, err := isApplied(ctx, pool, name)
		if err != nil {
			return fmt.Errorf("check %s: %w", name, err)
		}
		if applied {
			log.Debug("already applied", "file", name)
			continue
		}
		if err := applyMigration(ctx, pool, file, name); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		log.Info("applied", "file", name)
	}
	return nil
}

func ensureSchemaTable(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	return err
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".sql") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isApplied(ctx context.Context, pool *db.Pool, file string) (bool, error) {
	var exists bool
	row := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, file)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// applyMigration runs the file and records it in one transaction.
func applyMigration(ctx context.Context, pool *db.Pool, file, name string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if strings.TrimSpace(string(data)) != "" {
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
