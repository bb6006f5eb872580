// Command migrator applies the SQL migrations in MIGRATIONS_DIR to the
// database at DATABASE_URL. Applied files are tracked by name in a
// schema_migrations table, so reruns are safe.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "/migrations"
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Migrations are multi-statement files; the simple protocol runs them
	// in one Exec.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	cfg.ConnConfig.RuntimeParams["application_name"] = "certtrack-migrator"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            name TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := pendingFirst(migrationsDir)
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range names {
		done, err := apply(ctx, pool, migrationsDir, name)
		if err != nil {
			return err
		}
		if done {
			applied++
		}
	}

	log.Printf("migrations complete (applied=%d of %d)", applied, len(names))
	return nil
}

// pendingFirst lists *.up.sql files in lexical order, which doubles as
// application order given the numeric prefix convention.
func pendingFirst(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, dir, name string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", name, err)
	}
	if exists {
		log.Printf("skip %s (already applied)", name)
		return false, nil
	}

	contents, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}

	start := time.Now()
	if _, err := pool.Exec(ctx, string(contents)); err != nil {
		return false, fmt.Errorf("execute %s: %w", name, err)
	}

	_, err = pool.Exec(ctx,
		"INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING", name)
	if err != nil {
		return false, fmt.Errorf("mark applied %s: %w", name, err)
	}

	log.Printf("applied %s in %s", name, time.Since(start).Round(time.Millisecond))
	return true, nil
}
