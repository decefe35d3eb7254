package db

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sitecraft/builder-service/internal/config"
)

// Tables lists the service tables in creation order.
var Tables = []string{"websites", "pages", "plugins", "domains", "provision_tasks", "activity_logs"}

type Database struct {
	Pool   *pgxpool.Pool
	Schema string
}

func New(ctx context.Context, cfg *config.Config) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5

	// search_path is set per connection so every pooled conn resolves the
	// unqualified table names to the service schema.
	schema := cfg.Database.Schema
	poolConfig.ConnConfig.RuntimeParams["search_path"] = schema + ", public"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Printf("[db] Connected to PostgreSQL: %s/%s (schema: %s)",
		cfg.Database.Host, cfg.Database.DBName, schema)

	return &Database{
		Pool:   pool,
		Schema: schema,
	}, nil
}

func (d *Database) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// Migrate creates the schema and tables if they do not exist.
func (d *Database) Migrate(ctx context.Context) error {
	ident := pgx.Identifier{d.Schema}.Sanitize()
	if _, err := d.Pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	log.Printf("[db] Schema %s is up to date", d.Schema)
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS websites (
	id            UUID PRIMARY KEY,
	user_id       TEXT NOT NULL,
	name          TEXT NOT NULL,
	template_id   TEXT NOT NULL DEFAULT 'blank',
	status        TEXT NOT NULL DEFAULT 'DRAFT',
	customization JSONB NOT NULL DEFAULT '{}'::jsonb,
	analytics     JSONB,
	published_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS websites_user_id_idx ON websites (user_id);

CREATE TABLE IF NOT EXISTS pages (
	id           UUID PRIMARY KEY,
	website_id   UUID NOT NULL REFERENCES websites (id) ON DELETE CASCADE,
	title        TEXT NOT NULL,
	slug         TEXT NOT NULL,
	published    BOOLEAN NOT NULL DEFAULT FALSE,
	published_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT pages_website_slug_key UNIQUE (website_id, slug)
);

CREATE TABLE IF NOT EXISTS plugins (
	id         UUID PRIMARY KEY,
	website_id UUID NOT NULL REFERENCES websites (id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS domains (
	id             UUID PRIMARY KEY,
	website_id     UUID NOT NULL REFERENCES websites (id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'PENDING',
	ssl_enabled    BOOLEAN NOT NULL DEFAULT FALSE,
	failure_reason TEXT,
	activated_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT domains_name_key UNIQUE (name),
	CONSTRAINT domains_website_id_key UNIQUE (website_id)
);

CREATE TABLE IF NOT EXISTS provision_tasks (
	id           UUID PRIMARY KEY,
	kind         TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	run_at       TIMESTAMPTZ NOT NULL,
	locked_until TIMESTAMPTZ,
	last_error   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS provision_tasks_due_idx ON provision_tasks (status, run_at);

CREATE TABLE IF NOT EXISTS activity_logs (
	id         UUID PRIMARY KEY,
	subject_id TEXT NOT NULL,
	action     TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS activity_logs_subject_idx ON activity_logs (subject_id, created_at DESC);
`
