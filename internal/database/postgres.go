// Package database provides the durable PostgreSQL store backing the rule
// catalog and the execution audit log.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// Postgres represents a PostgreSQL connection
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL connection
func NewPostgres(cfg Config) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the necessary database tables
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rules (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			type VARCHAR(32) NOT NULL,
			params JSONB NOT NULL DEFAULT '{}',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			priority INTEGER NOT NULL DEFAULT 0,
			critical BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT,
			created_by VARCHAR(255),
			execution_count BIGINT NOT NULL DEFAULT 0,
			match_count BIGINT NOT NULL DEFAULT 0,
			avg_execution_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_executed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_enabled_priority
			ON rules (enabled, priority DESC)`,
		`CREATE TABLE IF NOT EXISTS rule_executions (
			id UUID PRIMARY KEY,
			rule_id UUID NOT NULL,
			transaction_id VARCHAR(255) NOT NULL,
			correlation_id VARCHAR(255),
			matched BOOLEAN NOT NULL,
			confidence_score DOUBLE PRECISION,
			execution_time_ms DOUBLE PRECISION NOT NULL,
			context JSONB,
			error_message TEXT,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (rule_id) REFERENCES rules(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rule_executions_rule_time
			ON rule_executions (rule_id, executed_at DESC)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}

// ExecContext runs a statement against the underlying pool.
func (p *Postgres) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query against the underlying pool.
func (p *Postgres) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query against the underlying pool.
func (p *Postgres) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}
