package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/docupipe/contractscan/internal/config"
)

// Open connects to the configured database and returns the handle plus
// a statement builder carrying the driver's placeholder format.
func Open(cfg config.DatabaseConfig) (*sql.DB, sq.StatementBuilderType, error) {
	var (
		driverName  string
		placeholder sq.PlaceholderFormat
	)
	switch cfg.Driver {
	case "sqlite":
		driverName = "sqlite"
		placeholder = sq.Question
	case "postgres":
		driverName = "pgx"
		placeholder = sq.Dollar
	default:
		return nil, sq.StatementBuilderType{}, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, sq.StatementBuilderType{}, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
	return db, sq.StatementBuilder.PlaceholderFormat(placeholder), nil
}

// ddl creates the schema. IF NOT EXISTS keeps startup idempotent across
// both drivers.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id              TEXT PRIMARY KEY,
		content_hash    TEXT NOT NULL UNIQUE,
		file_path       TEXT NOT NULL,
		file_name       TEXT NOT NULL,
		status          TEXT NOT NULL,
		quality_score   INTEGER NOT NULL DEFAULT 0,
		strategy        TEXT NOT NULL DEFAULT '',
		text_source     TEXT NOT NULL DEFAULT '',
		corruption      TEXT NOT NULL DEFAULT '',
		confidence      REAL NOT NULL DEFAULT 0,
		needs_review    BOOLEAN NOT NULL DEFAULT FALSE,
		review_reasons  TEXT NOT NULL DEFAULT '',
		fields_json     TEXT NOT NULL DEFAULT '{}',
		prompt_variant  TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		processed_at    TIMESTAMP,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)`,
	`CREATE TABLE IF NOT EXISTS corrections (
		id                TEXT PRIMARY KEY,
		document_id       TEXT NOT NULL,
		field_name        TEXT NOT NULL,
		original_value    TEXT NOT NULL,
		corrected_value   TEXT NOT NULL,
		pattern           TEXT NOT NULL,
		corrected_by      TEXT NOT NULL DEFAULT '',
		correction_reason TEXT NOT NULL DEFAULT '',
		confidence_before REAL NOT NULL DEFAULT 0,
		created_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_corrections_field ON corrections (field_name, created_at)`,
	`CREATE TABLE IF NOT EXISTS extraction_patterns (
		id            TEXT PRIMARY KEY,
		field_name    TEXT NOT NULL,
		pattern       TEXT NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		last_seen     TIMESTAMP NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_field_pattern ON extraction_patterns (field_name, pattern)`,
	`CREATE TABLE IF NOT EXISTS variant_stats (
		variant         TEXT NOT NULL,
		document_id     TEXT NOT NULL,
		confidence      REAL NOT NULL,
		needs_review    BOOLEAN NOT NULL,
		corrected       BOOLEAN NOT NULL DEFAULT FALSE,
		failed          BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMP NOT NULL,
		PRIMARY KEY (variant, document_id)
	)`,
}

// Bootstrap applies the schema.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
