package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/docsift/docsift/internal/config"
)

// Common errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrEmptyUpdate   = errors.New("empty update")
	ErrNotClaimable  = errors.New("document not claimable")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Open opens a database connection for the configured driver.
func Open(cfg config.StoreConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		journal := cfg.SQLite.JournalMode
		if journal == "" {
			journal = "WAL"
		}
		dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_foreign_keys=on", cfg.SQLite.Path, journal)
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if cfg.SQLite.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.SQLite.MaxOpenConns)
		}
		return db, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		original_filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL UNIQUE,
		storage_type TEXT NOT NULL DEFAULT 'local',
		status TEXT NOT NULL DEFAULT 'uploaded',
		error_message TEXT,
		processed_at TIMESTAMP,
		number_of_chunks INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_text TEXT NOT NULL,
		sequence_in_document INTEGER NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (source_document_id, sequence_in_document)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_source_document ON chunks (source_document_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		original_filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL UNIQUE,
		storage_type TEXT NOT NULL DEFAULT 'local',
		status TEXT NOT NULL DEFAULT 'uploaded',
		error_message TEXT,
		processed_at TIMESTAMPTZ,
		number_of_chunks INTEGER,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id BIGSERIAL PRIMARY KEY,
		source_document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_text TEXT NOT NULL,
		sequence_in_document INTEGER NOT NULL,
		metadata TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (source_document_id, sequence_in_document)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_source_document ON chunks (source_document_id)`,
}

// EnsureSchema creates the documents and chunks tables if they do not exist.
func EnsureSchema(ctx context.Context, db DB, driver string) error {
	var stmts []string
	switch driver {
	case "sqlite", "sqlite3", "":
		stmts = sqliteSchema
	case "postgres":
		stmts = postgresSchema
	default:
		return fmt.Errorf("unsupported database driver: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation
// from either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

// Repositories bundles all repositories together.
type Repositories struct {
	Documents *DocumentRepository
	Chunks    *ChunkRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Documents: NewDocumentRepository(db),
		Chunks:    NewChunkRepository(db),
	}
}
