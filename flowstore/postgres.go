package flowstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/model"
	"github.com/c360/flowcanvas/scheduler"
)

// DB is the query surface PostgresStore uses. *pgxpool.Pool satisfies it
// in production and pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS flow_documents (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    version    BIGINT NOT NULL,
    body       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flow_documents_updated_at ON flow_documents(updated_at);
`

const defaultQueryTimeout = 5 * time.Second

// PoolConfig holds connection pool settings
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns pool settings for dsn
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		MaxConns:        10,
		MinConns:        1,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// OpenPool connects a pool and pings it
func OpenPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.WrapInvalid(err, "flowstore", "OpenPool", "parse dsn")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "OpenPool", "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "flowstore", "OpenPool", "ping database")
	}
	return pool, nil
}

// PostgresStore keeps each document as a JSONB row. The version column
// guards updates: the UPDATE only matches the row at the expected version.
type PostgresStore struct {
	db      DB
	clock   scheduler.Clock
	logger  *slog.Logger
	timeout time.Duration
}

// NewPostgresStore returns a store over db
func NewPostgresStore(db DB, clock scheduler.Clock, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:      db,
		clock:   scheduler.OrReal(clock),
		logger:  logger.With("component", "flowstore", "backend", "postgres"),
		timeout: defaultQueryTimeout,
	}
}

// CreateSchema creates the documents table if it does not exist
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return errors.WrapTransient(err, "flowstore", "CreateSchema", "create table")
	}
	return nil
}

// DropSchema drops the documents table
func (s *PostgresStore) DropSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS flow_documents`); err != nil {
		return errors.WrapTransient(err, "flowstore", "DropSchema", "drop table")
	}
	return nil
}

// Create inserts a new document; an existing id is a conflict
func (s *PostgresStore) Create(ctx context.Context, doc *model.Document) error {
	if err := prepareCreate("Create", doc, s.clock.Now()); err != nil {
		return err
	}
	body, err := encode("Create", doc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
        INSERT INTO flow_documents (id, name, version, body, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING`,
		doc.ID, doc.Name, doc.Version, body, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return errors.WrapTransient(err, "flowstore", "Create", "insert document")
	}
	if tag.RowsAffected() == 0 {
		return errors.WrapInvalid(errors.Newf(errors.ErrConflict, "document %s already exists", doc.ID),
			"flowstore", "Create", "insert document")
	}
	s.logger.Debug("document created", "document_id", doc.ID)
	return nil
}

// Get returns the stored document
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Document, error) {
	if err := checkID("Get", id); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.get(ctx, "Get", id)
}

func (s *PostgresStore) get(ctx context.Context, op, id string) (*model.Document, error) {
	var body []byte
	err := s.db.QueryRow(ctx, `SELECT body FROM flow_documents WHERE id = $1`, id).Scan(&body)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op, id)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", op, "select document")
	}
	return decodeStored(op, body)
}

// Update replaces the document if doc.Version matches the stored version
func (s *PostgresStore) Update(ctx context.Context, doc *model.Document) error {
	if err := checkDoc("Update", doc); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	current, err := s.get(ctx, "Update", doc.ID)
	if err != nil {
		return err
	}
	next := *doc
	if err := prepareUpdate("Update", &next, current, s.clock.Now()); err != nil {
		return err
	}
	body, err := encode("Update", &next)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
        UPDATE flow_documents
        SET name = $3, version = $4, body = $5, updated_at = $6
        WHERE id = $1 AND version = $2`,
		next.ID, current.Version, next.Name, next.Version, body, next.UpdatedAt)
	if err != nil {
		return errors.WrapTransient(err, "flowstore", "Update", "update document")
	}
	if tag.RowsAffected() == 0 {
		return errors.WrapInvalid(errors.Newf(errors.ErrConflict, "document %s changed concurrently", doc.ID),
			"flowstore", "Update", "update document")
	}
	*doc = next
	s.logger.Debug("document updated", "document_id", doc.ID, "version", doc.Version)
	return nil
}

// Delete removes the document
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := checkID("Delete", id); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, `DELETE FROM flow_documents WHERE id = $1`, id)
	if err != nil {
		return errors.WrapTransient(err, "flowstore", "Delete", "delete document")
	}
	if tag.RowsAffected() == 0 {
		return notFound("Delete", id)
	}
	s.logger.Debug("document deleted", "document_id", id)
	return nil
}

// List returns every document ordered by id
func (s *PostgresStore) List(ctx context.Context) ([]*model.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `SELECT body FROM flow_documents ORDER BY id`)
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "List", "select documents")
	}
	defer rows.Close()

	docs := make([]*model.Document, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, errors.WrapTransient(err, "flowstore", "List", "scan document")
		}
		doc, err := decodeStored("List", body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "List", "iterate documents")
	}
	return docs, nil
}
