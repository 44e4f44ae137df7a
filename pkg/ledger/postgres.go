package ledger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS model_versions (
	bucket      TEXT        NOT NULL,
	name        TEXT        NOT NULL,
	version     TEXT        NOT NULL,
	digest      TEXT        NOT NULL DEFAULT '',
	size        BIGINT      NOT NULL DEFAULT 0,
	object_key  TEXT        NOT NULL DEFAULT '',
	metadata    JSONB       NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (bucket, name, version)
)`

var _ Ledger = &PostgresLedger{}

type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(ctx context.Context, dsn string) (*PostgresLedger, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect ledger database: %w", err)
	}
	l := &PostgresLedger{pool: pool}
	if err := l.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create model_versions: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Versions(ctx context.Context, bucket, name string) ([]string, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT version FROM model_versions WHERE bucket = $1 AND name = $2 ORDER BY created_at`,
		bucket, name)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (l *PostgresLedger) Register(ctx context.Context, bucket, name string, entry Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if entry.Metadata == nil {
		metadata = []byte("{}")
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO model_versions
			(bucket, name, version, digest, size, object_key, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		bucket, name, entry.Version, entry.Digest.String(), entry.Size, entry.ObjectKey, metadata, created,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrVersionExists
		}
		return fmt.Errorf("register version: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Close() {
	l.pool.Close()
}
