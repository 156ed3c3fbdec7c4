package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

const pgSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		version    BIGINT NOT NULL DEFAULT 1,
		seq        BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_order ON documents (collection, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops);
`

// Migrate creates the documents table.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return classifyPgError(fmt.Errorf("migrate documents: %w", err))
	}
	return nil
}

// NewPostgres stores documents in a single jsonb table. Creation time and
// commit sequence come from the database clock and a sequence.
func NewPostgres(pool *pgxpool.Pool, feed Feed, log logger.Logger) *DocStore {
	return newDocStore(&pgBackend{db: pool, log: log}, feed, log)
}

type pgBackend struct {
	db  *pgxpool.Pool
	log logger.Logger
}

type pgDialect struct{}

func (pgDialect) param(n int) string { return "$" + strconv.Itoa(n) }

func (pgDialect) fieldExpr(field string) string { return "data -> '" + field + "'" }

func (d pgDialect) bindValue(args *[]interface{}, v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: filter value: %v", apperrors.ErrValidation, err)
	}
	return bindRaw(d, args, string(raw)) + "::jsonb", nil
}

func (b *pgBackend) query(ctx context.Context, q Query) ([]*Document, error) {
	sql, args, err := buildSelect(pgDialect{}, q)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.Query(ctx, sql, args...)
	if err != nil {
		b.log.Error("Failed to query documents", "error", err, "collection", q.Collection)
		return nil, classifyPgError(err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		d, err := scanPgDocument(rows)
		if err != nil {
			return nil, classifyPgError(err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err)
	}
	return docs, nil
}

func (b *pgBackend) getByID(ctx context.Context, collection, id string) (*Document, error) {
	row := b.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)

	d, err := scanPgDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, collection, id)
		}
		return nil, classifyPgError(err)
	}
	return d, nil
}

func (b *pgBackend) commit(ctx context.Context, writes []Write) ([]*Document, error) {
	results := make([]*Document, len(writes))

	err := pgx.BeginFunc(ctx, b.db, func(tx pgx.Tx) error {
		for i, w := range writes {
			doc, err := b.apply(ctx, tx, w)
			if err != nil {
				return err
			}
			results[i] = doc
		}
		return nil
	})
	if err != nil {
		b.log.Error("Failed to commit documents", "error", err, "writes", len(writes))
		return nil, classifyPgError(err)
	}
	return results, nil
}

func (b *pgBackend) apply(ctx context.Context, tx pgx.Tx, w Write) (*Document, error) {
	data, err := normalizeData(w.Data)
	if err != nil {
		return nil, err
	}

	switch w.Kind {
	case WriteCreate:
		row := tx.QueryRow(ctx, `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, $3)
			RETURNING `+selectColumns,
			w.Collection, w.ID, data)
		return scanPgDocument(row)

	case WriteSet:
		row := tx.QueryRow(ctx, `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (collection, id) DO UPDATE
			SET data = EXCLUDED.data,
			    version = documents.version + 1,
			    updated_at = clock_timestamp()
			RETURNING `+selectColumns,
			w.Collection, w.ID, data)
		return scanPgDocument(row)

	case WriteUpdate:
		row := tx.QueryRow(ctx, `
			UPDATE documents
			SET data = data || $3,
			    version = version + 1,
			    updated_at = clock_timestamp()
			WHERE collection = $1 AND id = $2
			RETURNING `+selectColumns,
			w.Collection, w.ID, data)
		doc, err := scanPgDocument(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, w.Collection, w.ID)
		}
		return doc, err

	case WriteDelete:
		_, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, w.Collection, w.ID)
		return nil, err
	}
	return nil, fmt.Errorf("%w: unknown write kind %q", apperrors.ErrValidation, w.Kind)
}

func (b *pgBackend) ping(ctx context.Context) error {
	if err := b.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}
	return nil
}

// close leaves the pool to its owner.
func (b *pgBackend) close() error {
	return nil
}

func scanPgDocument(row pgx.Row) (*Document, error) {
	d := &Document{}
	if err := row.Scan(&d.ID, &d.Collection, &d.Data, &d.Version, &d.Seq, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if d.Data == nil {
		d.Data = map[string]interface{}{}
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

// classifyPgError maps driver failures onto the error taxonomy. Anything that
// is not a server-side rejection means the outcome could not be confirmed.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.KindOf(err) != apperrors.KindInternal {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", apperrors.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", apperrors.ErrConflict, pgErr.ConstraintName)
		case "57P01", "57P02", "57P03", "53300":
			return fmt.Errorf("%w: %s", apperrors.ErrUnreachable, pgErr.Message)
		}
		return fmt.Errorf("database error: %w", err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
}
