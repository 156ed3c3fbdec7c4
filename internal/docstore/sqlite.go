package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

// Unix microseconds from the database clock.
const sqliteNow = `CAST((julianday('now') - 2440587.5) * 86400000000 AS INTEGER)`

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		data       TEXT NOT NULL DEFAULT '{}',
		version    INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (collection, id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_documents_order ON documents(collection, created_at, seq);`,
}

// OpenSQLite opens (and migrates) a SQLite database file as a document store.
func OpenSQLite(ctx context.Context, dsn string, feed Feed, log logger.Logger) (*DocStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %v", apperrors.ErrUnreachable, err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}

	return newDocStore(&sqliteBackend{db: db, log: log}, feed, log), nil
}

type sqliteBackend struct {
	db  *sql.DB
	log logger.Logger
}

type sqliteDialect struct{}

func (sqliteDialect) param(int) string { return "?" }

func (sqliteDialect) fieldExpr(field string) string { return "json_extract(data, '$." + field + "')" }

// bindValue passes scalars natively; json_extract yields 1/0 for booleans.
func (d sqliteDialect) bindValue(args *[]interface{}, v interface{}) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return bindRaw(d, args, 1), nil
		}
		return bindRaw(d, args, 0), nil
	case string, float64, nil:
		return bindRaw(d, args, t), nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("%w: filter value: %v", apperrors.ErrValidation, err)
		}
		return "json(" + bindRaw(d, args, string(raw)) + ")", nil
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (b *sqliteBackend) query(ctx context.Context, q Query) ([]*Document, error) {
	query, args, err := buildSelect(sqliteDialect{}, q)
	if err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		b.log.Error("Failed to query documents", "error", err, "collection", q.Collection)
		return nil, classifySQLiteError(err)
	}
	defer rows.Close()

	docs := make([]*Document, 0)
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, classifySQLiteError(err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError(err)
	}
	return docs, nil
}

func (b *sqliteBackend) getByID(ctx context.Context, collection, id string) (*Document, error) {
	return b.get(ctx, b.db, collection, id)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (b *sqliteBackend) get(ctx context.Context, q sqliteQuerier, collection, id string) (*Document, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	d, err := scanSQLiteDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", apperrors.ErrNotFound, collection, id)
		}
		return nil, classifySQLiteError(err)
	}
	return d, nil
}

func (b *sqliteBackend) commit(ctx context.Context, writes []Write) ([]*Document, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]*Document, len(writes))
	for i, w := range writes {
		doc, err := b.apply(ctx, tx, w)
		if err != nil {
			b.log.Error("Failed to commit documents", "error", err, "writes", len(writes))
			return nil, classifySQLiteError(err)
		}
		results[i] = doc
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLiteError(err)
	}
	return results, nil
}

func (b *sqliteBackend) apply(ctx context.Context, tx *sql.Tx, w Write) (*Document, error) {
	data, err := normalizeData(w.Data)
	if err != nil {
		return nil, err
	}

	switch w.Kind {
	case WriteCreate:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES (?, ?, ?, `+sqliteNow+`, `+sqliteNow+`)
			RETURNING `+selectColumns,
			w.Collection, w.ID, string(raw))
		return scanSQLiteDocument(row)

	case WriteSet:
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES (?, ?, ?, `+sqliteNow+`, `+sqliteNow+`)
			ON CONFLICT (collection, id) DO UPDATE
			SET data = excluded.data,
			    version = documents.version + 1,
			    updated_at = `+sqliteNow+`
			RETURNING `+selectColumns,
			w.Collection, w.ID, string(raw))
		return scanSQLiteDocument(row)

	case WriteUpdate:
		current, err := b.get(ctx, tx, w.Collection, w.ID)
		if err != nil {
			return nil, err
		}
		for field, v := range data {
			current.Data[field] = v
		}
		raw, err := json.Marshal(current.Data)
		if err != nil {
			return nil, err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE documents
			SET data = ?, version = version + 1, updated_at = `+sqliteNow+`
			WHERE collection = ? AND id = ?
			RETURNING `+selectColumns,
			string(raw), w.Collection, w.ID)
		return scanSQLiteDocument(row)

	case WriteDelete:
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, w.Collection, w.ID)
		return nil, err
	}
	return nil, fmt.Errorf("%w: unknown write kind %q", apperrors.ErrValidation, w.Kind)
}

func (b *sqliteBackend) ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

func scanSQLiteDocument(row rowScanner) (*Document, error) {
	var (
		d                Document
		raw              string
		created, updated int64
	)
	if err := row.Scan(&d.ID, &d.Collection, &raw, &d.Version, &d.Seq, &created, &updated); err != nil {
		return nil, err
	}
	d.Data = map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &d.Data); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	d.CreatedAt = time.UnixMicro(created).UTC()
	d.UpdatedAt = time.UnixMicro(updated).UTC()
	return &d, nil
}

func classifySQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.KindOf(err) != apperrors.KindInternal {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %v", apperrors.ErrNotFound, err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", apperrors.ErrConflict, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sql: database is closed"):
		return fmt.Errorf("%w: %v", apperrors.ErrUnreachable, err)
	}
	return fmt.Errorf("database error: %w", err)
}
