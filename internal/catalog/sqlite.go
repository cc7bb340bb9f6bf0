package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id  TEXT    NOT NULL UNIQUE,
	title        TEXT    NOT NULL,
	price        TEXT    NOT NULL,
	image_url    TEXT    NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_last_seen ON catalog_entries(last_seen_at);
`

var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

const sqliteColumns = `id, external_id, title, price, image_url, created_at, updated_at, last_seen_at`

// SQLiteStore is a Store backed by a single SQLite file (or ":memory:").
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens path, applies pragmas and the schema. The pool is held to
// one connection: SQLite has a single writer, and ":memory:" databases are
// per-connection.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	if path == "" {
		return nil, fmt.Errorf("catalog: sqlite: empty path")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("catalog: sqlite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: sqlite: %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: sqlite: schema: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: sqlite: ping: %w", err)
	}
	return &SQLiteStore{db: db, now: o.now}, nil
}

// Upsert implements Store. The lookup and the write share one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, l Listing) (Entry, Outcome, error) {
	l, err := normalize(l)
	if err != nil {
		return Entry{}, 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	e, err := scanSQLiteEntry(tx.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM catalog_entries WHERE external_id = ?`, l.ExternalID))

	var outcome Outcome
	switch {
	case errors.Is(err, ErrNotFound):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_entries (external_id, title, price, image_url, created_at, updated_at, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ExternalID, l.Title, l.Price.StringFixed(2), l.ImageURL,
			now.UnixNano(), now.UnixNano(), now.UnixNano())
		if err != nil {
			return Entry{}, 0, fmt.Errorf("catalog: insert %s: %w", l.ExternalID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return Entry{}, 0, fmt.Errorf("catalog: insert id: %w", err)
		}
		e = Entry{
			ID:         id,
			ExternalID: l.ExternalID,
			Title:      l.Title,
			Price:      l.Price,
			ImageURL:   l.ImageURL,
			CreatedAt:  now,
			UpdatedAt:  now,
			LastSeenAt: now,
		}
		outcome = Created

	case err != nil:
		return Entry{}, 0, fmt.Errorf("catalog: lookup %s: %w", l.ExternalID, err)

	case unchanged(e, l):
		if _, err := tx.ExecContext(ctx,
			`UPDATE catalog_entries SET last_seen_at = ? WHERE id = ?`, now.UnixNano(), e.ID); err != nil {
			return Entry{}, 0, fmt.Errorf("catalog: touch %s: %w", l.ExternalID, err)
		}
		e.LastSeenAt = now
		outcome = Unchanged

	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE catalog_entries
			 SET title = ?, price = ?, image_url = ?, updated_at = ?, last_seen_at = ?
			 WHERE id = ?`,
			l.Title, l.Price.StringFixed(2), l.ImageURL, now.UnixNano(), now.UnixNano(), e.ID); err != nil {
			return Entry{}, 0, fmt.Errorf("catalog: update %s: %w", l.ExternalID, err)
		}
		e.Title, e.Price, e.ImageURL = l.Title, l.Price, l.ImageURL
		e.UpdatedAt, e.LastSeenAt = now, now
		outcome = Updated
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, 0, fmt.Errorf("catalog: commit: %w", err)
	}
	return e, outcome, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (Entry, error) {
	return scanSQLiteEntry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM catalog_entries WHERE id = ?`, id))
}

// GetByExternalID implements Store.
func (s *SQLiteStore) GetByExternalID(ctx context.Context, externalID string) (Entry, error) {
	return scanSQLiteEntry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM catalog_entries WHERE external_id = ?`, externalID))
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM catalog_entries ORDER BY id LIMIT ? OFFSET ?`,
		limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return collectSQLite(rows)
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return n, nil
}

// ListStale implements Store.
func (s *SQLiteStore) ListStale(ctx context.Context, before time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM catalog_entries WHERE last_seen_at < ? ORDER BY last_seen_at, id`,
		before.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("catalog: list stale: %w", err)
	}
	return collectSQLite(rows)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var (
		e                        Entry
		price                    string
		created, updated, seenAt int64
	)
	err := row.Scan(&e.ID, &e.ExternalID, &e.Title, &price, &e.ImageURL, &created, &updated, &seenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if e.Price, err = decimal.NewFromString(price); err != nil {
		return Entry{}, fmt.Errorf("catalog: entry %d: bad price %q: %w", e.ID, price, err)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	e.UpdatedAt = time.Unix(0, updated).UTC()
	e.LastSeenAt = time.Unix(0, seenAt).UTC()
	return e, nil
}

func collectSQLite(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
