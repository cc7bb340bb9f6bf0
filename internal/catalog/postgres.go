package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
	id           BIGSERIAL PRIMARY KEY,
	external_id  TEXT          NOT NULL UNIQUE,
	title        TEXT          NOT NULL,
	price        NUMERIC(10,2) NOT NULL,
	image_url    TEXT          NOT NULL,
	created_at   TIMESTAMPTZ   NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ   NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ   NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_last_seen ON catalog_entries(last_seen_at);
`

const postgresColumns = `id, external_id, title, price::text, image_url, created_at, updated_at, last_seen_at`

// updated_at only moves when a field actually changed, which is how Upsert
// tells Updated from Unchanged without a second round trip.
const postgresUpsert = `
WITH prev AS (
	SELECT title, price, image_url FROM catalog_entries WHERE external_id = $1
)
INSERT INTO catalog_entries AS c (external_id, title, price, image_url, created_at, updated_at, last_seen_at)
VALUES ($1, $2, $3::numeric, $4, $5, $5, $5)
ON CONFLICT (external_id) DO UPDATE SET
	title        = EXCLUDED.title,
	price        = EXCLUDED.price,
	image_url    = EXCLUDED.image_url,
	updated_at   = CASE
		WHEN (c.title, c.price, c.image_url) IS DISTINCT FROM (EXCLUDED.title, EXCLUDED.price, EXCLUDED.image_url)
		THEN EXCLUDED.updated_at
		ELSE c.updated_at
	END,
	last_seen_at = EXCLUDED.last_seen_at
RETURNING ` + postgresColumns + `, (xmax = 0) AS inserted,
	COALESCE((SELECT (p.title, p.price, p.image_url) IS DISTINCT FROM ($2, $3::numeric, $4) FROM prev p), true) AS changed`

// PostgresStore is a Store backed by PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to dsn and applies the schema. maxConns <= 0 keeps
// the pool default of 2.
func OpenPostgres(ctx context.Context, dsn string, maxConns int, opts ...Option) (*PostgresStore, error) {
	o := buildOptions(opts)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: postgres: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: postgres: schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: o.now}, nil
}

// Upsert implements Store with a single INSERT ... ON CONFLICT statement.
func (s *PostgresStore) Upsert(ctx context.Context, l Listing) (Entry, Outcome, error) {
	l, err := normalize(l)
	if err != nil {
		return Entry{}, 0, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)

	var (
		e                 Entry
		price             string
		inserted, changed bool
	)
	err = s.pool.QueryRow(ctx, postgresUpsert,
		l.ExternalID, l.Title, l.Price.StringFixed(2), l.ImageURL, now,
	).Scan(&e.ID, &e.ExternalID, &e.Title, &price, &e.ImageURL,
		&e.CreatedAt, &e.UpdatedAt, &e.LastSeenAt, &inserted, &changed)
	if err != nil {
		return Entry{}, 0, fmt.Errorf("catalog: upsert %s: %w", l.ExternalID, err)
	}
	if e.Price, err = decimal.NewFromString(price); err != nil {
		return Entry{}, 0, fmt.Errorf("catalog: entry %d: bad price %q: %w", e.ID, price, err)
	}
	utcTimes(&e)

	switch {
	case inserted:
		return e, Created, nil
	case changed:
		return e, Updated, nil
	default:
		return e, Unchanged, nil
	}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id int64) (Entry, error) {
	return scanPostgresEntry(s.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM catalog_entries WHERE id = $1`, id))
}

// GetByExternalID implements Store.
func (s *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (Entry, error) {
	return scanPostgresEntry(s.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM catalog_entries WHERE external_id = $1`, externalID))
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	var limit any // NULL = no limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresColumns+` FROM catalog_entries ORDER BY id LIMIT $1 OFFSET $2`,
		limit, max(opts.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return collectPostgres(rows)
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count: %w", err)
	}
	return n, nil
}

// ListStale implements Store.
func (s *PostgresStore) ListStale(ctx context.Context, before time.Time) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresColumns+` FROM catalog_entries WHERE last_seen_at < $1 ORDER BY last_seen_at, id`,
		before.UTC())
	if err != nil {
		return nil, fmt.Errorf("catalog: list stale: %w", err)
	}
	return collectPostgres(rows)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresEntry(row pgx.Row) (Entry, error) {
	var (
		e     Entry
		price string
	)
	err := row.Scan(&e.ID, &e.ExternalID, &e.Title, &price, &e.ImageURL,
		&e.CreatedAt, &e.UpdatedAt, &e.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if e.Price, err = decimal.NewFromString(price); err != nil {
		return Entry{}, fmt.Errorf("catalog: entry %d: bad price %q: %w", e.ID, price, err)
	}
	utcTimes(&e)
	return e, nil
}

func collectPostgres(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
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

func utcTimes(e *Entry) {
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.LastSeenAt = e.LastSeenAt.UTC()
}
