// Package catalog persists catalog entries and reconciles scraped listings
// into them with an upsert keyed by external id.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Store errors.
var (
	ErrNotFound       = errors.New("catalog entry not found")
	ErrInvalidListing = errors.New("invalid listing")
	ErrUnknownDriver  = errors.New("unknown catalog driver")
)

// Entry is a persisted catalog entry. ExternalID never changes once assigned.
type Entry struct {
	ID         int64           `json:"id"`
	ExternalID string          `json:"external_id"`
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	ImageURL   string          `json:"image_url"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	LastSeenAt time.Time       `json:"last_seen_at"`
}

// Listing is the data reconciled into an Entry.
type Listing struct {
	ExternalID string
	Title      string
	Price      decimal.Decimal
	ImageURL   string
}

// Outcome reports what Upsert did.
type Outcome int

const (
	Created Outcome = iota + 1
	Updated
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// ListOptions pages through entries ordered by id. Limit 0 means no limit.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the persistent catalog. Upsert is the only write operation.
type Store interface {
	// Upsert creates the entry for l.ExternalID or overwrites its title,
	// price and image. Each call is atomic.
	Upsert(ctx context.Context, l Listing) (Entry, Outcome, error)

	Get(ctx context.Context, id int64) (Entry, error)
	GetByExternalID(ctx context.Context, externalID string) (Entry, error)
	List(ctx context.Context, opts ListOptions) ([]Entry, error)
	Count(ctx context.Context) (int, error)

	// ListStale returns entries last reconciled before the given time.
	ListStale(ctx context.Context, before time.Time) ([]Entry, error)

	Close() error
}

// Config selects a backend.
type Config struct {
	Driver   string // "sqlite" or "postgres"
	DSN      string
	MaxConns int
}

// Option customises a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Open opens the backend named by cfg.Driver and applies the schema.
func Open(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.DSN, opts...)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxConns, opts...)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// normalize trims text fields, rounds the price and rejects unusable listings.
func normalize(l Listing) (Listing, error) {
	l.ExternalID = strings.TrimSpace(l.ExternalID)
	l.Title = strings.TrimSpace(l.Title)
	l.ImageURL = strings.TrimSpace(l.ImageURL)
	l.Price = l.Price.Round(2)

	if l.ExternalID == "" {
		return l, fmt.Errorf("%w: empty external id", ErrInvalidListing)
	}
	if l.Price.IsNegative() {
		return l, fmt.Errorf("%w: negative price %s", ErrInvalidListing, l.Price)
	}
	return l, nil
}

// unchanged reports whether e already holds l's values.
func unchanged(e Entry, l Listing) bool {
	return e.Title == l.Title && e.ImageURL == l.ImageURL && e.Price.Equal(l.Price)
}
