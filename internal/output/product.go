package output

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/catalogd/internal/catalog"
)

// Amount is a price rendered as a plain number with two decimals, e.g. 120.00.
type Amount decimal.Decimal

func (a Amount) String() string {
	return decimal.Decimal(a).StringFixed(2)
}

// MarshalJSON writes the amount as a JSON number, not a string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// MarshalYAML writes the amount as a float scalar keeping both decimals.
func (a Amount) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: a.String()}, nil
}

// Product is the public view of a catalog entry.
type Product struct {
	ID         int64     `json:"id" yaml:"id"`
	ExternalID string    `json:"external_id" yaml:"external_id"`
	Title      string    `json:"title" yaml:"title"`
	Price      Amount    `json:"price" yaml:"price"`
	ImageURL   string    `json:"image_url" yaml:"image_url"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at" yaml:"last_seen_at"`
}

// ProductFromEntry converts a stored entry to its public view.
func ProductFromEntry(e catalog.Entry) Product {
	return Product{
		ID:         e.ID,
		ExternalID: e.ExternalID,
		Title:      e.Title,
		Price:      Amount(e.Price),
		ImageURL:   e.ImageURL,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		LastSeenAt: e.LastSeenAt,
	}
}

// Products converts a page of entries. The result is never nil.
func Products(entries []catalog.Entry) []Product {
	out := make([]Product, 0, len(entries))
	for _, e := range entries {
		out = append(out, ProductFromEntry(e))
	}
	return out
}
