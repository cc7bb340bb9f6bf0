// Package extract turns one listing item node into a validated Record.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jmylchreest/catalogd/internal/render"
)

// Extraction failure reasons. Check with errors.Is.
var (
	ErrMissingElement   = errors.New("element not found")
	ErrMissingAttribute = errors.New("attribute missing")
	ErrPriceFormat      = errors.New("unparsable price")
	ErrInvalidRecord    = errors.New("invalid record")
)

// Error reports which role failed for an item.
type Error struct {
	Role render.Role // Empty for record-level validation failures
	Err  error
}

func (e *Error) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("extract: %v", e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Role, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Record is the data pulled out of one item node.
type Record struct {
	Title     string          `json:"title" validate:"required"`
	Link      string          `json:"link" validate:"required,url"`
	ImagePath string          `json:"image_path" validate:"required,url"`
	PriceRaw  string          `json:"price_raw"`
	Price     decimal.Decimal `json:"price"`
}

// Config binds roles to selectors and names the currency marker.
type Config struct {
	Roles          render.Roles
	CurrencySuffix string
}

// Extractor reads Records from item nodes. Safe for concurrent use.
type Extractor struct {
	config   Config
	validate *validator.Validate
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	return &Extractor{config: cfg, validate: validator.New()}
}

// Extract reads title, link, image and price from item. doc resolves relative
// links. Any missing part or unparsable price yields an *Error.
func (e *Extractor) Extract(doc *render.Document, item render.Node) (Record, error) {
	titleNode, ok := e.config.Roles.FindByRole(item, render.RoleTitleLink)
	if !ok {
		return Record{}, &Error{Role: render.RoleTitleLink, Err: ErrMissingElement}
	}
	href, ok := titleNode.Attr("href")
	if !ok {
		return Record{}, &Error{Role: render.RoleTitleLink, Err: fmt.Errorf("%w: href", ErrMissingAttribute)}
	}
	link, err := doc.Resolve(href)
	if err != nil {
		return Record{}, &Error{Role: render.RoleTitleLink, Err: fmt.Errorf("%w: href %q: %v", ErrMissingAttribute, href, err)}
	}

	imgNode, ok := e.config.Roles.FindByRole(item, render.RoleImage)
	if !ok {
		return Record{}, &Error{Role: render.RoleImage, Err: ErrMissingElement}
	}
	src, ok := imgNode.Attr("src")
	if !ok {
		// Lazy-loaded images keep the real URL in data-src until scrolled into view.
		if src, ok = imgNode.Attr("data-src"); !ok {
			return Record{}, &Error{Role: render.RoleImage, Err: fmt.Errorf("%w: src", ErrMissingAttribute)}
		}
	}
	image, err := doc.Resolve(src)
	if err != nil {
		return Record{}, &Error{Role: render.RoleImage, Err: fmt.Errorf("%w: src %q: %v", ErrMissingAttribute, src, err)}
	}

	priceNode, ok := e.config.Roles.FindByRole(item, render.RolePrice)
	if !ok {
		return Record{}, &Error{Role: render.RolePrice, Err: ErrMissingElement}
	}
	priceRaw := strings.TrimSpace(priceNode.RawText())
	price, err := ParsePrice(priceRaw, e.config.CurrencySuffix)
	if err != nil {
		return Record{}, &Error{Role: render.RolePrice, Err: err}
	}

	rec := Record{
		Title:     titleNode.Text(),
		Link:      link,
		ImagePath: image,
		PriceRaw:  priceRaw,
		Price:     price,
	}
	if err := e.validate.Struct(rec); err != nil {
		return Record{}, &Error{Err: fmt.Errorf("%w: %s", ErrInvalidRecord, describe(err))}
	}
	return rec, nil
}

// describe turns validator errors into "Field is required; ..." text.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "url":
			msgs = append(msgs, fe.Field()+" must be a valid URL")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation '%s'", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
