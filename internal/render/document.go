package render

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
)

// Document is a parsed snapshot of a rendered page.
type Document struct {
	URL   string // Final URL after redirects
	Title string
	Size  int // Bytes of HTML the snapshot was parsed from

	base *url.URL
	doc  *goquery.Document
}

// Node is one element of a Document. The zero Node matches nothing.
type Node struct {
	sel *goquery.Selection
}

// NewDocument parses html captured from pageURL.
func NewDocument(pageURL, html string) (*Document, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{
		URL:   pageURL,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Size:  len(html),
		base:  base,
		doc:   doc,
	}, nil
}

// checkSize rejects documents larger than limit (0 = unlimited).
func checkSize(html string, limit uint64) error {
	if limit > 0 && uint64(len(html)) > limit {
		return fmt.Errorf("%w: %s exceeds %s", ErrDocumentTooLarge,
			humanize.Bytes(uint64(len(html))), humanize.Bytes(limit))
	}
	return nil
}

// Items returns every element matching selector, in document order.
func (d *Document) Items(selector string) []Node {
	sel := d.doc.Find(selector)
	nodes := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, Node{sel: s})
	})
	return nodes
}

// Resolve turns ref into an absolute URL relative to the document URL.
func (d *Document) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() && d.base != nil {
		u = d.base.ResolveReference(u)
	}
	return u.String(), nil
}

// Find returns the first descendant matching selector.
func (n Node) Find(selector string) (Node, bool) {
	if n.sel == nil {
		return Node{}, false
	}
	found := n.sel.Find(selector).First()
	if found.Length() == 0 {
		return Node{}, false
	}
	return Node{sel: found}, true
}

// Text returns the visible text with whitespace runs collapsed.
func (n Node) Text() string {
	if n.sel == nil {
		return ""
	}
	return cleanText(n.sel.Text())
}

// RawText returns the text content untouched.
func (n Node) RawText() string {
	if n.sel == nil {
		return ""
	}
	return n.sel.Text()
}

// Attr returns the trimmed value of an attribute and whether it is non-empty.
func (n Node) Attr(name string) (string, bool) {
	if n.sel == nil {
		return "", false
	}
	v, ok := n.sel.Attr(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// HTML returns the outer HTML of the node, for debug logging.
func (n Node) HTML() string {
	if n.sel == nil {
		return ""
	}
	h, err := goquery.OuterHtml(n.sel)
	if err != nil {
		return ""
	}
	return h
}

// cleanText normalizes whitespace in text.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Role names a part of a catalog item node.
type Role string

// Item roles.
const (
	RoleTitleLink Role = "title_link"
	RoleImage     Role = "image"
	RolePrice     Role = "price"
)

// Roles binds each role to the CSS selector that locates it inside an item.
type Roles map[Role]string

// FindByRole returns the first descendant of n playing role. It reports false
// when the element is absent or the role has no selector.
func (r Roles) FindByRole(n Node, role Role) (Node, bool) {
	selector, ok := r[role]
	if !ok || selector == "" {
		return Node{}, false
	}
	return n.Find(selector)
}
