package pipeline

import (
	"net/url"
	"strings"

	"github.com/jmylchreest/catalogd/internal/render"
)

// pageQueue holds listing pages still to visit. A page is queued at most once
// per run, so a "next" link pointing back never loops.
type pageQueue struct {
	pending []string
	seen    map[string]bool
}

func newPageQueue() *pageQueue {
	return &pageQueue{seen: make(map[string]bool)}
}

// add queues rawURL unless it was already queued. It reports whether the
// URL was added.
func (q *pageQueue) add(rawURL string) bool {
	key := pageKey(rawURL)
	if key == "" || q.seen[key] {
		return false
	}
	q.seen[key] = true
	q.pending = append(q.pending, rawURL)
	return true
}

func (q *pageQueue) pop() (string, bool) {
	if len(q.pending) == 0 {
		return "", false
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return next, true
}

func (q *pageQueue) len() int { return len(q.pending) }

// pageKey normalizes a page URL for duplicate detection: no fragment, no
// trailing slash.
func pageKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// nextPage returns the absolute URL of the first usable link matching
// selector, or false when there is none.
func nextPage(doc *render.Document, selector string) (string, bool) {
	if selector == "" {
		return "", false
	}
	links := doc.Items(selector)
	if len(links) == 0 {
		return "", false
	}
	href, ok := links[0].Attr("href")
	if !ok || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	next, err := doc.Resolve(href)
	if err != nil {
		return "", false
	}
	return next, true
}
