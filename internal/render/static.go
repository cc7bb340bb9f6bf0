package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/catalogd/internal/logger"
)

// StaticLauncher fetches listing pages over plain HTTP with colly. No script
// runs, so it only fits pages whose items are server-rendered.
type StaticLauncher struct {
	config Config
}

// Name returns the engine name.
func (l *StaticLauncher) Name() string { return EngineStatic }

// Launch returns a session; there is no process to start.
func (l *StaticLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticBrowser{config: l.config}, nil
}

type staticBrowser struct {
	config Config

	mu     sync.Mutex
	closed bool
}

func (b *staticBrowser) Load(ctx context.Context, targetURL string, opts LoadOptions) (*Document, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := colly.NewCollector(
		colly.UserAgent(b.config.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(opts.timeout(b.config))
	// colly truncates silently at MaxBodySize; one extra byte lets checkSize see the overflow.
	c.MaxBodySize = 0
	if b.config.MaxDocumentBytes > 0 {
		c.MaxBodySize = int(b.config.MaxDocumentBytes) + 1
	}
	if b.config.ProxyURL != "" {
		if err := c.SetProxy(b.config.ProxyURL); err != nil {
			return nil, fmt.Errorf("set proxy: %w", err)
		}
	}

	var (
		html     string
		location = targetURL
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		html = string(r.Body)
		location = r.Request.URL.String()
		logger.Debug("static fetch response received",
			"status", r.StatusCode,
			"content_type", r.Headers.Get("Content-Type"),
			"body_size", len(r.Body))
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch error (status %d): %w", status, err)
	})

	start := time.Now()
	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		return nil, fmt.Errorf("failed to visit URL: %w", err)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := checkSize(html, b.config.MaxDocumentBytes); err != nil {
		return nil, err
	}
	doc, err := NewDocument(location, html)
	if err != nil {
		return nil, err
	}
	if err := checkChallenge(doc, html, opts.ItemSelector); err != nil {
		logger.Warn("challenge page detected", "url", targetURL, "error", err)
		return nil, err
	}
	logger.Debug("static page loaded",
		"url", location,
		"title", doc.Title,
		"bytes", len(html),
		"elapsed", time.Since(start))
	return doc, nil
}

func (b *staticBrowser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
