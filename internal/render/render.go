// Package render defines the page-rendering capability the scraper consumes:
// a Launcher opens a Browser session, the Browser loads a URL and returns a
// queryable Document once client-side content has had time to settle.
//
// Three engines are provided: chromedp (default), rod and a static colly
// fetcher for listing pages that do not need JavaScript.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error types for distinguishing failure reasons.
// Check with errors.Is(err, render.ErrAntiBot).
var (
	// ErrAntiBot indicates the site's anti-bot protection served a challenge page.
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrChallengeTimeout indicates navigation timed out, usually behind a challenge.
	ErrChallengeTimeout = errors.New("challenge timeout")
	// ErrDocumentTooLarge indicates the rendered document exceeded MaxDocumentBytes.
	ErrDocumentTooLarge = errors.New("document too large")
	// ErrClosed indicates the browser session was already released.
	ErrClosed = errors.New("browser session closed")
	// ErrUnknownEngine indicates an unsupported engine name.
	ErrUnknownEngine = errors.New("unknown render engine")
)

// Engine names accepted by NewLauncher.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
	EngineStatic   = "static"
)

// Browser is one rendering session. It is owned by a single run and must be
// closed exactly once by that run.
type Browser interface {
	// Load navigates to url, waits for the document and the settle delay,
	// and returns a snapshot of the rendered DOM.
	Load(ctx context.Context, url string, opts LoadOptions) (*Document, error)

	// Close releases the session (browser process, tabs, connections).
	Close() error
}

// Launcher starts Browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)

	// Name returns the engine name (e.g., "chromedp", "rod", "static").
	Name() string
}

// LoadOptions controls a single page load.
type LoadOptions struct {
	Timeout      time.Duration // Navigation budget (0 = Config.Timeout); SettleDelay is added on top
	SettleDelay  time.Duration // Wait after the document is ready
	WaitSelector string        // CSS selector to wait for before settling (default "body")
	ItemSelector string        // Content expected on a real page; captcha widgets only count when it matches nothing
}

// Config holds engine-independent launch settings.
type Config struct {
	Engine           string
	Headless         bool
	Stealth          bool // Anti-automation evasions (chromedp, rod)
	UserAgent        string
	ChromePath       string
	ProxyURL         string
	Timeout          time.Duration
	MaxDocumentBytes uint64 // 0 = unlimited
}

// Chrome user agent for better compatibility
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Engine:    EngineChromedp,
		Headless:  true,
		UserAgent: defaultUserAgent,
		Timeout:   90 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Engine == "" {
		c.Engine = d.Engine
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// NewLauncher returns the Launcher for cfg.Engine.
func NewLauncher(cfg Config) (Launcher, error) {
	cfg = cfg.withDefaults()
	switch cfg.Engine {
	case EngineChromedp:
		return &ChromedpLauncher{config: cfg}, nil
	case EngineRod:
		return &RodLauncher{config: cfg}, nil
	case EngineStatic:
		return &StaticLauncher{config: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: %s (use chromedp, rod or static)", ErrUnknownEngine, cfg.Engine)
	}
}

func (o LoadOptions) timeout(cfg Config) time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return cfg.Timeout
}

// budget is the whole load deadline: navigation plus the settle delay.
func (o LoadOptions) budget(cfg Config) time.Duration {
	return o.timeout(cfg) + max(o.SettleDelay, 0)
}

func (o LoadOptions) waitSelector() string {
	if o.WaitSelector != "" {
		return o.WaitSelector
	}
	return "body"
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
