package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/jmylchreest/catalogd/internal/logger"
)

// RodLauncher starts Chrome sessions through go-rod.
type RodLauncher struct {
	config Config
}

// Name returns the engine name.
func (l *RodLauncher) Name() string { return EngineRod }

// Launch starts a local Chrome and connects to it.
func (l *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	lnch := launcher.New().
		Context(ctx).
		Headless(l.config.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if l.config.ProxyURL != "" {
		lnch = lnch.Proxy(l.config.ProxyURL)
	}
	if path := FindChromePath(l.config.ChromePath); path != "" {
		lnch = lnch.Bin(path)
	}

	wsURL, err := lnch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		lnch.Kill()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}

	logger.Debug("rod browser started",
		"headless", l.config.Headless,
		"stealth", l.config.Stealth)

	return &rodBrowser{config: l.config, browser: browser, launcher: lnch}, nil
}

type rodBrowser struct {
	config   Config
	browser  *rod.Browser
	launcher *launcher.Launcher

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

func (b *rodBrowser) newPage() (*rod.Page, error) {
	if b.config.Stealth {
		return stealth.Page(b.browser)
	}
	return b.browser.Page(proto.TargetCreateTarget{})
}

func (b *rodBrowser) Load(ctx context.Context, targetURL string, opts LoadOptions) (*Document, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	p, err := b.newPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = p.Close() }()

	timeout := opts.budget(b.config)
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p = p.Context(loadCtx)

	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.config.UserAgent}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}

	start := time.Now()
	logger.Debug("rod loading page", "url", targetURL, "timeout", timeout, "settle", opts.SettleDelay)

	if err := b.navigate(loadCtx, p, targetURL, opts); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("browser timeout, possible anti-bot protection", "url", targetURL)
			return nil, fmt.Errorf("%w: %v", ErrChallengeTimeout, err)
		}
		return nil, fmt.Errorf("browser automation failed: %w", err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	location, title := targetURL, ""
	if info, err := p.Info(); err == nil {
		location, title = info.URL, info.Title
	}

	if err := checkSize(html, b.config.MaxDocumentBytes); err != nil {
		return nil, err
	}

	doc, err := NewDocument(location, html)
	if err != nil {
		return nil, err
	}
	if title != "" {
		doc.Title = title
	}
	if err := checkChallenge(doc, html, opts.ItemSelector); err != nil {
		logger.Warn("challenge page detected", "url", targetURL, "error", err)
		return nil, err
	}
	logger.Debug("rod page loaded",
		"url", location,
		"title", title,
		"bytes", len(html),
		"elapsed", time.Since(start))
	return doc, nil
}

func (b *rodBrowser) navigate(ctx context.Context, p *rod.Page, targetURL string, opts LoadOptions) error {
	if err := p.Navigate(targetURL); err != nil {
		return err
	}
	if err := p.WaitLoad(); err != nil {
		return err
	}
	if _, err := p.Element(opts.waitSelector()); err != nil {
		return err
	}
	return sleepContext(ctx, opts.SettleDelay)
}

func (b *rodBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.closeErr = b.browser.Close()
		b.launcher.Kill()
		logger.Debug("rod browser closed")
	})
	return b.closeErr
}
