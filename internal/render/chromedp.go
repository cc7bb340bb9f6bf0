package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/catalogd/internal/logger"
)

// ChromedpLauncher starts headless Chrome sessions through the DevTools protocol.
type ChromedpLauncher struct {
	config Config
}

// Name returns the engine name.
func (l *ChromedpLauncher) Name() string { return EngineChromedp }

// Launch allocates a Chrome process and opens its first target. The process
// lives until Close is called or ctx is cancelled.
func (l *ChromedpLauncher) Launch(ctx context.Context) (Browser, error) {
	log := logger.Component("render")
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedpAllocatorOptions(l.config)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	// The first Run starts the browser; it must not carry a timeout or the
	// browser would die with it.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	log.Debug("chromedp browser started",
		"headless", l.config.Headless,
		"stealth", l.config.Stealth,
		"proxy", l.config.ProxyURL != "")

	return &chromedpBrowser{
		config:        l.config,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

type chromedpBrowser struct {
	config        Config
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (b *chromedpBrowser) Load(ctx context.Context, targetURL string, opts LoadOptions) (*Document, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	// Each load gets its own tab, closed when the load returns.
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	timeout := opts.budget(b.config)
	loadCtx, cancelLoad := context.WithTimeout(tabCtx, timeout)
	defer cancelLoad()
	stop := context.AfterFunc(ctx, cancelLoad)
	defer stop()

	var html, title, location string
	var actions []chromedp.Action
	if b.config.Stealth {
		actions = append(actions, injectStealthScript())
	}
	actions = append(actions,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady(opts.waitSelector(), chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return sleepContext(ctx, opts.SettleDelay)
		}),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Location(&location),
	)

	start := time.Now()
	logger.Debug("chromedp loading page",
		"url", targetURL,
		"timeout", timeout,
		"settle", opts.SettleDelay)

	if err := chromedp.Run(loadCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			logger.Warn("browser timeout, possible anti-bot protection", "url", targetURL)
			return nil, fmt.Errorf("%w: %v", ErrChallengeTimeout, err)
		}
		return nil, fmt.Errorf("browser automation failed: %w", err)
	}

	if err := checkSize(html, b.config.MaxDocumentBytes); err != nil {
		return nil, err
	}
	if location == "" {
		location = targetURL
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
	logger.Debug("chromedp page loaded",
		"url", location,
		"title", title,
		"bytes", len(html),
		"elapsed", time.Since(start))
	return doc, nil
}

func (b *chromedpBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.cancelBrowser()
		b.cancelAlloc()
		logger.Debug("chromedp browser closed")
	})
	return nil
}
