package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/catalogd/internal/catalog"
	"github.com/jmylchreest/catalogd/internal/extract"
	"github.com/jmylchreest/catalogd/internal/render"
)

const targetURL = "https://shop.example/ru/category/tv/"

var testRoles = render.Roles{
	render.RoleTitleLink: ".title",
	render.RoleImage:     ".image img",
	render.RolePrice:     ".price",
}

// fakeBrowser serves canned pages and counts releases.
type fakeBrowser struct {
	mu      sync.Mutex
	pages   map[string]string
	loadErr error
	block   chan struct{} // when set, Load waits on it
	loaded  []string
	opts    []render.LoadOptions
	closes  int
}

func (b *fakeBrowser) Load(ctx context.Context, url string, opts render.LoadOptions) (*render.Document, error) {
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = append(b.loaded, url)
	b.opts = append(b.opts, opts)
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	html, ok := b.pages[url]
	if !ok {
		return nil, fmt.Errorf("no page for %s", url)
	}
	return render.NewDocument(url, html)
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fakeBrowser) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

func (b *fakeBrowser) setPage(url, html string) {
	b.mu.Lock()
	b.pages[url] = html
	b.mu.Unlock()
}

type fakeLauncher struct {
	browser   *fakeBrowser
	launchErr error
	launches  int
}

func (l *fakeLauncher) Name() string { return "fake" }

func (l *fakeLauncher) Launch(ctx context.Context) (render.Browser, error) {
	l.launches++
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	return l.browser, nil
}

// panicStore panics on Upsert for one external id.
type panicStore struct {
	catalog.Store
	panicOn string
}

func (s *panicStore) Upsert(ctx context.Context, l catalog.Listing) (catalog.Entry, catalog.Outcome, error) {
	if strings.HasSuffix(l.ExternalID, s.panicOn) {
		panic("driver exploded")
	}
	return s.Store.Upsert(ctx, l)
}

// failStore returns an error on Upsert for one external id.
type failStore struct {
	catalog.Store
	failOn string
}

func (s *failStore) Upsert(ctx context.Context, l catalog.Listing) (catalog.Entry, catalog.Outcome, error) {
	if strings.HasSuffix(l.ExternalID, s.failOn) {
		return catalog.Entry{}, 0, errors.New("database is locked")
	}
	return s.Store.Upsert(ctx, l)
}

type item struct {
	id, title, price string
	noPrice          bool
}

func listingPage(next string, items ...item) string {
	var b strings.Builder
	b.WriteString("<html><head><title>TV</title></head><body><ul>")
	for _, it := range items {
		fmt.Fprintf(&b, `<li class="product"><a class="title" href="/product/%s/">%s</a>`, it.id, it.title)
		fmt.Fprintf(&b, `<div class="image"><img src="/img/%s.jpg"></div>`, it.id)
		if !it.noPrice {
			fmt.Fprintf(&b, `<div class="price">%s</div>`, it.price)
		}
		b.WriteString("</li>")
	}
	b.WriteString(`<li class="product promo"><div class="banner">Акция</div></li>`)
	b.WriteString("</ul>")
	if next != "" {
		fmt.Fprintf(&b, `<a class="next" href="%s">Далее</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newStore(t *testing.T) catalog.Store {
	t.Helper()
	s, err := catalog.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRunner(launcher render.Launcher, store catalog.Store, mutate ...func(*Config)) *Runner {
	cfg := Config{
		TargetURL:    targetURL,
		ItemSelector: "li.product",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	ex := extract.New(extract.Config{Roles: testRoles, CurrencySuffix: "BYN"})
	return New(cfg, launcher, ex, store)
}

func newBrowser(pages map[string]string) *fakeBrowser {
	if pages == nil {
		pages = map[string]string{}
	}
	return &fakeBrowser{pages: pages}
}

// --- Run Tests ---

func TestRun_EndToEnd(t *testing.T) {
	store := newStore(t)
	browser := newBrowser(map[string]string{
		targetURL: listingPage("",
			item{id: "a", title: "TV A", price: "100.00 BYN"},
			item{id: "b", title: "TV B", price: "50,50 BYN"},
			item{id: "bad", title: "TV ?", price: "Цена по запросу"},
		),
	})
	runner := newRunner(&fakeLauncher{browser: browser}, store)
	ctx := context.Background()

	first, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if first.State != StateDone {
		t.Errorf("State = %s, want DONE", first.State)
	}
	// a, b, bad, promo banner
	if first.Found != 4 {
		t.Errorf("Found = %d, want 4", first.Found)
	}
	if first.Created != 2 || first.Updated != 0 || first.Unchanged != 0 || first.Skipped != 2 {
		t.Errorf("first report = %+v", first)
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Fatalf("catalog entries = %d, want 2", n)
	}

	browser.setPage(targetURL, listingPage("",
		item{id: "a", title: "TV A", price: "120.00 BYN"},
		item{id: "b", title: "TV B", price: "50,50 BYN"},
		item{id: "bad", title: "TV ?", price: "Цена по запросу"},
	))

	second, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if second.Created != 0 || second.Updated != 1 || second.Unchanged != 1 {
		t.Errorf("second report = %+v", second)
	}
	if second.RunID == first.RunID {
		t.Error("runs should have distinct ids")
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Errorf("catalog entries = %d, want 2", n)
	}

	a, err := store.GetByExternalID(ctx, "https://shop.example/product/a/")
	if err != nil {
		t.Fatal(err)
	}
	if a.Price.StringFixed(2) != "120.00" {
		t.Errorf("a price = %s, want 120.00", a.Price.StringFixed(2))
	}
	b, _ := store.GetByExternalID(ctx, "https://shop.example/product/b/")
	if b.Price.StringFixed(2) != "50.50" || b.ImageURL != "https://shop.example/img/b.jpg" {
		t.Errorf("b = %+v", b)
	}

	if browser.Closes() != 2 {
		t.Errorf("browser released %d times over two runs, want 2", browser.Closes())
	}
}

func TestRun_Idempotent(t *testing.T) {
	store := newStore(t)
	page := listingPage("",
		item{id: "a", title: "TV A", price: "244.00 BYN"},
		item{id: "b", title: "TV B", price: "1 234,50 BYN"},
	)
	runner := newRunner(&fakeLauncher{browser: newBrowser(map[string]string{targetURL: page})}, store)
	ctx := context.Background()

	if _, err := runner.Run(ctx); err != nil {
		t.Fatal(err)
	}
	before, _ := store.List(ctx, catalog.ListOptions{})

	report, err := runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Created != 0 || report.Updated != 0 || report.Unchanged != 2 {
		t.Errorf("second report = %+v", report)
	}
	after, _ := store.List(ctx, catalog.ListOptions{})
	if len(after) != len(before) {
		t.Fatalf("entries %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Title != after[i].Title || !before[i].Price.Equal(after[i].Price) || before[i].ImageURL != after[i].ImageURL {
			t.Errorf("entry %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	const n, k = 5, 2
	items := make([]item, n)
	for i := range items {
		items[i] = item{id: fmt.Sprintf("p%d", i), title: fmt.Sprintf("TV %d", i), price: "10 BYN"}
	}
	items[k].noPrice = true

	store := newStore(t)
	browser := newBrowser(map[string]string{targetURL: listingPage("", items...)})
	runner := newRunner(&fakeLauncher{browser: browser}, store, func(c *Config) {
		c.ItemSelector = "li.product:not(.promo)"
	})

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Found != n {
		t.Errorf("Found = %d, want %d", report.Found, n)
	}
	if report.Reconciled() != n-1 || report.Skipped != 1 {
		t.Errorf("reconciled=%d skipped=%d, want %d and 1", report.Reconciled(), report.Skipped, n-1)
	}
	if _, err := store.GetByExternalID(context.Background(), "https://shop.example/product/p2/"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("skipped item should not be persisted, got err=%v", err)
	}
}

func TestRun_ReconcileFailureSkipsItem(t *testing.T) {
	store := &failStore{Store: newStore(t), failOn: "/b/"}
	browser := newBrowser(map[string]string{targetURL: listingPage("",
		item{id: "a", title: "TV A", price: "1 BYN"},
		item{id: "b", title: "TV B", price: "2 BYN"},
		item{id: "c", title: "TV C", price: "3 BYN"},
	)})
	runner := newRunner(&fakeLauncher{browser: browser}, store)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Created != 2 || report.Skipped != 2 { // b + promo banner
		t.Errorf("report = %+v", report)
	}
}

func TestRun_PanicInItemIsContained(t *testing.T) {
	store := &panicStore{Store: newStore(t), panicOn: "/a/"}
	browser := newBrowser(map[string]string{targetURL: listingPage("",
		item{id: "a", title: "TV A", price: "1 BYN"},
		item{id: "b", title: "TV B", price: "2 BYN"},
	)})
	runner := newRunner(&fakeLauncher{browser: browser}, store)

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Created != 1 || report.Skipped != 2 {
		t.Errorf("report = %+v", report)
	}
	if browser.Closes() != 1 {
		t.Errorf("browser closes = %d, want 1", browser.Closes())
	}
}

// --- Failure and Release Tests ---

func TestRun_LoadFailure(t *testing.T) {
	browser := newBrowser(nil)
	browser.loadErr = fmt.Errorf("navigate: %w", render.ErrAntiBot)
	runner := newRunner(&fakeLauncher{browser: browser}, newStore(t))

	report, err := runner.Run(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
	if !errors.Is(err, render.ErrAntiBot) {
		t.Errorf("error should keep the engine cause: %v", err)
	}
	if report.State != StateFailed || report.Error == "" {
		t.Errorf("report = %+v", report)
	}
	if runner.State() != StateFailed {
		t.Errorf("runner state = %s", runner.State())
	}
	if browser.Closes() != 1 {
		t.Errorf("browser closes = %d, want exactly 1", browser.Closes())
	}
}

func TestRun_LaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{launchErr: errors.New("chrome not found")}
	runner := newRunner(launcher, newStore(t))

	report, err := runner.Run(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
	if report.State != StateFailed {
		t.Errorf("State = %s", report.State)
	}
}

func TestRun_ReleasedOnceOnSuccess(t *testing.T) {
	browser := newBrowser(map[string]string{targetURL: listingPage("", item{id: "a", title: "A", price: "1 BYN"})})
	runner := newRunner(&fakeLauncher{browser: browser}, newStore(t))

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if browser.Closes() != 1 {
		t.Errorf("browser closes = %d, want exactly 1", browser.Closes())
	}
	if runner.State() != StateDone {
		t.Errorf("runner state = %s", runner.State())
	}
}

// --- Overlap Tests ---

func TestRun_RejectsOverlap(t *testing.T) {
	browser := newBrowser(map[string]string{targetURL: listingPage("", item{id: "a", title: "A", price: "1 BYN"})})
	browser.block = make(chan struct{})
	launcher := &fakeLauncher{browser: browser}
	runner := newRunner(launcher, newStore(t))

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runner.State() != StateFetching || !runner.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := runner.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("overlapping Run() error = %v, want ErrRunInProgress", err)
	}

	close(browser.block)
	if err := <-done; err != nil {
		t.Fatalf("first run error: %v", err)
	}
	if launcher.launches != 1 {
		t.Errorf("launches = %d, want 1", launcher.launches)
	}
}

// --- Challenge Tests ---

func TestRun_PassesItemSelectorToLoad(t *testing.T) {
	browser := newBrowser(map[string]string{
		targetURL: listingPage("", item{id: "a", title: "A", price: "1 BYN"}),
	})
	runner := newRunner(&fakeLauncher{browser: browser}, newStore(t))

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(browser.opts) != 1 || browser.opts[0].ItemSelector != "li.product" {
		t.Errorf("load options = %+v", browser.opts)
	}
}

func TestRun_CaptchaWidgetBesideItems(t *testing.T) {
	page := strings.Replace(
		listingPage("", item{id: "a", title: "A", price: "1 BYN"}, item{id: "b", title: "B", price: "2 BYN"}),
		"</body>",
		`<form class="feedback"><div class="g-recaptcha" data-sitekey="k"></div></form></body>`, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	launcher, err := render.NewLauncher(render.Config{Engine: render.EngineStatic})
	if err != nil {
		t.Fatal(err)
	}
	runner := newRunner(launcher, newStore(t), func(c *Config) { c.TargetURL = srv.URL + "/tv/" })

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.State != StateDone || report.Created != 2 {
		t.Errorf("report = %+v", report)
	}
}

// --- Pagination Tests ---

func TestRun_FollowsNextPage(t *testing.T) {
	page2 := "https://shop.example/ru/category/tv/?p=2"
	browser := newBrowser(map[string]string{
		targetURL: listingPage("?p=2", item{id: "a", title: "A", price: "1 BYN"}),
		page2:     listingPage(targetURL, item{id: "b", title: "B", price: "2 BYN"}),
	})
	runner := newRunner(&fakeLauncher{browser: browser}, newStore(t), func(c *Config) {
		c.NextPageSelector = "a.next"
		c.MaxPages = 5
	})

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Pages != 2 {
		t.Errorf("Pages = %d, want 2 (link back to page 1 must not loop)", report.Pages)
	}
	if report.Created != 2 {
		t.Errorf("Created = %d, want 2", report.Created)
	}
}

func TestRun_MaxPages(t *testing.T) {
	page2 := "https://shop.example/ru/category/tv/?p=2"
	browser := newBrowser(map[string]string{
		targetURL: listingPage("?p=2", item{id: "a", title: "A", price: "1 BYN"}),
		page2:     listingPage("?p=3", item{id: "b", title: "B", price: "2 BYN"}),
	})
	runner := newRunner(&fakeLauncher{browser: browser}, newStore(t), func(c *Config) {
		c.NextPageSelector = "a.next"
		c.MaxPages = 1
	})

	report, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Pages != 1 || len(browser.loaded) != 1 {
		t.Errorf("pages = %d, loads = %v", report.Pages, browser.loaded)
	}
}
