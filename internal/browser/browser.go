// Package browser opens pages in headless Chrome through chromedp.
//
// Every Open call gets its own allocator and tab so attempts never share
// cookies or state. The returned page must be closed; closing it tears down
// the Chrome process.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/pfrederiksen/local-events/internal/logger"
	"github.com/pfrederiksen/local-events/internal/scraper"
)

const (
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	DefaultViewportWidth     = 1920
	DefaultViewportHeight    = 1080
	DefaultLaunchTimeout     = 30 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
	DefaultActionTimeout     = 10 * time.Second
)

var (
	// ErrBadStatus is returned when the main document response is missing or
	// not 2xx. The concrete error is a *scraper.StatusError.
	ErrBadStatus = scraper.ErrBadStatus
	// ErrLaunchTimeout is returned when Chrome does not start in time.
	ErrLaunchTimeout = errors.New("browser launch timed out")
	// ErrNoNode is returned by Click when nothing matches the selector.
	ErrNoNode = errors.New("no matching element")
)

// Options configures the browser fingerprint and timeouts.
type Options struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	Headless          bool
	ExecPath          string
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// DefaultOptions returns a headless desktop Chrome profile.
func DefaultOptions() Options {
	return Options{
		UserAgent:         DefaultUserAgent,
		ViewportWidth:     DefaultViewportWidth,
		ViewportHeight:    DefaultViewportHeight,
		Headless:          true,
		LaunchTimeout:     DefaultLaunchTimeout,
		NavigationTimeout: DefaultNavigationTimeout,
		ActionTimeout:     DefaultActionTimeout,
	}
}

// Browser opens isolated pages.
type Browser struct {
	opts Options
	log  *logger.Logger
}

// New creates a Browser. Zero option fields fall back to defaults.
func New(opts Options, log *logger.Logger) *Browser {
	def := DefaultOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = def.ViewportWidth, def.ViewportHeight
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = def.LaunchTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = def.ActionTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	return &Browser{opts: opts, log: log.With(logger.Fields{"component": "browser"})}
}

// Open launches Chrome, navigates to rawURL and returns the loaded page.
// Launch and navigation are bounded separately. A non-2xx main document
// closes the page and returns ErrBadStatus.
func (b *Browser) Open(ctx context.Context, rawURL string) (scraper.Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(b.opts.UserAgent),
		chromedp.WindowSize(b.opts.ViewportWidth, b.opts.ViewportHeight),
	)
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	p := &Page{
		ctx:    tabCtx,
		opts:   b.opts,
		cancel: func() { tabCancel(); allocCancel() },
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	start := time.Now()
	if err := p.launch(ctx); err != nil {
		p.Close()
		return nil, err
	}
	b.log.Debug("Browser launched", logger.Fields{"duration_ms": time.Since(start).Milliseconds()})

	if err := p.navigate(rawURL); err != nil {
		p.Close()
		return nil, err
	}

	status := p.Status()
	if status < 200 || status > 299 {
		p.Close()
		return nil, &scraper.StatusError{Code: status, URL: rawURL}
	}
	b.log.Debug("Page loaded", logger.Fields{"url": p.URL(), "status": status})
	return p, nil
}

// Page is a chromedp tab implementing scraper.Page.
type Page struct {
	ctx    context.Context
	opts   Options
	cancel context.CancelFunc

	mu        sync.Mutex
	status    int
	url       string
	closeOnce sync.Once
}

var _ scraper.Page = (*Page)(nil)

// onEvent records the first document response, which is the main frame.
func (p *Page) onEvent(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != 0 {
		return
	}
	p.status = int(e.Response.Status)
	p.url = e.Response.URL
}

// launch starts Chrome. The first Run on a tab context owns the browser, so
// it cannot carry a timeout; the bound is enforced from outside instead.
func (p *Page) launch(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(p.ctx, network.Enable()) }()

	timer := time.NewTimer(p.opts.LaunchTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		return nil
	case <-timer.C:
		return ErrLaunchTimeout
	case <-ctx.Done():
		return fmt.Errorf("launching browser: %w", ctx.Err())
	}
}

func (p *Page) navigate(rawURL string) error {
	navCtx, cancel := context.WithTimeout(p.ctx, p.opts.NavigationTimeout)
	defer cancel()

	var location string
	if err := chromedp.Run(navCtx, chromedp.Navigate(rawURL), chromedp.Location(&location)); err != nil {
		return fmt.Errorf("navigating to %s: %w", rawURL, err)
	}
	p.mu.Lock()
	if location != "" {
		p.url = location
	}
	p.mu.Unlock()
	return nil
}

// run executes actions bounded by timeout and by the caller's ctx.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// URL implements scraper.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Status implements scraper.Page.
func (p *Page) Status() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// WaitVisible implements scraper.Page.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("waiting for %q: %w", selector, err)
	}
	return nil
}

// Click implements scraper.Page. It does not wait for the element to appear.
func (p *Page) Click(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return fmt.Errorf("finding %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", ErrNoNode, selector)
	}
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.MouseClickNode(nodes[0])); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

// HTML implements scraper.Page.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	return html, nil
}

// FrameHTML implements scraper.Page by loading the first iframe's source in
// this tab. The page URL follows the frame afterwards.
func (p *Page) FrameHTML(ctx context.Context) (string, error) {
	var nodes []*cdp.Node
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Nodes("iframe[src]", &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return "", fmt.Errorf("finding iframe: %w", err)
	}
	if len(nodes) == 0 {
		return "", scraper.ErrNoFrame
	}
	src := strings.TrimSpace(nodes[0].AttributeValue("src"))
	if src == "" || strings.HasPrefix(src, "about:") {
		return "", scraper.ErrNoFrame
	}
	if base, err := url.Parse(p.URL()); err == nil {
		if ref, err := url.Parse(src); err == nil {
			src = base.ResolveReference(ref).String()
		}
	}

	if err := p.run(ctx, p.opts.NavigationTimeout, chromedp.Navigate(src)); err != nil {
		return "", fmt.Errorf("loading iframe %s: %w", src, err)
	}
	p.mu.Lock()
	p.url = src
	p.mu.Unlock()
	return p.HTML(ctx)
}

// Close implements scraper.Page.
func (p *Page) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
