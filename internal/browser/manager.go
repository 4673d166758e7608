// Package browser owns the process-wide headless Chrome instance. One
// browser serves all fetches; pages are handed out one at a time and the
// manager recreates the browser when it stops answering.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"github.com/gleanerhq/gleaner/internal/logger"
)

var (
	// ErrShuttingDown is returned for page requests made after Shutdown.
	ErrShuttingDown = errors.New("browser manager shutting down")

	// ErrBrowserUnavailable is returned when no browser binary or virtual
	// display can be found, or the browser repeatedly fails to launch.
	ErrBrowserUnavailable = errors.New("browser unavailable")
)

const (
	healthProbeTimeout   = 5 * time.Second
	gracefulCloseTimeout = 2 * time.Second
	defaultPageTimeout   = 60 * time.Second
	defaultMaxPages      = 5
	defaultLaunchRetries = 3

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Config holds browser manager settings.
type Config struct {
	// BinaryPath overrides browser binary discovery when set.
	BinaryPath string

	// UserAgent is sent by the browser and drives the stealth platform.
	UserAgent string

	// Headful runs the browser against a virtual display instead of
	// headless mode. Requires Xvfb unless Display points at a running
	// X server.
	Headful bool

	// Display reuses an existing X display (":99") instead of launching
	// Xvfb. Only meaningful with Headful.
	Display string

	// PageTimeout caps each Page.Run call. Defaults to 60s.
	PageTimeout time.Duration

	// MaxPages is the open-page cap; extras are closed oldest-first,
	// keeping the first page and the last two. Defaults to 5.
	MaxPages int

	// AdvancedFingerprint randomises the per-page fingerprint surface
	// (screen, WebGL, canvas and audio noise, hardware profile, timezone)
	// instead of presenting one stock profile.
	AdvancedFingerprint bool

	// LaunchRetries is the number of browser launch attempts. Defaults
	// to 3, with 5s/10s backoff between attempts.
	LaunchRetries int

	// HandleSignals closes the browser on SIGINT/SIGTERM.
	HandleSignals bool
}

// Manager is the process-wide browser owner. The zero value is not usable;
// construct with New and call Shutdown when done.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	rng         *rand.Rand
	display     *virtualDisplay
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	pages       []*Page
	shutdown    bool
	sigStop     func()
}

// New creates a manager. The browser itself is launched lazily on first
// page request, or eagerly by Start.
func New(cfg Config) *Manager {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.PageTimeout == 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.LaunchRetries == 0 {
		cfg.LaunchRetries = defaultLaunchRetries
	}
	return &Manager{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid()))),
	}
}

// Start launches the browser eagerly and installs signal handlers when
// configured. Optional: NewPage performs the same initialisation lazily.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return ErrShuttingDown
	}
	if m.cfg.HandleSignals && m.sigStop == nil {
		m.watchSignalsLocked()
	}
	return m.ensureBrowserLocked(ctx)
}

// NewPage hands out a fresh page with the stealth script registered and the
// viewport matched to the drawn fingerprint. The browser is health-probed
// first and recreated if unresponsive.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, ErrShuttingDown
	}
	if err := m.ensureBrowserLocked(ctx); err != nil {
		return nil, err
	}
	if err := m.healthCheckLocked(ctx); err != nil {
		return nil, fmt.Errorf("browser health check: %w", err)
	}

	profile := newStealthProfile(m.rng, m.cfg.UserAgent, m.cfg.AdvancedFingerprint)
	pctx, pcancel := chromedp.NewContext(m.browserCtx)
	p := &Page{
		mgr:     m,
		ctx:     pctx,
		cancel:  pcancel,
		timeout: m.cfg.PageTimeout,
		profile: profile,
	}

	// The first Run creates the tab; the stealth script must be registered
	// here, before anything navigates the page.
	initCtx, cancel := context.WithTimeout(pctx, healthProbeTimeout)
	defer cancel()
	if err := chromedp.Run(initCtx,
		chromedp.EmulateViewport(int64(profile.ScreenWidth), int64(profile.ScreenHeight)),
		injectStealth(profile),
	); err != nil {
		pcancel()
		return nil, fmt.Errorf("preparing page: %w", err)
	}

	m.pages = append(m.pages, p)
	m.pruneExtraPagesLocked()
	return p, nil
}

// Healthy reports whether the browser is running and answering version
// queries. False when never started or shut down.
func (m *Manager) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown || m.browserCtx == nil {
		return false
	}
	return probeBrowser(m.browserCtx, healthProbeTimeout) == nil
}

// Shutdown closes all pages, the browser, and the virtual display.
// Idempotent; page requests after Shutdown fail with ErrShuttingDown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil
	}
	m.shutdown = true
	if m.sigStop != nil {
		m.sigStop()
		m.sigStop = nil
	}
	m.closeBrowserLocked()
	if m.display != nil {
		m.display.stop()
		m.display = nil
	}
	logger.Debug("browser manager shut down")
	return nil
}

func (m *Manager) ensureBrowserLocked(ctx context.Context) error {
	if m.browserCtx != nil {
		return nil
	}
	return m.launchLocked(ctx)
}

// launchLocked starts the browser with retries. Backoff between attempts is
// 5s then 10s; the protocol wait for the DevTools endpoint grows with each
// attempt (10/20/30 min) to ride out slow cold starts.
func (m *Manager) launchLocked(ctx context.Context) error {
	path, err := findChromeBinary(m.cfg.BinaryPath)
	if err != nil {
		return err
	}

	if m.cfg.Headful && m.cfg.Display == "" && m.display == nil {
		display, err := startVirtualDisplay(ctx, m.rng)
		if err != nil {
			return err
		}
		m.display = display
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.LaunchRetries; attempt++ {
		protocolTimeout := time.Duration(attempt) * 10 * time.Minute

		opts := append(chromedp.DefaultExecAllocatorOptions[:], StealthExecAllocatorOptions()...)
		opts = append(opts,
			chromedp.ExecPath(path),
			chromedp.UserAgent(m.cfg.UserAgent),
			chromedp.WSURLReadTimeout(protocolTimeout),
		)
		if m.cfg.Headful {
			displayEnv := "DISPLAY=" + m.cfg.Display
			if m.display != nil {
				displayEnv = m.display.env()
			}
			opts = append(opts,
				chromedp.Flag("headless", false),
				chromedp.ModifyCmdFunc(func(cmd *exec.Cmd) {
					cmd.Env = append(os.Environ(), displayEnv)
				}),
			)
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(func(format string, args ...any) {
				logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
			}),
		)

		if err := probeBrowser(browserCtx, protocolTimeout); err != nil {
			cancelBrowser()
			cancelAlloc()
			lastErr = err
			logger.Warn("browser launch attempt failed",
				"attempt", attempt,
				"max_attempts", m.cfg.LaunchRetries,
				"error", err)

			if attempt < m.cfg.LaunchRetries {
				backoff := time.Duration(attempt) * 5 * time.Second
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
			}
			continue
		}

		m.allocCancel = cancelAlloc
		m.browserCtx = browserCtx
		m.browserStop = cancelBrowser
		logger.Info("browser started",
			"binary", path,
			"attempt", attempt,
			"headful", m.cfg.Headful)
		return nil
	}

	return fmt.Errorf("%w: launch failed after %d attempts: %v", ErrBrowserUnavailable, m.cfg.LaunchRetries, lastErr)
}

// healthCheckLocked probes the browser and recreates it on failure.
func (m *Manager) healthCheckLocked(ctx context.Context) error {
	if err := probeBrowser(m.browserCtx, healthProbeTimeout); err != nil {
		logger.Warn("browser unresponsive, recreating", "error", err)
		m.closeBrowserLocked()
		return m.launchLocked(ctx)
	}
	return nil
}

// probeBrowser runs a version query against the browser with a hard
// deadline. The deadline cancels only the probe, not the browser.
func probeBrowser(browserCtx context.Context, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()
	return chromedp.Run(probeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		logger.Debug("browser version probe ok", "product", product)
		return nil
	}))
}

// closeBrowserLocked attempts a graceful close with a 2s deadline, then
// forces the allocator down.
func (m *Manager) closeBrowserLocked() {
	if m.browserCtx == nil {
		return
	}
	for _, p := range m.pages {
		p.cancel()
	}
	m.pages = nil

	browserCtx := m.browserCtx
	done := make(chan struct{})
	go func() {
		_ = chromedp.Cancel(browserCtx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(gracefulCloseTimeout):
		logger.Warn("graceful browser close timed out, forcing")
	}

	if m.browserStop != nil {
		m.browserStop()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.browserCtx = nil
	m.browserStop = nil
	m.allocCancel = nil
}

// extraPageIndexes returns the indexes to close when n pages exceed max:
// everything except the first page and the last two.
func extraPageIndexes(n, max int) []int {
	if n <= max {
		return nil
	}
	victims := make([]int, 0, n-3)
	for i := 1; i < n-2; i++ {
		victims = append(victims, i)
	}
	return victims
}

func (m *Manager) pruneExtraPagesLocked() {
	victims := extraPageIndexes(len(m.pages), m.cfg.MaxPages)
	if len(victims) == 0 {
		return
	}
	logger.Debug("closing excess pages", "open", len(m.pages), "closing", len(victims))
	n := len(m.pages)
	for _, p := range m.pages[1 : n-2] {
		p.cancel()
	}
	m.pages = []*Page{m.pages[0], m.pages[n-2], m.pages[n-1]}
}

func (m *Manager) watchSignalsLocked() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	stopped := make(chan struct{})
	m.sigStop = func() {
		signal.Stop(ch)
		close(stopped)
	}
	go func() {
		select {
		case sig := <-ch:
			logger.Info("signal received, closing browser", "signal", sig.String())
			_ = m.Shutdown(context.Background())
		case <-stopped:
		}
	}()
}

// Page is one browser tab. Pages are not safe for concurrent Run calls.
type Page struct {
	mgr     *Manager
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	profile stealthProfile
}

// Context exposes the underlying chromedp context for event listeners.
func (p *Page) Context() context.Context {
	return p.ctx
}

// Run executes actions against the page, capped at the page timeout and
// honouring caller cancellation.
func (p *Page) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Close releases the tab and removes it from the manager's open set.
func (p *Page) Close() {
	p.mgr.mu.Lock()
	for i, q := range p.mgr.pages {
		if q == p {
			p.mgr.pages = append(p.mgr.pages[:i], p.mgr.pages[i+1:]...)
			break
		}
	}
	p.mgr.mu.Unlock()
	p.cancel()
}
