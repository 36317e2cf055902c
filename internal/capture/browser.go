package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/metrics"
)

// BrowserConfig controls the shared browser process.
type BrowserConfig struct {
	// RecycleAfter is the number of captures a browser serves before
	// it is torn down and relaunched.
	RecycleAfter int
	// LaunchTimeout bounds a single launch attempt.
	LaunchTimeout time.Duration
	// ExtraFlags are appended to the hardened launch flag set.
	ExtraFlags map[string]any
}

// launchFunc starts a browser and returns its context plus a cancel
// that tears the whole process down. Tests substitute a fake.
type launchFunc func(ctx context.Context) (context.Context, context.CancelFunc, error)

// probeFunc reports whether the browser behind browserCtx still
// responds.
type probeFunc func(ctx context.Context, browserCtx context.Context) error

// Manager owns the single shared browser process. It launches lazily,
// relaunches on failure, and recycles the process after a fixed number
// of captures so memory leaks in long-lived renderers never accumulate.
type Manager struct {
	cfg    BrowserConfig
	logger *zap.Logger

	launch launchFunc
	probe  probeFunc

	mu         sync.Mutex
	browserCtx context.Context
	cancel     context.CancelFunc
	served     int
	tainted    bool
}

// NewManager creates a Manager. The browser is not launched until the
// first Acquire or Warmup call.
func NewManager(cfg BrowserConfig, logger *zap.Logger) *Manager {
	if cfg.RecycleAfter <= 0 {
		cfg.RecycleAfter = 50
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}
	metrics.Init()
	m := &Manager{
		cfg:    cfg,
		logger: logger,
	}
	m.launch = m.launchChrome
	m.probe = probeChrome
	return m
}

// Flags Chrome is launched with. Sandboxing is off because the service
// runs in a container; the remaining flags trim background work that
// skews screenshots and keep automation banners out of the rendering.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-ipc-flooding-protection", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	for name, value := range m.cfg.ExtraFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// launchChrome starts a new Chrome process and connects to it.
func (m *Manager) launchChrome(ctx context.Context) (context.Context, context.CancelFunc, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		browserCancel()
		allocCancel()
	}

	launchCtx, launchCancel := context.WithTimeout(ctx, m.cfg.LaunchTimeout)
	defer launchCancel()

	// An empty Run forces the process to start and the CDP session to
	// come up before the first capture relies on it.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("launch browser: %w", err)
	}
	select {
	case <-launchCtx.Done():
		cancel()
		return nil, nil, fmt.Errorf("launch browser: %w", launchCtx.Err())
	default:
	}
	return browserCtx, cancel, nil
}

// probeChrome asks the browser for its version over CDP. Any error
// means the process is gone or the connection is wedged.
func probeChrome(ctx context.Context, browserCtx context.Context) error {
	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		return fmt.Errorf("browser not connected")
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	execCtx := cdp.WithExecutor(probeCtx, c.Browser)
	_, _, _, _, _, err := cdpbrowser.GetVersion().Do(execCtx)
	if err != nil {
		return fmt.Errorf("browser probe: %w", err)
	}
	return nil
}

// Warmup launches the browser eagerly so the first capture does not
// pay the startup cost.
func (m *Manager) Warmup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx)
}

// Acquire returns the shared browser context, launching or recycling
// the process first when needed, and counts the caller against the
// recycle threshold.
func (m *Manager) Acquire(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browserCtx != nil && m.served >= m.cfg.RecycleAfter {
		m.logger.Info("recycling browser",
			zap.Int("served", m.served),
			zap.Int("recycle_after", m.cfg.RecycleAfter),
		)
		m.teardownLocked()
		metrics.ObserveBrowserRecycle()
	}

	if err := m.ensureLocked(ctx); err != nil {
		return nil, err
	}
	m.served++
	return m.browserCtx, nil
}

// ensureLocked makes sure a live browser exists. Callers hold m.mu.
func (m *Manager) ensureLocked(ctx context.Context) error {
	if m.browserCtx != nil && !m.tainted {
		if err := m.probe(ctx, m.browserCtx); err == nil {
			return nil
		}
		m.logger.Warn("browser probe failed, relaunching")
		m.teardownLocked()
	}
	if m.browserCtx != nil && m.tainted {
		m.logger.Warn("browser marked unusable, relaunching")
		m.teardownLocked()
	}

	browserCtx, cancel, err := m.launch(ctx)
	if err != nil {
		return newError(CodeBrowserUnavailable, "browser launch failed", err)
	}
	m.browserCtx = browserCtx
	m.cancel = cancel
	m.served = 0
	m.tainted = false
	metrics.ObserveBrowserLaunch()
	m.logger.Info("browser launched")
	return nil
}

// Invalidate marks the current browser as unusable so the next Acquire
// relaunches it. Capture paths call this when an error indicates the
// process died mid-flight.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browserCtx != nil {
		m.tainted = true
	}
}

// Served reports how many captures the current browser has handled.
func (m *Manager) Served() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served
}

// Running reports whether a browser process is currently up.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browserCtx != nil && !m.tainted
}

// Shutdown tears the browser down for good.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.browserCtx = nil
	m.cancel = nil
	m.served = 0
	m.tainted = false
}
