package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Identity the service presents by default: a current desktop Chrome
// on Windows, with the client-hint headers Chrome sends alongside it.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var defaultHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
	"Accept-Encoding":           "gzip, deflate, br, zstd",
	"Accept-Language":           "en-US,en;q=0.9",
	"Sec-Ch-Ua":                 `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
	"Sec-Ch-Ua-Mobile":          "?0",
	"Sec-Ch-Ua-Platform":        `"Windows"`,
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Upgrade-Insecure-Requests": "1",
}

// File types that trigger a download instead of a render. Requests for
// them are aborted so no capture ever writes to disk.
var downloadPatterns = []string{"*.pdf", "*.zip", "*.exe", "*.dmg"}

// disposeTimeout bounds the context-disposal CDP call during teardown.
// A wedged browser must not hang Close, which would hold the caller's
// concurrency slot forever.
const disposeTimeout = 5 * time.Second

// session is one capture's private slice of the shared browser: a
// dedicated CDP browser context (separate cookies, cache, storage) and
// a single tab inside it.
type session struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	browser   context.Context
	contextID cdp.BrowserContextID
}

// newSession creates an isolated browser context on the shared browser
// and opens a blank tab in it.
func newSession(ctx context.Context, browserCtx context.Context) (*session, error) {
	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		return nil, fmt.Errorf("browser not connected")
	}
	execCtx := cdp.WithExecutor(ctx, c.Browser)

	contextID, err := target.CreateBrowserContext().
		WithDisposeOnDetach(true).
		Do(execCtx)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(contextID).
		Do(execCtx)
	if err != nil {
		disposeErr := target.DisposeBrowserContext(contextID).Do(execCtx)
		if disposeErr != nil {
			zap.L().Warn("dispose browser context after failed target create",
				zap.Error(disposeErr))
		}
		return nil, fmt.Errorf("create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(targetID))
	return &session{
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		browser:   browserCtx,
		contextID: contextID,
	}, nil
}

// Close tears the tab down and then disposes the browser context. Both
// steps are best-effort: a half-dead browser must not leak the other
// half of the cleanup.
func (s *session) Close() {
	s.tabCancel()

	c := chromedp.FromContext(s.browser)
	if c == nil || c.Browser == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	execCtx := cdp.WithExecutor(ctx, c.Browser)
	if err := target.DisposeBrowserContext(s.contextID).Do(execCtx); err != nil {
		zap.L().Debug("dispose browser context", zap.Error(err))
	}
}

// configure prepares the tab for navigation: viewport, identity
// headers, stealth script, cookies, and download blocking.
func (s *session) configure(req Request) error {
	headers := network.Headers{}
	for k, v := range defaultHeaders {
		headers[k] = v
	}
	for k, v := range req.Headers {
		headers[k] = v
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	actions := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		emulation.SetUserAgentOverride(userAgent).WithPlatform("Win32"),
		emulation.SetAutomationOverride(false),
		emulation.SetDeviceMetricsOverride(
			int64(req.Viewport.Width), int64(req.Viewport.Height), 1, false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		s.blockDownloadsAction(),
	}
	for _, c := range req.Cookies {
		actions = append(actions, setCookieAction(c))
	}

	if err := chromedp.Run(s.tabCtx, actions...); err != nil {
		return fmt.Errorf("configure tab: %w", err)
	}
	return nil
}

// blockDownloadsAction enables fetch interception for download-typed
// URLs only and aborts every request that matches. Non-matching
// traffic is never paused.
func (s *session) blockDownloadsAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		patterns := make([]*fetch.RequestPattern, 0, len(downloadPatterns))
		for _, p := range downloadPatterns {
			patterns = append(patterns, &fetch.RequestPattern{
				URLPattern:   p,
				RequestStage: fetch.RequestStageRequest,
			})
		}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable fetch interception: %w", err)
		}

		chromedp.ListenTarget(s.tabCtx, func(ev any) {
			e, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go func() {
				c := chromedp.FromContext(s.tabCtx)
				if c == nil {
					return
				}
				execCtx := cdp.WithExecutor(s.tabCtx, c.Target)
				err := fetch.FailRequest(e.RequestID, network.ErrorReasonAborted).Do(execCtx)
				if err != nil {
					zap.L().Debug("abort download request",
						zap.String("url", e.Request.URL), zap.Error(err))
				}
			}()
		})
		return nil
	})
}

func setCookieAction(c Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		p := network.SetCookie(c.Name, c.Value)
		if c.Domain != "" {
			p = p.WithDomain(c.Domain)
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		p = p.WithPath(path)
		if c.Secure {
			p = p.WithSecure(true)
		}
		if c.HTTPOnly {
			p = p.WithHTTPOnly(true)
		}
		if err := p.Do(ctx); err != nil {
			return fmt.Errorf("set cookie %q: %w", c.Name, err)
		}
		return nil
	})
}
