package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ServiceConfig holds per-capture defaults and hard limits.
type ServiceConfig struct {
	DefaultTimeout   time.Duration
	DefaultWait      time.Duration
	DefaultViewport  Viewport
	DefaultQuality   int
	MaxPageHeight    int
	OperationTimeout time.Duration
}

// Service runs captures against the Manager's shared browser.
type Service struct {
	manager *Manager
	cfg     ServiceConfig
	logger  *zap.Logger
}

// NewService creates a capture Service.
func NewService(manager *Manager, cfg ServiceConfig, logger *zap.Logger) *Service {
	return &Service{manager: manager, cfg: cfg, logger: logger}
}

// withDefaults fills unset request fields from service defaults.
func (s *Service) withDefaults(req Request) Request {
	if req.WaitUntil == "" {
		req.WaitUntil = WaitLoad
	}
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = int(s.cfg.DefaultTimeout / time.Millisecond)
	}
	if req.WaitMs == 0 {
		req.WaitMs = int(s.cfg.DefaultWait / time.Millisecond)
	}
	if req.WaitMs < 0 {
		req.WaitMs = 0
	}
	if req.Viewport.Width <= 0 {
		req.Viewport.Width = s.cfg.DefaultViewport.Width
	}
	if req.Viewport.Height <= 0 {
		req.Viewport.Height = s.cfg.DefaultViewport.Height
	}
	if req.Format == "" {
		req.Format = FormatJPEG
	}
	if req.Quality <= 0 {
		req.Quality = s.cfg.DefaultQuality
	}
	if req.Scroll == "" {
		req.Scroll = ScrollNone
	}
	if req.Scroll == ScrollAuto && req.ScrollWait <= 0 {
		req.ScrollWait = 1500 * time.Millisecond
	}
	return req
}

// Capture renders req.URL and returns a screenshot. The error, if any,
// is always a *Error with a code the transport layer can map.
func (s *Service) Capture(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	req = s.withDefaults(req)

	opCtx, opCancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer opCancel()

	browserCtx, err := s.manager.Acquire(opCtx)
	if err != nil {
		return nil, classify(err, "acquire browser")
	}

	sess, err := newSession(opCtx, browserCtx)
	if err != nil {
		s.invalidateIfClosed(err)
		return nil, classify(err, "open capture session")
	}
	defer sess.Close()

	runCtx, runCancel := context.WithTimeout(sess.tabCtx,
		time.Duration(req.TimeoutMs)*time.Millisecond)
	defer runCancel()

	if err := sess.configure(req); err != nil {
		s.invalidateIfClosed(err)
		return nil, classify(err, "configure capture")
	}

	navStart := time.Now()
	finalURL, err := navigateAndWait(runCtx, req.URL, req.WaitUntil)
	if err != nil {
		s.invalidateIfClosed(err)
		return nil, classify(err, "navigate")
	}
	loadTime := time.Since(navStart)

	if req.WaitMs > 0 {
		if err := chromedp.Run(runCtx,
			chromedp.Sleep(time.Duration(req.WaitMs)*time.Millisecond)); err != nil {
			s.invalidateIfClosed(err)
			return nil, classify(err, "post-load wait")
		}
	}

	switch req.Scroll {
	case ScrollFixed:
		err = fixedScroll(runCtx, req.ScrollOffsetPx)
	case ScrollAuto:
		err = autoScroll(runCtx, req.ScrollWait)
	}
	if err != nil {
		s.invalidateIfClosed(err)
		return nil, classify(err, "scroll")
	}

	var warnings []string
	empty, err := pageBodyEmpty(runCtx)
	if err == nil && empty {
		warnings = append(warnings, warnEmptyPage)
	}

	img, capWarnings, err := s.screenshot(runCtx, req)
	if err != nil {
		s.invalidateIfClosed(err)
		return nil, classify(err, "screenshot")
	}
	warnings = append(warnings, capWarnings...)

	s.logger.Info("capture complete",
		zap.String("url", req.URL),
		zap.String("final_url", finalURL),
		zap.Duration("load_time", loadTime),
		zap.Duration("total_time", time.Since(start)),
		zap.Int("image_bytes", len(img)),
		zap.Strings("warnings", warnings),
	)

	return &Result{
		Image:    img,
		Format:   req.Format,
		FinalURL: finalURL,
		LoadTime: loadTime,
		Total:    time.Since(start),
		Warnings: warnings,
	}, nil
}

func (s *Service) invalidateIfClosed(err error) {
	if isClosed(err) {
		s.logger.Warn("browser connection lost during capture", zap.Error(err))
		s.manager.Invalidate()
	}
}

// navigateAndWait starts navigation and blocks until the requested
// lifecycle event fires for the navigated frame and loader, then
// reports the frame's final URL after redirects. Matching on both IDs
// keeps stale events from the tab's initial about:blank document from
// ending the wait early, since that document shares the main frame ID.
func navigateAndWait(ctx context.Context, url string, strategy WaitStrategy) (string, error) {
	eventName := strategy.lifecycleEvent()

	var (
		mu        sync.Mutex
		navigated bool
		frameID   cdp.FrameID
		loaderID  cdp.LoaderID
		pending   []*page.EventLifecycleEvent
		once      sync.Once
	)
	loaded := make(chan struct{})
	matches := func(e *page.EventLifecycleEvent) bool {
		return lifecycleMatch(e, eventName, frameID, loaderID)
	}

	lctx, lcancel := context.WithCancel(ctx)
	defer lcancel()
	chromedp.ListenTarget(lctx, func(ev any) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok {
			return
		}
		mu.Lock()
		if !navigated {
			// Navigate has not returned its loader ID yet; hold the
			// event so it can be re-checked once we know it.
			pending = append(pending, e)
			mu.Unlock()
			return
		}
		match := matches(e)
		mu.Unlock()
		if match {
			once.Do(func() { close(loaded) })
		}
	})

	err := chromedp.Run(ctx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(cctx context.Context) error {
			fid, lid, errText, _, err := page.Navigate(url).Do(cctx)
			if err != nil {
				return err
			}
			if errText != "" {
				return fmt.Errorf("navigation failed: %s", errText)
			}
			mu.Lock()
			navigated = true
			frameID, loaderID = fid, lid
			match := false
			for _, e := range pending {
				if matches(e) {
					match = true
				}
			}
			pending = nil
			mu.Unlock()
			if match {
				once.Do(func() { close(loaded) })
			}
			return nil
		}),
	)
	if err != nil {
		return "", err
	}

	select {
	case <-loaded:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var finalURL string
	if err := chromedp.Run(ctx, chromedp.Location(&finalURL)); err != nil {
		return "", err
	}
	return finalURL, nil
}

// lifecycleMatch reports whether e signals the wanted event for the
// navigation identified by frameID and loaderID.
func lifecycleMatch(e *page.EventLifecycleEvent, eventName string, frameID cdp.FrameID, loaderID cdp.LoaderID) bool {
	return e.Name == eventName && e.FrameID == frameID && e.LoaderID == loaderID
}

const scrollSteps = 5

// fixedScroll moves the page down by a fixed pixel offset once, then
// lets the layout settle.
func fixedScroll(ctx context.Context, offsetPx int) error {
	return chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, offsetPx), nil),
		chromedp.Sleep(200*time.Millisecond),
	)
}

// autoScroll steps through the whole document to trigger lazy-loaded
// content and returns to the top before the screenshot. The step size
// comes from the measured page height so tall pages are fully
// traversed within the same number of steps.
func autoScroll(ctx context.Context, total time.Duration) error {
	var pageHeight float64
	err := chromedp.Run(ctx, chromedp.Evaluate(
		`document.body ? document.body.scrollHeight : 0`, &pageHeight))
	if err != nil {
		return err
	}

	stepDelay := total / scrollSteps
	scripts := scrollScripts(int(pageHeight))
	actions := make([]chromedp.Action, 0, len(scripts)*2)
	for _, script := range scripts[:len(scripts)-1] {
		actions = append(actions,
			chromedp.Evaluate(script, nil),
			chromedp.Sleep(stepDelay),
		)
	}
	actions = append(actions,
		chromedp.Evaluate(scripts[len(scripts)-1], nil),
		chromedp.Sleep(200*time.Millisecond),
	)
	return chromedp.Run(ctx, actions...)
}

// scrollScripts returns the expressions autoScroll runs: equal
// downward steps covering pageHeight, then a jump back to the top.
func scrollScripts(pageHeight int) []string {
	step := pageHeight / scrollSteps
	scripts := make([]string, 0, scrollSteps+1)
	for i := 0; i < scrollSteps; i++ {
		scripts = append(scripts, fmt.Sprintf(`window.scrollBy(0, %d)`, step))
	}
	return append(scripts, `window.scrollTo(0, 0)`)
}

// pageBodyEmpty reports whether the rendered body is too short to be a
// real page, which usually means a blocked or failed render. The
// rendered bounding box is measured rather than scrollHeight, which
// can report a nonzero value for a body with no visible content.
func pageBodyEmpty(ctx context.Context) (bool, error) {
	var height float64
	err := chromedp.Run(ctx, chromedp.Evaluate(
		`document.body ? document.body.getBoundingClientRect().height : 0`, &height))
	if err != nil {
		return false, err
	}
	return height < 100, nil
}

// screenshot captures the page. Full-page captures measure the content
// and clip to it; a page taller than MaxPageHeight falls back to a
// viewport capture with a warning.
func (s *Service) screenshot(ctx context.Context, req Request) ([]byte, []string, error) {
	var (
		img      []byte
		warnings []string
	)
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		shot := page.CaptureScreenshot().
			WithFromSurface(true).
			WithFormat(captureFormat(req.Format))
		if req.Format == FormatJPEG {
			shot = shot.WithQuality(int64(req.Quality))
		}

		if req.FullPage {
			_, _, contentSize, _, _, _, err := page.GetLayoutMetrics().Do(cctx)
			if err != nil {
				return fmt.Errorf("layout metrics: %w", err)
			}
			if contentSize == nil || contentSize.Width <= 0 || contentSize.Height <= 0 {
				return fmt.Errorf("layout metrics returned no content size")
			}
			clip, warning := fullPageClip(contentSize.Width, contentSize.Height, s.cfg.MaxPageHeight)
			if warning != "" {
				warnings = append(warnings, warning)
			}
			if clip != nil {
				shot = shot.
					WithCaptureBeyondViewport(true).
					WithClip(clip)
			}
		}

		buf, err := shot.Do(cctx)
		if err != nil {
			return err
		}
		img = buf
		return nil
	}))
	if err != nil {
		return nil, nil, err
	}
	return img, warnings, nil
}

// fullPageClip decides how a full-page request is captured: clip to
// the measured content when it fits under maxHeight, or degrade to a
// plain viewport capture with a warning when the page is taller. A nil
// clip means viewport capture.
func fullPageClip(contentWidth, contentHeight float64, maxHeight int) (*page.Viewport, string) {
	fullHeight := int(math.Ceil(contentHeight))
	if fullHeight > maxHeight {
		return nil, warnHeightCapped(fullHeight)
	}
	return &page.Viewport{
		X:      0,
		Y:      0,
		Width:  contentWidth,
		Height: contentHeight,
		Scale:  1,
	}, ""
}

func captureFormat(f ImageFormat) page.CaptureScreenshotFormat {
	if f == FormatPNG {
		return page.CaptureScreenshotFormatPng
	}
	return page.CaptureScreenshotFormatJpeg
}
