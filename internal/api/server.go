// Package api exposes the HTTP interface for the screenshot service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/capture"
	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/policy/admission"
	"github.com/pagelens/pagelens/internal/security"
)

// Capturer renders a page and returns the screenshot.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) (*capture.Result, error)
}

// URLValidator decides whether a target URL is safe to fetch.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// IDGenerator produces request identifiers.
type IDGenerator interface {
	NewID() string
}

// BrowserStatus reports the shared browser's state for /status.
type BrowserStatus interface {
	Running() bool
	Served() int
}

// Server wires HTTP handlers to the capture pipeline.
type Server struct {
	router    chi.Router
	capturer  Capturer
	validator URLValidator
	browser   BrowserStatus
	gate      *admission.Gate
	window    *admission.Window
	idGen     IDGenerator
	cfg       config.Config
	version   string
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	capturer Capturer,
	validator URLValidator,
	browser BrowserStatus,
	gate *admission.Gate,
	window *admission.Window,
	idGen IDGenerator,
	cfg config.Config,
	version string,
	logger *zap.Logger,
) *Server {
	metrics.Init()
	s := &Server{
		capturer:  capturer,
		validator: validator,
		browser:   browser,
		gate:      gate,
		window:    window,
		idGen:     idGen,
		cfg:       cfg,
		version:   version,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/", s.root)
	r.Get("/health", s.health)
	r.Get("/metrics", s.metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)
		r.Post("/screenshot", s.takeScreenshot)
		r.Get("/status", s.status)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "pagelens",
		"status":  "running",
		"version": s.version,
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"browser_running": s.browser.Running(),
		"captures_served": s.browser.Served(),
		"concurrency": map[string]int{
			"current":   s.gate.Current(),
			"max":       s.gate.Max(),
			"available": s.gate.Available(),
		},
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

type screenshotRequest struct {
	URL string `json:"url"`
}

func (s *Server) takeScreenshot(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r.Context())

	var body screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, capture.CodeInvalidRequest,
			"request body is not valid JSON", map[string]any{"errors": []string{err.Error()}})
		return
	}
	if errs := validateBody(body, s.cfg.Capture.MaxURLLength); len(errs) > 0 {
		s.writeError(w, r, http.StatusUnprocessableEntity, capture.CodeInvalidRequest,
			"request validation failed", map[string]any{"errors": errs})
		return
	}

	allowed, retryAfter := s.window.CheckAndRecord()
	if !allowed {
		metrics.ObserveRateLimited()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.writeError(w, r, http.StatusTooManyRequests, capture.CodeTooManyRequests,
			"rate limit exceeded, try again later", map[string]any{"retry_after": retryAfter})
		return
	}

	if !s.gate.TryAcquire() {
		metrics.ObserveRateLimited()
		w.Header().Set("Retry-After", "5")
		s.writeError(w, r, http.StatusTooManyRequests, capture.CodeTooManyRequests,
			"too many captures in progress, try again later", nil)
		return
	}
	defer s.gate.Release()
	metrics.IncCapturesInFlight()
	defer metrics.DecCapturesInFlight()

	if err := s.validator.Validate(r.Context(), body.URL); err != nil {
		if errors.Is(err, security.ErrBlocked) {
			s.writeError(w, r, http.StatusForbidden, capture.CodeForbidden,
				"target url is not allowed", nil)
			return
		}
		s.writeError(w, r, http.StatusBadRequest, capture.CodeInvalidRequest,
			"target url is invalid", nil)
		return
	}

	start := time.Now()
	result, err := s.capturer.Capture(r.Context(), s.captureProfile(body.URL))
	if err != nil {
		metrics.ObserveCapture("error", time.Since(start), 0)
		s.writeCaptureError(w, r, err)
		return
	}
	metrics.ObserveCapture("success", result.Total, len(result.Image))

	w.Header().Set("Content-Type", result.Format.ContentType())
	w.Header().Set("X-Request-Id", reqID)
	w.Header().Set("X-Final-Url", result.FinalURL)
	w.Header().Set("X-Load-Time-Ms", strconv.FormatInt(result.LoadTime.Milliseconds(), 10))
	w.Header().Set("X-Total-Time-Ms", strconv.FormatInt(result.Total.Milliseconds(), 10))
	if len(result.Warnings) > 0 {
		w.Header().Set("X-Warning", strings.Join(result.Warnings, ","))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Image); err != nil {
		s.logger.Error("write screenshot response", zap.Error(err))
	}
}

// captureProfile is the fixed rendering profile the endpoint uses. The
// request body only chooses the target; everything else is pinned so
// all captures come out comparable.
func (s *Server) captureProfile(url string) capture.Request {
	return capture.Request{
		URL:        url,
		WaitUntil:  capture.WaitDOMContentLoaded,
		WaitMs:     5000,
		TimeoutMs:  240000,
		Viewport: capture.Viewport{
			Width:  s.cfg.Capture.DefaultViewportWidth,
			Height: s.cfg.Capture.DefaultViewportHeight,
		},
		FullPage:   false,
		Format:     capture.FormatJPEG,
		Quality:    s.cfg.Capture.DefaultQuality,
		Scroll:     capture.ScrollAuto,
		ScrollWait: 1500 * time.Millisecond,
	}
}

func validateBody(body screenshotRequest, maxURLLength int) []string {
	var errs []string
	switch {
	case body.URL == "":
		errs = append(errs, "url is required")
	case len(body.URL) < 10:
		errs = append(errs, "url must be at least 10 characters")
	case len(body.URL) > maxURLLength:
		errs = append(errs, fmt.Sprintf("url must be at most %d characters", maxURLLength))
	case !strings.HasPrefix(body.URL, "http://") && !strings.HasPrefix(body.URL, "https://"):
		errs = append(errs, "url must start with http:// or https://")
	}
	return errs
}

// writeCaptureError maps a classified capture failure onto an HTTP
// status.
func (s *Server) writeCaptureError(w http.ResponseWriter, r *http.Request, err error) {
	var coded *capture.Error
	if !errors.As(err, &coded) {
		s.writeError(w, r, http.StatusInternalServerError, capture.CodeInternal,
			"internal server error", nil)
		return
	}
	status := http.StatusInternalServerError
	switch coded.Code {
	case capture.CodeInvalidRequest:
		status = http.StatusBadRequest
	case capture.CodeUnauthorized:
		status = http.StatusUnauthorized
	case capture.CodeForbidden:
		status = http.StatusForbidden
	case capture.CodeTooManyRequests:
		status = http.StatusTooManyRequests
	case capture.CodeTimeout:
		status = http.StatusRequestTimeout
	case capture.CodeBrowserUnavailable, capture.CodeUpstreamError:
		status = http.StatusInternalServerError
	}
	s.logger.Warn("capture failed",
		zap.String("request_id", requestID(r.Context())),
		zap.String("error_code", string(coded.Code)),
		zap.Error(err),
	)
	s.writeError(w, r, status, coded.Code, coded.Message, nil)
}

type errorResponse struct {
	ErrorCode string         `json:"error_code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	Details   map[string]any `json:"details,omitempty"`
}

func (s *Server) writeError(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	code capture.Code,
	message string,
	details map[string]any,
) {
	writeJSON(w, status, errorResponse{
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID(r.Context()),
		Details:   details,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

type requestIDKey struct{}

// requestID returns the request's ID, or empty when no middleware ran.
func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := s.idGen.NewID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		// Probes hit /health every few seconds; logging them drowns
		// out real traffic.
		if r.URL.Path == "/health" {
			return
		}
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
				)
				s.writeError(w, r, http.StatusInternalServerError, capture.CodeInternal,
					"internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-KEY")
		if key == "" || key != s.cfg.Auth.APIKey {
			s.writeError(w, r, http.StatusUnauthorized, capture.CodeUnauthorized,
				"missing or invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
