// Package main wires together the screenshot service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/api"
	"github.com/pagelens/pagelens/internal/capture"
	"github.com/pagelens/pagelens/internal/clock/system"
	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/id/uuid"
	"github.com/pagelens/pagelens/internal/logging"
	"github.com/pagelens/pagelens/internal/policy/admission"
	"github.com/pagelens/pagelens/internal/security"
)

const version = "1.0.0"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := capture.NewManager(capture.BrowserConfig{
		RecycleAfter: cfg.Browser.RecycleRequests,
	}, logger.Named("browser"))
	defer manager.Shutdown()

	service := capture.NewService(manager, capture.ServiceConfig{
		DefaultTimeout: cfg.DefaultTimeout(),
		DefaultWait:    time.Duration(cfg.Capture.DefaultWaitMs) * time.Millisecond,
		DefaultViewport: capture.Viewport{
			Width:  cfg.Capture.DefaultViewportWidth,
			Height: cfg.Capture.DefaultViewportHeight,
		},
		DefaultQuality:   cfg.Capture.DefaultQuality,
		MaxPageHeight:    cfg.Capture.MaxScreenshotHeight,
		OperationTimeout: cfg.OperationTimeout(),
	}, logger.Named("capture"))

	validator := security.NewValidator(cfg.AllowedDomains(), nil)
	gate := admission.NewGate(cfg.Admission.MaxConcurrency)
	window := admission.NewWindow(cfg.Admission.RateLimitPerMinute, system.New())
	idGen := uuid.New()

	// Warm the browser so the first capture does not pay startup cost.
	// Failure is not fatal; the manager relaunches on demand.
	if err := manager.Warmup(ctx); err != nil {
		logger.Warn("browser warmup failed", zap.Error(err))
	}

	apiServer := api.NewServer(service, validator, manager, gate, window, idGen, cfg, version, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
