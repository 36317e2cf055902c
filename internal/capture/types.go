// Package capture renders web pages in a shared headless browser and
// returns screenshots. A Manager owns the single recycled browser
// process; each capture runs in its own isolated browser context on
// top of it.
package capture

import (
	"fmt"
	"time"
)

// WaitStrategy names the page lifecycle event navigation waits for.
type WaitStrategy string

const (
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	WaitLoad             WaitStrategy = "load"
	WaitNetworkIdle      WaitStrategy = "networkidle"
)

// lifecycleEvent maps a strategy onto the CDP lifecycle event name.
func (w WaitStrategy) lifecycleEvent() string {
	switch w {
	case WaitDOMContentLoaded:
		return "DOMContentLoaded"
	case WaitNetworkIdle:
		return "networkIdle"
	default:
		return "load"
	}
}

// Valid reports whether w is a recognized strategy.
func (w WaitStrategy) Valid() bool {
	switch w {
	case WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle:
		return true
	}
	return false
}

// ImageFormat is the encoding of the returned screenshot.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
)

// Valid reports whether f is a recognized format.
func (f ImageFormat) Valid() bool {
	return f == FormatJPEG || f == FormatPNG
}

// ContentType returns the MIME type for the format.
func (f ImageFormat) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// ScrollMode controls pre-screenshot scrolling, used to trigger
// lazy-loaded content.
type ScrollMode string

const (
	ScrollNone  ScrollMode = "none"
	ScrollFixed ScrollMode = "fixed"
	ScrollAuto  ScrollMode = "auto"
)

// Viewport is the emulated browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Cookie is installed into the capture's browser context before
// navigation.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Request describes one capture. Zero values mean "use the service
// default" for every optional field.
type Request struct {
	URL string

	WaitUntil      WaitStrategy
	WaitMs         int
	TimeoutMs      int
	Viewport       Viewport
	FullPage       bool
	Format         ImageFormat
	Quality        int
	Scroll         ScrollMode
	ScrollOffsetPx int
	ScrollWait     time.Duration
	UserAgent      string
	Headers        map[string]string
	Cookies        []Cookie
}

// Result is a finished capture.
type Result struct {
	Image    []byte
	Format   ImageFormat
	FinalURL string
	LoadTime time.Duration
	Total    time.Duration
	Warnings []string
}

// Warning strings attached to otherwise successful captures.
const warnEmptyPage = "page_may_be_empty"

func warnHeightCapped(fullHeight int) string {
	return fmt.Sprintf("page_height_capped_from_%d", fullHeight)
}
