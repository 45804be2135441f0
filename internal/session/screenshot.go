package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Viewport is a device metrics override.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor" yaml:"device_scale_factor"`
	Mobile            bool    `json:"mobile" yaml:"mobile"`
}

func (v Viewport) params() map[string]any {
	scale := v.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	return map[string]any{
		"width":             v.Width,
		"height":            v.Height,
		"deviceScaleFactor": scale,
		"mobile":            v.Mobile,
	}
}

// Clip is a screenshot region in CSS pixels.
type Clip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// ScreenshotOptions selects the image format and region.
type ScreenshotOptions struct {
	// Format is png (default), jpeg or webp.
	Format string
	// Quality applies to jpeg and webp, 0-100.
	Quality int
	Clip    *Clip
	// FullPage captures the whole scrollable document.
	FullPage bool
}

// SetViewport overrides the device metrics for the session's target.
func (s *Session) SetViewport(ctx context.Context, vp Viewport) error {
	if vp.Width <= 0 || vp.Height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", vp.Width, vp.Height)
	}
	if err := s.Call(ctx, "Emulation.setDeviceMetricsOverride", vp.params(), nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.viewport = &vp
	s.mu.Unlock()
	return nil
}

// Screenshot captures the target and returns the decoded image bytes.
func (s *Session) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	switch opts.Format {
	case "":
		opts.Format = "png"
	case "png", "jpeg", "webp":
	default:
		return nil, fmt.Errorf("unsupported screenshot format %q", opts.Format)
	}

	params := map[string]any{"format": opts.Format}
	if opts.Quality > 0 && opts.Format != "png" {
		params["quality"] = opts.Quality
	}
	if c := opts.Clip; c != nil {
		scale := c.Scale
		if scale <= 0 {
			scale = 1
		}
		params["clip"] = map[string]any{"x": c.X, "y": c.Y, "width": c.Width, "height": c.Height, "scale": scale}
	}

	if opts.FullPage {
		restore, err := s.expandToContent(ctx)
		if err != nil {
			return nil, err
		}
		defer restore()
		params["captureBeyondViewport"] = true
	}

	var res struct {
		Data string `json:"data"`
	}
	if err := s.Call(ctx, "Page.captureScreenshot", params, &res); err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// expandToContent sizes the viewport to the document and returns a func that
// puts back the previous metrics.
func (s *Session) expandToContent(ctx context.Context) (func(), error) {
	type size struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	var metrics struct {
		ContentSize    size  `json:"contentSize"`
		CSSContentSize *size `json:"cssContentSize"`
	}
	if err := s.Call(ctx, "Page.getLayoutMetrics", nil, &metrics); err != nil {
		return nil, err
	}
	content := metrics.ContentSize
	if metrics.CSSContentSize != nil {
		content = *metrics.CSSContentSize
	}

	full := Viewport{
		Width:             int(math.Ceil(content.Width)),
		Height:            int(math.Ceil(content.Height)),
		DeviceScaleFactor: 1,
	}
	s.mu.Lock()
	prev := s.viewport
	s.mu.Unlock()
	if prev != nil {
		full.DeviceScaleFactor = prev.DeviceScaleFactor
		full.Mobile = prev.Mobile
	}
	if err := s.Call(ctx, "Emulation.setDeviceMetricsOverride", full.params(), nil); err != nil {
		return nil, err
	}

	return func() {
		// Restore even if the caller's context has ended.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		var err error
		if prev != nil {
			err = s.Call(rctx, "Emulation.setDeviceMetricsOverride", prev.params(), nil)
		} else {
			err = s.Call(rctx, "Emulation.clearDeviceMetricsOverride", nil, nil)
		}
		if err != nil {
			s.log.Warn("failed to restore viewport", zap.Error(err))
		}
	}, nil
}
