package handlers

import (
	"context"
	"strings"

	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// Device is one emulation preset: viewport, pixel ratio, touch, and user
// agent.
type Device struct {
	Name       string  `json:"name"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelRatio float64 `json:"pixel_ratio"`
	Mobile     bool    `json:"mobile"`
	Touch      bool    `json:"touch"`
	UserAgent  string  `json:"user_agent,omitempty"`
}

// devicePresets is the built-in device table.
var devicePresets = []Device{
	{Name: "Desktop", Width: 1920, Height: 1080, PixelRatio: 1},
	{Name: "iPhone 14", Width: 390, Height: 844, PixelRatio: 3, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"},
	{Name: "iPhone SE", Width: 375, Height: 667, PixelRatio: 2, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"},
	{Name: "iPad Pro", Width: 1024, Height: 1366, PixelRatio: 2, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"},
	{Name: "Pixel 7", Width: 412, Height: 915, PixelRatio: 2.625, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"},
	{Name: "Galaxy S23", Width: 360, Height: 780, PixelRatio: 3, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (Linux; Android 14; SM-S911B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"},
	{Name: "Tablet", Width: 768, Height: 1024, PixelRatio: 2, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"},
	{Name: "4K Display", Width: 3840, Height: 2160, PixelRatio: 1},
}

// DeviceByName finds a preset case-insensitively.
func DeviceByName(name string) (Device, bool) {
	for _, d := range devicePresets {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return Device{}, false
}

// Devices lists the built-in presets.
func (h *H) Devices() []Device {
	out := make([]Device, len(devicePresets))
	copy(out, devicePresets)
	return out
}

// EmulateParams pick a preset by name or give explicit metrics.
type EmulateParams struct {
	Device     string  `json:"device,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	PixelRatio float64 `json:"pixel_ratio,omitempty"`
	Reset      bool    `json:"reset,omitempty"`
}

// Emulate applies device metrics and user-agent overrides. It mutates
// global browser state, so it holds the session's busy lock.
func (h *H) Emulate(ctx context.Context, s *session.Session, p EmulateParams) (*Device, error) {
	if p.Reset {
		err := s.WithExclusive(func() error {
			_, err := s.CallPage(ctx, "Emulation.clearDeviceMetricsOverride", map[string]any{})
			return err
		})
		if err != nil {
			return nil, err
		}
		s.Touch()
		return nil, nil
	}

	var d Device
	if p.Device != "" {
		preset, ok := DeviceByName(p.Device)
		if !ok {
			return nil, rpcerr.New(rpcerr.InvalidParams, "unknown device %q", p.Device)
		}
		d = preset
	} else {
		if p.Width <= 0 || p.Height <= 0 {
			return nil, rpcerr.New(rpcerr.InvalidParams, "device name or width and height are required")
		}
		d = Device{Name: "custom", Width: p.Width, Height: p.Height, PixelRatio: p.PixelRatio}
	}
	if d.PixelRatio == 0 {
		d.PixelRatio = 1
	}
	if d.PixelRatio < 0.5 || d.PixelRatio > 5.0 {
		return nil, rpcerr.New(rpcerr.InvalidParams, "pixel ratio must be between 0.5 and 5.0")
	}

	err := s.WithExclusive(func() error {
		if _, err := s.CallPage(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
			"width":             d.Width,
			"height":            d.Height,
			"deviceScaleFactor": d.PixelRatio,
			"mobile":            d.Mobile,
		}); err != nil {
			return err
		}
		if d.Touch {
			if _, err := s.CallPage(ctx, "Emulation.setTouchEmulationEnabled", map[string]any{"enabled": true}); err != nil {
				return err
			}
		}
		if d.UserAgent != "" {
			if _, err := s.CallPage(ctx, "Network.setUserAgentOverride", map[string]any{"userAgent": d.UserAgent}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Touch()
	return &d, nil
}
