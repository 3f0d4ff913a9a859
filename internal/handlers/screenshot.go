package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
	"github.com/localcdp/browserd/internal/session"
)

// ScreenshotParams capture the viewport, the full page, or one element.
type ScreenshotParams struct {
	Target
	FullPage bool   `json:"full_page,omitempty"`
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
}

// ScreenshotResult reports the written file.
type ScreenshotResult struct {
	Path      string `json:"path"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"size_bytes"`
}

var screenshotFormats = map[string]bool{"png": true, "jpeg": true, "webp": true}

// Screenshot captures the page and writes the image under the session's
// screenshots directory.
func (h *H) Screenshot(ctx context.Context, s *session.Session, p ScreenshotParams) (*ScreenshotResult, error) {
	format := p.Format
	if format == "" {
		format = h.Cfg.Output.DefaultScreenshotFormat
	}
	if format == "" {
		format = "png"
	}
	if !screenshotFormats[format] {
		return nil, rpcerr.New(rpcerr.InvalidParams, "unsupported format %q", format)
	}
	quality := p.Quality
	if quality == 0 {
		quality = int(h.Cfg.Output.ScreenshotQuality)
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}

	params := map[string]any{"format": format}
	if format != "png" {
		params["quality"] = quality
	}

	if p.Selector != "" || p.Ref != "" {
		selector, err := ResolveTarget(s, p.Target)
		if err != nil {
			return nil, err
		}
		box, err := locate(ctx, s, selector, true)
		if err != nil {
			return nil, err
		}
		params["clip"] = map[string]any{
			"x": box.X, "y": box.Y, "width": box.Width, "height": box.Height, "scale": 1,
		}
	} else if p.FullPage {
		res, err := s.CallPage(ctx, "Page.getLayoutMetrics", map[string]any{})
		if err != nil {
			return nil, err
		}
		var metrics struct {
			CSSContentSize struct {
				Width  float64 `json:"width"`
				Height float64 `json:"height"`
			} `json:"cssContentSize"`
		}
		if err := json.Unmarshal(res, &metrics); err != nil {
			return nil, rpcerr.Wrap(rpcerr.ProtocolError, err, "decoding layout metrics")
		}
		params["clip"] = map[string]any{
			"x": 0, "y": 0,
			"width":  metrics.CSSContentSize.Width,
			"height": metrics.CSSContentSize.Height,
			"scale":  1,
		}
		params["captureBeyondViewport"] = true
	}

	res, err := s.CallPage(ctx, "Page.captureScreenshot", params)
	if err != nil {
		return nil, err
	}
	var capture struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(res, &capture); err != nil {
		return nil, rpcerr.Wrap(rpcerr.ProtocolError, err, "decoding screenshot")
	}
	raw, err := base64.StdEncoding.DecodeString(capture.Data)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.Internal, err, "decoding screenshot data")
	}

	dir := filepath.Join(s.Meta().StorageDir, "screenshots")
	name := fmt.Sprintf("screenshot_%d.%s", time.Now().UnixMilli(), format)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, rpcerr.Wrap(rpcerr.StorageUnavailable, err, "writing screenshot")
	}

	s.Collectors.Sink.Emit(model.EventScreenshot, map[string]any{
		"path":   path,
		"format": format,
		"size":   len(raw),
	})
	s.Touch()
	return &ScreenshotResult{Path: path, Format: format, SizeBytes: int64(len(raw))}, nil
}
