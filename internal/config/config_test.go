package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.Browser.Headless)
	require.Equal(t, uint64(30), cfg.Performance.NavigationTimeoutSeconds)
	require.Equal(t, "png", cfg.Output.DefaultScreenshotFormat)
	require.Equal(t, DialogDismiss, cfg.Dialog.Behavior)
	require.Equal(t, 9222, cfg.Server.CDPPortRange.Start)
	require.Equal(t, 9300, cfg.Server.HTTPPortRange.Start)
	require.Equal(t, 9400, cfg.Server.WSPortRange.Start)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().Server.MaxSessions, cfg.Server.MaxSessions)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[browser]
headless = false
port = 9333

[dialog]
behavior = "accept"

[output]
default_screenshot_format = "jpeg"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, 9333, cfg.Browser.Port)
	require.Equal(t, DialogAccept, cfg.Dialog.Behavior)
	require.Equal(t, "jpeg", cfg.Output.DefaultScreenshotFormat)
	// Untouched sections keep their defaults.
	require.Equal(t, uint64(30), cfg.Performance.NavigationTimeoutSeconds)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
