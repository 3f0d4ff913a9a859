// Package config loads and defaults the daemon's config.toml, mirroring
// original_source's section layout and default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root daemon configuration, one section per concern.
type Config struct {
	Browser     BrowserConfig     `toml:"browser"`
	Performance PerformanceConfig `toml:"performance"`
	Emulation   EmulationConfig   `toml:"emulation"`
	Network     NetworkConfig     `toml:"network"`
	Output      OutputConfig      `toml:"output"`
	Dialog      DialogConfig      `toml:"dialog"`
	Server      ServerConfig      `toml:"server"`
	Filters     FilterConfig      `toml:"filters"`
}

type BrowserConfig struct {
	ChromePath         string `toml:"chrome_path"`
	Headless           bool   `toml:"headless"`
	Port               int    `toml:"port"`
	UserDataDir        string `toml:"user_data_dir"`
	ProfileDirectory   string `toml:"profile_directory"`
	ExtensionPath      string `toml:"extension_path"`
	WindowWidth        int    `toml:"window_width"`
	WindowHeight       int    `toml:"window_height"`
	DisableWebSecurity bool   `toml:"disable_web_security"`
	ReuseBrowser       bool   `toml:"reuse_browser"`
}

type PerformanceConfig struct {
	TraceCategories          []string `toml:"trace_categories"`
	NavigationTimeoutSeconds uint64   `toml:"navigation_timeout_seconds"`
	NetworkIdleTimeoutMs     uint64   `toml:"network_idle_timeout_ms"`
}

type EmulationConfig struct {
	DefaultDevice     string `toml:"default_device"`
	CustomDevicesPath string `toml:"custom_devices_path"`
}

type NetworkConfig struct {
	Proxy     string `toml:"proxy"`
	UserAgent string `toml:"user_agent"`
}

type OutputConfig struct {
	DefaultScreenshotFormat string `toml:"default_screenshot_format"`
	ScreenshotQuality       uint8  `toml:"screenshot_quality"`
	JSONPretty              bool   `toml:"json_pretty"`
}

// DialogBehavior is the auto-handling policy for JS dialogs.
type DialogBehavior string

const (
	DialogDismiss DialogBehavior = "dismiss"
	DialogAccept  DialogBehavior = "accept"
	DialogNone    DialogBehavior = "none"
)

type DialogConfig struct {
	Behavior   DialogBehavior `toml:"behavior"`
	PromptText string         `toml:"prompt_text"`
}

// PortRange is an inclusive [Start, End] port allocation window.
type PortRange struct {
	Start int `toml:"start"`
	End   int `toml:"end"`
}

type ServerConfig struct {
	SocketPath         string    `toml:"socket_path"`
	MaxSessions        int       `toml:"max_sessions"`
	SessionTimeoutSecs uint64    `toml:"session_timeout_secs"`
	CDPPortRange       PortRange `toml:"cdp_port_range"`
	HTTPPortRange      PortRange `toml:"http_port_range"`
	WSPortRange        PortRange `toml:"ws_port_range"`
}

type FilterConfig struct {
	NetworkExcludeTypes   []string `toml:"network_exclude_types"`
	NetworkExcludeDomains []string `toml:"network_exclude_domains"`
	ConsoleLevels         []string `toml:"console_levels"`
	NetworkMaxBodySize    int      `toml:"network_max_body_size"`
}

// Default returns the daemon's built-in configuration, matching
// original_source/src/config.rs's defaults.
func Default() *Config {
	dir, err := defaultStateDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		Browser: BrowserConfig{
			Headless:     true,
			Port:         9222,
			WindowWidth:  1280,
			WindowHeight: 800,
		},
		Performance: PerformanceConfig{
			TraceCategories:          []string{"loading", "devtools.timeline", "blink.user_timing"},
			NavigationTimeoutSeconds: 30,
			NetworkIdleTimeoutMs:     2000,
		},
		Emulation: EmulationConfig{
			DefaultDevice: "Desktop",
		},
		Output: OutputConfig{
			DefaultScreenshotFormat: "png",
			ScreenshotQuality:       90,
			JSONPretty:              false,
		},
		Dialog: DialogConfig{
			Behavior: DialogDismiss,
		},
		Server: ServerConfig{
			SocketPath:    filepath.Join(dir, "browserd.sock"),
			MaxSessions:   5,
			CDPPortRange:  PortRange{9222, 9299},
			HTTPPortRange: PortRange{9300, 9399},
			WSPortRange:   PortRange{9400, 9499},
		},
		Filters: FilterConfig{
			NetworkExcludeTypes:   []string{"Image", "Stylesheet", "Font", "Media"},
			NetworkExcludeDomains: []string{"google-analytics.com", "googletagmanager.com", "doubleclick.net", "facebook.com", "facebook.net"},
			ConsoleLevels:         []string{"error", "warn"},
			NetworkMaxBodySize:    10000,
		},
	}
}

// Load reads path, merging it over Default(). A missing file is not an
// error: Default() is returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func defaultStateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "browserd"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "browserd"), nil
}

// DefaultConfigPath returns the conventional config.toml location under
// the user's config directory.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "browserd", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "browserd", "config.toml"), nil
}
