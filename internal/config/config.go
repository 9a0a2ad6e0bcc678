package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// Platform tags accepted in camera.platform.
var Platforms = []string{"auto", "linux", "raspberry", "darwin", "windows", "mock"}

// CameraConfig describes how to drive the native capture tool.
// Platform selects a concrete driver (e.g., "linux", "raspberry").
type CameraConfig struct {
	Platform         string `yaml:"platform"`           // auto, linux, raspberry, darwin, windows, mock
	Device           string `yaml:"device"`             // preferred device id; empty = ask / auto
	WidthPx          int    `yaml:"width_px"`           // capture resolution
	HeightPx         int    `yaml:"height_px"`          //
	JPEGQuality      int    `yaml:"jpeg_quality"`       // 1-100
	SkipFrames       int    `yaml:"skip_frames"`        // frames discarded before the kept one (raspberry)
	WarmupDelayMs    int    `yaml:"warmup_delay_ms"`    // pre-capture delay (raspberry, darwin)
	CommandTimeoutMs int    `yaml:"command_timeout_ms"` // per native command
}

// CaptureConfig tunes the orchestrator, normalizer and frame guard.
type CaptureConfig struct {
	WorkDir         string  `yaml:"work_dir"`          // artifact directory; empty = <tmp>/camask
	MaxAttempts     int     `yaml:"max_attempts"`      // degenerate-frame retries included
	SettleDelayMs   int     `yaml:"settle_delay_ms"`   // multiplied by attempt number
	StaleAfterMs    int     `yaml:"stale_after_ms"`    // normalizer freshness threshold
	SweepAfterMs    int     `yaml:"sweep_after_ms"`    // artifacts older than this are swept
	HeaderOffset    int     `yaml:"header_offset"`     // guard sampling start
	SampleWindow    int     `yaml:"sample_window"`     // guard sampled bytes
	DarkByte        int     `yaml:"dark_byte"`         // bytes below this count as dark
	MaxDarkFraction float64 `yaml:"max_dark_fraction"` // degenerate above this fraction (0-1)
}

// VisionConfig describes the vision model endpoint.
type VisionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Model         string `yaml:"model"`
	APIVersion    string `yaml:"api_version"`
	MaxTokens     int    `yaml:"max_tokens"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	DefaultPrompt string `yaml:"default_prompt"`
}

// GPIOConfig is used on the embedded profile only.
type GPIOConfig struct {
	Mock         bool `yaml:"mock"`          // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	IndicatorPin int  `yaml:"indicator_pin"` // BCM pin of the capture LED. 0 = not used.
}

// WebConfig tunes the HTTP trigger started by -web.
type WebConfig struct {
	CooldownMs int `yaml:"cooldown_ms"` // minimum gap between two captures; 0 = none
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Capture  CaptureConfig  `yaml:"capture"`
	Vision   VisionConfig   `yaml:"vision"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// DefaultPath returns <user config dir>/camask/camask.yaml, or "camask.yaml"
// when the user config dir cannot be determined.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "camask.yaml"
	}
	return filepath.Join(dir, "camask", "camask.yaml")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{GPIO: GPIOConfig{Mock: true}}
	if err := cfg.applyDefaults(); err != nil {
		// Defaults are valid by construction.
		panic(err)
	}
	return cfg
}

// Load reads a YAML file and returns the configuration.
// Every failure is a config error; a missing file still matches fs.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError("read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.NewConfigError("unmarshal yaml "+path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, apperrors.NewConfigError(path, err)
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns Default() when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (cfg *Config) applyDefaults() error {
	c := &cfg.Camera
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	if c.Platform == "" {
		c.Platform = "auto"
	}
	if !ValidPlatform(c.Platform) {
		return fmt.Errorf("camera.platform must be one of %s, got %q", strings.Join(Platforms, ", "), c.Platform)
	}
	if c.WidthPx <= 0 {
		c.WidthPx = 1920
	}
	if c.HeightPx <= 0 {
		c.HeightPx = 1080
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = 95
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.SkipFrames < 0 {
		return fmt.Errorf("camera.skip_frames must be >= 0, got %d", c.SkipFrames)
	}
	if c.SkipFrames == 0 {
		c.SkipFrames = 30 // only used by the raspberry driver
	}
	if c.WarmupDelayMs <= 0 {
		c.WarmupDelayMs = 1000
	}
	if c.CommandTimeoutMs <= 0 {
		c.CommandTimeoutMs = 15000
	}

	p := &cfg.Capture
	if p.WorkDir == "" {
		p.WorkDir = filepath.Join(os.TempDir(), "camask")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.SettleDelayMs <= 0 {
		p.SettleDelayMs = 1000
	}
	if p.StaleAfterMs <= 0 {
		p.StaleAfterMs = 5000
	}
	if p.SweepAfterMs <= 0 {
		p.SweepAfterMs = 30000
	}
	if p.HeaderOffset <= 0 {
		p.HeaderOffset = 1000
	}
	if p.SampleWindow <= 0 {
		p.SampleWindow = 1000
	}
	if p.DarkByte <= 0 {
		p.DarkByte = 20
	}
	if p.DarkByte > 255 {
		return fmt.Errorf("capture.dark_byte must be <= 255, got %d", p.DarkByte)
	}
	if p.MaxDarkFraction == 0 {
		p.MaxDarkFraction = 0.9
	}
	if p.MaxDarkFraction < 0 || p.MaxDarkFraction > 1 {
		return fmt.Errorf("capture.max_dark_fraction must be between 0 and 1, got %.2f", p.MaxDarkFraction)
	}
	if p.SweepAfterMs < p.StaleAfterMs {
		return fmt.Errorf("capture.sweep_after_ms (%d) must be >= capture.stale_after_ms (%d)", p.SweepAfterMs, p.StaleAfterMs)
	}

	v := &cfg.Vision
	if v.Endpoint == "" {
		v.Endpoint = "https://api.anthropic.com/v1/messages"
	}
	if !strings.HasPrefix(v.Endpoint, "http://") && !strings.HasPrefix(v.Endpoint, "https://") {
		return fmt.Errorf("vision.endpoint must be an http(s) URL, got %q", v.Endpoint)
	}
	if v.Model == "" {
		v.Model = "claude-sonnet-4-5"
	}
	if v.APIVersion == "" {
		v.APIVersion = "2023-06-01"
	}
	if v.MaxTokens <= 0 {
		v.MaxTokens = 1024
	}
	if v.TimeoutMs <= 0 {
		v.TimeoutMs = 60000
	}
	if strings.TrimSpace(v.DefaultPrompt) == "" {
		v.DefaultPrompt = "Describe what is shown in this image. If it contains a question or a problem, answer it concisely."
	}

	if cfg.GPIO.IndicatorPin < 0 || cfg.GPIO.IndicatorPin > 27 {
		return fmt.Errorf("gpio.indicator_pin must be a BCM pin between 0 and 27, got %d", cfg.GPIO.IndicatorPin)
	}
	if cfg.Web.CooldownMs < 0 {
		return fmt.Errorf("web.cooldown_ms must be >= 0, got %d", cfg.Web.CooldownMs)
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	return nil
}

// ValidPlatform reports whether tag is a known camera.platform value.
func ValidPlatform(tag string) bool {
	for _, p := range Platforms {
		if p == tag {
			return true
		}
	}
	return false
}

// WarmupDelay returns the pre-capture delay.
func (c *Config) WarmupDelay() time.Duration {
	return time.Duration(c.Camera.WarmupDelayMs) * time.Millisecond
}

// CommandTimeout returns the timeout applied to each native command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Camera.CommandTimeoutMs) * time.Millisecond
}

// SettleDelay returns the base delay between degenerate-frame retries.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Capture.SettleDelayMs) * time.Millisecond
}

// StaleAfter returns the normalizer freshness threshold.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Capture.StaleAfterMs) * time.Millisecond
}

// SweepAfter returns the artifact retention window.
func (c *Config) SweepAfter() time.Duration {
	return time.Duration(c.Capture.SweepAfterMs) * time.Millisecond
}

// VisionTimeout returns the timeout of one analysis exchange.
func (c *Config) VisionTimeout() time.Duration {
	return time.Duration(c.Vision.TimeoutMs) * time.Millisecond
}

// WebCooldown returns the minimum gap between two web-triggered captures.
func (c *Config) WebCooldown() time.Duration {
	return time.Duration(c.Web.CooldownMs) * time.Millisecond
}
