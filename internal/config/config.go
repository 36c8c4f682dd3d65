package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrIncomplete is returned when the config file omits one of the probe settings.
var ErrIncomplete = errors.New("incomplete probe settings")

// Duration is a time.Duration that unmarshals from a YAML string like "30s"
// or from a bare number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Probe holds the settings shared by every probe of a run. It is never
// mutated after loading.
type Probe struct {
	Timeout        Duration          `yaml:"timeout"`
	ConcurrentScan int               `yaml:"concurrent_scan"`
	RetryCount     int               `yaml:"retry_count"`
	RetryDelay     Duration          `yaml:"retry_delay"`
	Method         string            `yaml:"method"`
	Headers        map[string]string `yaml:"headers"`
	// RateLimit caps requests per second across the run. Zero disables it.
	RateLimit float64 `yaml:"rate_limit"`
}

// OutputConfig names the files written after a run.
type OutputConfig struct {
	Active   string `yaml:"active"`
	Inactive string `yaml:"inactive"`
	JSON     string `yaml:"json"`
	Markdown string `yaml:"markdown"`
}

// LogConfig holds log sink settings.
type LogConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds storage settings. An empty Path disables run history.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Config is the root application configuration.
type Config struct {
	Probe   Probe         `yaml:",inline"`
	Input   string        `yaml:"input"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// DefaultProbe returns the probe settings used when no usable config exists.
// Timeout and retries are disabled.
func DefaultProbe() Probe {
	return Probe{
		ConcurrentScan: 1,
		Method:         "GET",
		Headers: map[string]string{
			"User-Agent":                defaultUserAgent,
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.5",
			"Connection":                "keep-alive",
			"Upgrade-Insecure-Requests": "1",
			"Cache-Control":             "max-age=0",
		},
	}
}

// Default returns the complete default configuration.
func Default() *Config {
	cfg := &Config{Probe: DefaultProbe()}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Input == "" {
		cfg.Input = "urls.txt"
	}
	if cfg.Output.Active == "" {
		cfg.Output.Active = "active.txt"
	}
	if cfg.Output.Inactive == "" {
		cfg.Output.Inactive = "inactive.txt"
	}
	if cfg.Log.File == "" {
		cfg.Log.File = "url_checker.log"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Alerts.Webhook.Cooldown.Duration == 0 {
		cfg.Alerts.Webhook.Cooldown = Duration{10 * time.Minute}
	}
}

// Load reads, parses, and validates the config file at path.
// The six probe settings must all be present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Pointers tell an omitted setting apart from an explicit zero.
	type rawConfig struct {
		Timeout        *Duration         `yaml:"timeout"`
		ConcurrentScan *int              `yaml:"concurrent_scan"`
		RetryCount     *int              `yaml:"retry_count"`
		RetryDelay     *Duration         `yaml:"retry_delay"`
		Method         *string           `yaml:"method"`
		Headers        map[string]string `yaml:"headers"`
		RateLimit      float64           `yaml:"rate_limit"`
		Input          string            `yaml:"input"`
		Output         OutputConfig      `yaml:"output"`
		Log            LogConfig         `yaml:"log"`
		Storage        StorageConfig     `yaml:"storage"`
		Server         ServerConfig      `yaml:"server"`
		Alerts         AlertsConfig      `yaml:"alerts"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	var missing []string
	if raw.Timeout == nil {
		missing = append(missing, "timeout")
	}
	if raw.ConcurrentScan == nil {
		missing = append(missing, "concurrent_scan")
	}
	if raw.RetryCount == nil {
		missing = append(missing, "retry_count")
	}
	if raw.RetryDelay == nil {
		missing = append(missing, "retry_delay")
	}
	if raw.Method == nil {
		missing = append(missing, "method")
	}
	if raw.Headers == nil {
		missing = append(missing, "headers")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}

	cfg := &Config{
		Probe: Probe{
			Timeout:        *raw.Timeout,
			ConcurrentScan: *raw.ConcurrentScan,
			RetryCount:     *raw.RetryCount,
			RetryDelay:     *raw.RetryDelay,
			Method:         strings.ToUpper(strings.TrimSpace(*raw.Method)),
			Headers:        raw.Headers,
			RateLimit:      raw.RateLimit,
		},
		Input:   raw.Input,
		Output:  raw.Output,
		Log:     raw.Log,
		Storage: raw.Storage,
		Server:  raw.Server,
		Alerts:  raw.Alerts,
	}
	if err := cfg.Probe.Validate(); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Validate reports the first probe setting that is out of range.
func (p Probe) Validate() error {
	if p.Timeout.Duration < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", p.Timeout.Duration)
	}
	if p.ConcurrentScan < 1 {
		return fmt.Errorf("concurrent_scan must be at least 1, got %d", p.ConcurrentScan)
	}
	if p.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative, got %d", p.RetryCount)
	}
	if p.RetryDelay.Duration < 0 {
		return fmt.Errorf("retry_delay must not be negative, got %v", p.RetryDelay.Duration)
	}
	if p.Method == "" || strings.ContainsAny(p.Method, " \t\r\n") {
		return fmt.Errorf("invalid method %q", p.Method)
	}
	if p.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %v", p.RateLimit)
	}
	return nil
}

// LoadOrDefault loads path and falls back to Default on any failure. The
// fallback replaces the whole config; nothing from a broken file is kept.
func LoadOrDefault(path string, logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Error("config file not found, using defaults", "path", path)
		} else {
			logger.Error("config file invalid, using defaults", "path", path, "error", err)
		}
		return Default()
	}
	return cfg
}
