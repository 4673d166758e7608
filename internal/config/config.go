// Package config loads engine settings from a config file, the GLEANER_*
// environment and defaults, applies resource-mode presets and validates the
// result before anything starts.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Resource modes trade throughput against memory and CPU on the host. A
// mode presets the article concurrency and the browser page cap; values set
// explicitly in config or environment win over the preset.
const (
	ModeHighPerformance      = "high_performance"
	ModeBalanced             = "balanced"
	ModeResourceConservative = "resource_conservative"
)

// Config carries every engine setting. Build one with Load.
type Config struct {
	// AppType labels the deployment flavour ("news", "blog") in logs and
	// run summaries.
	AppType string `mapstructure:"app_type" validate:"required"`

	IntervalHours float64 `mapstructure:"interval_hours" validate:"gt=0,lte=168"`

	// Concurrency and PageCap left at zero take their resource-mode
	// preset.
	Concurrency int `mapstructure:"concurrency" validate:"omitempty,gte=1,lte=16"`
	PageCap     int `mapstructure:"page_cap" validate:"omitempty,gte=1,lte=32"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	PageTimeout    time.Duration `mapstructure:"page_timeout" validate:"gt=0"`
	MaxLinks       int           `mapstructure:"max_links" validate:"gte=1,lte=200"`
	HandleDynamic  bool          `mapstructure:"handle_dynamic"`
	ResourceMode   string        `mapstructure:"resource_mode" validate:"required,oneof=high_performance balanced resource_conservative"`

	// AdvancedFingerprinting randomises the headless browser's
	// per-page fingerprint surface.
	AdvancedFingerprinting bool `mapstructure:"enable_advanced_fingerprinting"`

	// HealthAddr is the daemon's health endpoint listen address. Empty
	// disables the endpoint.
	HealthAddr string `mapstructure:"health_addr"`

	Discovery DiscoveryConfig `mapstructure:"discovery"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Store     StoreConfig     `mapstructure:"store"`
}

// DiscoveryConfig filters discovered links before they are scraped.
type DiscoveryConfig struct {
	IncludePatterns []string `mapstructure:"include_patterns"`
	ExcludePatterns []string `mapstructure:"exclude_patterns"`

	// AIContext, when set, describes which articles matter and enables
	// the model link filter.
	AIContext string `mapstructure:"ai_context"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider string `mapstructure:"provider" validate:"required,oneof=anthropic openai"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`

	// MaxHTML is a humanised size ("45KB") capping the HTML sent per
	// prompt. Parsed into MaxHTMLBytes by Load.
	MaxHTML      string `mapstructure:"max_html" validate:"required"`
	MaxHTMLBytes int    `mapstructure:"-" validate:"gt=0"`
}

// BrowserConfig tunes the headless tier.
type BrowserConfig struct {
	Path    string `mapstructure:"path"`
	Headful bool   `mapstructure:"headful"`
	Display string `mapstructure:"display"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite memory"`
	DSN    string `mapstructure:"dsn"`
}

// Interval returns the scrape interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalHours * float64(time.Hour))
}

// SetDefaults registers every key's default on the viper instance. Every
// key needs one (or an env bind) or viper's Unmarshal will not see its
// environment override.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_type", "news")
	v.SetDefault("interval_hours", 3.0)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("page_timeout", "60s")
	v.SetDefault("max_links", 50)
	v.SetDefault("handle_dynamic", true)
	v.SetDefault("resource_mode", ModeBalanced)
	v.SetDefault("enable_advanced_fingerprinting", true)
	v.SetDefault("health_addr", ":8090")
	v.SetDefault("discovery.include_patterns", []string{})
	v.SetDefault("discovery.exclude_patterns", []string{})
	v.SetDefault("discovery.ai_context", "")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_html", "45KB")
	v.SetDefault("browser.headful", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "gleaner.db")
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("GLEANER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// No defaults for these, so bind the keys explicitly.
	_ = v.BindEnv("concurrency")
	_ = v.BindEnv("page_cap")

	// Common ambient variables double as fallbacks.
	_ = v.BindEnv("llm.api_key", "GLEANER_LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("browser.path", "GLEANER_BROWSER_PATH", "CHROME_BIN")
	_ = v.BindEnv("browser.display", "GLEANER_BROWSER_DISPLAY", "DISPLAY")
}

type resourcePreset struct {
	concurrency int
	pageCap     int
}

var resourcePresets = map[string]resourcePreset{
	ModeHighPerformance:      {concurrency: 8, pageCap: 10},
	ModeBalanced:             {concurrency: 3, pageCap: 5},
	ModeResourceConservative: {concurrency: 1, pageCap: 2},
}

// Load populates a Config from the file at cfgFile (when given), else from
// gleaner.yaml in the working directory or /etc/gleaner, layered under the
// environment and over the defaults.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)
	bindEnv(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("gleaner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gleaner")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	maxHTML, err := humanize.ParseBytes(cfg.LLM.MaxHTML)
	if err != nil {
		return nil, fmt.Errorf("llm.max_html %q: %w", cfg.LLM.MaxHTML, err)
	}
	cfg.LLM.MaxHTMLBytes = int(maxHTML)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if preset, ok := resourcePresets[cfg.ResourceMode]; ok {
		if cfg.Concurrency == 0 {
			cfg.Concurrency = preset.concurrency
		}
		if cfg.PageCap == 0 {
			cfg.PageCap = preset.pageCap
		}
	}

	return &cfg, nil
}
