// Package config holds the runtime configuration and the per-plugin
// configuration store.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Runtime defaults.
const (
	DefaultPrefix           = "!"
	DefaultHandlerTimeout   = 10 * time.Second
	DefaultCommandTimeout   = 30 * time.Second
	DefaultCacheTTL         = 5 * time.Minute
	DefaultCacheCapacity    = 256
	DefaultGovernorInterval = time.Minute
	DefaultHeapWarnMB       = 256
	DefaultRSSWarnMB        = 512
	DefaultLeakSamples      = 5
	DefaultLogLevel         = "info"
)

// Duration is a time.Duration that decodes from TOML strings such as
// "45s" or "2m". go-toml has no native duration handling; it feeds
// quoted values through encoding.TextUnmarshaler, so bare integers are
// rejected rather than silently read as nanoseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Runtime is the bot runtime configuration, loaded from a TOML file.
type Runtime struct {
	// Prefix marks command invocations, e.g. "!" for "!roll".
	Prefix string `toml:"prefix"`

	// HandlerTimeout bounds one event handler invocation.
	HandlerTimeout Duration `toml:"handler_timeout"`

	// CommandTimeout bounds one command end to end, queue wait included.
	CommandTimeout Duration `toml:"command_timeout"`

	// CacheTTL is the command candidate cache clock.
	CacheTTL Duration `toml:"cache_ttl"`

	// CacheCapacity bounds the candidate cache entry count.
	CacheCapacity int `toml:"cache_capacity"`

	// GovernorInterval is the maintenance loop period.
	GovernorInterval Duration `toml:"governor_interval"`

	// HeapWarnMB and RSSWarnMB are memory watermarks in mebibytes.
	HeapWarnMB  int `toml:"heap_warn_mb"`
	RSSWarnMB   int `toml:"rss_warn_mb"`
	LeakSamples int `toml:"leak_samples"`

	// PluginDir is scanned for Lua plugin scripts.
	PluginDir string `toml:"plugin_dir"`

	// ConfigDir holds per-plugin JSON configuration files.
	ConfigDir string `toml:"config_dir"`

	// LogLevel is a logrus level name.
	LogLevel string `toml:"log_level"`
}

// Default returns the runtime configuration defaults.
func Default() Runtime {
	return Runtime{
		Prefix:           DefaultPrefix,
		HandlerTimeout:   Duration(DefaultHandlerTimeout),
		CommandTimeout:   Duration(DefaultCommandTimeout),
		CacheTTL:         Duration(DefaultCacheTTL),
		CacheCapacity:    DefaultCacheCapacity,
		GovernorInterval: Duration(DefaultGovernorInterval),
		HeapWarnMB:       DefaultHeapWarnMB,
		RSSWarnMB:        DefaultRSSWarnMB,
		LeakSamples:      DefaultLeakSamples,
		PluginDir:        "plugins",
		ConfigDir:        "config",
		LogLevel:         DefaultLogLevel,
	}
}

// Load reads a TOML runtime configuration. A missing file yields the
// defaults; a present file overlays them and is validated.
func Load(path string) (Runtime, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the runtime cannot work
// with.
func (c *Runtime) Validate() error {
	var errs []error
	if c.Prefix == "" {
		errs = append(errs, errors.New("prefix must not be empty"))
	}
	if c.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("handler_timeout must be positive"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command_timeout must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache_ttl must be positive"))
	}
	if c.CacheCapacity <= 0 {
		errs = append(errs, errors.New("cache_capacity must be positive"))
	}
	if c.GovernorInterval <= 0 {
		errs = append(errs, errors.New("governor_interval must be positive"))
	}
	if c.LeakSamples <= 0 {
		errs = append(errs, errors.New("leak_samples must be positive"))
	}
	return errors.Join(errs...)
}
