// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package config loads the application configuration from a YAML (or JSON)
// file, command line flags, an optional dotenv file and MAPSHELL_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/mapshell/mapshell/internal/extension"
	"github.com/mapshell/mapshell/internal/logging"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/runtime"
	"github.com/mapshell/mapshell/internal/xdg"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MAPSHELL_"

// Defaults for flag-backed settings.
const (
	DefaultListenAddr  = "127.0.0.1:8080"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
	DefaultMode        = "desktop"
)

// Extensions configures the extension registry.
type Extensions struct {
	Enabled     bool          `koanf:"enabled" env:"ENABLED"`
	BaseURL     string        `koanf:"baseURL" env:"BASE_URL"`
	ManifestURL string        `koanf:"manifestURL" env:"MANIFEST_URL"`
	Folder      string        `koanf:"folder" env:"FOLDER"`
	Timeout     time.Duration `koanf:"timeout" env:"TIMEOUT"`
	MaxRetries  int           `koanf:"maxRetries" env:"MAX_RETRIES"`
	// ScriptTimeout bounds each call into an extension bundle.
	ScriptTimeout time.Duration `koanf:"scriptTimeout" env:"SCRIPT_TIMEOUT"`
}

// Log configures the process logger.
type Log struct {
	Format string `koanf:"format" env:"FORMAT"`
	Level  string `koanf:"level" env:"LEVEL"`
}

// Config is the whole application configuration.
type Config struct {
	// Plugins maps a mode to its raw plugin list; see plugin.ParseModes.
	Plugins             map[string]any        `koanf:"plugins"`
	DefaultMode         string                `koanf:"defaultMode" env:"DEFAULT_MODE"`
	MonitorState        []plugin.MonitorRule  `koanf:"monitorState"`
	Requires            map[string]any        `koanf:"requires"`
	InitialState        map[string]any        `koanf:"initialState"`
	Removed             []string              `koanf:"removed" env:"REMOVED" envSeparator:","`
	ReorderRequestsOnly bool                  `koanf:"reorderRequestsOnly" env:"REORDER_REQUESTS_ONLY"`
	HostVersion         string                `koanf:"hostVersion" env:"HOST_VERSION"`
	Extensions          Extensions            `koanf:"extensions" envPrefix:"EXTENSIONS_"`
	Log                 Log                   `koanf:"log" envPrefix:"LOG_"`
	ListenAddr          string                `koanf:"listenAddr" env:"LISTEN_ADDR"`
	MetricsAddr         string                `koanf:"metricsAddr" env:"METRICS_ADDR"`

	modes map[string][]plugin.ConfigEntry
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"listen-addr":         "listenAddr",
	"metrics-addr":        "metricsAddr",
	"log-format":          "log.format",
	"log-level":           "log.level",
	"mode":                "defaultMode",
	"host-version":        "hostVersion",
	"extensions":          "extensions.enabled",
	"extensions-base-url": "extensions.baseURL",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("listen-addr", DefaultListenAddr, "API listen address")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("mode", "", "plugin list to resolve (default: desktop or the first configured mode)")
	fs.String("host-version", "", "host version checked against extension requirements")
	fs.Bool("extensions", false, "enable the extension registry")
	fs.String("extensions-base-url", "", "base URL the extension manifest and bundles are fetched from")
}

// Load reads the configuration. An empty path means the XDG default,
// which may be absent; an explicit path must exist. flags may be nil.
func Load(flags *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		p, err := xdg.ConfigFile()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, ErrReadFailed(path, err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, ErrReadFailed("flags", err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, ErrReadFailed(path, err)
	}

	if err := loadEnvFiles(); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, ErrReadFailed("environment", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads .env from the working directory and the XDG dotenv
// file. Existing variables are never overwritten.
func loadEnvFiles() error {
	candidates := []string{".env"}
	if p, err := xdg.EnvFile(); err == nil {
		candidates = append(candidates, p)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return ErrReadFailed(p, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Extensions.Timeout <= 0 {
		c.Extensions.Timeout = extension.DefaultTimeout
	}
	if c.Extensions.MaxRetries <= 0 {
		c.Extensions.MaxRetries = extension.DefaultMaxRetries
	}
	if c.Extensions.ScriptTimeout <= 0 {
		c.Extensions.ScriptTimeout = extension.DefaultScriptTimeout
	}
}

// Validate parses the plugin lists and checks every scalar setting.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return ErrInvalid("log.format", "must be 'json' or 'text', got "+c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return ErrInvalidCause("log.level", err)
	}

	modes, err := plugin.ParseModes(c.Plugins)
	if err != nil {
		return ErrInvalidCause("plugins", err)
	}
	c.modes = modes

	if c.DefaultMode == "" {
		c.DefaultMode = pickMode(modes)
	}
	if len(modes) > 0 {
		if _, ok := modes[c.DefaultMode]; !ok {
			return ErrInvalid("defaultMode", "no plugin list named "+c.DefaultMode)
		}
	}
	for i, rule := range c.MonitorState {
		if rule.Name == "" || rule.Path == "" {
			return ErrInvalid("monitorState", "rule "+strconv.Itoa(i)+" needs a name and a path")
		}
	}
	if c.Extensions.Enabled && c.Extensions.BaseURL == "" {
		return ErrInvalid("extensions.baseURL", "required when extensions are enabled")
	}
	return nil
}

func pickMode(modes map[string][]plugin.ConfigEntry) string {
	if _, ok := modes[DefaultMode]; ok || len(modes) == 0 {
		return DefaultMode
	}
	return slices.Sorted(maps.Keys(modes))[0]
}

// Modes returns the parsed plugin lists.
func (c *Config) Modes() map[string][]plugin.ConfigEntry {
	return c.modes
}

// Runtime builds the runtime configuration. Reducers and processors of
// the application itself are added by the caller.
func (c *Config) Runtime() runtime.Config {
	return runtime.Config{
		Modes:               c.modes,
		DefaultMode:         c.DefaultMode,
		Monitor:             c.MonitorState,
		Requires:            c.Requires,
		Removed:             c.Removed,
		State:               c.InitialState,
		ReorderRequestsOnly: c.ReorderRequestsOnly,
	}
}

// Logging returns the logger setup for this configuration.
func (c *Config) Logging(service, version string) logging.Options {
	return logging.Options{
		Service: service,
		Version: version,
		Format:  c.Log.Format,
		Level:   c.Log.Level,
	}
}

// ExtensionOptions returns the runtime option enabling extensions, or nil
// when they are disabled.
func (c *Config) ExtensionOptions(logger *slog.Logger) []runtime.Option {
	if !c.Extensions.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := extension.NewFetcher(
		extension.WithHTTPClient(&http.Client{Timeout: c.Extensions.Timeout}),
		extension.WithRetries(uint64(c.Extensions.MaxRetries), extension.DefaultBackoff),
		extension.WithFetchLogger(logger))
	return []runtime.Option{runtime.WithExtensions(extension.Config{
		BaseURL:     c.Extensions.BaseURL,
		ManifestURL: c.Extensions.ManifestURL,
		Folder:      c.Extensions.Folder,
		HostVersion: c.HostVersion,
	}, extension.WithFetcher(fetcher), extension.WithBundleTimeout(c.Extensions.ScriptTimeout))}
}
