// Package config resolves server configuration from flags, environment
// and an optional TOML config file, in that precedence order.
package config

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config is the resolved server configuration.
type Config struct {
	// Listen is the TCP listen address.
	Listen string `mapstructure:"listen"`
	// MaxConnections caps live client connections.
	MaxConnections int `mapstructure:"max_connections"`
	// Schema is the path to the TOML schema file.
	Schema string `mapstructure:"schema"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Listen:         "127.0.0.1:7880",
		MaxConnections: 4,
		Schema:         "tabled.toml",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load resolves the configuration. path may be empty, in which case
// only defaults and environment (TABLED_*) apply. Flag overrides are
// applied by the caller on top of the result.
func Load(path string) (Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("listen", def.Listen)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("schema", def.Schema)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)

	v.SetEnvPrefix("TABLED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no server could run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxConnections)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// ParseLevel converts a config log level to a logger level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel, nil
	case "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// DefaultFileBody is the starter config written by `tabled init`.
const DefaultFileBody = `# tabled server configuration

listen = "127.0.0.1:7880"
max_connections = 4
schema = "tabled.toml"
log_level = "info"
log_format = "text"
`
