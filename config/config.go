// Package config loads relink client settings from a TOML file and the
// environment, and builds the transport they describe.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/risa-org/relink/logging"
	"github.com/risa-org/relink/transport"
	"github.com/risa-org/relink/transport/gorilla"
	"github.com/risa-org/relink/transport/websocket"
)

const (
	EnvURL           = "RELINK_URL"
	EnvTLSSkipVerify = "RELINK_TLS_SKIP_VERIFY"
	EnvMode          = "RELINK_MODE"
	EnvBackend       = "RELINK_BACKEND"
)

const (
	ModePersistent      = "persistent"
	ModeReinstantiating = "reinstantiating"

	BackendNhooyr  = "nhooyr"
	BackendGorilla = "gorilla"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// Config is the on-disk shape of a relink client configuration.
type Config struct {
	URL              string            `toml:"url"`
	TLSSkipVerify    bool              `toml:"tls_skip_verify"`
	Mode             string            `toml:"mode"`
	Backend          string            `toml:"backend"`
	HandshakeTimeout time.Duration     `toml:"handshake_timeout"`
	WriteTimeout     time.Duration     `toml:"write_timeout"`
	ReadLimit        int64             `toml:"read_limit"`
	Subprotocols     []string          `toml:"subprotocols"`
	Headers          map[string]string `toml:"headers"`
	MetricsAddr      string            `toml:"metrics_addr"`
	Log              LogConfig         `toml:"log"`
}

// LogConfig mirrors logging.Config in file form.
type LogConfig struct {
	Level     string `toml:"level"`
	Timestamp *bool  `toml:"timestamp"`
	NoColor   bool   `toml:"no_color"`
	JSON      bool   `toml:"json"`
}

// Load reads path, applies defaults and env overrides, and validates.
// An empty path skips the file, so a config can come from the env alone.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyDefaults(&cfg)
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML text. Defaults are applied but env is not consulted.
func Parse(text string) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(text, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeReinstantiating
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendNhooyr
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvURL)); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTLSSkipVerify)); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", EnvTLSSkipVerify, v, err)
		}
		cfg.TLSSkipVerify = skip
	}
	if v := strings.TrimSpace(os.Getenv(EnvMode)); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackend)); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	return nil
}

// Validate checks that cfg describes a usable transport.
func Validate(cfg Config) error {
	if cfg.URL == "" {
		return fmt.Errorf("config: url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("config: invalid url %q: %w", cfg.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("config: unsupported url scheme %q", u.Scheme)
	}
	switch cfg.Mode {
	case ModePersistent, ModeReinstantiating:
	default:
		return fmt.Errorf("config: unknown mode %q", cfg.Mode)
	}
	switch cfg.Backend {
	case BackendNhooyr, BackendGorilla:
	default:
		return fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
	if cfg.ReadLimit < 0 {
		return fmt.Errorf("config: read_limit must not be negative")
	}
	return nil
}

// Endpoint converts cfg into the transport's connection target.
func (cfg Config) Endpoint() transport.Endpoint {
	var header http.Header
	if len(cfg.Headers) > 0 {
		header = make(http.Header, len(cfg.Headers))
		for k, v := range cfg.Headers {
			header.Set(k, v)
		}
	}
	return transport.Endpoint{
		URL:              cfg.URL,
		Header:           header,
		Subprotocols:     cfg.Subprotocols,
		TLSSkipVerify:    cfg.TLSSkipVerify,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadLimit:        cfg.ReadLimit,
	}
}

// SocketFactory returns the factory for the configured backend.
func (cfg Config) SocketFactory() (transport.SocketFactory, error) {
	switch cfg.Backend {
	case BackendNhooyr:
		return websocket.Factory, nil
	case BackendGorilla:
		return gorilla.Factory, nil
	default:
		return nil, fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
}

// Build creates the transport cfg describes.
func Build(cfg Config, opts ...transport.Option) (transport.Transport, error) {
	factory, err := cfg.SocketFactory()
	if err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModePersistent:
		return transport.NewPersistent(cfg.Endpoint(), factory, opts...), nil
	case ModeReinstantiating:
		return transport.NewReinstantiating(cfg.Endpoint(), factory, opts...), nil
	default:
		return nil, fmt.Errorf("config: unknown mode %q", cfg.Mode)
	}
}

// Logging merges the [log] table into the defaults for profile.
// Unset or unparsable keys keep the profile's value.
func (cfg Config) Logging(profile logging.Profile) logging.Config {
	out := logging.DefaultConfig(profile)
	if lvl, ok := logging.ParseLevel(cfg.Log.Level); ok {
		out.Level = lvl
	}
	if cfg.Log.Timestamp != nil {
		out.Timestamp = *cfg.Log.Timestamp
	}
	out.NoColor = out.NoColor || cfg.Log.NoColor
	out.JSON = cfg.Log.JSON
	logging.ApplyEnv(&out)
	return out
}
