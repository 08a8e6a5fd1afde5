package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded session and auth-flow defaults
const (
	DefaultSessionTTL = 12 * time.Hour
	DefaultScriptPath = "bin/strap.sh"
	DefaultAuthReqTTL = 10 * time.Minute
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	GitHub    GitHubConfig                `yaml:"github"`
	Providers map[string]UpstreamProvider `yaml:"providers"`
	Session   SessionConfig               `yaml:"session"`
	Script    ScriptConfig                `yaml:"script"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
}

// GitHubConfig holds the OAuth application credentials for GitHub.
type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// UpstreamProvider encapsulates issuer and credentials for a generic OIDC
// identity provider.
type UpstreamProvider struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	Secret string   `yaml:"secret"`
	TTL    Duration `yaml:"ttl"`
}

// ScriptConfig describes the installation script template and the
// deployment-specific values substituted into it.
type ScriptConfig struct {
	Path              string `yaml:"path"`
	IssuesURL         string `yaml:"issues_url"`
	BeforeInstall     string `yaml:"before_install"`
	CustomHomebrewTap string `yaml:"custom_homebrew_tap"`
	CustomBrewCommand string `yaml:"custom_brew_command"`
}

// Duration wraps time.Duration so YAML values can use the "12h" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Value returns the underlying duration.
func (d Duration) Value() time.Duration {
	return time.Duration(d)
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
			},
		},
		Session: SessionConfig{
			TTL: Duration(DefaultSessionTTL),
		},
		Script: ScriptConfig{
			Path: DefaultScriptPath,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		// Deployment surface inherited from the original service.
		"GITHUB_KEY":           func(v string) { cfg.GitHub.ClientID = v },
		"GITHUB_SECRET":        func(v string) { cfg.GitHub.ClientSecret = v },
		"SESSION_SECRET":       func(v string) { cfg.Session.Secret = v },
		"STRAP_ISSUES_URL":     func(v string) { cfg.Script.IssuesURL = v },
		"STRAP_BEFORE_INSTALL": func(v string) { cfg.Script.BeforeInstall = v },
		"CUSTOM_HOMEBREW_TAP":  func(v string) { cfg.Script.CustomHomebrewTap = v },
		"CUSTOM_BREW_COMMAND":  func(v string) { cfg.Script.CustomBrewCommand = v },

		"STRAPD_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"STRAPD_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"STRAPD_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"STRAPD_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"STRAPD_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"STRAPD_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"STRAPD_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"STRAPD_SESSION_TTL":              func(v string) { cfg.Session.TTL = Duration(parseDuration(v, cfg.Session.TTL.Value())) },
		"STRAPD_SCRIPT_PATH":              func(v string) { cfg.Script.Path = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	// Cookie domain must be a suffix of the public URL domain, e.g.
	// public_url strap.example.com -> cookie_domain .example.com.
	if c.Server.CookieDomain != "" {
		host := strings.TrimPrefix(c.Server.PublicURL, "http://")
		host = strings.TrimPrefix(host, "https://")
		if idx := strings.IndexAny(host, ":/"); idx != -1 {
			host = host[:idx]
		}
		cookieDomain := strings.TrimPrefix(c.Server.CookieDomain, ".")
		if !strings.HasSuffix(host, cookieDomain) {
			slog.Error("Cookie domain mismatch",
				"field", "server.cookie_domain",
				"cookie_domain", c.Server.CookieDomain,
				"public_url_domain", host)
			return fmt.Errorf("server.cookie_domain '%s' does not match server.public_url domain '%s'", c.Server.CookieDomain, host)
		}
	}

	if !c.Server.DevMode && c.Session.Secret == "" {
		slog.Error("Missing required configuration for production mode", "field", "session.secret")
		return errors.New("session.secret is required in production")
	}

	if c.Session.TTL.Value() <= 0 {
		slog.Error("Invalid session TTL", "field", "session.ttl", "value", c.Session.TTL.Value())
		return errors.New("session.ttl must be positive")
	}

	if c.Script.Path == "" {
		slog.Error("Missing required configuration", "field", "script.path")
		return errors.New("script.path is required")
	}

	for name, provider := range c.Providers {
		if provider.Issuer == "" {
			slog.Error("Provider missing issuer", "provider", name, "field", fmt.Sprintf("providers.%s.issuer", name))
			return fmt.Errorf("providers.%s.issuer is required", name)
		}
		if provider.ClientID == "" {
			slog.Error("Provider missing client_id", "provider", name, "field", fmt.Sprintf("providers.%s.client_id", name))
			return fmt.Errorf("providers.%s.client_id is required", name)
		}
	}

	// The auth flow needs at least one provider outside dev mode; the
	// GitHub pair is the usual deployment.
	if !c.Server.DevMode && c.GitHub.ClientID == "" && len(c.Providers) == 0 {
		slog.Error("No identity provider configured", "reason", "set github.client_id/client_secret or a providers entry")
		return errors.New("at least one identity provider must be configured in production")
	}
	if c.GitHub.ClientID != "" && c.GitHub.ClientSecret == "" {
		slog.Error("GitHub provider missing client secret", "field", "github.client_secret")
		return errors.New("github.client_secret is required when github.client_id is set")
	}

	return nil
}
