package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
script:
  issues_url: https://from-file.example
`)

	t.Setenv("GITHUB_KEY", "env-client-id")
	t.Setenv("GITHUB_SECRET", "env-client-secret")
	t.Setenv("SESSION_SECRET", "env-session-secret")
	t.Setenv("STRAP_ISSUES_URL", "https://from-env.example")
	t.Setenv("CUSTOM_HOMEBREW_TAP", "example/tap")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.GitHub.ClientID != "env-client-id" {
		t.Fatalf("GitHub client ID override mismatch, got %q", cfg.GitHub.ClientID)
	}
	if cfg.Session.Secret != "env-session-secret" {
		t.Fatalf("session secret override mismatch")
	}
	if cfg.Script.IssuesURL != "https://from-env.example" {
		t.Fatalf("environment must win over the file, got %q", cfg.Script.IssuesURL)
	}
	if cfg.Script.CustomHomebrewTap != "example/tap" {
		t.Fatalf("custom tap override mismatch, got %q", cfg.Script.CustomHomebrewTap)
	}
}

func TestLoadConfigParsesSessionTTL(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
session:
  ttl: 30m
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Session.TTL.Value() != 30*time.Minute {
		t.Fatalf("session TTL mismatch: got %v", cfg.Session.TTL.Value())
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  unknown_field: value
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown config field")
	}
}

func TestConfigValidateRequiresSessionSecretInProduction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DevMode = false
	cfg.GitHub = GitHubConfig{ClientID: "id", ClientSecret: "secret"}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing session secret in production")
	}

	cfg.Session.Secret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid production config, got: %v", err)
	}
}

func TestConfigValidateRequiresProviderInProduction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DevMode = false
	cfg.Session.Secret = "s3cret"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when no identity provider is configured")
	}
}

func TestConfigValidateGitHubSecretPairing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GitHub.ClientID = "id"

	if err := cfg.Validate(); err == nil {
		t.Fatalf("client_id without client_secret must fail validation")
	}
}

func TestConfigValidateCookieDomain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.PublicURL = "https://strap.example.com"
	cfg.Server.CookieDomain = ".example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("matching cookie domain should validate: %v", err)
	}

	cfg.Server.CookieDomain = ".other.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("mismatched cookie domain must fail validation")
	}
}

func TestConfigValidateProviderFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = map[string]UpstreamProvider{
		"corp": {Issuer: "https://idp.corp.example"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("provider without client_id must fail validation")
	}
}

func TestSplitAndTrimRemovesEmpty(t *testing.T) {
	in := " a , ,b,, c "
	out := splitAndTrim(in)
	expected := []string{"a", "b", "c"}
	if len(out) != len(expected) {
		t.Fatalf("unexpected length: got %d want %d", len(out), len(expected))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("element %d mismatch: got %q want %q", i, out[i], expected[i])
		}
	}
}

func TestParseBoolFallback(t *testing.T) {
	if parseBool("", true) != true {
		t.Fatalf("empty input should return fallback true")
	}
	if parseBool("invalid", false) != false {
		t.Fatalf("invalid input should return fallback false")
	}
	if parseBool("YES", false) != true {
		t.Fatalf("expected true for yes")
	}
	if parseBool("0", true) != false {
		t.Fatalf("expected false for zero")
	}
}

func TestParseDurationFallback(t *testing.T) {
	fallback := 5 * time.Minute
	if parseDuration("bogus", fallback) != fallback {
		t.Fatalf("invalid duration should return fallback")
	}
	if parseDuration("30s", fallback) != 30*time.Second {
		t.Fatalf("parsed duration mismatch")
	}
}
