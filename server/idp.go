package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	githubendpoint "golang.org/x/oauth2/github"
)

// IdentityProvider represents the minimal behaviour required from an
// upstream identity provider: build the authorization redirect and turn a
// callback code into credentials.
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, expectedNonce string) (Credentials, error)
}

// githubScopes covers gh cli, packages, git client setup and repo checkouts.
var githubScopes = []string{
	"user:email", "repo", "workflow", "write:packages", "read:packages",
	"read:org", "read:discussions",
}

// GitHubProvider authenticates against GitHub OAuth and reads the user's
// profile from the REST API.
type GitHubProvider struct {
	oauthConfig *oauth2.Config
	apiBase     string
	logger      *slog.Logger
}

// NewGitHubProvider constructs the provider from static credentials; GitHub
// has no discovery document.
func NewGitHubProvider(cfg GitHubConfig, redirect string, logger *slog.Logger) *GitHubProvider {
	return &GitHubProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirect,
			Endpoint:     githubendpoint.Endpoint,
			Scopes:       githubScopes,
		},
		apiBase: "https://api.github.com",
		logger:  logger,
	}
}

// AuthCodeURL constructs the authorization request for GitHub. The nonce is
// ignored; GitHub's OAuth dialect has no equivalent parameter.
func (p *GitHubProvider) AuthCodeURL(state, nonce string) string {
	return p.oauthConfig.AuthCodeURL(state, oauth2.SetAuthURLParam("allow_signup", "false"))
}

// Exchange completes the code exchange and fetches the profile fields the
// script personalization needs.
func (p *GitHubProvider) Exchange(ctx context.Context, code, expectedNonce string) (Credentials, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("exchange code: %w", err)
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))

	var profile struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := p.apiGet(ctx, client, "/user", &profile); err != nil {
		return Credentials{}, err
	}

	email := profile.Email
	if email == "" {
		// The profile email is empty when the user keeps it private; the
		// user:email scope still exposes it on the emails endpoint.
		var emails []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		}
		if err := p.apiGet(ctx, client, "/user/emails", &emails); err != nil {
			p.logger.Warn("fetch user emails", "error", err)
		}
		for _, e := range emails {
			if e.Primary {
				email = e.Email
				break
			}
		}
		if email == "" && len(emails) > 0 {
			email = emails[0].Email
		}
	}

	return Credentials{
		Name:     profile.Name,
		Email:    email,
		Username: profile.Login,
		Token:    tok.AccessToken,
	}, nil
}

func (p *GitHubProvider) apiGet(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("create api request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call github api %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("github api %s returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github api %s: %w", path, err)
	}
	return nil
}

// OIDCProvider wraps a generic upstream provider initialized via discovery.
type OIDCProvider struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	logger      *slog.Logger
}

// NewOIDCProvider initializes the provider via discovery.
func NewOIDCProvider(ctx context.Context, name string, upstream UpstreamProvider, redirect string, logger *slog.Logger) (*OIDCProvider, error) {
	if upstream.Issuer == "" {
		return nil, fmt.Errorf("issuer required for provider %s", name)
	}

	op, err := oidc.NewProvider(ctx, upstream.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider %s: %w", name, err)
	}

	endpoint := op.Endpoint()
	if upstream.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	return &OIDCProvider{
		name: name,
		oauthConfig: &oauth2.Config{
			ClientID:     upstream.ClientID,
			ClientSecret: upstream.ClientSecret,
			RedirectURL:  redirect,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: op.Verifier(&oidc.Config{ClientID: upstream.ClientID}),
		logger:   logger,
	}, nil
}

// AuthCodeURL constructs the authorization request for upstream.
func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	opts := []oauth2.AuthCodeOption{}
	if nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

// Exchange completes the code exchange, verifies the ID token, and maps the
// claims onto credentials.
func (p *OIDCProvider) Exchange(ctx context.Context, code, expectedNonce string) (Credentials, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Credentials{}, fmt.Errorf("id_token missing in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Credentials{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Credentials{}, fmt.Errorf("parse claims: %w", err)
	}

	if expectedNonce != "" {
		if nonce, ok := claims["nonce"].(string); !ok || nonce != expectedNonce {
			return Credentials{}, fmt.Errorf("nonce mismatch")
		}
	}

	creds := Credentials{Token: tok.AccessToken}
	if name, ok := claims["name"].(string); ok {
		creds.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		creds.Email = email
	}
	if preferred, ok := claims["preferred_username"].(string); ok {
		creds.Username = preferred
	} else {
		creds.Username = idToken.Subject
	}

	return creds, nil
}

// BuildProviders prepares all configured identity providers. GitHub is
// first-class; any number of generic OIDC providers may be added besides
// it. In dev mode a provider that fails discovery is skipped with a
// warning so the rest of the service stays usable.
func BuildProviders(ctx context.Context, cfg Config, logger *slog.Logger) (map[string]IdentityProvider, error) {
	providers := make(map[string]IdentityProvider)

	redirect := func(name string) string {
		return strings.TrimSuffix(cfg.Server.PublicURL, "/") + "/auth/" + name + "/callback"
	}

	if cfg.GitHub.ClientID != "" {
		providers["github"] = NewGitHubProvider(cfg.GitHub, redirect("github"), logger)
	}

	for name, upstream := range cfg.Providers {
		if upstream.Issuer == "" {
			continue
		}
		prov, err := NewOIDCProvider(ctx, name, upstream, redirect(name), logger)
		if err != nil {
			if cfg.Server.DevMode {
				logger.Warn("provider init failed", "provider", name, "error", err)
				continue
			}
			return nil, err
		}
		providers[name] = prov
	}

	return providers, nil
}
