package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// scriptPath is where the browser lands after authentication unless a
// return destination was recorded beforehand.
const scriptPath = "/strap.sh"

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Store     *InMemoryStore
	Sessions  *SessionManager
	Script    *ScriptService
	Providers map[string]IdentityProvider
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	store := NewInMemoryStore()

	if cfg.Session.Secret == "" && cfg.Server.DevMode {
		cfg.Session.Secret = store.NewID()
		logger.Warn("session.secret not set, generated an ephemeral dev secret; sessions will not survive restarts")
	}

	providers, err := BuildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Sessions:  NewSessionManager(cfg, store, logger),
		Script:    NewScriptService(cfg.Script, logger),
		Providers: providers,
	}, nil
}

// handleAuth records where the browser wanted to go and redirects to the
// identity provider.
func (a *App) handleAuth(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	provider, ok := a.Providers[providerName]
	if !ok {
		http.Error(w, "provider not configured", http.StatusNotFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	req := AuthRequest{
		State:     a.Store.NewID(),
		Nonce:     a.Store.NewID(),
		Provider:  providerName,
		ReturnTo:  r.Form.Get("return_to"),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(DefaultAuthReqTTL),
	}
	a.Store.SaveAuthRequest(req)

	http.Redirect(w, r, provider.AuthCodeURL(req.State, req.Nonce), http.StatusFound)
}

// handleCallback completes the provider round trip: it consumes the state
// record, exchanges the code for credentials, stores them in a fresh
// session, and sends the browser back where it was headed.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	provider, ok := a.Providers[providerName]
	if !ok {
		http.Error(w, "provider not configured", http.StatusBadRequest)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid callback", http.StatusBadRequest)
		return
	}

	state := r.FormValue("state")
	code := r.FormValue("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	authReq, ok := a.Store.ConsumeAuthRequest(state)
	if !ok {
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}
	if authReq.Provider != providerName {
		http.Error(w, "state provider mismatch", http.StatusBadRequest)
		return
	}

	creds, err := provider.Exchange(r.Context(), code, authReq.Nonce)
	if err != nil {
		a.Logger.Error("exchange failed", "provider", providerName, "error", err)
		http.Error(w, "login failed", http.StatusBadGateway)
		return
	}

	if _, err := a.Sessions.Create(w, providerName, creds); err != nil {
		a.Logger.Error("session create", "error", err)
		http.Error(w, "session failure", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, safeReturnTo(authReq.ReturnTo), http.StatusFound)
}

// handleScript renders the personalized script for the current session.
func (a *App) handleScript(w http.ResponseWriter, r *http.Request) {
	var creds *Credentials
	if sess := a.Sessions.Fetch(r); sess != nil {
		creds = sess.Credentials
	}

	body, err := a.Script.Render(creds)
	if err != nil {
		a.Logger.Error("render script", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	// The security headers middleware only covers page responses, so deny
	// framing here.
	w.Header().Set("X-Frame-Options", "DENY")
	if r.URL.Query().Has("text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	_, _ = w.Write(body)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if id, err := a.Sessions.verifyCookie(cookie.Value); err == nil {
			a.Store.DeleteSession(id)
		}
	}
	a.Sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// safeReturnTo confines the post-login redirect to local paths; anything
// else falls back to the script download.
func safeReturnTo(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		return scriptPath
	}
	return returnTo
}
