package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookieName = "strap_session"

// SessionManager handles cookie-backed sessions. The cookie value is a
// token signed with the configured session secret rather than the bare
// session ID, so a forged cookie cannot probe the store.
type SessionManager struct {
	store        *InMemoryStore
	logger       *slog.Logger
	secret       []byte
	ttl          time.Duration
	secure       bool
	cookieDomain string
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config, store *InMemoryStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		store:        store,
		logger:       logger,
		secret:       []byte(cfg.Session.Secret),
		ttl:          cfg.Session.TTL.Value(),
		secure:       !cfg.Server.DevMode,
		cookieDomain: cfg.Server.CookieDomain,
	}
}

// Fetch returns the session for the request cookie, or nil when the cookie
// is absent, tampered with, or expired.
func (sm *SessionManager) Fetch(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	id, err := sm.verifyCookie(cookie.Value)
	if err != nil {
		sm.logger.Debug("session cookie rejected", "error", err)
		return nil
	}
	sess, ok := sm.store.GetSession(id)
	if !ok {
		return nil
	}
	if time.Now().After(sess.ExpiresAt) {
		sm.store.DeleteSession(sess.ID)
		return nil
	}
	return &sess
}

// Create establishes a session holding the callback credentials and sets
// the signed cookie.
func (sm *SessionManager) Create(w http.ResponseWriter, provider string, creds Credentials) (*Session, error) {
	id := sm.store.NewID()
	sess := Session{
		ID:          id,
		Provider:    provider,
		Credentials: &creds,
		AuthTime:    time.Now(),
		ExpiresAt:   time.Now().Add(sm.ttl),
	}

	signed, err := sm.signCookie(id, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign session cookie: %w", err)
	}

	sm.store.SaveSession(sess)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		// Lax rather than Strict: the cookie is set on a provider-initiated
		// top-level navigation and must survive the follow-up redirect.
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})

	return &sess, nil
}

// Clear removes the session cookie for logout.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (sm *SessionManager) signCookie(id string, expires time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sm.secret)
}

func (sm *SessionManager) verifyCookie(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return sm.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("session token missing subject")
	}
	return claims.Subject, nil
}
