package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type stubProvider struct {
	creds    Credentials
	err      error
	authBase string
}

func (s *stubProvider) AuthCodeURL(state, nonce string) string {
	return s.authBase + "?state=" + url.QueryEscape(state)
}

func (s *stubProvider) Exchange(ctx context.Context, code, expectedNonce string) (Credentials, error) {
	if s.err != nil {
		return Credentials{}, s.err
	}
	return s.creds, nil
}

func newTestApp(t *testing.T, stub *stubProvider) *App {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Session.Secret = "test-secret"
	cfg.Script.Path = writeTemplate(t, sampleTemplate)
	cfg.Script.IssuesURL = "https://issues.example/x"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := NewApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	if stub != nil {
		if stub.authBase == "" {
			stub.authBase = "https://idp.example/authorize"
		}
		app.Providers["stub"] = stub
	}
	return app
}

// startAuth drives /auth/{provider} and returns the state the app minted.
func startAuth(t *testing.T, handler http.Handler, target string) string {
	t.Helper()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", target, nil))

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 from auth start, got %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatalf("redirect location missing state: %s", loc)
	}
	return state
}

func TestHandleAuthRedirectsToProvider(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	handler := app.Routes()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "https://idp.example/authorize?state=") {
		t.Fatalf("unexpected redirect target: %s", w.Header().Get("Location"))
	}
}

func TestHandleAuthUnknownProvider(t *testing.T) {
	app := newTestApp(t, nil)
	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/auth/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unconfigured provider, got %d", w.Code)
	}
}

func TestCallbackStoresCredentialsAndRedirects(t *testing.T) {
	stub := &stubProvider{creds: Credentials{
		Name:     "Ada",
		Email:    "ada@x.co",
		Username: "ada",
		Token:    "tok123",
	}}
	app := newTestApp(t, stub)
	handler := app.Routes()

	state := startAuth(t, handler, "/auth/stub?return_to=/foo")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state="+state+"&code=abc", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 from callback, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/foo" {
		t.Fatalf("expected redirect to recorded destination, got %q", loc)
	}

	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("callback must establish a session cookie")
	}

	// The personalized script now carries the credentials.
	req := httptest.NewRequest("GET", "/strap.sh", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	body := w.Body.String()
	for _, want := range []string{
		"STRAP_GIT_NAME='Ada'",
		"STRAP_GIT_EMAIL='ada@x.co'",
		"STRAP_GITHUB_USER='ada'",
		"STRAP_GITHUB_TOKEN='tok123'",
	} {
		if !strings.Contains(body, want+"\n") {
			t.Fatalf("missing %q in personalized script:\n%s", want, body)
		}
	}
}

func TestCallbackDefaultsToScriptPath(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	handler := app.Routes()

	state := startAuth(t, handler, "/auth/stub")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state="+state+"&code=abc", nil))

	if loc := w.Header().Get("Location"); loc != scriptPath {
		t.Fatalf("expected default redirect to %s, got %q", scriptPath, loc)
	}
}

func TestCallbackRejectsOffsiteReturnDestination(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	handler := app.Routes()

	state := startAuth(t, handler, "/auth/stub?return_to="+url.QueryEscape("https://evil.example/"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state="+state+"&code=abc", nil))

	if loc := w.Header().Get("Location"); loc != scriptPath {
		t.Fatalf("offsite destination must fall back to %s, got %q", scriptPath, loc)
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	stub := &stubProvider{err: errors.New("provider unavailable")}
	app := newTestApp(t, stub)
	handler := app.Routes()

	state := startAuth(t, handler, "/auth/stub")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state="+state+"&code=abc", nil))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for failed exchange, got %d", w.Code)
	}
	if cookies := w.Result().Cookies(); len(cookies) != 0 {
		t.Fatalf("failed exchange must not establish a session, got %+v", cookies)
	}
}

func TestCallbackUnknownState(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state=bogus&code=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", w.Code)
	}
}

func TestCallbackStateSingleUse(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	handler := app.Routes()

	state := startAuth(t, handler, "/auth/stub")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state="+state+"&code=abc", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("first callback should succeed, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state="+state+"&code=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replayed state must be rejected, got %d", w.Code)
	}
}

func TestCallbackProviderMismatch(t *testing.T) {
	app := newTestApp(t, &stubProvider{})
	app.Providers["other"] = &stubProvider{authBase: "https://other.example/authorize"}
	handler := app.Routes()

	state := startAuth(t, handler, "/auth/stub")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/other/callback?state="+state+"&code=abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("state minted for another provider must be rejected, got %d", w.Code)
	}
}

func TestScriptAnonymousStaysCommented(t *testing.T) {
	app := newTestApp(t, nil)
	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/strap.sh", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := w.Header().Get("Content-Type"); got != "application/octet-stream" {
		t.Fatalf("expected opaque download type, got %q", got)
	}

	body := w.Body.String()
	if !strings.Contains(body, "# STRAP_GITHUB_TOKEN=\n") {
		t.Fatalf("token line must stay commented without a session:\n%s", body)
	}
	if !strings.Contains(body, "STRAP_ISSUES_URL='https://issues.example/x'\n") {
		t.Fatalf("issues URL must be substituted regardless of session:\n%s", body)
	}
}

func TestScriptPreviewContentType(t *testing.T) {
	app := newTestApp(t, nil)
	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/strap.sh?text=1", nil))

	if got := w.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("expected text/plain preview, got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("preview must still deny framing, got %q", got)
	}
}

func TestScriptPreviewBareParameter(t *testing.T) {
	app := newTestApp(t, nil)
	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/strap.sh?text=", nil))

	if got := w.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("bare text parameter should select the preview type, got %q", got)
	}
}

func TestScriptTemplateUnreadable(t *testing.T) {
	app := newTestApp(t, nil)
	app.Script = newScriptService(t, ScriptConfig{Path: "/nonexistent/strap.sh"})

	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/strap.sh", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("unreadable template must be a server error, got %d", w.Code)
	}
}

func TestHomePage(t *testing.T) {
	app := newTestApp(t, nil)
	app.Config.Script.BeforeInstall = "Ask IT for an admin account"

	w := httptest.NewRecorder()
	app.Routes().ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `action="/auth/github"`) {
		t.Fatalf("home page must post to the auth flow:\n%s", body)
	}
	if !strings.Contains(body, "Ask IT for an admin account") {
		t.Fatalf("before-install note missing:\n%s", body)
	}
	if !strings.Contains(body, "https://issues.example/x") {
		t.Fatalf("issues link missing:\n%s", body)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	app := newTestApp(t, &stubProvider{creds: Credentials{Token: "tok"}})
	handler := app.Routes()

	state := startAuth(t, handler, "/auth/stub")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/stub/callback?state="+state+"&code=abc", nil))
	cookies := w.Result().Cookies()

	req := httptest.NewRequest("POST", "/logout", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from logout, got %d", w.Code)
	}

	// The old cookie no longer resolves a session.
	req = httptest.NewRequest("GET", "/strap.sh", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "# STRAP_GITHUB_TOKEN=\n") {
		t.Fatalf("script should be anonymous after logout:\n%s", w.Body.String())
	}
}
