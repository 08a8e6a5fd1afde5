package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware())
	}

	r.Get("/", a.handleHome)
	r.Get("/strap.sh", a.handleScript)

	// The home page submits a form, but the flow also works from a plain
	// link.
	r.Get("/auth/{provider}", a.handleAuth)
	r.Post("/auth/{provider}", a.handleAuth)
	r.Get("/auth/{provider}/callback", a.handleCallback)

	r.Post("/logout", a.handleLogout)

	return r
}
