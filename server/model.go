package server

import "time"

// Credentials holds the identity-provider profile and access token captured
// for a logged-in browser session. Every field is optional; a blank field
// simply yields one fewer substitution in the generated script.
type Credentials struct {
	Name     string
	Email    string
	Username string
	Token    string
}

// Session binds a browser cookie to the credentials captured at callback time.
type Session struct {
	ID          string
	Provider    string
	Credentials *Credentials
	AuthTime    time.Time
	ExpiresAt   time.Time
}

// AuthRequest tracks an outstanding round trip to an identity provider,
// keyed by the opaque state value carried through the redirect. ReturnTo
// remembers where the browser wanted to go before authentication started.
type AuthRequest struct {
	State     string
	Nonce     string
	Provider  string
	ReturnTo  string
	CreatedAt time.Time
	ExpiresAt time.Time
}
