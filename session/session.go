// Package session holds the authenticated session in an encrypted,
// namespaced shopsync store and tracks login epochs.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Namespace is the store namespace sessions live in.
const Namespace = "session"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	User         *User     `json:"user,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at"`
	// ExpiresAt is the access token's exp claim; zero when unknown.
	ExpiresAt time.Time `json:"expires_at"`
}

// AccessExpired reports whether the access token is known to be expired at now.
func (s Session) AccessExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Expiry reads the exp claim of a JWT without verifying it. The client does
// not hold the signing key; the server remains the judge of validity.
// Opaque tokens and tokens without exp yield the zero time.
func Expiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.UTC()
}

// Reasons passed to Store.Clear and carried by ExpiredEvent.
const (
	ReasonLogout        = "logout"
	ReasonRefreshFailed = "refresh_failed"
	ReasonNoRefresh     = "no_refresh_token"
)

// StartedEvent is the session:started payload.
type StartedEvent struct {
	User  *User
	Epoch uint64
}

// ExpiredEvent is the session:expired payload.
type ExpiredEvent struct {
	Reason string
	Epoch  uint64
}
