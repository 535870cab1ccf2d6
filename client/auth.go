package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/unkn0wn-root/shopsync"
	"github.com/unkn0wn-root/shopsync/session"
)

// AuthSessions is what AuthService needs from the session store.
type AuthSessions interface {
	Sessions
	Start(ctx context.Context, s session.Session) (uint64, error)
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthService covers the login, refresh and logout endpoints.
type AuthService struct {
	c        *Client
	sessions AuthSessions
	log      shopsync.Logger
}

func NewAuthService(c *Client, sessions AuthSessions) *AuthService {
	return &AuthService{c: c, sessions: sessions, log: c.log}
}

// Login exchanges credentials for a session and starts a new login epoch.
// Bad credentials come back as *AuthError without ErrSessionExpired.
func (a *AuthService) Login(ctx context.Context, cr Credentials) (session.Session, uint64, error) {
	if cr.Email == "" || cr.Password == "" {
		return session.Session{}, 0, &ValidationError{HTTPError: &HTTPError{
			Method:  http.MethodPost,
			Path:    "/auth/login",
			Message: "email and password are required",
		}}
	}
	resp, err := a.c.Execute(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   cr,
		NoAuth: true,
	})
	if err != nil {
		return session.Session{}, 0, err
	}
	var data AuthData
	if err := resp.Decode(&data); err != nil {
		return session.Session{}, 0, err
	}
	if data.Token == "" {
		return session.Session{}, 0, errors.New("client: login reply has no token")
	}
	s := session.Session{Token: data.Token, RefreshToken: data.RefreshToken, User: data.User}
	epoch, err := a.sessions.Start(ctx, s)
	if err != nil {
		return session.Session{}, 0, err
	}
	cur, _ := a.sessions.Current(ctx)
	return cur, epoch, nil
}

// Refresh forces a token refresh now, sharing any refresh already in flight.
func (a *AuthService) Refresh(ctx context.Context) (string, error) {
	return a.c.refreshAfter(ctx, a.c.token(ctx))
}

// Logout tells the server and always clears the local session, even when the
// server call fails. The server error, if any, is returned.
func (a *AuthService) Logout(ctx context.Context) error {
	var callErr error
	if a.c.token(ctx) != "" {
		_, callErr = a.c.Execute(ctx, Request{Method: http.MethodPost, Path: "/auth/logout"})
		if callErr != nil {
			a.log.Warn("logout call failed; clearing local session anyway", shopsync.Fields{"err": callErr})
		}
	}
	if err := a.sessions.Clear(ctx, ""); err != nil {
		return errors.Join(callErr, err)
	}
	return callErr
}
