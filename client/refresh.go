package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/unkn0wn-root/shopsync"
	"github.com/unkn0wn-root/shopsync/session"
)

const refreshKey = "refresh"

// AuthData is the data object of login and refresh replies.
type AuthData struct {
	Token        string        `json:"token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	User         *session.User `json:"user,omitempty"`
}

// refreshAfter returns a token to retry with after usedToken got a 401.
// Concurrent callers share one refresh; a caller whose token was already
// replaced retries with the replacement without refreshing again.
func (c *Client) refreshAfter(ctx context.Context, usedToken string) (string, error) {
	if cur := c.token(ctx); cur != "" && cur != usedToken {
		return cur, nil
	}
	// the refresh outlives any single caller's cancellation; waiters still
	// stop waiting when their own ctx ends
	ch := c.refreshes.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(rctx, usedToken)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &NetworkError{Method: http.MethodPost, Path: c.refreshPath, Err: ctx.Err()}
	}
}

func (c *Client) refresh(ctx context.Context, usedToken string) (string, error) {
	sess, ok := c.sessions.Current(ctx)
	if !ok {
		// nothing to refresh; the session is already gone
		return "", &AuthError{Status: http.StatusUnauthorized, Expired: true}
	}
	if sess.Token != usedToken && sess.Token != "" {
		// a refresh finished between the 401 and this flight
		return sess.Token, nil
	}
	if sess.RefreshToken == "" {
		c.expire(ctx, session.ReasonNoRefresh)
		return "", &AuthError{Status: http.StatusUnauthorized, Expired: true}
	}

	c.refreshCalls.Add(1)
	cl := &call{
		req:       Request{Method: http.MethodPost, Path: c.refreshPath, NoAuth: true},
		path:      c.refreshPath,
		requestID: newRequestID(),
	}
	cl.body, _ = encodeBody(map[string]string{"refresh_token": sess.RefreshToken})

	resp, err := c.send(ctx, cl, "")
	if err != nil {
		c.log.Warn("token refresh failed", shopsync.Fields{"err": err, "request_id": cl.requestID})
		c.expire(ctx, session.ReasonRefreshFailed)
		ae := &AuthError{Expired: true, Cause: err}
		var he *HTTPError
		if errors.As(err, &he) {
			ae.Status, ae.Message = he.Status, he.Message
		}
		return "", ae
	}
	var data AuthData
	if err := resp.Decode(&data); err != nil || data.Token == "" {
		if err == nil {
			err = errors.New("refresh reply has no token")
		}
		c.expire(ctx, session.ReasonRefreshFailed)
		return "", &AuthError{Status: resp.Status, Expired: true, Cause: err}
	}

	next := session.Session{
		Token:        data.Token,
		RefreshToken: data.RefreshToken,
		User:         data.User,
	}
	if err := c.sessions.Replace(ctx, next); err != nil {
		c.log.Warn("storing refreshed session failed", shopsync.Fields{"err": err})
	}
	c.log.Info("token refreshed", shopsync.Fields{"request_id": cl.requestID})
	return data.Token, nil
}

func (c *Client) expire(ctx context.Context, reason string) {
	if err := c.sessions.Clear(ctx, reason); err != nil {
		c.log.Warn("clearing session failed", shopsync.Fields{"err": err, "reason": reason})
	}
}
