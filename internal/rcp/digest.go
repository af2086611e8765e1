package rcp

import (
	"context"
	"io"
	"net/http"
	"strings"

	dac "github.com/xinsnake/go-http-digest-auth-client"
)

// digestTransport sends each request without credentials first and only
// answers a Digest challenge. Any other 401 is returned as is so the
// classifier sees the camera's answer.
type digestTransport struct {
	username string
	password string
	base     *http.Transport
}

func newDigestTransport(username, password string) *digestTransport {
	return &digestTransport{
		username: username,
		password: password,
		base:     http.DefaultTransport.(*http.Transport).Clone(),
	}
}

// RoundTrip implements http.RoundTripper
func (t *digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !isDigestChallenge(resp.Header.Get("WWW-Authenticate")) {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	// dac builds its own requests; bind them to the caller's context
	dt := dac.NewTransport(t.username, t.password)
	dt.HTTPClient = &http.Client{Transport: &contextTransport{ctx: req.Context(), base: t.base}}
	return dt.RoundTrip(req)
}

// CloseIdleConnections lets resty's client drop pooled connections
func (t *digestTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

func isDigestChallenge(header string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(header)), "digest ")
}

// contextTransport sends every request under ctx
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
