package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Credentials are what a connecting client claims to be. The checksum is
// verified against the shared secret before the session may join.
type Credentials struct {
	UserName string
	Checksum string
}

// ErrMissingCredentials means a required credential field was not supplied;
// the connection is closed with a policy-violation code, like a bad checksum.
var ErrMissingCredentials = errors.New("missing credentials")

// Authenticator extracts connection credentials from the upgrade request.
// The two deployment variants (query-parameter vs. session-bound) share this
// interface; the rest of the lifecycle is identical.
type Authenticator interface {
	Credentials(r *http.Request) (Credentials, error)
}

// QueryAuthenticator reads user_name and checksum from the connection URL.
type QueryAuthenticator struct{}

func (QueryAuthenticator) Credentials(r *http.Request) (Credentials, error) {
	q := r.URL.Query()
	creds := Credentials{
		UserName: q.Get("user_name"),
		Checksum: q.Get("checksum"),
	}
	if creds.UserName == "" || creds.Checksum == "" {
		return Credentials{}, ErrMissingCredentials
	}
	return creds, nil
}

// SessionAuthenticator resolves a session_id cookie against a Redis session
// hash written by the token issuer ("session:<sid>" with user_name and
// checksum fields).
type SessionAuthenticator struct {
	rdc *redis.Client
}

func NewSessionAuthenticator(rdc *redis.Client) *SessionAuthenticator {
	return &SessionAuthenticator{rdc: rdc}
}

func (a *SessionAuthenticator) Credentials(r *http.Request) (Credentials, error) {
	cookie, err := r.Cookie("session_id")
	if err != nil || cookie.Value == "" {
		return Credentials{}, ErrMissingCredentials
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	sess, err := a.rdc.HGetAll(ctx, "session:"+cookie.Value).Result()
	if err != nil {
		return Credentials{}, err
	}
	creds := Credentials{
		UserName: sess["user_name"],
		Checksum: sess["checksum"],
	}
	if creds.UserName == "" || creds.Checksum == "" {
		return Credentials{}, ErrMissingCredentials
	}
	return creds, nil
}
