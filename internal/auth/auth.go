// Package auth gates the network-exposed transport behind a bearer token.
//
// The configured credential is a bcrypt hash, never the token itself, so the
// secret material at rest in the environment cannot be replayed. Stdio
// deployments skip authentication entirely; the process boundary is the
// trust boundary there.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthenticated is returned when no valid credential is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator validates incoming HTTP requests.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// ExtractBearerToken pulls the bearer token from an Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrUnauthenticated
	}
	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if token == "" || token == header {
		return "", ErrUnauthenticated
	}
	return token, nil
}

// BearerAuthenticator checks presented tokens against a bcrypt hash.
type BearerAuthenticator struct {
	hash []byte
}

// NewBearerAuthenticator creates an authenticator from a bcrypt hash string
// (as produced by `htpasswd -nbB` or bcrypt.GenerateFromPassword).
func NewBearerAuthenticator(hash string) (*BearerAuthenticator, error) {
	// Reject garbage up front so a typo in config fails at startup, not
	// on the first request.
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, err
	}
	return &BearerAuthenticator{hash: []byte(hash)}, nil
}

func (a *BearerAuthenticator) Authenticate(r *http.Request) error {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrUnauthenticated
	}
	return nil
}

// Middleware rejects unauthenticated requests with 401 before they reach
// the tool surface. A nil authenticator disables the check.
func Middleware(a Authenticator, next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r); err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
