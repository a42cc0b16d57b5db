// Package auth implements SOCKS5 username/password authentication
// (RFC 1929) per spec.md §4.2, plus the AuthenticationManager that
// negotiates a method from a client's offered set.
package auth

import (
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/bcrypt"

	"github.com/proxyworks/tunelo/internal/wire/socks5"
)

// Authenticator performs one SOCKS5 authentication method's
// conversation and returns the authenticated username.
type Authenticator interface {
	Authenticate(r io.Reader, w io.Writer) (string, error)
	Method() byte
}

// NoAuthAuthenticator implements the "no authentication required"
// method: it always succeeds.
type NoAuthAuthenticator struct{}

// Authenticate always succeeds for no-auth.
func (NoAuthAuthenticator) Authenticate(io.Reader, io.Writer) (string, error) { return "", nil }

// Method returns MethodNoAuth.
func (NoAuthAuthenticator) Method() byte { return socks5.MethodNoAuth }

// CredentialStore validates a username/password pair.
type CredentialStore interface {
	Valid(username, password string) bool
}

// HashedCredentials maps username to bcrypt password hash. This is the
// credential store production deployments should use.
type HashedCredentials map[string]string

// dummyHash is compared against when a username is absent, so lookups
// take the same time whether or not the username exists.
var dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Valid reports whether username/password match a stored bcrypt hash.
func (h HashedCredentials) Valid(username, password string) bool {
	storedHash, ok := h[username]
	if !ok {
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

// StaticCredentials is a plaintext credential store.
//
// Deprecated: use HashedCredentials in production.
type StaticCredentials map[string]string

// Valid reports whether username/password match in constant time.
func (s StaticCredentials) Valid(username, password string) bool {
	storedPass, ok := s[username]
	if !ok {
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedPass), []byte(password)) == 1
}

// HashPassword bcrypt-hashes a password for storage in HashedCredentials.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// UserPassAuthenticator implements RFC 1929 username/password
// sub-negotiation, reading/writing via internal/wire/socks5's framing.
type UserPassAuthenticator struct {
	Credentials CredentialStore
}

// NewUserPassAuthenticator builds a UserPassAuthenticator over creds.
func NewUserPassAuthenticator(creds CredentialStore) *UserPassAuthenticator {
	return &UserPassAuthenticator{Credentials: creds}
}

// Method returns MethodUserPass.
func (a *UserPassAuthenticator) Method() byte { return socks5.MethodUserPass }

// Authenticate performs the RFC 1929 sub-negotiation.
func (a *UserPassAuthenticator) Authenticate(r io.Reader, w io.Writer) (string, error) {
	req, err := socks5.ReadUserPassRequest(r)
	if err != nil {
		return "", err
	}

	if !a.Credentials.Valid(req.Username, req.Password) {
		reply := socks5.UserPassReply{Status: socks5.AuthFailure}
		w.Write(reply.Bytes())
		return "", errors.New("auth: invalid credentials")
	}

	reply := socks5.UserPassReply{Status: socks5.AuthSuccess}
	if _, err := w.Write(reply.Bytes()); err != nil {
		return "", err
	}
	return req.Username, nil
}

// Config configures which authenticators a SOCKS5 server offers.
type Config struct {
	Enabled bool
	// Required, if true, omits NoAuthAuthenticator so unauthenticated
	// clients cannot negotiate a method.
	Required bool
	// HashedUsers maps username to bcrypt hash; preferred over Users.
	HashedUsers map[string]string
	// Users maps username to plaintext password.
	//
	// Deprecated: prefer HashedUsers.
	Users map[string]string
}

// BuildAuthenticators constructs the authenticator set a server
// advertises, in the order the Manager should try offered methods.
func BuildAuthenticators(cfg Config) []Authenticator {
	var auths []Authenticator

	if cfg.Enabled {
		switch {
		case len(cfg.HashedUsers) > 0:
			auths = append(auths, NewUserPassAuthenticator(HashedCredentials(cfg.HashedUsers)))
		case len(cfg.Users) > 0:
			auths = append(auths, NewUserPassAuthenticator(StaticCredentials(cfg.Users)))
		}
	}

	if !cfg.Required {
		auths = append(auths, NoAuthAuthenticator{})
	}

	return auths
}

// Manager negotiates a method from a client's offered set and runs the
// corresponding Authenticator. Per DESIGN.md's Open Question resolution
// #4, when no authenticator is configured it always reports
// MethodNoAuth as supported.
type Manager struct {
	authenticators map[byte]Authenticator
}

// NewManager builds a Manager offering the given authenticators.
func NewManager(auths ...Authenticator) *Manager {
	m := &Manager{authenticators: make(map[byte]Authenticator, len(auths))}
	for _, a := range auths {
		m.authenticators[a.Method()] = a
	}
	return m
}

// SupportedMethod picks an authenticator this Manager can run from the
// client's offered methods, preferring UserPass over NoAuth when both
// are offered and configured.
func (m *Manager) SupportedMethod(offered []byte) byte {
	if len(m.authenticators) == 0 {
		return socks5.MethodNoAuth
	}
	if contains(offered, socks5.MethodUserPass) {
		if _, ok := m.authenticators[socks5.MethodUserPass]; ok {
			return socks5.MethodUserPass
		}
	}
	if contains(offered, socks5.MethodNoAuth) {
		if _, ok := m.authenticators[socks5.MethodNoAuth]; ok {
			return socks5.MethodNoAuth
		}
	}
	return socks5.MethodNoAcceptable
}

// Authenticate runs the authenticator for method, or a no-op when no
// authenticator is registered for it (the SupportedMethod()-absent
// default, per Open Question resolution #4).
func (m *Manager) Authenticate(method byte, r io.Reader, w io.Writer) (string, error) {
	a, ok := m.authenticators[method]
	if !ok {
		return NoAuthAuthenticator{}.Authenticate(r, w)
	}
	return a.Authenticate(r, w)
}

func contains(methods []byte, target byte) bool {
	for _, m := range methods {
		if m == target {
			return true
		}
	}
	return false
}
