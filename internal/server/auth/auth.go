// Package auth proves admin sessions. An admin logs in with a username and
// password checked against a bcrypt hash and receives a signed session token
// that gates admin routes and privileged event membership.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// CookieName is the cookie carrying the session token.
	CookieName = "session"
	// RoleAdmin is the only role issued by Sessions.
	RoleAdmin = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrMissingSecret      = errors.New("session secret is required")
)

// Credentials hold the single admin account.
type Credentials struct {
	Username     string
	PasswordHash []byte
}

// NewCredentials builds credentials from either a bcrypt hash or a plain
// password. The hash wins when both are set.
func NewCredentials(username, password, passwordHash string) (*Credentials, error) {
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("invalid admin password hash: %w", err)
		}
		return &Credentials{Username: username, PasswordHash: []byte(passwordHash)}, nil
	}

	if password == "" {
		return nil, fmt.Errorf("admin password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	return &Credentials{Username: username, PasswordHash: hash}, nil
}

// Check compares a login attempt against the stored account.
func (c *Credentials) Check(username, password string) error {
	if username != c.Username {
		// Spend the same bcrypt work so unknown usernames are not cheaper.
		_ = bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Claims carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Sessions issues and verifies HS256 session tokens.
type Sessions struct {
	creds  *Credentials
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a session issuer for the given admin account.
func NewSessions(creds *Credentials, secret string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{creds: creds, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL returns how long issued tokens stay valid.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// Login checks the credentials and returns a signed session token.
func (s *Sessions) Login(username, password string) (string, error) {
	if err := s.creds.Check(username, password); err != nil {
		return "", err
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.creds.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: RoleAdmin,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and checks its signature, expiry and role.
func (s *Sessions) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrUnauthorized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}

	if claims.Role != RoleAdmin || claims.Subject != s.creds.Username {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// SessionToken extracts the token from the session cookie or a Bearer
// Authorization header.
func (s *Sessions) SessionToken(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Authorize reports whether the token proves an admin session.
func (s *Sessions) Authorize(token string) error {
	_, err := s.Verify(token)
	return err
}
