// Package auth authenticates the store administrator with a bcrypt
// password check and HS256 session tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin is the only role issued today.
const RoleAdmin = "admin"

const issuer = "blueprintstore"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
	ErrNotConfigured      = errors.New("auth: admin login is not configured")
)

// Claims is the JWT payload of an admin session.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Options configures a Manager.
type Options struct {
	Username     string
	Password     string // hashed at construction when PasswordHash is empty
	PasswordHash string
	Secret       string
	TTL          time.Duration
}

// Manager checks admin credentials and issues session tokens.
type Manager struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewManager creates an auth manager. Without a secret or a password the
// manager is created disabled and every login fails with ErrNotConfigured.
func NewManager(opts Options) (*Manager, error) {
	m := &Manager{
		username: opts.Username,
		secret:   []byte(opts.Secret),
		ttl:      opts.TTL,
		now:      time.Now,
	}
	if m.ttl <= 0 {
		m.ttl = 24 * time.Hour
	}

	switch {
	case opts.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(opts.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth: ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
		}
		m.passwordHash = []byte(opts.PasswordHash)
	case opts.Password != "":
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("auth: hash admin password: %w", err)
		}
		m.passwordHash = hash
	}
	return m, nil
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Enabled reports whether admin login is possible.
func (m *Manager) Enabled() bool {
	return len(m.secret) > 0 && len(m.passwordHash) > 0 && m.username != ""
}

// Login checks credentials and returns a signed session token.
func (m *Manager) Login(username, password string) (string, *Claims, error) {
	if !m.Enabled() {
		return "", nil, ErrNotConfigured
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(m.username)) == 1
	// bcrypt runs even for an unknown user so timing does not reveal it.
	passErr := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := m.now()
	claims := &Claims{
		Username: m.username,
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   m.username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Verify parses and validates a session token.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	if !m.Enabled() {
		return nil, ErrNotConfigured
	}
	claims := &Claims{}
	// Expiry is checked below against the manager clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(m.now(), true) || !claims.VerifyIssuer(issuer, true) {
		return nil, ErrInvalidToken
	}
	if claims.Username != m.username || claims.Role != RoleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
