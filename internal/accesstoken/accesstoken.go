// Package accesstoken issues and verifies the bearer tokens that unlock a
// purchased blueprint download.
//
// A token is an HS256 JWT naming the blueprint and the payment intent that
// paid for it. It is valid for a fixed window after its iat claim.
package accesstoken

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultTTL is how long a token unlocks its download.
const DefaultTTL = 24 * time.Hour

// maxClockSkew tolerates tokens minted by a host whose clock runs ahead.
const maxClockSkew = time.Minute

var (
	ErrMalformed         = errors.New("accesstoken: malformed token")
	ErrBadSignature      = errors.New("accesstoken: signature mismatch")
	ErrExpired           = errors.New("accesstoken: token expired")
	ErrWrongBlueprint    = errors.New("accesstoken: token is for another blueprint")
	ErrPaymentIncomplete = errors.New("accesstoken: payment not completed")
	ErrNoSecret          = errors.New("accesstoken: secret is empty")
)

// Claims is the signed content of a token.
type Claims struct {
	BlueprintID string `json:"blueprintId"`
	IntentID    string `json:"intentId"`
	jwt.RegisteredClaims
}

// Issued returns the issuance time.
func (c *Claims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Issuer mints and parses tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewIssuer creates an issuer. A non-positive ttl selects DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		// The window is checked in Parse against the issuer clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// WithClock overrides the time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// TTL returns the validity window.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a token for the blueprint bought with intentID.
func (i *Issuer) Issue(blueprintID, intentID string) (string, error) {
	now := i.now()
	claims := &Claims{
		BlueprintID: blueprintID,
		IntentID:    intentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   intentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse checks the signature and validity window of token and returns its
// claims. It does not consult payment state.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := i.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrBadSignature
	case err != nil || !parsed.Valid:
		return nil, ErrMalformed
	}
	if claims.BlueprintID == "" || claims.IntentID == "" || claims.IssuedAt == nil {
		return nil, ErrMalformed
	}

	age := i.now().Sub(claims.Issued())
	if age > i.ttl || age < -maxClockSkew {
		return nil, ErrExpired
	}
	return claims, nil
}

// PaymentLookup reports whether a payment for the blueprint is completed.
type PaymentLookup interface {
	Completed(ctx context.Context, intentID, blueprintID string) bool
}

// Verifier checks a token against the requested blueprint and the payment
// record it was issued for.
type Verifier struct {
	issuer   *Issuer
	payments PaymentLookup
}

// NewVerifier creates a verifier.
func NewVerifier(issuer *Issuer, payments PaymentLookup) *Verifier {
	return &Verifier{issuer: issuer, payments: payments}
}

// Verify reports whether token unlocks blueprintID. Every failure is false.
func (v *Verifier) Verify(ctx context.Context, token, blueprintID string) bool {
	_, err := v.Check(ctx, token, blueprintID)
	return err == nil
}

// Check is Verify with the reason for rejection.
func (v *Verifier) Check(ctx context.Context, token, blueprintID string) (*Claims, error) {
	claims, err := v.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	if claims.BlueprintID != blueprintID {
		return nil, ErrWrongBlueprint
	}
	if !v.payments.Completed(ctx, claims.IntentID, blueprintID) {
		return nil, ErrPaymentIncomplete
	}
	return claims, nil
}
