// Package auth turns bearer tokens issued by the identity service into
// request principals.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// ErrUnauthenticated indicates a missing, malformed or expired token.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Claims are the token fields this service relies on. Subject carries the user id.
type Claims struct {
	CompanyID int64  `json:"company_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier returns a verifier for secret. An empty issuer skips the issuer check.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: token secret must be at least 32 bytes")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

// Verify parses raw and returns the principal it names.
func (v *Verifier) Verify(raw string) (shared.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: subject %q is not a user id", ErrUnauthenticated, claims.Subject)
	}
	p := shared.Principal{UserID: userID, CompanyID: claims.CompanyID, Role: shared.Role(strings.ToUpper(claims.Role))}
	if err := p.Validate(); err != nil {
		return shared.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !p.Role.Valid() {
		return shared.Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, claims.Role)
	}
	return p, nil
}

// Sign issues a token for p valid for ttl. Used by tooling and tests; production
// tokens come from the identity service.
func (v *Verifier) Sign(p shared.Principal, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		CompanyID: p.CompanyID,
		Role:      string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.UserID, 10),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
