// Package identity resolves who a cart belongs to: an authenticated customer or
// an anonymous guest session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingIdentity = errors.New("no customer token or session id")
	ErrInvalidToken    = errors.New("invalid token")
)

// Owner identifies a cart. CustomerID wins over SessionID when both are set.
type Owner struct {
	CustomerID string
	SessionID  string
}

func (o Owner) IsCustomer() bool { return o.CustomerID != "" }

func (o Owner) IsZero() bool { return o.CustomerID == "" && o.SessionID == "" }

// Key is stable per owner and used for cache keys, locks and logs.
func (o Owner) Key() string {
	if o.IsCustomer() {
		return "customer:" + o.CustomerID
	}
	return "session:" + o.SessionID
}

type ctxKey struct{}

func WithOwner(ctx context.Context, o Owner) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

func FromContext(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ctxKey{}).(Owner)
	return o, ok && !o.IsZero()
}

// Claims carry the customer id in the registered subject.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 customer tokens.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		now:    time.Now,
	}
}

// Verify returns the customer id carried by token.
func (v *TokenVerifier) Verify(token string) (string, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Sign issues a token for customerID valid for ttl. Used by tooling and tests.
func (v *TokenVerifier) Sign(customerID string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   customerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
