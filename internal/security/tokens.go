package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a bearer token is malformed, has a bad
	// signature, or has been invalidated.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a bearer token is past its exp claim.
	ErrTokenExpired = errors.New("token expired")
)

// Blocklist records invalidated bearer token ids (jti) until their natural
// expiry. Validate consults it so a blocklisted token fails even before its
// exp claim is reached.
type Blocklist interface {
	Add(ctx context.Context, jti string, ttl time.Duration) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// BearerClaims holds the claims carried by a bearer token.
type BearerClaims struct {
	jwt.RegisteredClaims
}

// TokenProvider issues, validates, and invalidates HS256 bearer tokens. It is
// the single place bearer tokens are minted or inspected; the rest of the
// system treats tokens as opaque strings inside the composite credential.
type TokenProvider struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	blocklist Blocklist
}

// NewTokenProvider returns a TokenProvider signing with secret. Invalidated
// token ids are tracked in blocklist.
func NewTokenProvider(secret []byte, issuer string, ttl time.Duration, blocklist Blocklist) *TokenProvider {
	return &TokenProvider{secret: secret, issuer: issuer, ttl: ttl, blocklist: blocklist}
}

// Issue mints a bearer token for userID. Returns the signed token, its jti,
// and the expiry time.
func (p *TokenProvider) Issue(ctx context.Context, userID string) (token, jti string, expiresAt time.Time, err error) {
	jti, err = randomJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.ttl)
	claims := BearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return token, jti, expiresAt, nil
}

// Validate parses tokenString, checks signature, expiry, issuer, and the
// blocklist, and returns the subject user id and jti. Expired tokens return
// ErrTokenExpired; all other failures return ErrInvalidToken.
func (p *TokenProvider) Validate(ctx context.Context, tokenString string) (userID, jti string, err error) {
	claims, err := p.parse(tokenString, true)
	if err != nil {
		return "", "", err
	}
	if claims.Issuer != p.issuer {
		return "", "", ErrInvalidToken
	}
	blocked, err := p.blocklist.Contains(ctx, claims.ID)
	if err != nil {
		return "", "", err
	}
	if blocked {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.ID, nil
}

// Invalidate records the token's jti in the blocklist for the remainder of
// its lifetime. Invalidating an already-expired token is a no-op. The token's
// signature must still be valid; Invalidate never blocklists forged input.
func (p *TokenProvider) Invalidate(ctx context.Context, tokenString string) error {
	claims, err := p.parse(tokenString, false)
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil {
		return ErrInvalidToken
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}
	return p.blocklist.Add(ctx, claims.ID, remaining)
}

func randomJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// parse verifies the signature and returns the claims. When checkExpiry is
// false an expired token still parses (used by Invalidate).
func (p *TokenProvider) parse(tokenString string, checkExpiry bool) (*BearerClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	token, err := jwt.ParseWithClaims(tokenString, &BearerClaims{}, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*BearerClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
