package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrMalformedToken is returned when a credential is not in the
// "<nonce>:<bearer-token>" composite form.
var ErrMalformedToken = errors.New("malformed composite token")

// Session binds a user, device, composite token, RSA key pair, and validity.
// One row is written per issued composite token.
type Session struct {
	ID             string
	UserID         string
	CompositeToken string // unique; "<nonce>:<bearer-token>"
	Valid          bool   // flips true -> false exactly once
	IssuedAt       time.Time
	LastUsedAt     *time.Time
	PublicKeyPEM   string
	PrivateKeyPEM  string // plaintext here; encrypted at the store boundary
	DeviceID       string
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FormatCompositeToken joins a session nonce and a bearer token into the
// client-facing composite credential.
func FormatCompositeToken(nonce, bearerToken string) string {
	return nonce + ":" + bearerToken
}

// SplitCompositeToken splits a composite credential on the first ':' into
// (nonce, bearer token). Returns ErrMalformedToken when either segment is
// empty or the separator is missing.
func SplitCompositeToken(token string) (nonce, bearerToken string, err error) {
	nonce, bearerToken, found := strings.Cut(token, ":")
	if !found || nonce == "" || bearerToken == "" {
		return "", "", ErrMalformedToken
	}
	return nonce, bearerToken, nil
}
