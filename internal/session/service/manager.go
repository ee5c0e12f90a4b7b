// Package service implements the session manager: it composes bearer tokens,
// per-session RSA key pairs, and persisted session rows into the composite
// credential handed to clients, and drives the issue/refresh/invalidate
// lifecycle.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"

	"jwt-session-auth/internal/security"
	"jwt-session-auth/internal/session/domain"
	"jwt-session-auth/internal/session/repository"
)

// ErrInvalidSession is returned when a composite token matches no session or
// the matched session has been invalidated.
var ErrInvalidSession = errors.New("invalid or expired session")

// TokenService is the external token collaborator: it mints and invalidates
// the bearer half of the composite credential.
type TokenService interface {
	Issue(ctx context.Context, userID string) (token, jti string, expiresAt time.Time, err error)
	Invalidate(ctx context.Context, token string) error
}

// KeyGenerator produces a fresh key pair per session.
type KeyGenerator interface {
	Generate() (*security.KeyPair, error)
}

// IssuancePolicy selects how a new session row relates to existing rows for
// the same (user, device).
type IssuancePolicy int

const (
	// AlwaysInsert creates a new row even when one exists for the device.
	// Used by register and explicit token issuance.
	AlwaysInsert IssuancePolicy = iota
	// UpsertByDevice replaces any existing (user_id, device_id) row in place.
	// Used by login.
	UpsertByDevice
)

// IssueParams describes one session issuance.
type IssueParams struct {
	UserID    string
	DeviceID  string // generated when empty
	IPAddress string
	UserAgent string
	Policy    IssuancePolicy
}

// IssueResult is returned from Issue and Refresh: the persisted session plus
// the credential and public key handed to the client. The private key is
// never part of a response.
type IssueResult struct {
	Session        *domain.Session
	CompositeToken string
	PublicKeyPEM   string
}

// Manager orchestrates session issuance, refresh, and invalidation.
type Manager struct {
	repo   repository.Repository
	tokens TokenService
	keys   KeyGenerator
}

// NewManager returns a Manager with the given dependencies.
func NewManager(repo repository.Repository, tokens TokenService, keys KeyGenerator) *Manager {
	return &Manager{repo: repo, tokens: tokens, keys: keys}
}

// Issue creates a session for the user: a fresh key pair, a bearer token, a
// random nonce, and one persisted row. Any failure before the row is written
// leaves no partial session behind. Returns the composite token and public
// key for the client.
func (m *Manager) Issue(ctx context.Context, p IssueParams) (*IssueResult, error) {
	pair, err := m.keys.Generate()
	if err != nil {
		return nil, err
	}
	bearer, _, _, err := m.tokens.Issue(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	now := time.Now().UTC()
	s := &domain.Session{
		ID:             uuid.New().String(),
		UserID:         p.UserID,
		CompositeToken: domain.FormatCompositeToken(uuid.New().String(), bearer),
		Valid:          true,
		IssuedAt:       now,
		LastUsedAt:     &now,
		PublicKeyPEM:   pair.PublicKeyPEM,
		PrivateKeyPEM:  pair.PrivateKeyPEM,
		DeviceID:       deviceID,
		IPAddress:      p.IPAddress,
		UserAgent:      p.UserAgent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch p.Policy {
	case UpsertByDevice:
		err = m.repo.UpsertByUserAndDevice(ctx, s)
	default:
		err = m.repo.Create(ctx, s)
	}
	if err != nil {
		return nil, err
	}

	return &IssueResult{Session: s, CompositeToken: s.CompositeToken, PublicKeyPEM: s.PublicKeyPEM}, nil
}

// Lookup returns the session matching the exact composite token. Missing or
// invalidated sessions return ErrInvalidSession.
func (m *Manager) Lookup(ctx context.Context, compositeToken string) (*domain.Session, error) {
	s, err := m.repo.GetByCompositeToken(ctx, compositeToken)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.Valid {
		return nil, ErrInvalidSession
	}
	return s, nil
}

// Refresh supersedes the session identified by compositeToken: the bearer
// token is invalidated, the old row is marked invalid, and a brand-new row
// (new nonce, new bearer token, new key pair) is created for the same user
// and device. Old and new are distinct rows. The loser of a concurrent
// refresh race observes ErrInvalidSession.
func (m *Manager) Refresh(ctx context.Context, compositeToken, ip, userAgent string) (*IssueResult, error) {
	old, err := m.Lookup(ctx, compositeToken)
	if err != nil {
		return nil, err
	}
	_, oldBearer, err := domain.SplitCompositeToken(old.CompositeToken)
	if err != nil {
		return nil, err
	}

	pair, err := m.keys.Generate()
	if err != nil {
		return nil, err
	}
	bearer, _, _, err := m.tokens.Issue(ctx, old.UserID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	replacement := &domain.Session{
		ID:             uuid.New().String(),
		UserID:         old.UserID,
		CompositeToken: domain.FormatCompositeToken(uuid.New().String(), bearer),
		Valid:          true,
		IssuedAt:       now,
		LastUsedAt:     &now,
		PublicKeyPEM:   pair.PublicKeyPEM,
		PrivateKeyPEM:  pair.PrivateKeyPEM,
		DeviceID:       old.DeviceID,
		IPAddress:      ip,
		UserAgent:      userAgent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.repo.Supersede(ctx, old.ID, replacement); err != nil {
		return nil, err
	}

	// Best-effort: the superseded row is already invalid, so the gate rejects
	// the old composite token even when blocklisting the bearer fails.
	_ = m.tokens.Invalidate(ctx, oldBearer)

	return &IssueResult{
		Session:        replacement,
		CompositeToken: replacement.CompositeToken,
		PublicKeyPEM:   replacement.PublicKeyPEM,
	}, nil
}

// Invalidate marks the session invalid and blocklists its bearer token.
// A session that is already invalid is left as-is; only a composite token
// matching no session at all returns ErrInvalidSession. An invalidated
// session is never rehabilitated.
func (m *Manager) Invalidate(ctx context.Context, compositeToken string) error {
	s, err := m.repo.GetByCompositeToken(ctx, compositeToken)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrInvalidSession
	}
	if s.Valid {
		if err := m.repo.Invalidate(ctx, s.ID); err != nil {
			return err
		}
	}
	_, bearer, err := domain.SplitCompositeToken(s.CompositeToken)
	if err != nil {
		return err
	}
	return m.tokens.Invalidate(ctx, bearer)
}

// Touch updates the session's last-used watermark to now.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	return m.repo.TouchLastUsed(ctx, sessionID, time.Now().UTC())
}

// VerifySignature checks a detached SHA-512/RSA signature over data against
// the public key of the session identified by compositeToken. signatureB64 is
// standard base64. Outcomes: nil (verified), security.ErrSignatureMismatch
// (including undecodable base64), ErrInvalidSession, or a key/crypto error.
func (m *Manager) VerifySignature(ctx context.Context, compositeToken, data, signatureB64 string) error {
	s, err := m.Lookup(ctx, compositeToken)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return security.ErrSignatureMismatch
	}
	return security.VerifySHA512(s.PublicKeyPEM, []byte(data), sig)
}

// PruneInvalid removes sessions invalidated before the retention cutoff.
// Used by the sweeper worker.
func (m *Manager) PruneInvalid(ctx context.Context, retention time.Duration) (int64, error) {
	return m.repo.DeleteInvalidBefore(ctx, time.Now().UTC().Add(-retention))
}
