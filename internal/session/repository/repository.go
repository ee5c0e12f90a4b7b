package repository

import (
	"context"
	"time"

	"jwt-session-auth/internal/session/domain"
)

// Repository defines persistence for sessions. The store enforces the unique
// constraint on composite_token; Supersede and Upsert run their writes inside
// one transaction so a session is never observable mid-transition.
type Repository interface {
	// Create inserts a new session row. A duplicate composite token fails
	// with the store's unique-constraint error.
	Create(ctx context.Context, s *domain.Session) error
	// GetByCompositeToken returns the session matching the exact composite
	// token, or nil if absent. Invalid sessions are still returned.
	GetByCompositeToken(ctx context.Context, token string) (*domain.Session, error)
	// UpsertByUserAndDevice replaces the existing row for (user_id, device_id)
	// in place, or inserts when none exists.
	UpsertByUserAndDevice(ctx context.Context, s *domain.Session) error
	// Invalidate marks the session invalid. Invalidating an already-invalid
	// session is a no-op.
	Invalidate(ctx context.Context, id string) error
	// Supersede marks the old session invalid and inserts the replacement in
	// one transaction.
	Supersede(ctx context.Context, oldID string, replacement *domain.Session) error
	// TouchLastUsed updates the session's last-used watermark.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// DeleteInvalidBefore removes sessions invalidated before cutoff and
	// returns the number of rows removed.
	DeleteInvalidBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
