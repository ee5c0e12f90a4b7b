package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"jwt-session-auth/internal/security"
	"jwt-session-auth/internal/session/domain"
)

// PostgresRepository implements Repository over database/sql. Private keys
// pass through the codec on every write and read; the database only ever
// holds ciphertext.
type PostgresRepository struct {
	db    *sql.DB
	codec *security.KeyCodec
}

// NewPostgresRepository returns a session repository that uses the given db
// for persistence and codec for private-key encryption at rest.
func NewPostgresRepository(db *sql.DB, codec *security.KeyCodec) *PostgresRepository {
	return &PostgresRepository{db: db, codec: codec}
}

const sessionColumns = `id, user_id, composite_token, valid, issued_at, last_used_at,
	public_key, private_key, device_id, ip_address, user_agent, created_at, updated_at`

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	encKey, err := r.codec.Encrypt(s.PrivateKeyPEM)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jwt_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.ID, s.UserID, s.CompositeToken, s.Valid, s.IssuedAt, timeToNullTime(s.LastUsedAt),
		s.PublicKeyPEM, encKey, s.DeviceID,
		nullIfEmpty(s.IPAddress), nullIfEmpty(s.UserAgent), s.CreatedAt, s.UpdatedAt)
	return err
}

// GetByCompositeToken returns the session matching token exactly, or nil if
// not found. It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByCompositeToken(ctx context.Context, token string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM jwt_sessions WHERE composite_token = $1
	`, token)
	return r.scanSession(row)
}

// UpsertByUserAndDevice replaces the row for (user_id, device_id) in place,
// inserting when no row exists. Runs in one transaction; the existing row is
// locked while it is rewritten.
func (r *PostgresRepository) UpsertByUserAndDevice(ctx context.Context, s *domain.Session) error {
	encKey, err := r.codec.Encrypt(s.PrivateKeyPEM)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jwt_sessions
		WHERE user_id = $1 AND device_id = $2
		ORDER BY created_at LIMIT 1
		FOR UPDATE
	`, s.UserID, s.DeviceID).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jwt_sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, s.ID, s.UserID, s.CompositeToken, s.Valid, s.IssuedAt, timeToNullTime(s.LastUsedAt),
			s.PublicKeyPEM, encKey, s.DeviceID,
			nullIfEmpty(s.IPAddress), nullIfEmpty(s.UserAgent), s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE jwt_sessions
			SET composite_token = $2, valid = $3, issued_at = $4, last_used_at = $5,
				public_key = $6, private_key = $7, ip_address = $8, user_agent = $9,
				updated_at = $10
			WHERE id = $1
		`, existingID, s.CompositeToken, s.Valid, s.IssuedAt, timeToNullTime(s.LastUsedAt),
			s.PublicKeyPEM, encKey, nullIfEmpty(s.IPAddress), nullIfEmpty(s.UserAgent), s.UpdatedAt)
		if err != nil {
			return err
		}
		s.ID = existingID
	}

	return tx.Commit()
}

// Invalidate marks the session with the given id as invalid. Returns an error if the update fails.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jwt_sessions SET valid = FALSE, updated_at = $2 WHERE id = $1
	`, id, time.Now().UTC())
	return err
}

// Supersede invalidates the old session and inserts the replacement in one
// transaction, so no moment exists where both or neither are usable.
func (r *PostgresRepository) Supersede(ctx context.Context, oldID string, replacement *domain.Session) error {
	encKey, err := r.codec.Encrypt(replacement.PrivateKeyPEM)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE jwt_sessions SET valid = FALSE, updated_at = $2 WHERE id = $1
	`, oldID, time.Now().UTC()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO jwt_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, replacement.ID, replacement.UserID, replacement.CompositeToken, replacement.Valid,
		replacement.IssuedAt, timeToNullTime(replacement.LastUsedAt),
		replacement.PublicKeyPEM, encKey, replacement.DeviceID,
		nullIfEmpty(replacement.IPAddress), nullIfEmpty(replacement.UserAgent),
		replacement.CreatedAt, replacement.UpdatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// TouchLastUsed sets the session's last-used timestamp for the given id. Returns an error if the update fails.
func (r *PostgresRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jwt_sessions SET last_used_at = $2 WHERE id = $1
	`, id, at)
	return err
}

// DeleteInvalidBefore removes sessions that were invalidated before cutoff.
func (r *PostgresRepository) DeleteInvalidBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jwt_sessions WHERE valid = FALSE AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) scanSession(row *sql.Row) (*domain.Session, error) {
	var s domain.Session
	var lastUsed sql.NullTime
	var encKey string
	var ip, ua sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.CompositeToken, &s.Valid, &s.IssuedAt, &lastUsed,
		&s.PublicKeyPEM, &encKey, &s.DeviceID, &ip, &ua, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.PrivateKeyPEM, err = r.codec.Decrypt(encKey)
	if err != nil {
		return nil, err
	}
	s.LastUsedAt = nullTimeToPtr(lastUsed)
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
