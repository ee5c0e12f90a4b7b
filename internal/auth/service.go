// Package auth implements register, login, and token issuance for users on
// top of the session manager.
package auth

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"jwt-session-auth/internal/security"
	sessionservice "jwt-session-auth/internal/session/service"
	userdomain "jwt-session-auth/internal/user/domain"
	userrepo "jwt-session-auth/internal/user/repository"
)

// Sentinel errors for the auth service; handlers map them to HTTP statuses.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// FieldErrors carries per-field validation messages. It is an error so it can
// travel through the usual return path; handlers render it as a 422 body.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// SessionIssuer is the slice of the session manager the auth service needs.
type SessionIssuer interface {
	Issue(ctx context.Context, p sessionservice.IssueParams) (*sessionservice.IssueResult, error)
}

// Hooks customizes user-facing behavior without forking the service. The
// zero-configuration default is DefaultHooks.
type Hooks interface {
	// TransformUser shapes the user for JSON responses.
	TransformUser(u *userdomain.User) any
}

// DefaultHooks returns users as a plain DTO with no password material.
type DefaultHooks struct{}

// UserDTO is the default response shape for a user.
type UserDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (DefaultHooks) TransformUser(u *userdomain.User) any {
	return UserDTO{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

// Service implements registration and credential login.
type Service struct {
	users    userrepo.Repository
	hasher   *security.Hasher
	sessions SessionIssuer
	hooks    Hooks
}

// NewService returns a Service with the given dependencies. A nil hooks
// selects DefaultHooks.
func NewService(users userrepo.Repository, hasher *security.Hasher, sessions SessionIssuer, hooks Hooks) *Service {
	if hooks == nil {
		hooks = DefaultHooks{}
	}
	return &Service{users: users, hasher: hasher, sessions: sessions, hooks: hooks}
}

// Hooks returns the configured hooks.
func (s *Service) Hooks() Hooks {
	return s.hooks
}

// RegisterParams is the input to Register.
type RegisterParams struct {
	Name                 string
	Email                string
	Password             string
	PasswordConfirmation string
	DeviceID             string
	IPAddress            string
	UserAgent            string
}

// Register creates a user and issues their first session (always-insert
// policy). Returns the created user and the issuance result. Validation
// problems, including an already-taken email, return FieldErrors.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*userdomain.User, *sessionservice.IssueResult, error) {
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	p.Name = strings.TrimSpace(p.Name)

	fieldErrs := FieldErrors{}
	if p.Name == "" {
		fieldErrs["name"] = "name is required"
	} else if len(p.Name) > 255 {
		fieldErrs["name"] = "name must not exceed 255 characters"
	}
	if err := validateEmail(p.Email); err != nil {
		fieldErrs["email"] = err.Error()
	}
	if len(p.Password) < 8 {
		fieldErrs["password"] = "password must be at least 8 characters"
	} else if p.Password != p.PasswordConfirmation {
		fieldErrs["password"] = "password confirmation does not match"
	}
	if len(fieldErrs) > 0 {
		return nil, nil, fieldErrs
	}

	existing, err := s.users.GetByEmail(ctx, p.Email)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, FieldErrors{"email": "email has already been taken"}
	}

	hashed, err := s.hasher.Hash([]byte(p.Password))
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Name:         p.Name,
		Email:        p.Email,
		PasswordHash: hashed,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	issued, err := s.sessions.Issue(ctx, sessionservice.IssueParams{
		UserID:    user.ID,
		DeviceID:  p.DeviceID,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
		Policy:    sessionservice.AlwaysInsert,
	})
	if err != nil {
		return nil, nil, err
	}
	return user, issued, nil
}

// LoginParams is the input to Login.
type LoginParams struct {
	Email     string
	Password  string
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Login authenticates email/password and issues a session with the
// upsert-by-device policy, replacing any prior session for the same device.
func (s *Service) Login(ctx context.Context, p LoginParams) (*sessionservice.IssueResult, error) {
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))

	fieldErrs := FieldErrors{}
	if err := validateEmail(p.Email); err != nil {
		fieldErrs["email"] = err.Error()
	}
	if p.Password == "" {
		fieldErrs["password"] = "password is required"
	}
	if len(fieldErrs) > 0 {
		return nil, fieldErrs
	}

	user, err := s.users.GetByEmail(ctx, p.Email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(p.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.sessions.Issue(ctx, sessionservice.IssueParams{
		UserID:    user.ID,
		DeviceID:  p.DeviceID,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
		Policy:    sessionservice.UpsertByDevice,
	})
}

// IssueForUser issues an additional session for an already-authenticated
// user (always-insert policy); existing sessions stay valid.
func (s *Service) IssueForUser(ctx context.Context, userID, deviceID, ip, userAgent string) (*sessionservice.IssueResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return nil, ErrUserNotFound
	}
	return s.sessions.Issue(ctx, sessionservice.IssueParams{
		UserID:    user.ID,
		DeviceID:  deviceID,
		IPAddress: ip,
		UserAgent: userAgent,
		Policy:    sessionservice.AlwaysInsert,
	})
}

// GetUser returns the user for id, or ErrUserNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (*userdomain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}
