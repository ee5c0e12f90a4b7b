package repository

import (
	"context"

	"jwt-session-auth/internal/user/domain"
)

// Repository defines persistence for users. It is the fixed identity-provider
// contract: create and find-by-credential.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
