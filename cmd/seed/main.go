// seed inserts development sample data for local testing.
// Idempotent: skips the insert if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"jwt-session-auth/internal/config"
	"jwt-session-auth/internal/db"
	"jwt-session-auth/internal/security"
	userdomain "jwt-session-auth/internal/user/domain"
	userrepo "jwt-session-auth/internal/user/repository"
)

const (
	devUserEmail = "dev@example.com"
	devUserName  = "Dev User"
	devPassword  = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run against production")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := userrepo.NewPostgresRepository(database)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed: lookup dev user: %v", err)
	}
	if existing != nil {
		fmt.Printf("seed: dev user %s already exists, nothing to do\n", devUserEmail)
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("seed: hash password: %v", err)
	}

	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Name:         devUserName,
		Email:        devUserEmail,
		PasswordHash: hash,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		log.Fatalf("seed: create dev user: %v", err)
	}

	fmt.Printf("seed: created dev user %s (password %q)\n", devUserEmail, devPassword)
}
