// seed inserts development users for local testing. Run with go run ./cmd/seed.
// Idempotent: users whose email already exists are skipped.
package main

import (
	"context"
	"log"

	"token-lifecycle/backend/internal/config"
	"token-lifecycle/backend/internal/db"
	"token-lifecycle/backend/internal/security"
	"token-lifecycle/backend/internal/user/domain"
	userrepo "token-lifecycle/backend/internal/user/repository"
)

const devPassword = "password123"

var devUsers = []domain.User{
	{Email: "dev@example.com", Name: "Dev User", Status: domain.UserStatusActive},
	{Email: "member@example.com", Name: "Member User", Status: domain.UserStatusActive},
	{Email: "disabled@example.com", Name: "Disabled User", Status: domain.UserStatusDisabled},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	hasher := security.NewPasswordHasher(security.DefaultArgon2Params)
	users := userrepo.NewPostgresRepository(conn, hasher)

	for _, u := range devUsers {
		existing, err := users.GetByEmail(ctx, u.Email)
		if err != nil {
			log.Fatalf("seed check %s: %v", u.Email, err)
		}
		if existing != nil {
			log.Printf("%s exists (id %d). Skipping.", u.Email, existing.ID)
			continue
		}
		hash, err := hasher.Hash(devPassword)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		u.PasswordHash = hash
		if err := users.Create(ctx, &u); err != nil {
			log.Fatalf("create %s: %v", u.Email, err)
		}
		log.Printf("created %s (id %d)", u.Email, u.ID)
	}
	log.Printf("Seed complete. Log in with any active user and password %q.", devPassword)
}
