package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"token-lifecycle/backend/internal/user/domain"
)

const userColumns = `id, email, name, status, password_hash, deleted_at, last_login_at, created_at, updated_at`

type PostgresRepository struct {
	db     *sql.DB
	hasher PasswordVerifier
}

// NewPostgresRepository returns a user directory backed by the users table. hasher verifies
// stored password hashes and produces upgraded hashes on login.
func NewPostgresRepository(db *sql.DB, hasher PasswordVerifier) *PostgresRepository {
	return &PostgresRepository{db: db, hasher: hasher}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUserOrNil(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
	return scanUserOrNil(row)
}

// Create inserts u and sets its ID. PasswordHash must already be hashed.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt
	return r.db.QueryRowContext(ctx, `INSERT INTO users (email, name, status, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		domain.NormalizeEmail(u.Email), nullString(u.Name), string(u.Status), u.PasswordHash, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
}

// ValidateCredentials looks the user up by email and verifies password. Unknown emails still
// run a hash verification so both failure paths cost the same.
func (r *PostgresRepository) ValidateCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	ok, upgraded := checkPassword(r.hasher, u, password)
	if !ok {
		return nil, nil
	}
	if upgraded != "" {
		if _, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
			upgraded, time.Now().UTC(), u.ID); err != nil {
			log.Printf("user: rehash password for user %d: %v", u.ID, err)
		} else {
			u.PasswordHash = upgraded
		}
	}
	return u, nil
}

// UpdateLastLogin stamps last_login_at with the current time. A missing user is not an error.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, userID int64) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`, now, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserOrNil(row rowScanner) (*domain.User, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u         domain.User
		name      sql.NullString
		status    string
		deletedAt sql.NullTime
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &name, &status, &u.PasswordHash, &deletedAt, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Name = name.String
	u.Status = domain.UserStatus(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
