package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"token-lifecycle/backend/internal/user/domain"
)

// ErrEmailTaken is returned by MemoryDirectory.Create for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

// MemoryDirectory is an in-process Directory used in development mode and tests.
type MemoryDirectory struct {
	mu     sync.Mutex
	hasher PasswordVerifier
	byID   map[int64]*domain.User
	nextID int64
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory(hasher PasswordVerifier) *MemoryDirectory {
	return &MemoryDirectory{hasher: hasher, byID: make(map[int64]*domain.User)}
}

// Create hashes password, assigns an ID and stores a copy of u.
func (d *MemoryDirectory) Create(ctx context.Context, u *domain.User, password string) error {
	if err := u.Validate(); err != nil {
		return err
	}
	hash, err := d.hasher.Hash(password)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	email := domain.NormalizeEmail(u.Email)
	for _, existing := range d.byID {
		if existing.Email == email {
			return ErrEmailTaken
		}
	}
	d.nextID++
	now := time.Now().UTC()
	u.ID = d.nextID
	u.Email = email
	u.PasswordHash = hash
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	d.byID[u.ID] = &cp
	return nil
}

// Update replaces the stored copy of u.
func (d *MemoryDirectory) Update(ctx context.Context, u *domain.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[u.ID]; !ok {
		return nil
	}
	cp := *u
	cp.UpdatedAt = time.Now().UTC()
	d.byID[u.ID] = &cp
	return nil
}

func (d *MemoryDirectory) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (d *MemoryDirectory) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *MemoryDirectory) ValidateCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := d.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	ok, upgraded := checkPassword(d.hasher, u, password)
	if !ok {
		return nil, nil
	}
	if upgraded != "" {
		d.mu.Lock()
		if stored, found := d.byID[u.ID]; found {
			stored.PasswordHash = upgraded
		}
		d.mu.Unlock()
		u.PasswordHash = upgraded
	}
	return u, nil
}

func (d *MemoryDirectory) UpdateLastLogin(ctx context.Context, userID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.byID[userID]; ok {
		now := time.Now().UTC()
		u.LastLoginAt = &now
		u.UpdatedAt = now
	}
	return nil
}
