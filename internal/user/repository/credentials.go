package repository

import (
	"log"
	"sync"

	"token-lifecycle/backend/internal/user/domain"
)

var (
	dummyOnce sync.Once
	dummyHash string
)

// checkPassword verifies password against u's stored hash. A nil user is verified against a
// throwaway hash and always fails. upgraded is non-empty when the stored hash should be replaced.
func checkPassword(hasher PasswordVerifier, u *domain.User, password string) (ok bool, upgraded string) {
	if u == nil || u.PasswordHash == "" {
		dummyOnce.Do(func() {
			dummyHash, _ = hasher.Hash("not-a-real-password")
		})
		if dummyHash != "" {
			_, _ = hasher.Verify(password, dummyHash)
		}
		return false, ""
	}
	ok, err := hasher.Verify(password, u.PasswordHash)
	if err != nil {
		log.Printf("user: verify password for user %d: %v", u.ID, err)
		return false, ""
	}
	if !ok {
		return false, ""
	}
	if hasher.NeedsRehash(u.PasswordHash) {
		h, err := hasher.Hash(password)
		if err == nil {
			upgraded = h
		}
	}
	return true, upgraded
}
