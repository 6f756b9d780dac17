package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnsupportedHash is returned by Verify for a stored hash in an unknown format.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Argon2Params are the argon2id cost parameters. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are suitable for interactive login.
var DefaultArgon2Params = Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}

// PasswordHasher hashes new passwords with argon2id and verifies both argon2id and legacy bcrypt
// hashes. Callers must not log or persist plaintext passwords.
type PasswordHasher struct {
	params     Argon2Params
	bcryptCost int
}

// NewPasswordHasher returns a hasher using params; zero fields take the defaults.
func NewPasswordHasher(params Argon2Params) *PasswordHasher {
	if params.Memory == 0 {
		params.Memory = DefaultArgon2Params.Memory
	}
	if params.Time == 0 {
		params.Time = DefaultArgon2Params.Time
	}
	if params.Parallelism == 0 {
		params.Parallelism = DefaultArgon2Params.Parallelism
	}
	if params.SaltLength < 16 {
		params.SaltLength = DefaultArgon2Params.SaltLength
	}
	if params.KeyLength < 16 {
		params.KeyLength = DefaultArgon2Params.KeyLength
	}
	return &PasswordHasher{params: params, bcryptCost: bcrypt.DefaultCost}
}

// WithBcryptCost sets the cost used by HashBcrypt. Values outside bcrypt's range are ignored.
func (h *PasswordHasher) WithBcryptCost(cost int) *PasswordHasher {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		h.bcryptCost = cost
	}
	return h
}

// Hash produces a PHC-encoded argon2id hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. A mismatch is (false, nil); an unparseable
// hash is an error.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	}
	p, salt, key, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsRehash reports whether encoded should be replaced with a fresh hash: bcrypt hashes,
// unparseable hashes, and argon2id hashes weaker than the current parameters.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	p, _, key, err := decodeArgon2(encoded)
	if err != nil {
		return true
	}
	return p.Memory < h.params.Memory || p.Time < h.params.Time ||
		p.Parallelism < h.params.Parallelism || uint32(len(key)) != h.params.KeyLength
}

// HashBcrypt produces a bcrypt hash. Only used to seed legacy records in tests and fixtures.
func (h *PasswordHasher) HashBcrypt(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") || strings.HasPrefix(encoded, "$2b$") || strings.HasPrefix(encoded, "$2y$")
}

func decodeArgon2(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrUnsupportedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: argon2 version", ErrUnsupportedHash)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("%w: argon2 parameters", ErrUnsupportedHash)
	}
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 {
		return p, nil, nil, fmt.Errorf("%w: argon2 parameters", ErrUnsupportedHash)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt encoding", ErrUnsupportedHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key encoding", ErrUnsupportedHash)
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
