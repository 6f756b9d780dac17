package security

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// Small parameters keep the tests fast.
var testArgon2Params = Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	h := NewPasswordHasher(testArgon2Params)
	hash, err := h.Hash("secret123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected hash prefix: %s", hash)
	}
	ok, err := h.Verify("secret123", hash)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}
	ok, err = h.Verify("wrong", hash)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v; want false, nil", ok, err)
	}
}

func TestPasswordHasher_SaltIsRandom(t *testing.T) {
	h := NewPasswordHasher(testArgon2Params)
	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Error("two hashes of the same password are identical")
	}
}

func TestPasswordHasher_EmptyPassword(t *testing.T) {
	if _, err := NewPasswordHasher(testArgon2Params).Hash(""); err == nil {
		t.Error("Hash(\"\"): want error")
	}
}

func TestPasswordHasher_Bcrypt(t *testing.T) {
	h := NewPasswordHasher(testArgon2Params)
	h.bcryptCost = 4
	legacy, err := h.HashBcrypt("secret123")
	if err != nil {
		t.Fatalf("HashBcrypt: %v", err)
	}
	if ok, err := h.Verify("secret123", legacy); err != nil || !ok {
		t.Fatalf("Verify(bcrypt) = %v, %v; want true, nil", ok, err)
	}
	if ok, err := h.Verify("wrong", legacy); err != nil || ok {
		t.Fatalf("Verify(bcrypt, wrong) = %v, %v; want false, nil", ok, err)
	}
	if !h.NeedsRehash(legacy) {
		t.Error("bcrypt hash should need rehash")
	}
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	weak := NewPasswordHasher(testArgon2Params)
	hash, _ := weak.Hash("secret123")
	if weak.NeedsRehash(hash) {
		t.Error("hash with current parameters should not need rehash")
	}
	stronger := NewPasswordHasher(Argon2Params{Memory: 16 * 1024, Time: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if !stronger.NeedsRehash(hash) {
		t.Error("hash with weaker parameters should need rehash")
	}
	if !weak.NeedsRehash("garbage") {
		t.Error("unparseable hash should need rehash")
	}
}

func TestPasswordHasher_VerifyMalformed(t *testing.T) {
	h := NewPasswordHasher(testArgon2Params)
	testCases := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5",
	}
	for _, encoded := range testCases {
		if _, err := h.Verify("secret", encoded); !errors.Is(err, ErrUnsupportedHash) {
			t.Errorf("Verify(%q) err = %v, want ErrUnsupportedHash", encoded, err)
		}
	}
}

func TestPasswordHasher_WithBcryptCost(t *testing.T) {
	h := NewPasswordHasher(testArgon2Params).WithBcryptCost(bcrypt.MinCost)
	hash, err := h.HashBcrypt("secret123")
	if err != nil {
		t.Fatalf("HashBcrypt: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("Cost: %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", cost, bcrypt.MinCost)
	}
	if h.WithBcryptCost(99).bcryptCost != bcrypt.MinCost {
		t.Error("out-of-range cost should be ignored")
	}
}
