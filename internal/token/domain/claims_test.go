package domain

import (
	"errors"
	"testing"
)

func TestNewCustomClaims(t *testing.T) {
	testCases := []struct {
		name    string
		in      map[string]any
		wantErr bool
	}{
		{"nil map", nil, false},
		{"plain values", map[string]any{"role": "admin", "level": 3, "tags": []string{"a"}}, false},
		{"reserved sub", map[string]any{"sub": "1"}, true},
		{"reserved device claim", map[string]any{ClaimDeviceFingerprint: "x"}, true},
		{"empty name", map[string]any{"": 1}, true},
		{"unserializable", map[string]any{"ch": make(chan int)}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCustomClaims(tc.in)
			if tc.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected err: %v", err)
			}
		})
	}
}

func TestCustomClaims_Immutable(t *testing.T) {
	in := map[string]any{"role": "admin"}
	c, err := NewCustomClaims(in)
	if err != nil {
		t.Fatalf("NewCustomClaims: %v", err)
	}
	in["role"] = "changed"
	if c.String("role") != "admin" {
		t.Error("claims changed with the input map")
	}
	out := c.Map()
	out["role"] = "changed"
	if c.String("role") != "admin" {
		t.Error("claims changed through Map()")
	}
}

func TestCustomClaims_Merge(t *testing.T) {
	a, _ := NewCustomClaims(map[string]any{"role": "user", "team": "x"})
	b, _ := NewCustomClaims(map[string]any{"role": "admin"})
	m := a.Merge(b)
	if m.String("role") != "admin" || m.String("team") != "x" {
		t.Errorf("Merge = %v", m.Map())
	}
	if a.String("role") != "user" {
		t.Error("Merge mutated the receiver")
	}
	if keys := m.Keys(); len(keys) != 2 || keys[0] != "role" || keys[1] != "team" {
		t.Errorf("Keys = %v", keys)
	}
	var zero CustomClaims
	if zero.Len() != 0 || zero.String("x") != "" {
		t.Error("zero value should be empty")
	}
}
