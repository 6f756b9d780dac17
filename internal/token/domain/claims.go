package domain

import (
	"encoding/json"
	"sort"
)

// Registered claim names and the claim names this core writes itself.
// Custom claims may not use any of them.
const (
	ClaimJTI               = "jti"
	ClaimSubject           = "sub"
	ClaimIssuer            = "iss"
	ClaimAudience          = "aud"
	ClaimIssuedAt          = "iat"
	ClaimExpiresAt         = "exp"
	ClaimNotBefore         = "nbf"
	ClaimType              = "type"
	ClaimDeviceID          = "device_id"
	ClaimDeviceFingerprint = "device_fingerprint"
	ClaimPlatform          = "platform"
	ClaimBrowser           = "browser"
	ClaimDeviceClass       = "device_class"
)

var reservedClaims = map[string]struct{}{
	ClaimJTI: {}, ClaimSubject: {}, ClaimIssuer: {}, ClaimAudience: {},
	ClaimIssuedAt: {}, ClaimExpiresAt: {}, ClaimNotBefore: {}, ClaimType: {},
	ClaimDeviceID: {}, ClaimDeviceFingerprint: {}, ClaimPlatform: {},
	ClaimBrowser: {}, ClaimDeviceClass: {},
}

// IsReservedClaim reports whether name is owned by the token core.
func IsReservedClaim(name string) bool {
	_, ok := reservedClaims[name]
	return ok
}

// CustomClaims is an immutable set of application claims. It never contains a reserved key
// and every value is JSON-serializable. The zero value is an empty set.
type CustomClaims struct {
	values map[string]any
}

// NewCustomClaims validates m and returns a defensive copy.
func NewCustomClaims(m map[string]any) (CustomClaims, error) {
	if len(m) == 0 {
		return CustomClaims{}, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "" {
			return CustomClaims{}, validationErr("custom claim name is empty")
		}
		if IsReservedClaim(k) {
			return CustomClaims{}, validationErr("custom claim %q is reserved", k)
		}
		if _, err := json.Marshal(v); err != nil {
			return CustomClaims{}, validationErr("custom claim %q is not serializable: %v", k, err)
		}
		out[k] = v
	}
	return CustomClaims{values: out}, nil
}

// customClaimsFromDecoded builds claims from an already-decoded token body, dropping reserved keys.
func customClaimsFromDecoded(m map[string]any) CustomClaims {
	out := make(map[string]any)
	for k, v := range m {
		if IsReservedClaim(k) {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return CustomClaims{}
	}
	return CustomClaims{values: out}
}

// Get returns the claim value for name.
func (c CustomClaims) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// String returns the claim as a string, or "" when absent or not a string.
func (c CustomClaims) String(name string) string {
	s, _ := c.values[name].(string)
	return s
}

// Len returns the number of claims.
func (c CustomClaims) Len() int {
	return len(c.values)
}

// Keys returns claim names in sorted order.
func (c CustomClaims) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the claims.
func (c CustomClaims) Map() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Merge returns a new set with other's claims layered over c. Both inputs are already valid.
func (c CustomClaims) Merge(other CustomClaims) CustomClaims {
	if other.Len() == 0 {
		return c
	}
	out := c.Map()
	for k, v := range other.values {
		out[k] = v
	}
	return CustomClaims{values: out}
}

// withInternal returns a copy carrying core-owned claims (device binding). Only the token
// core calls this; reserved-key checks do not apply.
func (c CustomClaims) withInternal(internal map[string]string) map[string]any {
	out := c.Map()
	for k, v := range internal {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
