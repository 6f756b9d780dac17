package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxJTILength bounds the jti claim; it is the primary key of blacklist and refresh lookups.
const MaxJTILength = 255

// TokenType distinguishes access from refresh tokens inside the payload.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenTypeAccess || t == TokenTypeRefresh
}

// DeviceBinding is the device context embedded in a token. Refresh tokens carry only DeviceID.
type DeviceBinding struct {
	DeviceID    string
	Fingerprint string
	Platform    string
	Browser     string
	Class       string
}

// PayloadParams are the inputs to NewPayload.
type PayloadParams struct {
	JTI       string
	UserID    int64
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore *time.Time
	Type      TokenType
	Device    DeviceBinding
	Custom    CustomClaims
}

// Payload is a validated JWT body. Values are only obtainable through NewPayload or
// PayloadFromClaims, so every Payload satisfies exp > iat, nbf <= exp, and a bounded jti.
type Payload struct {
	jti       string
	userID    int64
	issuer    string
	audience  []string
	issuedAt  time.Time
	expiresAt time.Time
	notBefore *time.Time
	typ       TokenType
	device    DeviceBinding
	custom    CustomClaims
}

// NewPayload validates p and returns an immutable Payload. Times are truncated to seconds,
// matching the NumericDate precision of the wire format.
func NewPayload(p PayloadParams) (*Payload, error) {
	jti := strings.TrimSpace(p.JTI)
	if jti == "" {
		return nil, validationErr("jti is required")
	}
	if len(jti) > MaxJTILength {
		return nil, validationErr("jti exceeds %d characters", MaxJTILength)
	}
	if p.UserID <= 0 {
		return nil, validationErr("subject must be a positive user id")
	}
	if strings.TrimSpace(p.Issuer) == "" {
		return nil, validationErr("issuer is required")
	}
	aud := normalizeAudience(p.Audience)
	if len(aud) == 0 {
		return nil, validationErr("audience must not be empty")
	}
	if !p.Type.Valid() {
		return nil, validationErr("unknown token type %q", p.Type)
	}
	iat := p.IssuedAt.UTC().Truncate(time.Second)
	exp := p.ExpiresAt.UTC().Truncate(time.Second)
	if !exp.After(iat) {
		return nil, validationErr("exp must be after iat")
	}
	var nbf *time.Time
	if p.NotBefore != nil {
		n := p.NotBefore.UTC().Truncate(time.Second)
		if n.After(exp) {
			return nil, validationErr("nbf must not be after exp")
		}
		nbf = &n
	}
	return &Payload{
		jti:       jti,
		userID:    p.UserID,
		issuer:    p.Issuer,
		audience:  aud,
		issuedAt:  iat,
		expiresAt: exp,
		notBefore: nbf,
		typ:       p.Type,
		device:    p.Device,
		custom:    p.Custom,
	}, nil
}

func normalizeAudience(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func (p *Payload) JTI() string { return p.jti }
func (p *Payload) UserID() int64 { return p.userID }
func (p *Payload) Issuer() string { return p.issuer }
func (p *Payload) IssuedAt() time.Time { return p.issuedAt }
func (p *Payload) ExpiresAt() time.Time { return p.expiresAt }
func (p *Payload) Type() TokenType { return p.typ }
func (p *Payload) Device() DeviceBinding { return p.device }
func (p *Payload) Custom() CustomClaims { return p.custom }
func (p *Payload) Subject() string { return strconv.FormatInt(p.userID, 10) }

// NotBefore returns a copy of nbf, or nil.
func (p *Payload) NotBefore() *time.Time {
	if p.notBefore == nil {
		return nil
	}
	n := *p.notBefore
	return &n
}

// Audience returns a copy of the aud set.
func (p *Payload) Audience() []string {
	out := make([]string, len(p.audience))
	copy(out, p.audience)
	return out
}

// RemainingTime returns the time until expiry, never negative.
func (p *Payload) RemainingTime(now time.Time) time.Duration {
	d := p.expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsExpired reports whether exp has elapsed at now.
func (p *Payload) IsExpired(now time.Time) bool {
	return !now.Before(p.expiresAt)
}

// Claims renders the payload as a JWT claim set.
func (p *Payload) Claims() map[string]any {
	m := p.custom.withInternal(map[string]string{
		ClaimDeviceID:          p.device.DeviceID,
		ClaimDeviceFingerprint: p.device.Fingerprint,
		ClaimPlatform:          p.device.Platform,
		ClaimBrowser:           p.device.Browser,
		ClaimDeviceClass:       p.device.Class,
	})
	m[ClaimJTI] = p.jti
	m[ClaimSubject] = p.Subject()
	m[ClaimIssuer] = p.issuer
	m[ClaimAudience] = p.Audience()
	m[ClaimIssuedAt] = p.issuedAt.Unix()
	m[ClaimExpiresAt] = p.expiresAt.Unix()
	if p.notBefore != nil {
		m[ClaimNotBefore] = p.notBefore.Unix()
	}
	m[ClaimType] = string(p.typ)
	return m
}

// PayloadFromClaims converts a decoded claim set back into a validated Payload.
func PayloadFromClaims(m map[string]any) (*Payload, error) {
	sub, _ := m[ClaimSubject].(string)
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, validationErr("subject %q is not a user id", sub)
	}
	iat, err := numericClaim(m, ClaimIssuedAt)
	if err != nil {
		return nil, err
	}
	exp, err := numericClaim(m, ClaimExpiresAt)
	if err != nil {
		return nil, err
	}
	var nbf *time.Time
	if _, ok := m[ClaimNotBefore]; ok {
		n, err := numericClaim(m, ClaimNotBefore)
		if err != nil {
			return nil, err
		}
		nbf = &n
	}
	aud, err := audienceClaim(m[ClaimAudience])
	if err != nil {
		return nil, err
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return NewPayload(PayloadParams{
		JTI:       str(ClaimJTI),
		UserID:    userID,
		Issuer:    str(ClaimIssuer),
		Audience:  aud,
		IssuedAt:  iat,
		ExpiresAt: exp,
		NotBefore: nbf,
		Type:      TokenType(str(ClaimType)),
		Device: DeviceBinding{
			DeviceID:    str(ClaimDeviceID),
			Fingerprint: str(ClaimDeviceFingerprint),
			Platform:    str(ClaimPlatform),
			Browser:     str(ClaimBrowser),
			Class:       str(ClaimDeviceClass),
		},
		Custom: customClaimsFromDecoded(m),
	})
}

func numericClaim(m map[string]any, name string) (time.Time, error) {
	var sec float64
	switch v := m[name].(type) {
	case float64:
		sec = v
	case int64:
		sec = float64(v)
	case int:
		sec = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, validationErr("claim %s is not numeric", name)
		}
		sec = f
	default:
		return time.Time{}, validationErr("claim %s is missing or not numeric", name)
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}

func audienceClaim(v any) ([]string, error) {
	switch a := v.(type) {
	case string:
		return []string{a}, nil
	case []string:
		return a, nil
	case []any:
		out := make([]string, 0, len(a))
		for _, item := range a {
			s, ok := item.(string)
			if !ok {
				return nil, validationErr("aud contains a non-string value")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, validationErr("aud has unsupported type %T", v)
	}
}
