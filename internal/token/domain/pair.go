package domain

import (
	"strings"
	"time"
)

// MinRefreshTokenLength applies to both JWT and opaque refresh tokens.
const MinRefreshTokenLength = 16

// MaxPairSeparation bounds how far the refresh expiry may trail the access expiry.
const MaxPairSeparation = 365 * 24 * time.Hour

// AuthScheme is the HTTP authorization scheme a pair is presented with.
type AuthScheme string

const (
	SchemeBearer AuthScheme = "Bearer"
	SchemeBasic  AuthScheme = "Basic"
	SchemeDigest AuthScheme = "Digest"
)

// Valid reports whether s is a supported scheme.
func (s AuthScheme) Valid() bool {
	switch s {
	case SchemeBearer, SchemeBasic, SchemeDigest:
		return true
	}
	return false
}

// TokenPair is an issued access/refresh token pair.
type TokenPair struct {
	accessToken           string
	refreshToken          string
	accessTokenExpiresAt  time.Time
	refreshTokenExpiresAt time.Time
	tokenType             AuthScheme
	accessJTI             string
	refreshJTI            string
}

// TokenPairParams are the inputs to NewTokenPair. JTIs are optional bookkeeping.
type TokenPairParams struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
	TokenType             AuthScheme
	AccessJTI             string
	RefreshJTI            string
}

// NewTokenPair validates p against now: both expiries in the future, refresh strictly after
// access, and at most MaxPairSeparation between them.
func NewTokenPair(p TokenPairParams, now time.Time) (*TokenPair, error) {
	if strings.TrimSpace(p.AccessToken) == "" {
		return nil, validationErr("access token is required")
	}
	if len(p.RefreshToken) < MinRefreshTokenLength {
		return nil, validationErr("refresh token must be at least %d characters", MinRefreshTokenLength)
	}
	if p.TokenType == "" {
		p.TokenType = SchemeBearer
	}
	if !p.TokenType.Valid() {
		return nil, validationErr("unsupported token type %q", p.TokenType)
	}
	if !p.AccessTokenExpiresAt.After(now) {
		return nil, validationErr("access token expiry must be in the future")
	}
	if !p.RefreshTokenExpiresAt.After(now) {
		return nil, validationErr("refresh token expiry must be in the future")
	}
	if !p.RefreshTokenExpiresAt.After(p.AccessTokenExpiresAt) {
		return nil, validationErr("refresh token must outlive the access token")
	}
	if p.RefreshTokenExpiresAt.Sub(p.AccessTokenExpiresAt) > MaxPairSeparation {
		return nil, validationErr("refresh expiry exceeds access expiry by more than one year")
	}
	return &TokenPair{
		accessToken:           p.AccessToken,
		refreshToken:          p.RefreshToken,
		accessTokenExpiresAt:  p.AccessTokenExpiresAt,
		refreshTokenExpiresAt: p.RefreshTokenExpiresAt,
		tokenType:             p.TokenType,
		accessJTI:             p.AccessJTI,
		refreshJTI:            p.RefreshJTI,
	}, nil
}

func (t *TokenPair) AccessToken() string { return t.accessToken }
func (t *TokenPair) RefreshToken() string { return t.refreshToken }
func (t *TokenPair) AccessTokenExpiresAt() time.Time { return t.accessTokenExpiresAt }
func (t *TokenPair) RefreshTokenExpiresAt() time.Time { return t.refreshTokenExpiresAt }
func (t *TokenPair) TokenType() AuthScheme { return t.tokenType }
func (t *TokenPair) AccessJTI() string { return t.accessJTI }
func (t *TokenPair) RefreshJTI() string { return t.refreshJTI }

// ExpiresIn is the access token lifetime left at now, in whole seconds.
func (t *TokenPair) ExpiresIn(now time.Time) int64 {
	return secondsUntil(t.accessTokenExpiresAt, now)
}

// RefreshExpiresIn is the refresh token lifetime left at now, in whole seconds.
func (t *TokenPair) RefreshExpiresIn(now time.Time) int64 {
	return secondsUntil(t.refreshTokenExpiresAt, now)
}

func secondsUntil(t, now time.Time) int64 {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
