package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	tokendomain "token-lifecycle/backend/internal/token/domain"
)

// ErrKeyMismatch is returned by NewCodec when the public key does not belong to the signer.
var ErrKeyMismatch = errors.New("public key does not match private key")

// CodecConfig configures token issuance and validation.
type CodecConfig struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Leeway tolerates clock skew on exp, nbf and iat checks.
	Leeway time.Duration
	// MaxFutureIssuedAt rejects tokens whose iat is further ahead than this. Zero disables the check.
	MaxFutureIssuedAt time.Duration
	// KeyID is set as the "kid" header when non-empty and then required on validation.
	KeyID string
}

// Claims are the caller-supplied parts of a token. Registered claims are filled in by the codec.
type Claims struct {
	UserID int64
	Device tokendomain.DeviceBinding
	Custom tokendomain.CustomClaims
	// JTI overrides the generated token id. Empty means a fresh random id.
	JTI string
}

// Codec signs and verifies JWTs with an asymmetric key. RS256 is used for RSA keys and ES256 for
// ECDSA P-256 keys; verification accepts only the algorithm of the configured key.
type Codec struct {
	signer crypto.Signer
	public crypto.PublicKey
	method jwt.SigningMethod
	cfg    CodecConfig
	now    func() time.Time
}

// NewCodec returns a Codec that signs with signer. public may be nil, in which case the signer's own
// public key is used; otherwise it must match the signer.
func NewCodec(signer crypto.Signer, public crypto.PublicKey, cfg CodecConfig) (*Codec, error) {
	if signer == nil {
		return nil, ErrInvalidKey
	}
	if public == nil {
		public = signer.Public()
	}
	eq, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !eq.Equal(public) {
		return nil, ErrKeyMismatch
	}
	method, err := signingMethod(public)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("codec: issuer and audience are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("codec: refresh TTL must be longer than a positive access TTL")
	}
	return &Codec{signer: signer, public: public, method: method, cfg: cfg, now: time.Now}, nil
}

func signingMethod(pub crypto.PublicKey) (jwt.SigningMethod, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: ES256 requires a P-256 key", ErrInvalidKey)
		}
		return jwt.SigningMethodES256, nil
	default:
		return nil, ErrInvalidKey
	}
}

// SetClock overrides the codec's time source. Used by tests.
func (c *Codec) SetClock(now func() time.Time) { c.now = now }

// Algorithm returns the JWS algorithm name, RS256 or ES256.
func (c *Codec) Algorithm() string { return c.method.Alg() }

// PublicKey returns the verification key, distributable to other services.
func (c *Codec) PublicKey() crypto.PublicKey { return c.public }

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.cfg.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// GenerateAccessToken signs a short-lived access token.
func (c *Codec) GenerateAccessToken(claims Claims) (string, *tokendomain.Payload, error) {
	return c.generate(claims, tokendomain.TokenTypeAccess, c.cfg.AccessTTL)
}

// GenerateRefreshToken signs a refresh token. Only the subject and device id are embedded.
func (c *Codec) GenerateRefreshToken(claims Claims) (string, *tokendomain.Payload, error) {
	minimal := Claims{
		UserID: claims.UserID,
		Device: tokendomain.DeviceBinding{DeviceID: claims.Device.DeviceID},
		JTI:    claims.JTI,
	}
	return c.generate(minimal, tokendomain.TokenTypeRefresh, c.cfg.RefreshTTL)
}

func (c *Codec) generate(claims Claims, typ tokendomain.TokenType, ttl time.Duration) (string, *tokendomain.Payload, error) {
	jti := claims.JTI
	if jti == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", tokendomain.ErrTokenGeneration, err)
		}
		jti = id.String()
	}
	now := c.now().UTC()
	payload, err := tokendomain.NewPayload(tokendomain.PayloadParams{
		JTI:       jti,
		UserID:    claims.UserID,
		Issuer:    c.cfg.Issuer,
		Audience:  []string{c.cfg.Audience},
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Type:      typ,
		Device:    claims.Device,
		Custom:    claims.Custom,
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", tokendomain.ErrTokenGeneration, err)
	}
	t := jwt.NewWithClaims(c.method, jwt.MapClaims(payload.Claims()))
	if c.cfg.KeyID != "" {
		t.Header["kid"] = c.cfg.KeyID
	}
	signed, err := t.SignedString(c.signer)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", tokendomain.ErrTokenGeneration, err)
	}
	return signed, payload, nil
}

// ValidateToken verifies signature, issuer, audience and time claims, and that the token is of
// expectedType. It returns ErrTokenExpired for an elapsed exp and ErrInvalidToken otherwise.
func (c *Codec) ValidateToken(token string, expectedType tokendomain.TokenType) (*tokendomain.Payload, error) {
	payload, err := c.parse(token, true)
	if err != nil {
		return nil, err
	}
	if payload.Type() != expectedType {
		return nil, fmt.Errorf("%w: expected %s token, got %s", tokendomain.ErrInvalidToken, expectedType, payload.Type())
	}
	return payload, nil
}

// VerifySignature checks signature, issuer and audience but ignores exp/nbf. Revocation uses it
// so that an expired but authentic token can still be blacklisted by its owner.
func (c *Codec) VerifySignature(token string) (*tokendomain.Payload, error) {
	return c.parse(token, false)
}

func (c *Codec) parse(token string, validateTimes bool) (*tokendomain.Payload, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
		jwt.WithTimeFunc(c.now),
	}
	if validateTimes {
		opts = append(opts, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
		if c.cfg.Leeway > 0 {
			opts = append(opts, jwt.WithLeeway(c.cfg.Leeway))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	mc := jwt.MapClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, mc, c.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", tokendomain.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", tokendomain.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, tokendomain.ErrInvalidToken
	}
	if !validateTimes {
		// WithoutClaimsValidation also skips iss/aud; enforce them here.
		if iss, _ := mc.GetIssuer(); iss != c.cfg.Issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", tokendomain.ErrInvalidToken)
		}
		aud, _ := mc.GetAudience()
		if !containsString(aud, c.cfg.Audience) {
			return nil, fmt.Errorf("%w: audience mismatch", tokendomain.ErrInvalidToken)
		}
	}
	payload, err := tokendomain.PayloadFromClaims(mc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tokendomain.ErrInvalidToken, err)
	}
	if validateTimes && c.cfg.MaxFutureIssuedAt > 0 && payload.IssuedAt().After(c.now().Add(c.cfg.MaxFutureIssuedAt)) {
		return nil, fmt.Errorf("%w: iat too far in the future", tokendomain.ErrInvalidToken)
	}
	return payload, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	if c.cfg.KeyID != "" {
		if kid, _ := t.Header["kid"].(string); kid != c.cfg.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return c.public, nil
}

// ParseUnsafe decodes the payload WITHOUT verifying the signature. Use it only to read the jti of
// a token the caller already holds for bookkeeping, never to make a trust decision.
func (c *Codec) ParseUnsafe(token string) (*tokendomain.Payload, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil, fmt.Errorf("%w: %v", tokendomain.ErrInvalidToken, err)
	}
	payload, err := tokendomain.PayloadFromClaims(mc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tokendomain.ErrInvalidToken, err)
	}
	return payload, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
