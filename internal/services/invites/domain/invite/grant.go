package invite

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/tabsplit/tabsplit/internal/platform/errors"
)

// joinGrantEnv holds raw env values before post-parse validation.
type joinGrantEnv struct {
	Issuer     string        `env:"TABSPLIT_JOIN_GRANT_ISSUER"`
	Audience   string        `env:"TABSPLIT_JOIN_GRANT_AUDIENCE"`
	PrivateKey string        `env:"TABSPLIT_JOIN_GRANT_PRIVATE_KEY"`
	PublicKey  string        `env:"TABSPLIT_JOIN_GRANT_PUBLIC_KEY"`
	TTL        time.Duration `env:"TABSPLIT_JOIN_GRANT_TTL"         envDefault:"15m"`
}

// JoinGrantConfig defines how join grants are minted and verified. A join
// grant is a short-lived proof that an invite secret was already verified, so
// a signup flow can finish acceptance without re-presenting the secret on
// every intermediate hop.
type JoinGrantConfig struct {
	Issuer     string
	Audience   string
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	TTL        time.Duration
	Now        func() time.Time
}

// CanSign reports whether the config carries signing key material.
func (c JoinGrantConfig) CanSign() bool {
	return c.Issuer != "" && c.Audience != "" && len(c.PrivateKey) == ed25519.PrivateKeySize
}

// JoinGrantExpectation defines the expected identity for a join grant.
type JoinGrantExpectation struct {
	InviteID string
	GroupID  string
	Email    string
}

// JoinGrantClaims captures validated join grant claims.
type JoinGrantClaims struct {
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	JWTID     string
	InviteID  string
	GroupID   string
	Email     string
}

// joinGrantClaims is the internal claims type used for JWT encoding.
type joinGrantClaims struct {
	jwt.RegisteredClaims
	InviteID string `json:"invite_id"`
	GroupID  string `json:"group_id"`
	Email    string `json:"email"`
}

// LoadJoinGrantConfigFromEnv reads join grant configuration. The private key
// is optional; verification-only deployments configure just the public key.
func LoadJoinGrantConfigFromEnv(now func() time.Time) (JoinGrantConfig, error) {
	var raw joinGrantEnv
	if err := env.Parse(&raw); err != nil {
		return JoinGrantConfig{}, fmt.Errorf("parse join grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	if issuer == "" {
		return JoinGrantConfig{}, fmt.Errorf("TABSPLIT_JOIN_GRANT_ISSUER is required")
	}
	if audience == "" {
		return JoinGrantConfig{}, fmt.Errorf("TABSPLIT_JOIN_GRANT_AUDIENCE is required")
	}
	if raw.TTL <= 0 {
		return JoinGrantConfig{}, fmt.Errorf("join grant ttl must be positive")
	}
	if now == nil {
		now = time.Now
	}
	cfg := JoinGrantConfig{
		Issuer:   issuer,
		Audience: audience,
		TTL:      raw.TTL,
		Now:      now,
	}

	if privateKey := strings.TrimSpace(raw.PrivateKey); privateKey != "" {
		keyBytes, err := decodeBase64(privateKey)
		if err != nil {
			return JoinGrantConfig{}, fmt.Errorf("decode join grant private key: %w", err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return JoinGrantConfig{}, fmt.Errorf("join grant private key must be %d bytes", ed25519.PrivateKeySize)
		}
		cfg.PrivateKey = ed25519.PrivateKey(keyBytes)
		cfg.PublicKey = cfg.PrivateKey.Public().(ed25519.PublicKey)
		return cfg, nil
	}

	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return JoinGrantConfig{}, fmt.Errorf("TABSPLIT_JOIN_GRANT_PRIVATE_KEY or TABSPLIT_JOIN_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return JoinGrantConfig{}, fmt.Errorf("decode join grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return JoinGrantConfig{}, fmt.Errorf("join grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	cfg.PublicKey = ed25519.PublicKey(keyBytes)
	return cfg, nil
}

// SignJoinGrant mints a join grant for a verified invite.
func SignJoinGrant(expected JoinGrantExpectation, cfg JoinGrantConfig, jwtID string) (string, error) {
	if !cfg.CanSign() {
		return "", errors.New("join grant signer is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	jwtID = strings.TrimSpace(jwtID)
	if jwtID == "" {
		return "", errors.New("join grant jti is required")
	}
	if strings.TrimSpace(expected.InviteID) == "" || strings.TrimSpace(expected.GroupID) == "" {
		return "", errors.New("join grant invite and group are required")
	}

	now := cfg.Now().UTC()
	claims := joinGrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			ID:        jwtID,
		},
		InviteID: expected.InviteID,
		GroupID:  expected.GroupID,
		Email:    expected.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign join grant: %w", err)
	}
	return signed, nil
}

// ValidateJoinGrant verifies a join grant token and validates expected claims.
func ValidateJoinGrant(grant string, expected JoinGrantExpectation, cfg JoinGrantConfig) (JoinGrantClaims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return JoinGrantClaims{}, apperrors.New(apperrors.CodeInviteJoinGrantInvalid, "join grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.PublicKey) != ed25519.PublicKeySize {
		return JoinGrantClaims{}, errors.New("join grant verifier is not configured")
	}

	var parsed joinGrantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return JoinGrantClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return JoinGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteJoinGrantMismatch,
			"join grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return JoinGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteJoinGrantMismatch,
			"join grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}

	if parsed.ID == "" {
		return JoinGrantClaims{}, apperrors.New(apperrors.CodeInviteJoinGrantInvalid, "join grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return JoinGrantClaims{}, apperrors.New(apperrors.CodeInviteJoinGrantInvalid, "join grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return JoinGrantClaims{}, apperrors.New(apperrors.CodeInviteJoinGrantExpired, "join grant is expired")
	}

	if strings.TrimSpace(parsed.InviteID) == "" || parsed.InviteID != expected.InviteID {
		return JoinGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteJoinGrantMismatch,
			"join grant invite mismatch",
			map[string]string{"Field": "invite_id"},
		)
	}
	if strings.TrimSpace(parsed.GroupID) == "" || parsed.GroupID != expected.GroupID {
		return JoinGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteJoinGrantMismatch,
			"join grant group mismatch",
			map[string]string{"Field": "group_id"},
		)
	}
	if expected.Email != "" && parsed.Email != expected.Email {
		return JoinGrantClaims{}, apperrors.WithMetadata(
			apperrors.CodeInviteJoinGrantMismatch,
			"join grant email mismatch",
			map[string]string{"Field": "email"},
		)
	}

	claims := JoinGrantClaims{
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		JWTID:     parsed.ID,
		InviteID:  parsed.InviteID,
		GroupID:   parsed.GroupID,
		Email:     parsed.Email,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeInviteJoinGrantInvalid, "join grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeInviteJoinGrantInvalid, "join grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeInviteJoinGrantInvalid, "join grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
