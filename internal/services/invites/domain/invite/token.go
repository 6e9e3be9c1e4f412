package invite

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// tokenSecretBytes is the entropy of a one-time invite secret.
const tokenSecretBytes = 32

// tokenDerivationInfo scopes HKDF key derivation to invite tokens so a root
// key shared with other subsystems never produces colliding fingerprints.
const tokenDerivationInfo = "invite-token:v1"

// TokenCodec generates one-time invite secrets and derives the non-reversible
// fingerprints stored in their place. Secrets carry the signing key id as a
// prefix so fingerprints stay verifiable across key rotation.
type TokenCodec struct {
	keys        map[string][]byte
	activeKeyID string
}

// NewTokenCodec constructs a codec from root HMAC keys and the active key id.
func NewTokenCodec(keys map[string][]byte, activeKeyID string) (*TokenCodec, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id is not configured")
	}
	for keyID, key := range keys {
		if strings.ContainsAny(keyID, ". \t") {
			return nil, fmt.Errorf("hmac key id %q contains reserved characters", keyID)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("hmac key %q is empty", keyID)
		}
	}
	return &TokenCodec{keys: keys, activeKeyID: activeKeyID}, nil
}

// Generate produces a fresh one-time secret and its fingerprint. The secret
// is returned exactly once for embedding in the delivered invite link; only
// the fingerprint may be persisted.
func (c *TokenCodec) Generate() (secret string, fingerprint string, err error) {
	if c == nil {
		return "", "", fmt.Errorf("token codec is not configured")
	}
	raw := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("read random bytes: %w", err)
	}

	key, err := c.deriveKey(c.activeKeyID)
	if err != nil {
		return "", "", err
	}
	secret = c.activeKeyID + "." + base64.RawURLEncoding.EncodeToString(raw)
	fingerprint = hmacSHA256Hex(key, raw)
	return secret, fingerprint, nil
}

// Fingerprint recomputes the stored fingerprint for a presented secret.
// The boolean result is false for any malformed or unverifiable input;
// callers treat that the same as an unmatched token.
func (c *TokenCodec) Fingerprint(secret string) (string, bool) {
	if c == nil {
		return "", false
	}
	keyID, raw, ok := splitSecret(secret)
	if !ok {
		return "", false
	}
	key, err := c.deriveKey(keyID)
	if err != nil {
		return "", false
	}
	return hmacSHA256Hex(key, raw), true
}

// Matches reports whether a presented secret derives the given fingerprint.
// The comparison is constant time and malformed input is indistinguishable
// from a wrong secret.
func (c *TokenCodec) Matches(secret string, fingerprint string) bool {
	derived, ok := c.Fingerprint(secret)
	if !ok || fingerprint == "" {
		return false
	}
	return hmac.Equal([]byte(derived), []byte(fingerprint))
}

func (c *TokenCodec) deriveKey(keyID string) ([]byte, error) {
	rootKey, ok := c.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("hmac key id is unknown")
	}
	key, err := hkdf.Key(sha256.New, rootKey, nil, tokenDerivationInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return key, nil
}

func splitSecret(secret string) (keyID string, raw []byte, ok bool) {
	secret = strings.TrimSpace(secret)
	keyID, payload, found := strings.Cut(secret, ".")
	if !found || keyID == "" || payload == "" {
		return "", nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) == 0 {
		return "", nil, false
	}
	return keyID, raw, true
}

func hmacSHA256Hex(key []byte, value []byte) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(value)
	return hex.EncodeToString(mac.Sum(nil))
}

// tokenCodecEnv holds raw env values before post-parse validation.
type tokenCodecEnv struct {
	Keys        string `env:"TABSPLIT_INVITE_TOKEN_KEYS"`
	ActiveKeyID string `env:"TABSPLIT_INVITE_TOKEN_ACTIVE_KEY_ID"`
}

// LoadTokenCodecFromEnv reads token codec key material from the environment.
// Keys are configured as a comma-separated list of id:hex pairs.
func LoadTokenCodecFromEnv() (*TokenCodec, error) {
	var raw tokenCodecEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse token codec env: %w", err)
	}
	if strings.TrimSpace(raw.Keys) == "" {
		return nil, fmt.Errorf("TABSPLIT_INVITE_TOKEN_KEYS is required")
	}
	if strings.TrimSpace(raw.ActiveKeyID) == "" {
		return nil, fmt.Errorf("TABSPLIT_INVITE_TOKEN_ACTIVE_KEY_ID is required")
	}

	keys := make(map[string][]byte)
	for _, entry := range strings.Split(raw.Keys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		keyID, encoded, found := strings.Cut(entry, ":")
		if !found {
			return nil, fmt.Errorf("token key entry %q must be id:hex", entry)
		}
		decoded, err := hex.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("decode token key %q: %w", keyID, err)
		}
		keys[strings.TrimSpace(keyID)] = decoded
	}
	return NewTokenCodec(keys, strings.TrimSpace(raw.ActiveKeyID))
}
