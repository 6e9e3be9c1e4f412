// Package tokenkey generates root HMAC keys for the invite token codec.
package tokenkey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

// Config holds configuration for invite token key generation.
type Config struct {
	Bytes int
	KeyID string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, KeyID: "k1"}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes (default: 32)")
	fs.StringVar(&cfg.KeyID, "key-id", cfg.KeyID, "key id prefix carried by issued secrets")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the key and writes the env exports to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		return errors.New("key id is required")
	}
	if strings.ContainsAny(keyID, ". \t") {
		return errors.New("key id contains reserved characters")
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	if _, err := fmt.Fprintf(out, "TABSPLIT_INVITE_TOKEN_KEYS=%s:%s\n", keyID, hex.EncodeToString(buf)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "TABSPLIT_INVITE_TOKEN_ACTIVE_KEY_ID=%s\n", keyID)
	return err
}
