package tokenkey

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("tokenkey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 {
		t.Fatalf("expected default bytes 32, got %d", cfg.Bytes)
	}
	if cfg.KeyID != "k1" {
		t.Fatalf("expected default key id k1, got %q", cfg.KeyID)
	}
}

func TestParseConfigOverride(t *testing.T) {
	fs := flag.NewFlagSet("tokenkey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-bytes", "16", "-key-id", "rotation-2026"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 16 {
		t.Fatalf("expected bytes 16, got %d", cfg.Bytes)
	}
	if cfg.KeyID != "rotation-2026" {
		t.Fatalf("expected key id rotation-2026, got %q", cfg.KeyID)
	}
}

func TestRunRejectsInvalidBytes(t *testing.T) {
	if err := Run(Config{Bytes: 0, KeyID: "k1"}, &bytes.Buffer{}, bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for non-positive bytes")
	}
}

func TestRunRejectsReservedKeyID(t *testing.T) {
	if err := Run(Config{Bytes: 4, KeyID: "a.b"}, &bytes.Buffer{}, bytes.NewReader([]byte{1, 2, 3, 4})); err == nil {
		t.Fatal("expected error for key id with dot")
	}
}

func TestRunWritesExports(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04})
	if err := Run(Config{Bytes: 4, KeyID: "k1"}, buf, reader); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "TABSPLIT_INVITE_TOKEN_KEYS=k1:01020304" {
		t.Fatalf("unexpected keys line: %q", lines[0])
	}
	if lines[1] != "TABSPLIT_INVITE_TOKEN_ACTIVE_KEY_ID=k1" {
		t.Fatalf("unexpected active key line: %q", lines[1])
	}
}

func TestRunNilOutput(t *testing.T) {
	if err := Run(Config{Bytes: 4, KeyID: "k1"}, nil, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read error") }

func TestRunReaderError(t *testing.T) {
	if err := Run(Config{Bytes: 4, KeyID: "k1"}, &bytes.Buffer{}, errReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
}
