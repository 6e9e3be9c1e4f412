package server

import (
	"context"
	"encoding/hex"
	"net"
	"path/filepath"
	"testing"

	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
	"github.com/tabsplit/tabsplit/internal/services/invites/engine"
)

func setTokenKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TABSPLIT_INVITE_TOKEN_KEYS", "k1:"+hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	t.Setenv("TABSPLIT_INVITE_TOKEN_ACTIVE_KEY_ID", "k1")
}

func TestNewRequiresTokenKeys(t *testing.T) {
	t.Setenv("TABSPLIT_INVITES_DB_PATH", filepath.Join(t.TempDir(), "invites.db"))
	t.Setenv("TABSPLIT_INVITE_TOKEN_KEYS", "")
	t.Setenv("TABSPLIT_INVITE_TOKEN_ACTIVE_KEY_ID", "")

	if _, err := New(0); err == nil {
		t.Fatal("expected error for missing token keys")
	}
}

func TestNewRejectsMalformedTokenKeys(t *testing.T) {
	t.Setenv("TABSPLIT_INVITES_DB_PATH", filepath.Join(t.TempDir(), "invites.db"))
	t.Setenv("TABSPLIT_INVITE_TOKEN_KEYS", "k1=not-a-pair")
	t.Setenv("TABSPLIT_INVITE_TOKEN_ACTIVE_KEY_ID", "k1")

	if _, err := New(0); err == nil {
		t.Fatal("expected error for malformed token keys")
	}
}

func TestNewSuccess(t *testing.T) {
	t.Setenv("TABSPLIT_INVITES_DB_PATH", filepath.Join(t.TempDir(), "invites.db"))
	setTokenKeyEnv(t)

	srv, err := New(0)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		srv.Close()
	})
	if srv.Addr() == "" {
		t.Fatal("expected non-empty address")
	}
	if srv.Engine() == nil {
		t.Fatal("expected a wired engine")
	}
}

func TestServerEngineEndToEnd(t *testing.T) {
	t.Setenv("TABSPLIT_INVITES_DB_PATH", filepath.Join(t.TempDir(), "invites.db"))
	setTokenKeyEnv(t)

	srv, err := New(0)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		srv.Close()
	})

	ctx := context.Background()
	created, err := srv.Engine().CreateInvite(ctx, invite.CreateInviteInput{
		Email:     "a@x.com",
		InvitedBy: "u7",
		GroupID:   "g1",
	})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	verified, err := srv.Engine().VerifyInvite(ctx, created.Secret)
	if err != nil {
		t.Fatalf("VerifyInvite() error = %v", err)
	}
	if verified.Invite.ID != created.Invite.ID {
		t.Errorf("verified invite id = %q, want %q", verified.Invite.ID, created.Invite.ID)
	}

	accepted, err := srv.Engine().AcceptInvite(ctx, engine.AcceptInviteInput{Secret: created.Secret, UserID: "u9"})
	if err != nil {
		t.Fatalf("AcceptInvite() error = %v", err)
	}
	if accepted.Status != invite.StatusAccepted {
		t.Errorf("status = %v, want accepted", accepted.Status)
	}
}

func TestServerCloseReleasesListener(t *testing.T) {
	t.Setenv("TABSPLIT_INVITES_DB_PATH", filepath.Join(t.TempDir(), "invites.db"))
	setTokenKeyEnv(t)

	srv, err := New(0)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected non-empty address")
	}

	srv.Close()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen after close: %v", err)
	}
	_ = l.Close()
}

func TestLoadServerEnvDefaults(t *testing.T) {
	t.Setenv("TABSPLIT_INVITES_DB_PATH", "")
	t.Setenv("TABSPLIT_INVITE_LINK_BASE_URL", "")
	t.Setenv("TABSPLIT_INVITES_SWEEP_INTERVAL", "")

	cfg := loadServerEnv()
	if cfg.DBPath == "" {
		t.Error("expected default db path")
	}
	if cfg.InviteLinkURL == "" {
		t.Error("expected default invite link base url")
	}
	if cfg.SweepInterval <= 0 {
		t.Error("expected positive sweep interval")
	}
}
