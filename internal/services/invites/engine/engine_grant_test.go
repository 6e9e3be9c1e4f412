package engine

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	apperrors "github.com/tabsplit/tabsplit/internal/platform/errors"
	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
)

func testGrantConfig(t *testing.T) invite.JoinGrantConfig {
	t.Helper()
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return invite.JoinGrantConfig{
		Issuer:     "tabsplit-invites",
		Audience:   "tabsplit-web",
		PrivateKey: private,
		PublicKey:  public,
		TTL:        15 * time.Minute,
		Now:        fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func TestVerifyInviteIssuesJoinGrant(t *testing.T) {
	t.Parallel()
	cfg := testGrantConfig(t)
	fixture := newEngineFixture(t, WithJoinGrants(cfg))
	ctx := context.Background()

	created, err := fixture.engine.CreateInvite(ctx, invite.CreateInviteInput{Email: "a@x.com", InvitedBy: "u7", GroupID: "g1"})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	verified, err := fixture.engine.VerifyInvite(ctx, created.Secret)
	if err != nil {
		t.Fatalf("VerifyInvite() error = %v", err)
	}
	if verified.JoinGrant == "" {
		t.Fatal("JoinGrant is empty with a configured signer")
	}

	claims, err := invite.ValidateJoinGrant(verified.JoinGrant, invite.JoinGrantExpectation{
		InviteID: created.Invite.ID,
		GroupID:  "g1",
		Email:    "a@x.com",
	}, cfg)
	if err != nil {
		t.Fatalf("ValidateJoinGrant() error = %v", err)
	}
	if claims.InviteID != created.Invite.ID {
		t.Errorf("grant invite id = %q, want %q", claims.InviteID, created.Invite.ID)
	}

	accepted, err := fixture.engine.AcceptInvite(ctx, AcceptInviteInput{
		Secret:    created.Secret,
		UserID:    "u9",
		JoinGrant: verified.JoinGrant,
	})
	if err != nil {
		t.Fatalf("AcceptInvite() with grant error = %v", err)
	}
	if accepted.Status != invite.StatusAccepted {
		t.Errorf("status = %v, want accepted", accepted.Status)
	}
}

func TestAcceptInviteRejectsForeignJoinGrant(t *testing.T) {
	t.Parallel()
	cfg := testGrantConfig(t)
	fixture := newEngineFixture(t, WithJoinGrants(cfg))
	ctx := context.Background()

	first, err := fixture.engine.CreateInvite(ctx, invite.CreateInviteInput{Email: "a@x.com", InvitedBy: "u7", GroupID: "g1"})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}
	second, err := fixture.engine.CreateInvite(ctx, invite.CreateInviteInput{Email: "b@x.com", InvitedBy: "u7", GroupID: "g2"})
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	verifiedSecond, err := fixture.engine.VerifyInvite(ctx, second.Secret)
	if err != nil {
		t.Fatalf("VerifyInvite() error = %v", err)
	}

	// A grant minted for one invite does not authorize accepting another.
	_, err = fixture.engine.AcceptInvite(ctx, AcceptInviteInput{
		Secret:    first.Secret,
		UserID:    "u9",
		JoinGrant: verifiedSecond.JoinGrant,
	})
	if apperrors.GetCode(err) != apperrors.CodeInviteJoinGrantMismatch {
		t.Errorf("AcceptInvite() error code = %v, want INVITE_JOIN_GRANT_MISMATCH", apperrors.GetCode(err))
	}
}
