package notify

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/text/message"
)

func TestRenderEnglish(t *testing.T) {
	t.Parallel()
	loc := message.NewPrinter(message.MatchLanguage("en"))
	expiry := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

	out := Render(loc, Input{InviteLink: "https://tabsplit.test/join?token=secret-value", ExpiresAt: expiry})
	if out.Subject == "" {
		t.Fatal("subject is empty")
	}
	if !strings.Contains(out.Body, "https://tabsplit.test/join?token=secret-value") {
		t.Errorf("body %q does not contain the invite link", out.Body)
	}
	if !strings.Contains(out.Body, "March 8, 2026") {
		t.Errorf("body %q does not contain the expiry date", out.Body)
	}
}

func TestRenderRedactsLink(t *testing.T) {
	t.Parallel()
	loc := message.NewPrinter(message.MatchLanguage("en"))

	out := Render(loc, Input{InviteLink: "https://tabsplit.test/join?token=secret-value", ExpiresAt: time.Now()})
	if strings.Contains(out.RedactedBody, "secret-value") {
		t.Errorf("redacted body %q leaks the invite link", out.RedactedBody)
	}
	if !strings.Contains(out.RedactedBody, defaultRedactedLink) {
		t.Errorf("redacted body %q does not carry the placeholder", out.RedactedBody)
	}
}

func TestRenderBrazilianPortuguese(t *testing.T) {
	t.Parallel()
	loc := message.NewPrinter(message.MatchLanguage("pt-BR"))

	out := Render(loc, Input{InviteLink: "https://tabsplit.test/join?token=x", ExpiresAt: time.Now()})
	if !strings.Contains(out.Subject, "convidado") {
		t.Errorf("subject %q is not localized", out.Subject)
	}
	if !strings.Contains(out.Body, "despesas") {
		t.Errorf("body %q is not localized", out.Body)
	}
}

func TestRenderNilLocalizerFallsBack(t *testing.T) {
	t.Parallel()
	out := Render(nil, Input{InviteLink: "https://tabsplit.test/join?token=x", ExpiresAt: time.Now()})
	if out.Subject != defaultSubject {
		t.Errorf("subject = %q, want default", out.Subject)
	}
	if !strings.Contains(out.Body, "https://tabsplit.test/join?token=x") {
		t.Errorf("fallback body %q does not contain the invite link", out.Body)
	}
}
