// Package notify renders and dispatches invite emails. Rendered copy is
// journaled to the outbox with the invite link redacted; the link carrying
// the one-time secret exists only in the message handed to the sender.
package notify

import (
	"strings"
	"time"

	"golang.org/x/text/message"
)

const (
	defaultSubject      = "You're invited to a TabSplit group"
	defaultBody         = "You've been invited to share expenses on TabSplit. Open this link to join: %s. The invite expires on %s."
	defaultRedactedLink = "[invite link]"
)

// Localizer is the minimal message-printer contract required by the renderer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Input is one invite email render request.
type Input struct {
	InviteLink string
	ExpiresAt  time.Time
}

// Output is localized invite email copy. RedactedBody is Body with the invite
// link replaced by a placeholder and is the only form that may be stored.
type Output struct {
	Subject      string
	Body         string
	RedactedBody string
}

// Render returns localized invite email copy.
func Render(loc Localizer, input Input) Output {
	expiry := input.ExpiresAt.UTC().Format("January 2, 2006")
	subject := localizeWithFallback(loc, "invite.email.subject", defaultSubject)
	body := localize(loc, "invite.email.body", input.InviteLink, expiry)
	redacted := localize(loc, "invite.email.body", defaultRedactedLink, expiry)
	if body == "invite.email.body" {
		body = sprintfFallback(defaultBody, input.InviteLink, expiry)
		redacted = sprintfFallback(defaultBody, defaultRedactedLink, expiry)
	}
	return Output{
		Subject:      subject,
		Body:         body,
		RedactedBody: redacted,
	}
}

func localize(loc Localizer, key message.Reference, args ...any) string {
	if loc == nil {
		if asString, ok := key.(string); ok {
			return asString
		}
		return ""
	}
	return loc.Sprintf(key, args...)
}

func localizeWithFallback(loc Localizer, key string, fallback string) string {
	value := strings.TrimSpace(localize(loc, key))
	if value == "" || value == key {
		return fallback
	}
	return value
}

func sprintfFallback(format string, args ...any) string {
	printer := message.NewPrinter(message.MatchLanguage("en"))
	return printer.Sprintf(format, args...)
}
