package notify

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/message"

	"github.com/tabsplit/tabsplit/internal/platform/id"
	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
	"github.com/tabsplit/tabsplit/internal/services/invites/storage"
)

// Sender delivers one rendered invite email.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// LogSender is the default development sender. It logs that a delivery
// happened without the body, so the invite link never reaches the logs.
type LogSender struct{}

// SendEmail implements Sender.
func (LogSender) SendEmail(ctx context.Context, to, subject, body string) error {
	log.Printf("invite email sent: to=%s subject=%q", to, subject)
	return nil
}

// Dispatcher renders invite emails, journals them to the outbox and hands
// them to the sender. The outbox row never contains the one-time secret: a
// failed delivery is visible for operators but cannot be replayed, the
// invite has to be re-issued instead.
type Dispatcher struct {
	outbox    storage.OutboxStore
	sender    Sender
	localizer Localizer
	baseURL   string
	now       func() time.Time
	newID     func() (string, error)
}

// DispatcherOption configures optional Dispatcher collaborators.
type DispatcherOption func(*Dispatcher)

// WithSender overrides the email sender.
func WithSender(sender Sender) DispatcherOption {
	return func(d *Dispatcher) {
		if sender != nil {
			d.sender = sender
		}
	}
}

// WithLocalizer overrides the message localizer.
func WithLocalizer(loc Localizer) DispatcherOption {
	return func(d *Dispatcher) { d.localizer = loc }
}

// WithClock overrides the dispatcher clock.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithIDGenerator overrides the outbox ID generator.
func WithIDGenerator(generator func() (string, error)) DispatcherOption {
	return func(d *Dispatcher) {
		if generator != nil {
			d.newID = generator
		}
	}
}

// NewDispatcher constructs an invite email dispatcher. The base URL is the
// join page the invite link points at.
func NewDispatcher(outbox storage.OutboxStore, baseURL string, opts ...DispatcherOption) (*Dispatcher, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("invite link base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse invite link base url: %w", err)
	}
	dispatcher := &Dispatcher{
		outbox:    outbox,
		sender:    LogSender{},
		localizer: message.NewPrinter(message.MatchLanguage("en")),
		baseURL:   baseURL,
		now:       time.Now,
		newID:     id.NewID,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// DispatchInviteCreated renders and sends the invite email for a freshly
// created invite.
func (d *Dispatcher) DispatchInviteCreated(ctx context.Context, inv invite.Invite, secret string) error {
	link, err := buildInviteLinkURL(d.baseURL, secret)
	if err != nil {
		return fmt.Errorf("build invite link: %w", err)
	}

	rendered := Render(d.localizer, Input{InviteLink: link, ExpiresAt: inv.ExpiresAt})

	outboxID, err := d.newID()
	if err != nil {
		return fmt.Errorf("generate outbox id: %w", err)
	}
	now := d.now().UTC()
	record := storage.OutboxRecord{
		ID:        outboxID,
		InviteID:  inv.ID,
		Email:     inv.Email,
		Subject:   rendered.Subject,
		Body:      rendered.RedactedBody,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.outbox.EnqueueInviteEmail(ctx, record); err != nil {
		return fmt.Errorf("enqueue invite email: %w", err)
	}

	if err := d.sender.SendEmail(ctx, inv.Email, rendered.Subject, rendered.Body); err != nil {
		if markErr := d.outbox.MarkEmailFailed(ctx, outboxID, err.Error(), d.now().UTC()); markErr != nil {
			log.Printf("mark invite email failed: outbox_id=%s err=%v", outboxID, markErr)
		}
		return fmt.Errorf("send invite email: %w", err)
	}
	if err := d.outbox.MarkEmailDelivered(ctx, outboxID, d.now().UTC()); err != nil {
		log.Printf("mark invite email delivered: outbox_id=%s err=%v", outboxID, err)
	}
	return nil
}

// UndeliveredCount reports how many journaled invite emails never went out.
// The backlog is operator visibility only; the secrets are gone, so stuck
// entries mean those invites need re-issuing.
func (d *Dispatcher) UndeliveredCount(ctx context.Context, limit int) (int, error) {
	records, err := d.outbox.ListUndeliveredEmails(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list undelivered emails: %w", err)
	}
	return len(records), nil
}

// buildInviteLinkURL attaches the one-time secret to the join page URL.
func buildInviteLinkURL(base string, token string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
