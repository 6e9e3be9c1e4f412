package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
	"github.com/tabsplit/tabsplit/internal/services/invites/storage"
)

type fakeOutbox struct {
	records map[string]storage.OutboxRecord
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{records: make(map[string]storage.OutboxRecord)}
}

func (o *fakeOutbox) EnqueueInviteEmail(ctx context.Context, record storage.OutboxRecord) error {
	if _, ok := o.records[record.ID]; ok {
		return storage.ErrConflict
	}
	o.records[record.ID] = record
	return nil
}

func (o *fakeOutbox) ListUndeliveredEmails(ctx context.Context, limit int) ([]storage.OutboxRecord, error) {
	var pending []storage.OutboxRecord
	for _, record := range o.records {
		if record.DeliveredAt == nil {
			pending = append(pending, record)
			if len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}

func (o *fakeOutbox) MarkEmailDelivered(ctx context.Context, outboxID string, deliveredAt time.Time) error {
	record, ok := o.records[outboxID]
	if !ok || record.DeliveredAt != nil {
		return storage.ErrNotFound
	}
	record.DeliveredAt = &deliveredAt
	record.Attempts++
	o.records[outboxID] = record
	return nil
}

func (o *fakeOutbox) MarkEmailFailed(ctx context.Context, outboxID string, lastError string, failedAt time.Time) error {
	record, ok := o.records[outboxID]
	if !ok || record.DeliveredAt != nil {
		return storage.ErrNotFound
	}
	record.Attempts++
	record.LastError = lastError
	record.UpdatedAt = failedAt
	o.records[outboxID] = record
	return nil
}

type capturingSender struct {
	to      string
	subject string
	body    string
	err     error
}

func (s *capturingSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.to = to
	s.subject = subject
	s.body = body
	return nil
}

func testInvite() invite.Invite {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return invite.Invite{
		ID:        "inv-1",
		Email:     "a@x.com",
		InvitedBy: "u7",
		GroupID:   "g1",
		Status:    invite.StatusPending,
		CreatedAt: created,
		ExpiresAt: created.Add(invite.ValidityWindow),
	}
}

func TestDispatchInviteCreated(t *testing.T) {
	t.Parallel()
	outbox := newFakeOutbox()
	sender := &capturingSender{}
	dispatcher, err := NewDispatcher(outbox, "https://tabsplit.test/join", WithSender(sender))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	const secret = "k1.super-secret-token"
	if err := dispatcher.DispatchInviteCreated(context.Background(), testInvite(), secret); err != nil {
		t.Fatalf("DispatchInviteCreated() error = %v", err)
	}

	if sender.to != "a@x.com" {
		t.Errorf("sent to = %q, want a@x.com", sender.to)
	}
	if !strings.Contains(sender.body, "token=k1.super-secret-token") {
		t.Errorf("sent body %q does not carry the invite link", sender.body)
	}

	if len(outbox.records) != 1 {
		t.Fatalf("outbox records = %d, want 1", len(outbox.records))
	}
	for _, record := range outbox.records {
		if strings.Contains(record.Body, secret) || strings.Contains(record.Subject, secret) {
			t.Errorf("outbox record leaks the secret: %+v", record)
		}
		if record.DeliveredAt == nil {
			t.Error("outbox record was not marked delivered")
		}
		if record.InviteID != "inv-1" {
			t.Errorf("outbox invite id = %q, want inv-1", record.InviteID)
		}
	}
}

func TestDispatchInviteCreatedSenderFailure(t *testing.T) {
	t.Parallel()
	outbox := newFakeOutbox()
	sender := &capturingSender{err: errors.New("smtp refused")}
	dispatcher, err := NewDispatcher(outbox, "https://tabsplit.test/join", WithSender(sender))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	err = dispatcher.DispatchInviteCreated(context.Background(), testInvite(), "k1.secret")
	if err == nil {
		t.Fatal("DispatchInviteCreated() succeeded, want send error")
	}

	count, err := dispatcher.UndeliveredCount(context.Background(), 10)
	if err != nil {
		t.Fatalf("UndeliveredCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("undelivered count = %d, want 1", count)
	}
	for _, record := range outbox.records {
		if record.Attempts != 1 || record.LastError != "smtp refused" {
			t.Errorf("failed record = %+v, want attempts=1 with the send error", record)
		}
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewDispatcher(nil, "https://tabsplit.test/join"); err == nil {
		t.Error("NewDispatcher(nil outbox) succeeded, want error")
	}
	if _, err := NewDispatcher(newFakeOutbox(), "  "); err == nil {
		t.Error("NewDispatcher(blank base url) succeeded, want error")
	}
}

func TestBuildInviteLinkURL(t *testing.T) {
	t.Parallel()
	link, err := buildInviteLinkURL("https://tabsplit.test/join?utm=email", "k1.abc")
	if err != nil {
		t.Fatalf("buildInviteLinkURL() error = %v", err)
	}
	if !strings.Contains(link, "token=k1.abc") {
		t.Errorf("link = %q, want token query parameter", link)
	}
	if !strings.Contains(link, "utm=email") {
		t.Errorf("link = %q, want existing query preserved", link)
	}
}
