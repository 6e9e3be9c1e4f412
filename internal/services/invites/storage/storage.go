// Package storage defines the persistence contracts consumed by the invite
// lifecycle engine. Any implementation satisfying the uniqueness and
// compare-and-swap guarantees documented here is conformant; SQLite is the
// reference implementation.
package storage

import (
	"context"
	"time"

	apperrors "github.com/tabsplit/tabsplit/internal/platform/errors"
	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity"
// states and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConflict indicates a write lost a compare-and-swap race or violated a
// uniqueness constraint. The write is never silently applied.
var ErrConflict = apperrors.New(apperrors.CodeConflict, "conflicting write")

// InviteRecord captures the persisted invite state. The plaintext secret is
// never part of this record; only its fingerprint is stored.
type InviteRecord struct {
	ID               string
	Email            string
	InvitedBy        string
	GroupID          string
	ExpenseID        string
	TokenFingerprint string
	Status           invite.Status
	CreatedAt        time.Time
	ExpiresAt        time.Time
	AcceptedAt       *time.Time
	AcceptedBy       string
}

// StatusUpdate carries the fields written atomically with a status
// compare-and-swap. Acceptance fields are set exactly once, on the
// pending to accepted transition.
type StatusUpdate struct {
	AcceptedAt *time.Time
	AcceptedBy string
}

// InvitePage describes a page of invite records.
type InvitePage struct {
	Invites       []InviteRecord
	NextPageToken string
}

// InviteStore owns durable invite records. All status mutation goes through
// UpdateInviteStatus so concurrent writers race on a compare-and-swap rather
// than overwriting each other.
type InviteStore interface {
	// InsertInvite persists a new invite. It fails with ErrConflict when a
	// uniqueness constraint is violated (duplicate fingerprint, or a second
	// pending invite for the same email and group).
	InsertInvite(ctx context.Context, record InviteRecord) error
	// GetInvite fetches an invite record by ID.
	GetInvite(ctx context.Context, inviteID string) (InviteRecord, error)
	// GetInviteByFingerprint fetches an invite record by token fingerprint.
	GetInviteByFingerprint(ctx context.Context, fingerprint string) (InviteRecord, error)
	// GetPendingInviteByEmailAndGroup fetches the at-most-one pending invite
	// for a normalized email and group pair.
	GetPendingInviteByEmailAndGroup(ctx context.Context, email, groupID string) (InviteRecord, error)
	// UpdateInviteStatus transitions an invite from expected to next status.
	// It fails with ErrConflict, leaving the record untouched, when the
	// stored status no longer equals expected.
	UpdateInviteStatus(ctx context.Context, inviteID string, expected, next invite.Status, update StatusUpdate) error
	// ListInvitesByGroup returns a page of invites for a group, optionally
	// filtered by status. StatusUnspecified returns all.
	ListInvitesByGroup(ctx context.Context, groupID string, status invite.Status, pageSize int, pageToken string) (InvitePage, error)
	// ListInvitesByInviter returns a page of invites issued by a user.
	ListInvitesByInviter(ctx context.Context, inviterID string, pageSize int, pageToken string) (InvitePage, error)
	// ListExpiredPendingInvites returns pending invites whose expiry passed
	// before the given time, feeding the maintenance sweep.
	ListExpiredPendingInvites(ctx context.Context, before time.Time, limit int) ([]InviteRecord, error)
}

// MembershipStore applies group membership on invite acceptance. Both
// operations are idempotent: applying the same membership twice is a no-op,
// which keeps acceptance retries safe.
type MembershipStore interface {
	AddGroupMember(ctx context.Context, groupID, userID string) error
	AddExpenseParticipant(ctx context.Context, expenseID, userID string) error
	// ListGroupMembers returns the user IDs of a group's members.
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// OutboxRecord captures one queued invite email awaiting delivery.
type OutboxRecord struct {
	ID          string
	InviteID    string
	Email       string
	Subject     string
	Body        string
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
	LastError   string
}

// OutboxStore queues rendered invite emails for best-effort delivery.
// Enqueueing is decoupled from sending so a delivery failure never rolls
// back the invite that triggered it.
type OutboxStore interface {
	EnqueueInviteEmail(ctx context.Context, record OutboxRecord) error
	// ListUndeliveredEmails returns queued emails oldest first.
	ListUndeliveredEmails(ctx context.Context, limit int) ([]OutboxRecord, error)
	// MarkEmailDelivered stamps a queued email as sent.
	MarkEmailDelivered(ctx context.Context, outboxID string, deliveredAt time.Time) error
	// MarkEmailFailed records a failed attempt and its error.
	MarkEmailFailed(ctx context.Context, outboxID string, lastError string, failedAt time.Time) error
}
