// Package invite provides group invite lifecycle management.
package invite

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/tabsplit/tabsplit/internal/platform/errors"
	"github.com/tabsplit/tabsplit/internal/platform/id"
)

// ValidityWindow is the fixed lifetime of a pending invite. ExpiresAt is
// always CreatedAt plus this window and is never recomputed.
const ValidityWindow = 7 * 24 * time.Hour

var (
	// ErrEmailInvalid indicates a missing or unparseable invitee email.
	ErrEmailInvalid = apperrors.New(apperrors.CodeInviteEmailInvalid, "invitee email is invalid")
	// ErrEmptyGroupID indicates a missing group ID.
	ErrEmptyGroupID = apperrors.New(apperrors.CodeInviteEmptyGroupID, "group id is required")
	// ErrEmptyInviterID indicates a missing inviter user ID.
	ErrEmptyInviterID = apperrors.New(apperrors.CodeInviteEmptyInviterID, "inviter user id is required")
)

// Status represents the lifecycle status of an invite.
type Status int

const (
	// StatusUnspecified represents an invalid invite status.
	StatusUnspecified Status = iota
	// StatusPending indicates an invite is awaiting acceptance.
	StatusPending
	// StatusAccepted indicates an invite has been accepted.
	StatusAccepted
	// StatusExpired indicates an invite passed its validity window unclaimed.
	StatusExpired
	// StatusCancelled indicates an invite was cancelled or superseded.
	StatusCancelled
)

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// transition. Transitions are monotone: only pending records move, and only
// into a terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s != StatusPending {
		return false
	}
	return next.IsTerminal()
}

// Invite is the sole invitation entity. All fields except Status,
// AcceptedAt and AcceptedBy are immutable after creation.
type Invite struct {
	ID               string
	Email            string
	InvitedBy        string
	GroupID          string
	ExpenseID        string
	TokenFingerprint string
	Status           Status
	CreatedAt        time.Time
	ExpiresAt        time.Time
	AcceptedAt       *time.Time
	AcceptedBy       string
}

// CreateInviteInput describes the metadata needed to create an invite.
type CreateInviteInput struct {
	Email     string
	InvitedBy string
	GroupID   string
	ExpenseID string
}

// CreateInvite creates a new pending invite with a generated ID, creation
// timestamp and expiry. The token fingerprint is attached by the caller once
// the one-time secret has been generated.
func CreateInvite(input CreateInviteInput, now func() time.Time, idGenerator func() (string, error)) (Invite, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateInviteInput(input)
	if err != nil {
		return Invite{}, err
	}

	inviteID, err := idGenerator()
	if err != nil {
		return Invite{}, fmt.Errorf("generate invite id: %w", err)
	}

	createdAt := now().UTC()
	return Invite{
		ID:        inviteID,
		Email:     normalized.Email,
		InvitedBy: normalized.InvitedBy,
		GroupID:   normalized.GroupID,
		ExpenseID: normalized.ExpenseID,
		Status:    StatusPending,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(ValidityWindow),
	}, nil
}

// NormalizeCreateInviteInput validates invite input metadata and canonicalizes
// the invitee email to its lowercase trimmed address form.
func NormalizeCreateInviteInput(input CreateInviteInput) (CreateInviteInput, error) {
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return CreateInviteInput{}, err
	}
	input.Email = email
	input.InvitedBy = strings.TrimSpace(input.InvitedBy)
	if input.InvitedBy == "" {
		return CreateInviteInput{}, ErrEmptyInviterID
	}
	input.GroupID = strings.TrimSpace(input.GroupID)
	if input.GroupID == "" {
		return CreateInviteInput{}, ErrEmptyGroupID
	}
	input.ExpenseID = strings.TrimSpace(input.ExpenseID)
	return input, nil
}

// NormalizeEmail parses and canonicalizes an email address.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrEmailInvalid
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", ErrEmailInvalid
	}
	return strings.ToLower(parsed.Address), nil
}

// StatusLabel returns the string label for an invite status.
func StatusLabel(status Status) string {
	switch status {
	case StatusPending:
		return "PENDING"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusExpired:
		return "EXPIRED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNSPECIFIED"
	}
}

// StatusFromLabel converts a status label to a Status value.
func StatusFromLabel(label string) Status {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PENDING":
		return StatusPending
	case "ACCEPTED":
		return StatusAccepted
	case "EXPIRED":
		return StatusExpired
	case "CANCELLED":
		return StatusCancelled
	default:
		return StatusUnspecified
	}
}
