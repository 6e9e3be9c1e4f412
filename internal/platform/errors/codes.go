// Package errors provides structured error handling with stable codes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeInviteEmailInvalid   Code = "INVITE_EMAIL_INVALID"
	CodeInviteEmptyGroupID   Code = "INVITE_EMPTY_GROUP_ID"
	CodeInviteEmptyInviterID Code = "INVITE_EMPTY_INVITER_ID"
	CodeInviteEmptyUserID    Code = "INVITE_EMPTY_USER_ID"
	CodeInviteEmptyID        Code = "INVITE_EMPTY_ID"

	// Lifecycle errors
	CodeInviteTokenInvalid    Code = "INVITE_TOKEN_INVALID"
	CodeInviteTokenExpired    Code = "INVITE_TOKEN_EXPIRED"
	CodeInviteAlreadyAccepted Code = "INVITE_ALREADY_ACCEPTED"
	CodeInviteNotCancellable  Code = "INVITE_NOT_CANCELLABLE"

	// Join grant errors
	CodeInviteJoinGrantInvalid  Code = "INVITE_JOIN_GRANT_INVALID"
	CodeInviteJoinGrantExpired  Code = "INVITE_JOIN_GRANT_EXPIRED"
	CodeInviteJoinGrantMismatch Code = "INVITE_JOIN_GRANT_MISMATCH"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// Collaborator errors
	CodeDependencyFailure Code = "DEPENDENCY_FAILURE"
)

// GRPCCode maps an error code to the canonical gRPC status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInviteEmailInvalid,
		CodeInviteEmptyGroupID,
		CodeInviteEmptyInviterID,
		CodeInviteEmptyUserID,
		CodeInviteEmptyID,
		CodeInviteJoinGrantInvalid,
		CodeInviteJoinGrantMismatch:
		return codes.InvalidArgument

	// NotFound - resource doesn't exist. Invalid tokens intentionally map
	// here so terminal invites are indistinguishable from missing ones.
	case CodeNotFound,
		CodeInviteTokenInvalid:
		return codes.NotFound

	// FailedPrecondition - state doesn't allow operation
	case CodeInviteTokenExpired,
		CodeInviteNotCancellable,
		CodeInviteJoinGrantExpired:
		return codes.FailedPrecondition

	// Aborted - lost a compare-and-swap race or a uniqueness constraint
	case CodeConflict,
		CodeInviteAlreadyAccepted:
		return codes.Aborted

	// Unavailable - a collaborator or the store failed
	case CodeDependencyFailure:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
