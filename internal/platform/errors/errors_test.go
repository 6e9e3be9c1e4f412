package errors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeInviteTokenInvalid, "token unmatched")
	target := New(CodeInviteTokenInvalid, "different message")

	if !errors.Is(err, target) {
		t.Fatal("expected errors with the same code to match")
	}
	if errors.Is(err, New(CodeConflict, "conflict")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(CodeDependencyFailure, "store unavailable", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if got := GetCode(err); got != CodeDependencyFailure {
		t.Fatalf("expected dependency failure code, got %s", got)
	}
}

func TestGetCodeUnknownForForeignErrors(t *testing.T) {
	if got := GetCode(fmt.Errorf("plain error")); got != CodeUnknown {
		t.Fatalf("expected unknown code, got %s", got)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	cases := []struct {
		code Code
		want codes.Code
	}{
		{CodeInviteEmailInvalid, codes.InvalidArgument},
		{CodeInviteTokenInvalid, codes.NotFound},
		{CodeNotFound, codes.NotFound},
		{CodeInviteTokenExpired, codes.FailedPrecondition},
		{CodeConflict, codes.Aborted},
		{CodeInviteAlreadyAccepted, codes.Aborted},
		{CodeDependencyFailure, codes.Unavailable},
		{CodeUnknown, codes.Internal},
	}
	for _, tc := range cases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("code %s mapped to %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestToGRPCStatusCarriesDetails(t *testing.T) {
	err := WithMetadata(CodeInviteTokenExpired, "invite past expiry", map[string]string{"InviteID": "inv-1"})

	grpcErr := err.ToGRPCStatus("en-US", "This invite link has expired.")
	st, ok := status.FromError(grpcErr)
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", st.Code())
	}
	if st.Message() != "invite past expiry" {
		t.Fatalf("unexpected status message %q", st.Message())
	}
	if len(st.Details()) != 2 {
		t.Fatalf("expected 2 detail entries, got %d", len(st.Details()))
	}
}
