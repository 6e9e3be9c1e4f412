// Package engine implements the invite lifecycle: creation with single-use
// secrets, verification, acceptance with membership application, cancellation
// and the expiry sweep. All state mutation funnels through the store's
// compare-and-swap so concurrent callers race safely.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	apperrors "github.com/tabsplit/tabsplit/internal/platform/errors"
	"github.com/tabsplit/tabsplit/internal/platform/id"
	"github.com/tabsplit/tabsplit/internal/platform/timeouts"
	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
	"github.com/tabsplit/tabsplit/internal/services/invites/storage"
)

// ErrTokenInvalid covers every unverifiable token presentation: malformed
// secrets, unknown fingerprints, and invites in a terminal state other than
// expired. Collapsing these into one error keeps token probing uninformative.
var ErrTokenInvalid = apperrors.New(apperrors.CodeInviteTokenInvalid, "invite token is invalid")

// ErrTokenExpired indicates the invite passed its validity window unclaimed.
var ErrTokenExpired = apperrors.New(apperrors.CodeInviteTokenExpired, "invite token is expired")

// ErrAlreadyAccepted indicates an accept attempt on an accepted invite.
var ErrAlreadyAccepted = apperrors.New(apperrors.CodeInviteAlreadyAccepted, "invite was already accepted")

// ErrEmptyUserID indicates a missing acting user ID.
var ErrEmptyUserID = apperrors.New(apperrors.CodeInviteEmptyUserID, "user id is required")

// ErrEmptyInviteID indicates a missing invite ID.
var ErrEmptyInviteID = apperrors.New(apperrors.CodeInviteEmptyID, "invite id is required")

// sweepPageSize bounds how many expired invites one sweep pass loads.
const sweepPageSize = 100

// MembershipApplier applies the effects of an accepted invite. Both methods
// must be idempotent so acceptance retries stay safe.
type MembershipApplier interface {
	AddGroupMember(ctx context.Context, groupID, userID string) error
	AddExpenseParticipant(ctx context.Context, expenseID, userID string) error
}

// NotificationDispatcher delivers the invite link to the invitee. Dispatch is
// best effort: a failure is logged and never rolls back the created invite.
type NotificationDispatcher interface {
	DispatchInviteCreated(ctx context.Context, inv invite.Invite, secret string) error
}

// Engine coordinates invite lifecycle operations over the store and
// collaborators.
type Engine struct {
	store    storage.InviteStore
	members  MembershipApplier
	codec    *invite.TokenCodec
	notifier NotificationDispatcher
	grants   invite.JoinGrantConfig
	now      func() time.Time
	newID    func() (string, error)
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithNotifier wires a notification dispatcher for created invites.
func WithNotifier(notifier NotificationDispatcher) Option {
	return func(e *Engine) { e.notifier = notifier }
}

// WithJoinGrants enables signed join grants on verification and grant
// validation on acceptance.
func WithJoinGrants(cfg invite.JoinGrantConfig) Option {
	return func(e *Engine) { e.grants = cfg }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides the engine ID generator.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(e *Engine) {
		if generator != nil {
			e.newID = generator
		}
	}
}

// New constructs an invite engine.
func New(store storage.InviteStore, members MembershipApplier, codec *invite.TokenCodec, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("invite store is required")
	}
	if members == nil {
		return nil, errors.New("membership applier is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	engine := &Engine{
		store:   store,
		members: members,
		codec:   codec,
		now:     time.Now,
		newID:   id.NewID,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// CreateInviteResult carries a created invite and its one-time secret. The
// secret exists only in this result and the dispatched notification; it is
// never persisted or logged. DispatchError reports a failed notification
// without failing the create: the invite stays pending and can be resent.
type CreateInviteResult struct {
	Invite        invite.Invite
	Secret        string
	DispatchError error
}

// CreateInvite issues a new pending invite for an email and group pair. An
// existing pending invite for the same pair is cancelled and superseded; its
// old secret stops verifying immediately.
func (e *Engine) CreateInvite(ctx context.Context, input invite.CreateInviteInput) (CreateInviteResult, error) {
	created, err := invite.CreateInvite(input, e.now, e.newID)
	if err != nil {
		return CreateInviteResult{}, err
	}

	secret, err := e.persistWithSupersede(ctx, &created)
	if errors.Is(err, storage.ErrConflict) {
		// A concurrent create for the same pair won the insert. Retry once
		// with a fresh secret; a second conflict surfaces to the caller.
		secret, err = e.persistWithSupersede(ctx, &created)
	}
	if err != nil {
		return CreateInviteResult{}, err
	}
	return CreateInviteResult{
		Invite:        redactInvite(created),
		Secret:        secret,
		DispatchError: e.dispatchCreated(ctx, created, secret),
	}, nil
}

// persistWithSupersede cancels any pending invite for the same email and
// group, generates a fresh secret and inserts the new record.
func (e *Engine) persistWithSupersede(ctx context.Context, created *invite.Invite) (string, error) {
	if err := e.supersedePending(ctx, created.Email, created.GroupID); err != nil {
		return "", err
	}

	secret, fingerprint, err := e.codec.Generate()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeDependencyFailure, "generate invite token", err)
	}
	created.TokenFingerprint = fingerprint

	if err := e.insertInvite(ctx, inviteToRecord(*created)); err != nil {
		return "", err
	}
	return secret, nil
}

func (e *Engine) supersedePending(ctx context.Context, email, groupID string) error {
	prior, err := e.getPendingByEmailAndGroup(ctx, email, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = e.updateStatus(ctx, prior.ID, invite.StatusPending, invite.StatusCancelled, storage.StatusUpdate{})
	if err != nil && !errors.Is(err, storage.ErrConflict) && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	// A lost race means the prior invite already reached a terminal state,
	// which is exactly what superseding wanted.
	return nil
}

func (e *Engine) dispatchCreated(ctx context.Context, created invite.Invite, secret string) error {
	if e.notifier == nil {
		return nil
	}
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeouts.NotifyDispatch)
	defer cancel()
	if err := e.notifier.DispatchInviteCreated(dispatchCtx, created, secret); err != nil {
		log.Printf("dispatch invite notification failed: invite_id=%s err=%v", created.ID, err)
		return err
	}
	return nil
}

// VerifyInviteResult carries a verified pending invite and, when a signer is
// configured, a short-lived join grant for finishing acceptance.
type VerifyInviteResult struct {
	Invite    invite.Invite
	JoinGrant string
}

// VerifyInvite checks a presented secret against stored invite state. A
// pending unexpired invite verifies; an expired one fails with ErrTokenExpired
// after being lazily transitioned; everything else fails with ErrTokenInvalid.
func (e *Engine) VerifyInvite(ctx context.Context, secret string) (VerifyInviteResult, error) {
	record, err := e.resolvePending(ctx, secret)
	if err != nil {
		return VerifyInviteResult{}, err
	}

	result := VerifyInviteResult{Invite: redactInvite(recordToInvite(record))}
	if e.grants.CanSign() {
		jwtID, err := e.newID()
		if err != nil {
			return VerifyInviteResult{}, apperrors.Wrap(apperrors.CodeDependencyFailure, "generate join grant id", err)
		}
		grant, err := invite.SignJoinGrant(invite.JoinGrantExpectation{
			InviteID: record.ID,
			GroupID:  record.GroupID,
			Email:    record.Email,
		}, e.grants, jwtID)
		if err != nil {
			return VerifyInviteResult{}, apperrors.Wrap(apperrors.CodeDependencyFailure, "sign join grant", err)
		}
		result.JoinGrant = grant
	}
	return result, nil
}

// resolvePending maps a presented secret to its pending invite record,
// applying lazy expiry on the way.
func (e *Engine) resolvePending(ctx context.Context, secret string) (storage.InviteRecord, error) {
	fingerprint, ok := e.codec.Fingerprint(secret)
	if !ok {
		return storage.InviteRecord{}, ErrTokenInvalid
	}

	record, err := e.getByFingerprint(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.InviteRecord{}, ErrTokenInvalid
	}
	if err != nil {
		return storage.InviteRecord{}, err
	}
	if !e.codec.Matches(secret, record.TokenFingerprint) {
		return storage.InviteRecord{}, ErrTokenInvalid
	}

	switch record.Status {
	case invite.StatusPending:
	case invite.StatusExpired:
		return storage.InviteRecord{}, ErrTokenExpired
	default:
		return storage.InviteRecord{}, ErrTokenInvalid
	}

	if !e.now().UTC().Before(record.ExpiresAt) {
		if err := e.expirePending(ctx, record.ID); err != nil {
			return storage.InviteRecord{}, err
		}
		return storage.InviteRecord{}, ErrTokenExpired
	}
	return record, nil
}

// expirePending transitions a pending invite to expired. A lost race is fine:
// some other caller already moved the record to a terminal state.
func (e *Engine) expirePending(ctx context.Context, inviteID string) error {
	err := e.updateStatus(ctx, inviteID, invite.StatusPending, invite.StatusExpired, storage.StatusUpdate{})
	if err != nil && !errors.Is(err, storage.ErrConflict) && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// AcceptInviteInput describes an acceptance request. JoinGrant is optional:
// when present it is validated against the invite before membership applies.
type AcceptInviteInput struct {
	Secret    string
	UserID    string
	JoinGrant string
}

// AcceptInvite consumes a pending invite: membership is applied first, then
// the invite transitions to accepted. If the process dies between the two
// steps a retry is safe because membership application is idempotent.
// Exactly one of any number of concurrent acceptors wins the transition.
func (e *Engine) AcceptInvite(ctx context.Context, input AcceptInviteInput) (invite.Invite, error) {
	userID := input.UserID
	if userID == "" {
		return invite.Invite{}, ErrEmptyUserID
	}

	record, err := e.resolveForAccept(ctx, input.Secret)
	if err != nil {
		return invite.Invite{}, err
	}

	if input.JoinGrant != "" {
		_, err := invite.ValidateJoinGrant(input.JoinGrant, invite.JoinGrantExpectation{
			InviteID: record.ID,
			GroupID:  record.GroupID,
			Email:    record.Email,
		}, e.grants)
		if err != nil {
			return invite.Invite{}, err
		}
	}

	if err := e.applyMembership(ctx, record, userID); err != nil {
		return invite.Invite{}, err
	}

	acceptedAt := e.now().UTC()
	update := storage.StatusUpdate{AcceptedAt: &acceptedAt, AcceptedBy: userID}
	err = e.updateStatus(ctx, record.ID, invite.StatusPending, invite.StatusAccepted, update)
	if err == nil {
		record.Status = invite.StatusAccepted
		record.AcceptedAt = &acceptedAt
		record.AcceptedBy = userID
		return redactInvite(recordToInvite(record)), nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return invite.Invite{}, err
	}

	// Lost the acceptance race. Report what actually happened to the invite.
	current, getErr := e.getInvite(ctx, record.ID)
	if getErr != nil {
		return invite.Invite{}, getErr
	}
	switch current.Status {
	case invite.StatusAccepted:
		return invite.Invite{}, ErrAlreadyAccepted
	case invite.StatusExpired:
		return invite.Invite{}, ErrTokenExpired
	default:
		return invite.Invite{}, ErrTokenInvalid
	}
}

// resolveForAccept is resolvePending with accept-specific error shaping: an
// accepted invite reports ErrAlreadyAccepted instead of the generic invalid.
func (e *Engine) resolveForAccept(ctx context.Context, secret string) (storage.InviteRecord, error) {
	fingerprint, ok := e.codec.Fingerprint(secret)
	if !ok {
		return storage.InviteRecord{}, ErrTokenInvalid
	}
	record, err := e.getByFingerprint(ctx, fingerprint)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.InviteRecord{}, ErrTokenInvalid
	}
	if err != nil {
		return storage.InviteRecord{}, err
	}

	switch record.Status {
	case invite.StatusPending:
	case invite.StatusAccepted:
		return storage.InviteRecord{}, ErrAlreadyAccepted
	case invite.StatusExpired:
		return storage.InviteRecord{}, ErrTokenExpired
	default:
		return storage.InviteRecord{}, ErrTokenInvalid
	}

	if !e.now().UTC().Before(record.ExpiresAt) {
		if err := e.expirePending(ctx, record.ID); err != nil {
			return storage.InviteRecord{}, err
		}
		return storage.InviteRecord{}, ErrTokenExpired
	}
	return record, nil
}

func (e *Engine) applyMembership(ctx context.Context, record storage.InviteRecord, userID string) error {
	if err := e.members.AddGroupMember(ctx, record.GroupID, userID); err != nil {
		return apperrors.Wrap(apperrors.CodeDependencyFailure, "apply group membership", err)
	}
	if record.ExpenseID != "" {
		if err := e.members.AddExpenseParticipant(ctx, record.ExpenseID, userID); err != nil {
			return apperrors.Wrap(apperrors.CodeDependencyFailure, "apply expense participation", err)
		}
	}
	return nil
}

// CancelInvite revokes a pending invite. Only the original inviter may
// cancel, and a terminal invite fails with a conflict so the caller learns
// the cancel changed nothing.
func (e *Engine) CancelInvite(ctx context.Context, inviteID, requestedBy string) (invite.Invite, error) {
	if inviteID == "" {
		return invite.Invite{}, ErrEmptyInviteID
	}
	if requestedBy == "" {
		return invite.Invite{}, ErrEmptyUserID
	}

	record, err := e.getInvite(ctx, inviteID)
	if err != nil {
		return invite.Invite{}, err
	}
	if record.InvitedBy != requestedBy {
		return invite.Invite{}, apperrors.WithMetadata(
			apperrors.CodeInviteNotCancellable,
			"only the inviter can cancel an invite",
			map[string]string{"InviteID": inviteID},
		)
	}
	if record.Status.IsTerminal() {
		return invite.Invite{}, storage.ErrConflict
	}

	err = e.updateStatus(ctx, inviteID, invite.StatusPending, invite.StatusCancelled, storage.StatusUpdate{})
	if err != nil {
		return invite.Invite{}, err
	}

	record.Status = invite.StatusCancelled
	return redactInvite(recordToInvite(record)), nil
}

// InvitePage describes a page of invites.
type InvitePage struct {
	Invites       []invite.Invite
	NextPageToken string
}

// defaultPageSize caps list pages when the caller does not specify one.
const defaultPageSize = 50

// ListInvitesForGroup returns a page of a group's invites, optionally
// filtered by status.
func (e *Engine) ListInvitesForGroup(ctx context.Context, groupID string, status invite.Status, pageSize int, pageToken string) (InvitePage, error) {
	if groupID == "" {
		return InvitePage{}, invite.ErrEmptyGroupID
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()
	page, err := e.store.ListInvitesByGroup(storeCtx, groupID, status, pageSize, pageToken)
	if err != nil {
		return InvitePage{}, wrapStoreError("list group invites", err)
	}
	return toInvitePage(page), nil
}

// ListInvitesByInviter returns a page of invites issued by a user.
func (e *Engine) ListInvitesByInviter(ctx context.Context, inviterID string, pageSize int, pageToken string) (InvitePage, error) {
	if inviterID == "" {
		return InvitePage{}, ErrEmptyUserID
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()
	page, err := e.store.ListInvitesByInviter(storeCtx, inviterID, pageSize, pageToken)
	if err != nil {
		return InvitePage{}, wrapStoreError("list inviter invites", err)
	}
	return toInvitePage(page), nil
}

// SweepExpired transitions pending invites past their expiry to expired and
// returns how many it moved. The sweep is a maintenance convenience; expiry
// is already enforced lazily on verify and accept.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	swept := 0
	for {
		listCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
		records, err := e.store.ListExpiredPendingInvites(listCtx, e.now().UTC(), sweepPageSize)
		cancel()
		if err != nil {
			return swept, wrapStoreError("list expired invites", err)
		}
		if len(records) == 0 {
			return swept, nil
		}

		progressed := false
		for _, record := range records {
			err := e.updateStatus(ctx, record.ID, invite.StatusPending, invite.StatusExpired, storage.StatusUpdate{})
			if err == nil {
				swept++
				progressed = true
				continue
			}
			if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
				// Another caller got there first.
				progressed = true
				continue
			}
			return swept, err
		}
		if !progressed {
			return swept, nil
		}
	}
}

func (e *Engine) insertInvite(ctx context.Context, record storage.InviteRecord) error {
	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()
	err := e.store.InsertInvite(storeCtx, record)
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return wrapStoreError("insert invite", err)
	}
	return err
}

func (e *Engine) getInvite(ctx context.Context, inviteID string) (storage.InviteRecord, error) {
	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()
	record, err := e.store.GetInvite(storeCtx, inviteID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.InviteRecord{}, wrapStoreError("get invite", err)
	}
	return record, err
}

func (e *Engine) getByFingerprint(ctx context.Context, fingerprint string) (storage.InviteRecord, error) {
	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()
	record, err := e.store.GetInviteByFingerprint(storeCtx, fingerprint)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.InviteRecord{}, wrapStoreError("get invite by fingerprint", err)
	}
	return record, err
}

func (e *Engine) getPendingByEmailAndGroup(ctx context.Context, email, groupID string) (storage.InviteRecord, error) {
	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()
	record, err := e.store.GetPendingInviteByEmailAndGroup(storeCtx, email, groupID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.InviteRecord{}, wrapStoreError("get pending invite", err)
	}
	return record, err
}

func (e *Engine) updateStatus(ctx context.Context, inviteID string, expected, next invite.Status, update storage.StatusUpdate) error {
	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()
	err := e.store.UpdateInviteStatus(storeCtx, inviteID, expected, next, update)
	if err != nil && !errors.Is(err, storage.ErrConflict) && !errors.Is(err, storage.ErrNotFound) {
		return wrapStoreError("update invite status", err)
	}
	return err
}

// wrapStoreError shields callers from store internals: anything that is not a
// well-known outcome surfaces as a dependency failure.
func wrapStoreError(operation string, err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeDependencyFailure, operation, err)
}

func inviteToRecord(inv invite.Invite) storage.InviteRecord {
	return storage.InviteRecord{
		ID:               inv.ID,
		Email:            inv.Email,
		InvitedBy:        inv.InvitedBy,
		GroupID:          inv.GroupID,
		ExpenseID:        inv.ExpenseID,
		TokenFingerprint: inv.TokenFingerprint,
		Status:           inv.Status,
		CreatedAt:        inv.CreatedAt,
		ExpiresAt:        inv.ExpiresAt,
		AcceptedAt:       inv.AcceptedAt,
		AcceptedBy:       inv.AcceptedBy,
	}
}

func recordToInvite(record storage.InviteRecord) invite.Invite {
	return invite.Invite{
		ID:               record.ID,
		Email:            record.Email,
		InvitedBy:        record.InvitedBy,
		GroupID:          record.GroupID,
		ExpenseID:        record.ExpenseID,
		TokenFingerprint: record.TokenFingerprint,
		Status:           record.Status,
		CreatedAt:        record.CreatedAt,
		ExpiresAt:        record.ExpiresAt,
		AcceptedAt:       record.AcceptedAt,
		AcceptedBy:       record.AcceptedBy,
	}
}

func toInvitePage(page storage.InvitePage) InvitePage {
	result := InvitePage{NextPageToken: page.NextPageToken}
	result.Invites = make([]invite.Invite, 0, len(page.Invites))
	for _, record := range page.Invites {
		result.Invites = append(result.Invites, redactInvite(recordToInvite(record)))
	}
	return result
}

// redactInvite strips the stored fingerprint before an invite leaves the
// engine. Callers see public metadata only.
func redactInvite(inv invite.Invite) invite.Invite {
	inv.TokenFingerprint = ""
	return inv
}
