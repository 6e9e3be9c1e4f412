package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
	"github.com/tabsplit/tabsplit/internal/services/invites/storage"
)

const inviteColumns = "id, email, invited_by, group_id, expense_id, token_fingerprint, status, created_at, expires_at, accepted_at, accepted_by"

// InsertInvite persists a new invite record.
func (s *Store) InsertInvite(ctx context.Context, record storage.InviteRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("invite id is required")
	}
	if strings.TrimSpace(record.Email) == "" {
		return fmt.Errorf("invite email is required")
	}
	if strings.TrimSpace(record.GroupID) == "" {
		return fmt.Errorf("group id is required")
	}
	if strings.TrimSpace(record.TokenFingerprint) == "" {
		return fmt.Errorf("token fingerprint is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO invites (`+inviteColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Email,
		record.InvitedBy,
		record.GroupID,
		record.ExpenseID,
		record.TokenFingerprint,
		inviteStatusToString(record.Status),
		toMillis(record.CreatedAt),
		toMillis(record.ExpiresAt),
		toNullMillis(record.AcceptedAt),
		record.AcceptedBy,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

// GetInvite fetches an invite record by ID.
func (s *Store) GetInvite(ctx context.Context, inviteID string) (storage.InviteRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.InviteRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.InviteRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(inviteID) == "" {
		return storage.InviteRecord{}, fmt.Errorf("invite id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+inviteColumns+` FROM invites WHERE id = ?`, inviteID)
	return scanInvite(row)
}

// GetInviteByFingerprint fetches an invite record by token fingerprint.
func (s *Store) GetInviteByFingerprint(ctx context.Context, fingerprint string) (storage.InviteRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.InviteRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.InviteRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(fingerprint) == "" {
		return storage.InviteRecord{}, fmt.Errorf("token fingerprint is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+inviteColumns+` FROM invites WHERE token_fingerprint = ?`, fingerprint)
	return scanInvite(row)
}

// GetPendingInviteByEmailAndGroup fetches the at-most-one pending invite for
// a normalized email and group pair.
func (s *Store) GetPendingInviteByEmailAndGroup(ctx context.Context, email, groupID string) (storage.InviteRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.InviteRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.InviteRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return storage.InviteRecord{}, fmt.Errorf("email is required")
	}
	if strings.TrimSpace(groupID) == "" {
		return storage.InviteRecord{}, fmt.Errorf("group id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+inviteColumns+` FROM invites
WHERE email = ? AND group_id = ? AND status = 'pending'`, email, groupID)
	return scanInvite(row)
}

// UpdateInviteStatus transitions an invite from expected to next status via
// compare-and-swap. A lost race fails with ErrConflict and leaves the stored
// record untouched.
func (s *Store) UpdateInviteStatus(ctx context.Context, inviteID string, expected, next invite.Status, update storage.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(inviteID) == "" {
		return fmt.Errorf("invite id is required")
	}
	if !expected.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s", invite.StatusLabel(expected), invite.StatusLabel(next))
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE invites SET status = ?, accepted_at = ?, accepted_by = ?
WHERE id = ? AND status = ?`,
		inviteStatusToString(next),
		toNullMillis(update.AcceptedAt),
		update.AcceptedBy,
		inviteID,
		inviteStatusToString(expected),
	)
	if err != nil {
		return fmt.Errorf("update invite status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invite status rows: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost CAS from a missing record.
		if _, getErr := s.GetInvite(ctx, inviteID); getErr != nil {
			return getErr
		}
		return storage.ErrConflict
	}
	return nil
}

// ListInvitesByGroup returns a page of invite records for a group.
func (s *Store) ListInvitesByGroup(ctx context.Context, groupID string, status invite.Status, pageSize int, pageToken string) (storage.InvitePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.InvitePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.InvitePage{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(groupID) == "" {
		return storage.InvitePage{}, fmt.Errorf("group id is required")
	}
	if pageSize <= 0 {
		return storage.InvitePage{}, fmt.Errorf("page size must be greater than zero")
	}

	statusFilter := ""
	if status != invite.StatusUnspecified {
		statusFilter = inviteStatusToString(status)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+inviteColumns+` FROM invites
WHERE group_id = ?
  AND (? = '' OR status = ?)
  AND (? = '' OR id > ?)
ORDER BY id
LIMIT ?`,
		groupID,
		statusFilter, statusFilter,
		pageToken, pageToken,
		pageSize+1,
	)
	if err != nil {
		return storage.InvitePage{}, fmt.Errorf("list invites by group: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectInvitePage(rows, pageSize)
}

// ListInvitesByInviter returns a page of invite records issued by a user.
func (s *Store) ListInvitesByInviter(ctx context.Context, inviterID string, pageSize int, pageToken string) (storage.InvitePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.InvitePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.InvitePage{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(inviterID) == "" {
		return storage.InvitePage{}, fmt.Errorf("inviter id is required")
	}
	if pageSize <= 0 {
		return storage.InvitePage{}, fmt.Errorf("page size must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+inviteColumns+` FROM invites
WHERE invited_by = ?
  AND (? = '' OR id > ?)
ORDER BY id
LIMIT ?`,
		inviterID,
		pageToken, pageToken,
		pageSize+1,
	)
	if err != nil {
		return storage.InvitePage{}, fmt.Errorf("list invites by inviter: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectInvitePage(rows, pageSize)
}

// ListExpiredPendingInvites returns pending invites whose expiry passed
// before the given time.
func (s *Store) ListExpiredPendingInvites(ctx context.Context, before time.Time, limit int) ([]storage.InviteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+inviteColumns+` FROM invites
WHERE status = 'pending' AND expires_at < ?
ORDER BY expires_at
LIMIT ?`, toMillis(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending invites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.InviteRecord
	for rows.Next() {
		record, err := scanInviteRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired pending invites: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvite(row *sql.Row) (storage.InviteRecord, error) {
	record, err := scanInviteRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.InviteRecord{}, storage.ErrNotFound
		}
		return storage.InviteRecord{}, err
	}
	return record, nil
}

func scanInviteRow(scanner rowScanner) (storage.InviteRecord, error) {
	var record storage.InviteRecord
	var statusValue string
	var createdAt, expiresAt int64
	var acceptedAt sql.NullInt64

	err := scanner.Scan(
		&record.ID,
		&record.Email,
		&record.InvitedBy,
		&record.GroupID,
		&record.ExpenseID,
		&record.TokenFingerprint,
		&statusValue,
		&createdAt,
		&expiresAt,
		&acceptedAt,
		&record.AcceptedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.InviteRecord{}, err
		}
		return storage.InviteRecord{}, fmt.Errorf("scan invite: %w", err)
	}

	status, err := inviteStatusFromString(statusValue)
	if err != nil {
		return storage.InviteRecord{}, err
	}
	record.Status = status
	record.CreatedAt = fromMillis(createdAt)
	record.ExpiresAt = fromMillis(expiresAt)
	record.AcceptedAt = fromNullMillis(acceptedAt)
	return record, nil
}

func collectInvitePage(rows *sql.Rows, pageSize int) (storage.InvitePage, error) {
	page := storage.InvitePage{Invites: make([]storage.InviteRecord, 0, pageSize)}
	count := 0
	for rows.Next() {
		if count >= pageSize {
			page.NextPageToken = page.Invites[pageSize-1].ID
			break
		}
		record, err := scanInviteRow(rows)
		if err != nil {
			return storage.InvitePage{}, err
		}
		page.Invites = append(page.Invites, record)
		count++
	}
	if err := rows.Err(); err != nil {
		return storage.InvitePage{}, fmt.Errorf("iterate invites: %w", err)
	}
	return page, nil
}
