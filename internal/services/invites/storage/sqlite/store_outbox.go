package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tabsplit/tabsplit/internal/services/invites/storage"
)

// EnqueueInviteEmail queues a rendered invite email for delivery.
func (s *Store) EnqueueInviteEmail(ctx context.Context, record storage.OutboxRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("outbox id is required")
	}
	if strings.TrimSpace(record.InviteID) == "" {
		return fmt.Errorf("invite id is required")
	}
	if strings.TrimSpace(record.Email) == "" {
		return fmt.Errorf("email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO invite_email_outbox (id, invite_id, email, subject, body, attempts, created_at, updated_at, delivered_at, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.InviteID,
		record.Email,
		record.Subject,
		record.Body,
		record.Attempts,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
		toNullMillis(record.DeliveredAt),
		record.LastError,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("enqueue invite email: %w", err)
	}
	return nil
}

// ListUndeliveredEmails returns queued emails oldest first.
func (s *Store) ListUndeliveredEmails(ctx context.Context, limit int) ([]storage.OutboxRecord, error) {
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
SELECT id, invite_id, email, subject, body, attempts, created_at, updated_at, delivered_at, last_error
FROM invite_email_outbox
WHERE delivered_at IS NULL
ORDER BY created_at, id
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undelivered emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.OutboxRecord
	for rows.Next() {
		var record storage.OutboxRecord
		var createdAt, updatedAt int64
		var deliveredAt sql.NullInt64
		err := rows.Scan(
			&record.ID,
			&record.InviteID,
			&record.Email,
			&record.Subject,
			&record.Body,
			&record.Attempts,
			&createdAt,
			&updatedAt,
			&deliveredAt,
			&record.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		record.UpdatedAt = fromMillis(updatedAt)
		record.DeliveredAt = fromNullMillis(deliveredAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox records: %w", err)
	}
	return records, nil
}

// MarkEmailDelivered stamps a queued email as sent.
func (s *Store) MarkEmailDelivered(ctx context.Context, outboxID string, deliveredAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(outboxID) == "" {
		return fmt.Errorf("outbox id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE invite_email_outbox
SET delivered_at = ?, updated_at = ?, attempts = attempts + 1, last_error = ''
WHERE id = ? AND delivered_at IS NULL`,
		toMillis(deliveredAt), toMillis(deliveredAt), outboxID)
	if err != nil {
		return fmt.Errorf("mark email delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark email delivered rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkEmailFailed records a failed delivery attempt and its error.
func (s *Store) MarkEmailFailed(ctx context.Context, outboxID string, lastError string, failedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(outboxID) == "" {
		return fmt.Errorf("outbox id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE invite_email_outbox
SET attempts = attempts + 1, last_error = ?, updated_at = ?
WHERE id = ? AND delivered_at IS NULL`,
		lastError, toMillis(failedAt), outboxID)
	if err != nil {
		return fmt.Errorf("mark email failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark email failed rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
