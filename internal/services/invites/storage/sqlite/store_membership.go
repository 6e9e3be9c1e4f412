package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AddGroupMember records a user as a member of a group. Adding an existing
// member is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(groupID) == "" {
		return fmt.Errorf("group id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO group_members (group_id, user_id, added_at)
VALUES (?, ?, ?)`, groupID, userID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// AddExpenseParticipant records a user as a participant of an expense.
// Adding an existing participant is a no-op.
func (s *Store) AddExpenseParticipant(ctx context.Context, expenseID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(expenseID) == "" {
		return fmt.Errorf("expense id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO expense_participants (expense_id, user_id, added_at)
VALUES (?, ?, ?)`, expenseID, userID, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("add expense participant: %w", err)
	}
	return nil
}

// ListGroupMembers returns the user IDs of a group's members, oldest first.
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("group id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT user_id FROM group_members WHERE group_id = ? ORDER BY added_at, user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}
