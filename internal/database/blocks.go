// internal/database/blocks.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/memora/internal/models"
)

// BlockRepository stores block records. Logs are appended with jsonb ||.
type BlockRepository struct {
	db DB
}

func NewBlockRepository(db DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// RecordBlock creates or refreshes an active block and appends the activities.
// A "block" history event is added only when the user was not already blocked.
func (r *BlockRepository) RecordBlock(ctx context.Context, userID uuid.UUID, reason string, activities []models.SuspiciousActivity, at time.Time) error {
	acts, err := json.Marshal(activities)
	if err != nil {
		return fmt.Errorf("marshal activities: %w", err)
	}
	event, err := json.Marshal([]models.BlockEvent{{Action: "block", Reason: reason, At: at}})
	if err != nil {
		return fmt.Errorf("marshal block event: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO blocked_users (user_id, is_active, reason, blocked_at, suspicious_activity_count,
			suspicious_activities, block_history)
		VALUES ($1, true, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			is_active = true,
			reason = EXCLUDED.reason,
			blocked_at = CASE WHEN blocked_users.is_active THEN blocked_users.blocked_at ELSE EXCLUDED.blocked_at END,
			suspicious_activity_count = blocked_users.suspicious_activity_count + EXCLUDED.suspicious_activity_count,
			suspicious_activities = blocked_users.suspicious_activities || EXCLUDED.suspicious_activities,
			block_history = CASE WHEN blocked_users.is_active THEN blocked_users.block_history
				ELSE blocked_users.block_history || EXCLUDED.block_history END`,
		userID.String(), reason, at, len(activities), acts, event,
	)
	if err != nil {
		return fmt.Errorf("record block %s: %w", userID, err)
	}
	return nil
}

// Unblock deactivates the block and appends an "unblock" history event.
func (r *BlockRepository) Unblock(ctx context.Context, userID uuid.UUID, operator, reason string, at time.Time) error {
	event, err := json.Marshal([]models.BlockEvent{{Action: "unblock", Reason: reason, Operator: operator, At: at}})
	if err != nil {
		return fmt.Errorf("marshal unblock event: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE blocked_users SET
			is_active = false,
			unblocked_at = $2,
			unblocked_by = $3,
			unblock_reason = $4,
			block_history = block_history || $5
		WHERE user_id = $1 AND is_active`,
		userID.String(), at, operator, reason, event,
	)
	if err != nil {
		return fmt.Errorf("unblock %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("active block for %s: %w", userID, ErrNotFound)
	}
	return nil
}

// IsBlocked reports whether userID has an active block.
func (r *BlockRepository) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, `SELECT is_active FROM blocked_users WHERE user_id = $1`, userID.String()).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup block %s: %w", userID, err)
	}
	return active, nil
}

// Get returns the full block record of userID.
func (r *BlockRepository) Get(ctx context.Context, userID uuid.UUID) (models.BlockedUser, error) {
	var (
		b             models.BlockedUser
		acts, history []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT is_active, reason, blocked_at, suspicious_activity_count, suspicious_activities,
			block_history, unblocked_at, unblocked_by, unblock_reason
		FROM blocked_users WHERE user_id = $1`, userID.String()).
		Scan(&b.IsActive, &b.Reason, &b.BlockedAt, &b.SuspiciousActivityCount, &acts, &history,
			&b.UnblockedAt, &b.UnblockedBy, &b.UnblockReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, fmt.Errorf("get block %s: %w", userID, err)
	}
	b.UserID = userID
	if err := json.Unmarshal(acts, &b.SuspiciousActivities); err != nil {
		return b, fmt.Errorf("decode activities: %w", err)
	}
	if err := json.Unmarshal(history, &b.BlockHistory); err != nil {
		return b, fmt.Errorf("decode block history: %w", err)
	}
	return b, nil
}
