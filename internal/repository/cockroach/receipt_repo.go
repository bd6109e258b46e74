package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaychat-backend/internal/domain"
)

// ReceiptRepository handles per-user read receipts and unread counters
type ReceiptRepository struct {
	pool *pgxpool.Pool
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

// Get retrieves the receipt for one user in one conversation
func (r *ReceiptRepository) Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ReadReceipt, error) {
	query := `
		SELECT conversation_id, user_id, last_read_message_id, last_read_at, unread_count, updated_at
		FROM read_receipts
		WHERE conversation_id = $1 AND user_id = $2
	`

	receipt := &domain.ReadReceipt{}
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(
		&receipt.ConversationID,
		&receipt.UserID,
		&receipt.LastReadMessageID,
		&receipt.LastReadAt,
		&receipt.UnreadCount,
		&receipt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	return receipt, nil
}

// MarkAsRead records the read position and zeroes the unread counter
func (r *ReceiptRepository) MarkAsRead(ctx context.Context, conversationID, userID uuid.UUID, lastReadMessageID *uuid.UUID, readAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO read_receipts (
			conversation_id, user_id, last_read_message_id, last_read_at, unread_count, updated_at
		) VALUES ($1, $2, $3, $4, 0, now())
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			last_read_message_id = excluded.last_read_message_id,
			last_read_at = excluded.last_read_at,
			unread_count = 0,
			updated_at = now()
	`, conversationID, userID, lastReadMessageID, readAt)
	if err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}
	return nil
}

// IncrementExceptSender bumps the unread counter of every participant except
// the sender, creating receipt rows lazily for participants who have none yet.
func (r *ReceiptRepository) IncrementExceptSender(ctx context.Context, conversationID, senderID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO read_receipts (
			conversation_id, user_id, last_read_message_id, last_read_at, unread_count, updated_at
		)
		SELECT cp.conversation_id, cp.user_id, NULL, cp.joined_at, 1, now()
		FROM conversation_participants cp
		WHERE cp.conversation_id = $1 AND cp.user_id != $2
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			unread_count = read_receipts.unread_count + 1,
			updated_at = now()
	`, conversationID, senderID)
	if err != nil {
		return fmt.Errorf("failed to increment unread counts: %w", err)
	}
	return nil
}

// SetUnreadCount overwrites the cached counter after a recompute
func (r *ReceiptRepository) SetUnreadCount(ctx context.Context, conversationID, userID uuid.UUID, count int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO read_receipts (
			conversation_id, user_id, last_read_message_id, last_read_at, unread_count, updated_at
		) VALUES ($1, $2, NULL, now(), $3, now())
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			unread_count = $3,
			updated_at = now()
	`, conversationID, userID, count)
	if err != nil {
		return fmt.Errorf("failed to set unread count: %w", err)
	}
	return nil
}

// ListByConversation retrieves every receipt in a conversation
func (r *ReceiptRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*domain.ReadReceipt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, user_id, last_read_message_id, last_read_at, unread_count, updated_at
		FROM read_receipts
		WHERE conversation_id = $1
		ORDER BY updated_at DESC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*domain.ReadReceipt
	for rows.Next() {
		receipt := &domain.ReadReceipt{}
		err := rows.Scan(
			&receipt.ConversationID,
			&receipt.UserID,
			&receipt.LastReadMessageID,
			&receipt.LastReadAt,
			&receipt.UnreadCount,
			&receipt.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}

	return receipts, rows.Err()
}

// Delete removes one user's receipt, used when a participant leaves
func (r *ReceiptRepository) Delete(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM read_receipts
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete receipt: %w", err)
	}
	return nil
}
