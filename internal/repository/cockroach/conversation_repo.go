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

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ConversationRepository handles conversation and participant storage
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a conversation and its initial roster in one transaction
func (r *ConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO conversations (
			conversation_id, kind, name, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = tx.Exec(ctx, query,
		conversation.ConversationID,
		conversation.Kind,
		conversation.Name,
		conversation.CreatedBy,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, p := range conversation.Participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (
				conversation_id, user_id, role, joined_at
			) VALUES ($1, $2, $3, $4)
		`, conversation.ConversationID, p.UserID, p.Role, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}

	return nil
}

// GetByID retrieves a conversation with its full roster
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, kind, name, created_by,
		       last_message_content, last_message_sender_id, last_message_at,
		       created_at, updated_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conversation := &domain.Conversation{}
	var previewContent *string
	var previewSender *uuid.UUID
	var previewAt *time.Time

	err := r.pool.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ConversationID,
		&conversation.Kind,
		&conversation.Name,
		&conversation.CreatedBy,
		&previewContent,
		&previewSender,
		&previewAt,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if previewContent != nil && previewSender != nil && previewAt != nil {
		conversation.LastMessage = &domain.LastMessagePreview{
			Content:   *previewContent,
			SenderID:  *previewSender,
			Timestamp: *previewAt,
		}
	}

	participants, err := r.getParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conversation.Participants = participants

	return conversation, nil
}

// getParticipants loads the roster ordered by join time
func (r *ConversationRepository) getParticipants(ctx context.Context, conversationID uuid.UUID) ([]domain.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, role, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

// sortColumns whitelists user-facing sort fields against their columns
var sortColumns = map[string]string{
	"updatedAt": "c.updated_at",
	"createdAt": "c.created_at",
	"name":      "c.name",
}

// ListForUser retrieves a page of the user's conversations plus the total count
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int, sortBy, sortOrder string) ([]*domain.Conversation, int64, error) {
	column, ok := sortColumns[sortBy]
	if !ok {
		column = "c.updated_at"
	}
	order := "DESC"
	if sortOrder == "asc" {
		order = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT c.conversation_id, c.kind, c.name, c.created_by,
		       c.last_message_content, c.last_message_sender_id, c.last_message_at,
		       c.created_at, c.updated_at
		FROM conversations c
		INNER JOIN conversation_participants cp ON c.conversation_id = cp.conversation_id
		WHERE cp.user_id = $1
		ORDER BY %s %s
		LIMIT $2 OFFSET $3
	`, column, order)

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		conversation := &domain.Conversation{}
		var previewContent *string
		var previewSender *uuid.UUID
		var previewAt *time.Time

		err := rows.Scan(
			&conversation.ConversationID,
			&conversation.Kind,
			&conversation.Name,
			&conversation.CreatedBy,
			&previewContent,
			&previewSender,
			&previewAt,
			&conversation.CreatedAt,
			&conversation.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan conversation: %w", err)
		}

		if previewContent != nil && previewSender != nil && previewAt != nil {
			conversation.LastMessage = &domain.LastMessagePreview{
				Content:   *previewContent,
				SenderID:  *previewSender,
				Timestamp: *previewAt,
			}
		}

		conversations = append(conversations, conversation)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read conversations: %w", err)
	}

	for _, c := range conversations {
		participants, err := r.getParticipants(ctx, c.ConversationID)
		if err != nil {
			return nil, 0, err
		}
		c.Participants = participants
	}

	var total int64
	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversation_participants WHERE user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	return conversations, total, nil
}

// FindDirect looks up the direct conversation holding exactly this user pair
func (r *ConversationRepository) FindDirect(ctx context.Context, userID1, userID2 uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT c.conversation_id
		FROM conversations c
		INNER JOIN conversation_participants cp ON c.conversation_id = cp.conversation_id
		WHERE c.kind = 'direct' AND cp.user_id IN ($1, $2)
		GROUP BY c.conversation_id
		HAVING COUNT(DISTINCT cp.user_id) = 2
		LIMIT 1
	`

	var conversationID uuid.UUID
	err := r.pool.QueryRow(ctx, query, userID1, userID2).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find direct conversation: %w", err)
	}

	return r.GetByID(ctx, conversationID)
}

// UpdateName renames a conversation and bumps updated_at
func (r *ConversationRepository) UpdateName(ctx context.Context, conversationID uuid.UUID, name string) error {
	cmdTag, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET name = $2, updated_at = now()
		WHERE conversation_id = $1
	`, conversationID, name)
	if err != nil {
		return fmt.Errorf("failed to rename conversation: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastMessage stores the truncated last-message preview and bumps updated_at
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, preview *domain.LastMessagePreview) error {
	cmdTag, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_content = $2,
		    last_message_sender_id = $3,
		    last_message_at = $4,
		    updated_at = now()
		WHERE conversation_id = $1
	`, conversationID, preview.Content, preview.SenderID, preview.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to update last message: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddParticipant appends a user to the roster
func (r *ConversationRepository) AddParticipant(ctx context.Context, conversationID, userID uuid.UUID, role string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_participants (
			conversation_id, user_id, role, joined_at
		) VALUES ($1, $2, $3, $4)
	`, conversationID, userID, role, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE conversations SET updated_at = now() WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return nil
}

// RemoveParticipant drops a user from the roster
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateParticipantRole changes a roster entry's role (used for admin promotion)
func (r *ConversationRepository) UpdateParticipantRole(ctx context.Context, conversationID, userID uuid.UUID, role string) error {
	cmdTag, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET role = $3
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update participant role: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a conversation, its roster, and its read receipts
func (r *ConversationRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM read_receipts WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete receipts: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}

// IsParticipant checks roster membership without loading the conversation
func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}
