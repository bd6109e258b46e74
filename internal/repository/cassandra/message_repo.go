package cassandra

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"relaychat-backend/internal/domain"
)

// ErrNotFound is returned when a message does not exist
var ErrNotFound = errors.New("message not found")

// Cursor identifies a position in a conversation's timeline for paging
type Cursor struct {
	CreatedAt time.Time
	MessageID uuid.UUID
}

// MessageRepository handles message storage in Cassandra.
// Messages cluster by (created_at DESC, message_id DESC) within a
// conversation partition, so reads come back newest first.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message into Cassandra
func (r *MessageRepository) Save(message *domain.Message) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}

	attachments, err := json.Marshal(message.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	editHistory, err := json.Marshal(message.EditHistory)
	if err != nil {
		return fmt.Errorf("failed to encode edit history: %w", err)
	}

	query := `
		INSERT INTO messages (
			conversation_id, created_at, message_id, sender_id, content,
			kind, attachments, is_edited, is_deleted, edit_history, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.session.Query(query,
		message.ConversationID,
		message.CreatedAt,
		message.MessageID,
		message.SenderID,
		message.Content,
		message.Kind,
		string(attachments),
		message.IsEdited,
		message.IsDeleted,
		string(editHistory),
		message.UpdatedAt,
	).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

const messageColumns = `conversation_id, created_at, message_id, sender_id, content,
	       kind, attachments, is_edited, is_deleted, edit_history, updated_at`

// scanMessage reads one row into a domain message, decoding the JSON columns
func scanMessage(scan func(dest ...interface{}) error) (*domain.Message, error) {
	message := &domain.Message{}
	var attachments, editHistory string

	err := scan(
		&message.ConversationID,
		&message.CreatedAt,
		&message.MessageID,
		&message.SenderID,
		&message.Content,
		&message.Kind,
		&attachments,
		&message.IsEdited,
		&message.IsDeleted,
		&editHistory,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if attachments != "" && attachments != "null" {
		if err := json.Unmarshal([]byte(attachments), &message.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachments: %w", err)
		}
	}
	if editHistory != "" && editHistory != "null" {
		if err := json.Unmarshal([]byte(editHistory), &message.EditHistory); err != nil {
			return nil, fmt.Errorf("failed to decode edit history: %w", err)
		}
	}

	return message, nil
}

// GetByConversation retrieves a page of messages, newest first. A nil
// cursor starts from the newest message; with a cursor the page holds
// only messages strictly older than (before) or newer than (after) it.
// Soft-deleted rows are skipped, so the iterator keeps reading past
// tombstoned messages until the page fills or the partition ends.
func (r *MessageRepository) GetByConversation(conversationID uuid.UUID, limit int, before, after *Cursor) ([]*domain.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE conversation_id = ?`, messageColumns)
	args := []interface{}{conversationID}

	if before != nil {
		query += ` AND (created_at, message_id) < (?, ?)`
		args = append(args, before.CreatedAt, before.MessageID)
	}
	if after != nil {
		query += ` AND (created_at, message_id) > (?, ?)`
		args = append(args, after.CreatedAt, after.MessageID)
	}

	iter := r.session.Query(query, args...).Iter()
	defer iter.Close()

	var messages []*domain.Message
	for len(messages) < limit {
		message, err := scanMessage(func(dest ...interface{}) error {
			if !iter.Scan(dest...) {
				return gocql.ErrNotFound
			}
			return nil
		})
		if err != nil {
			break
		}
		if message.IsDeleted {
			continue
		}
		messages = append(messages, message)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nil
}

// GetByID retrieves a specific message within its conversation partition
func (r *MessageRepository) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE conversation_id = ? AND message_id = ?
		LIMIT 1 ALLOW FILTERING
	`, messageColumns)

	q := r.session.Query(query, conversationID, messageID)
	message, err := scanMessage(q.Scan)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return message, nil
}

// UpdateContent rewrites a message's content after an edit. The full
// primary key is required, so the caller passes the original created_at.
func (r *MessageRepository) UpdateContent(message *domain.Message) error {
	editHistory, err := json.Marshal(message.EditHistory)
	if err != nil {
		return fmt.Errorf("failed to encode edit history: %w", err)
	}

	query := `
		UPDATE messages
		SET content = ?, is_edited = ?, edit_history = ?, updated_at = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
	`

	err = r.session.Query(query,
		message.Content,
		message.IsEdited,
		string(editHistory),
		message.UpdatedAt,
		message.ConversationID,
		message.CreatedAt,
		message.MessageID,
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	return nil
}

// MarkDeleted tombstones a message in place, keeping the row for
// history. The original content is overwritten so it is gone from
// storage, not just hidden at render time.
func (r *MessageRepository) MarkDeleted(message *domain.Message) error {
	query := `
		UPDATE messages
		SET is_deleted = ?, content = ?, attachments = ?, updated_at = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
	`

	err := r.session.Query(query,
		true,
		domain.DeletedMessageTombstone,
		"null",
		message.UpdatedAt,
		message.ConversationID,
		message.CreatedAt,
		message.MessageID,
	).Exec()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	return nil
}

// CountUnread counts messages newer than the given time that were not
// sent by the user, skipping deleted ones. A nil since counts the whole
// partition. Expensive, used only as a fallback when no cached counter
// exists.
func (r *MessageRepository) CountUnread(conversationID uuid.UUID, since *time.Time, excludeSender uuid.UUID) (int, error) {
	query := `SELECT sender_id, is_deleted FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}

	if since != nil {
		query += ` AND created_at > ?`
		args = append(args, *since)
	}

	iter := r.session.Query(query, args...).Iter()
	defer iter.Close()

	count := 0
	var senderID uuid.UUID
	var isDeleted bool
	for iter.Scan(&senderID, &isDeleted) {
		if senderID != excludeSender && !isDeleted {
			count++
		}
	}

	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return count, nil
}
