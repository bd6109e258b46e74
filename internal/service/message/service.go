package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/events"
	"relaychat-backend/internal/repository/cassandra"
	apperrors "relaychat-backend/pkg/errors"
	"relaychat-backend/pkg/logger"
	"relaychat-backend/pkg/metrics"
)

// MessageRepository is the Cassandra storage surface the service needs
type MessageRepository interface {
	Save(message *domain.Message) error
	GetByConversation(conversationID uuid.UUID, limit int, before, after *cassandra.Cursor) ([]*domain.Message, error)
	GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error)
	UpdateContent(message *domain.Message) error
	MarkDeleted(message *domain.Message) error
}

// ConversationStore updates the conversation's last-message preview
type ConversationStore interface {
	UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, preview *domain.LastMessagePreview) error
}

// ReceiptIncrementer bumps unread counters when a message lands
type ReceiptIncrementer interface {
	IncrementOnNewMessage(ctx context.Context, conversationID, senderID uuid.UUID) error
}

// Publisher fans message events out to connected clients
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// AccessChecker gates conversation-scoped operations
type AccessChecker interface {
	CheckAccess(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
}

// Service handles the message lifecycle: send, list, edit, soft delete
type Service struct {
	messageRepo   MessageRepository
	conversations ConversationStore
	receipts      ReceiptIncrementer
	publisher     Publisher
	access        AccessChecker
	metrics       *metrics.Metrics
}

// NewService creates a new message service
func NewService(
	messageRepo MessageRepository,
	conversations ConversationStore,
	receipts ReceiptIncrementer,
	publisher Publisher,
	access AccessChecker,
	m *metrics.Metrics,
) *Service {
	return &Service{
		messageRepo:   messageRepo,
		conversations: conversations,
		receipts:      receipts,
		publisher:     publisher,
		access:        access,
		metrics:       m,
	}
}

// publish fans an event out without gating the calling operation
func (s *Service) publish(ctx context.Context, channel, eventType string, payload interface{}) {
	if err := s.publisher.Publish(ctx, channel, events.Event{Type: eventType, Payload: payload}); err != nil {
		logger.Warn("failed to publish message event",
			zap.String("event", eventType),
			zap.String("channel", channel),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordMessagePublished("error")
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RecordMessagePublished("success")
	}
}

// validateContent trims and bounds message content
func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", apperrors.EmptyContentError()
	}
	return boundContent(trimmed)
}

// boundContent caps message content at the character limit
func boundContent(content string) (string, error) {
	if utf8.RuneCountInString(content) > domain.MaxMessageLength {
		return "", apperrors.ValidationError("Message content must be at most 5000 characters")
	}
	return content, nil
}

// SendInput contains new message data
type SendInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Content        string
	Kind           string
	Attachments    []domain.Attachment
}

// Send validates, persists, and fans out a new message, then updates
// the conversation preview and unread counters. Preview and counter
// failures are logged but never fail the send once the message is
// durably stored.
func (s *Service) Send(ctx context.Context, input *SendInput) (*domain.MessageResponse, error) {
	conversation, err := s.access.CheckAccess(ctx, input.ConversationID, input.SenderID)
	if err != nil {
		return nil, err
	}

	kind := input.Kind
	if kind == "" {
		kind = domain.MessageText
	}

	// Attachment-only messages carry no caption; text messages and
	// messages without attachments must have content
	var content string
	if kind != domain.MessageText && len(input.Attachments) > 0 {
		content, err = boundContent(strings.TrimSpace(input.Content))
	} else {
		content, err = validateContent(input.Content)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Content:        content,
		Kind:           kind,
		Attachments:    input.Attachments,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if s.metrics != nil {
		s.metrics.RecordMessageCreated(kind)
	}

	if err := s.messageRepo.Save(message); err != nil {
		if s.metrics != nil {
			s.metrics.RecordMessagePersisted("error")
		}
		return nil, apperrors.DatabaseError(err)
	}
	if s.metrics != nil {
		s.metrics.RecordMessagePersisted("success")
	}

	s.updatePreview(ctx, conversation, message)

	if err := s.receipts.IncrementOnNewMessage(ctx, input.ConversationID, input.SenderID); err != nil {
		logger.Warn("failed to increment unread counters",
			zap.String("conversation_id", input.ConversationID.String()),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordReceiptIncrementFailure()
		}
	}

	response := message.Response()
	s.publish(ctx, events.ConversationChannel(input.ConversationID), events.MessageNew, response)

	return response, nil
}

// updatePreview writes the truncated last-message preview and notifies
// every participant's personal channel so conversation lists refresh
// without a room subscription
func (s *Service) updatePreview(ctx context.Context, conversation *domain.Conversation, message *domain.Message) {
	content := message.Content
	if message.IsDeleted {
		content = domain.DeletedMessageTombstone
	}
	if runes := []rune(content); len(runes) > domain.MaxPreviewLength {
		content = string(runes[:domain.MaxPreviewLength])
	}

	preview := &domain.LastMessagePreview{
		Content:   content,
		SenderID:  message.SenderID,
		Timestamp: message.CreatedAt,
	}
	if err := s.conversations.UpdateLastMessage(ctx, message.ConversationID, preview); err != nil {
		logger.Warn("failed to update last message preview",
			zap.String("conversation_id", message.ConversationID.String()),
			zap.Error(err),
		)
		return
	}

	update := map[string]interface{}{
		"conversation_id": message.ConversationID,
		"last_message":    preview,
	}
	for _, participant := range conversation.Participants {
		s.publish(ctx, events.UserChannel(participant.UserID), events.ChatUpdate, update)
	}
}

// ListInput contains history query parameters. Before and After are
// message IDs acting as exclusive cursors.
type ListInput struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	Limit          int
	Before         *uuid.UUID
	After          *uuid.UUID
}

// ListOutput contains one page of history, newest first
type ListOutput struct {
	Messages   []*domain.MessageResponse
	HasMore    bool
	NextCursor *uuid.UUID
}

// List retrieves conversation history with cursor pagination.
// Soft-deleted messages are excluded from pages; they stay in the
// store only for ordering and audit.
func (s *Service) List(ctx context.Context, input *ListInput) (*ListOutput, error) {
	if _, err := s.access.CheckAccess(ctx, input.ConversationID, input.UserID); err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	before, err := s.resolveCursor(input.ConversationID, input.Before)
	if err != nil {
		return nil, err
	}
	after, err := s.resolveCursor(input.ConversationID, input.After)
	if err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.GetByConversation(input.ConversationID, limit, before, after)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	responses := make([]*domain.MessageResponse, 0, len(messages))
	for _, msg := range messages {
		responses = append(responses, msg.Response())
	}

	output := &ListOutput{
		Messages: responses,
		HasMore:  len(messages) == limit,
	}
	if len(messages) > 0 {
		last := messages[len(messages)-1].MessageID
		output.NextCursor = &last
	}

	return output, nil
}

// resolveCursor turns a message ID cursor into its timeline position
func (s *Service) resolveCursor(conversationID uuid.UUID, messageID *uuid.UUID) (*cassandra.Cursor, error) {
	if messageID == nil {
		return nil, nil
	}
	message, err := s.messageRepo.GetByID(conversationID, *messageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return nil, apperrors.InvalidInputError("Unknown cursor message")
		}
		return nil, apperrors.DatabaseError(err)
	}
	return &cassandra.Cursor{CreatedAt: message.CreatedAt, MessageID: message.MessageID}, nil
}

// GetByID retrieves one message the user is allowed to see
func (s *Service) GetByID(ctx context.Context, conversationID, messageID, userID uuid.UUID) (*domain.MessageResponse, error) {
	if _, err := s.access.CheckAccess(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	message, err := s.messageRepo.GetByID(conversationID, messageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return nil, apperrors.MessageNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	return message.Response(), nil
}

// EditInput contains message edit data
type EditInput struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	UserID         uuid.UUID
	Content        string
}

// Edit rewrites a message's content, keeping the prior content in the
// edit history. Only the sender can edit, and deleted messages are
// immutable.
func (s *Service) Edit(ctx context.Context, input *EditInput) (*domain.MessageResponse, error) {
	conversation, err := s.access.CheckAccess(ctx, input.ConversationID, input.UserID)
	if err != nil {
		return nil, err
	}

	message, err := s.messageRepo.GetByID(input.ConversationID, input.MessageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return nil, apperrors.MessageNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	if message.SenderID != input.UserID {
		return nil, apperrors.NotSenderError("edit")
	}
	if message.IsDeleted {
		return nil, apperrors.ConflictError("Cannot edit a deleted message")
	}

	content, err := validateContent(input.Content)
	if err != nil {
		return nil, err
	}

	message.EditHistory = append(message.EditHistory, domain.EditEntry{
		Content:  message.Content,
		EditedAt: time.Now(),
	})
	message.Content = content
	message.IsEdited = true
	message.UpdatedAt = time.Now()

	if err := s.messageRepo.UpdateContent(message); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	// Keep the conversation preview in sync when the newest message changed
	if isLatest(conversation, message) {
		s.updatePreview(ctx, conversation, message)
	}

	response := message.Response()
	s.publish(ctx, events.ConversationChannel(input.ConversationID), events.MessageEdited, response)

	return response, nil
}

// Delete soft-deletes a message. The row stays in history and clients
// see only the tombstone. Only the sender can delete.
func (s *Service) Delete(ctx context.Context, conversationID, messageID, userID uuid.UUID) error {
	conversation, err := s.access.CheckAccess(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	message, err := s.messageRepo.GetByID(conversationID, messageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrNotFound) {
			return apperrors.MessageNotFoundError()
		}
		return apperrors.DatabaseError(err)
	}

	if message.SenderID != userID {
		return apperrors.NotSenderError("delete")
	}
	if message.IsDeleted {
		return nil
	}

	message.IsDeleted = true
	message.Content = domain.DeletedMessageTombstone
	message.Attachments = nil
	message.UpdatedAt = time.Now()

	if err := s.messageRepo.MarkDeleted(message); err != nil {
		return apperrors.DatabaseError(err)
	}

	if isLatest(conversation, message) {
		s.updatePreview(ctx, conversation, message)
	}

	s.publish(ctx, events.ConversationChannel(conversationID), events.MessageDeleted, map[string]interface{}{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"deleted_at":      message.UpdatedAt,
	})

	return nil
}

// isLatest reports whether the message backs the conversation preview
func isLatest(conversation *domain.Conversation, message *domain.Message) bool {
	if conversation.LastMessage == nil {
		return false
	}
	return conversation.LastMessage.SenderID == message.SenderID &&
		conversation.LastMessage.Timestamp.Equal(message.CreatedAt)
}
