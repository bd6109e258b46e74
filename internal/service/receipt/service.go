package receipt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/events"
	"relaychat-backend/internal/repository/cassandra"
	"relaychat-backend/internal/repository/cockroach"
	apperrors "relaychat-backend/pkg/errors"
	"relaychat-backend/pkg/logger"
)

// ReceiptRepository is the storage surface the service needs
type ReceiptRepository interface {
	Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ReadReceipt, error)
	MarkAsRead(ctx context.Context, conversationID, userID uuid.UUID, lastReadMessageID *uuid.UUID, readAt time.Time) error
	IncrementExceptSender(ctx context.Context, conversationID, senderID uuid.UUID) error
	SetUnreadCount(ctx context.Context, conversationID, userID uuid.UUID, count int) error
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]*domain.ReadReceipt, error)
}

// MessageStore resolves read positions and recomputes counters
type MessageStore interface {
	GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error)
	CountUnread(conversationID uuid.UUID, since *time.Time, excludeSender uuid.UUID) (int, error)
}

// Publisher fans read events out to connected clients
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// AccessChecker gates conversation-scoped operations
type AccessChecker interface {
	CheckAccess(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) bool
}

// Service tracks per-user read positions and unread counters. The
// cached counter is the source of truth; a full recount against
// message history runs only when no receipt row exists yet.
type Service struct {
	receiptRepo ReceiptRepository
	messages    MessageStore
	publisher   Publisher
	access      AccessChecker
}

// NewService creates a new receipt service
func NewService(
	receiptRepo ReceiptRepository,
	messages MessageStore,
	publisher Publisher,
	access AccessChecker,
) *Service {
	return &Service{
		receiptRepo: receiptRepo,
		messages:    messages,
		publisher:   publisher,
		access:      access,
	}
}

// MarkAsReadInput identifies the read position being recorded
type MarkAsReadInput struct {
	ConversationID    uuid.UUID
	UserID            uuid.UUID
	LastReadMessageID *uuid.UUID
}

// MarkAsRead records the user's read position, zeroes their unread
// counter, and fans a read event out to the conversation
func (s *Service) MarkAsRead(ctx context.Context, input *MarkAsReadInput) (*domain.ReadReceipt, error) {
	if _, err := s.access.CheckAccess(ctx, input.ConversationID, input.UserID); err != nil {
		return nil, err
	}

	readAt := time.Now()
	if input.LastReadMessageID != nil {
		message, err := s.messages.GetByID(input.ConversationID, *input.LastReadMessageID)
		if err != nil {
			if errors.Is(err, cassandra.ErrNotFound) {
				return nil, apperrors.MessageNotFoundError()
			}
			return nil, apperrors.DatabaseError(err)
		}
		readAt = message.CreatedAt
	}

	if err := s.receiptRepo.MarkAsRead(ctx, input.ConversationID, input.UserID, input.LastReadMessageID, readAt); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	receipt := &domain.ReadReceipt{
		ConversationID:    input.ConversationID,
		UserID:            input.UserID,
		LastReadMessageID: input.LastReadMessageID,
		LastReadAt:        readAt,
		UnreadCount:       0,
		UpdatedAt:         time.Now(),
	}

	payload := map[string]interface{}{
		"conversation_id": input.ConversationID,
		"user_id":         input.UserID,
		"read_at":         readAt,
	}
	if input.LastReadMessageID != nil {
		payload["last_read_message_id"] = *input.LastReadMessageID
	}
	if err := s.publisher.Publish(ctx, events.ConversationChannel(input.ConversationID), events.Event{Type: events.MessageRead, Payload: payload}); err != nil {
		logger.Warn("failed to publish read event",
			zap.String("conversation_id", input.ConversationID.String()),
			zap.Error(err),
		)
	}

	return receipt, nil
}

// GetUnreadCount returns the user's unread counter for one conversation
func (s *Service) GetUnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	if _, err := s.access.CheckAccess(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.unreadCount(ctx, conversationID, userID)
}

// unreadCount reads the cached counter, recounting from history only
// when the user has no receipt yet
func (s *Service) unreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	receipt, err := s.receiptRepo.Get(ctx, conversationID, userID)
	if err == nil {
		return receipt.UnreadCount, nil
	}
	if !errors.Is(err, cockroach.ErrNotFound) {
		return 0, apperrors.DatabaseError(err)
	}

	count, err := s.messages.CountUnread(conversationID, nil, userID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}

	if err := s.receiptRepo.SetUnreadCount(ctx, conversationID, userID, count); err != nil {
		logger.Warn("failed to cache recomputed unread count",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}

	return count, nil
}

// GetUnreadCounts resolves unread counters for a batch of
// conversations. Conversations the user is not a member of are
// silently skipped.
func (s *Service) GetUnreadCounts(ctx context.Context, userID uuid.UUID, conversationIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(conversationIDs))
	for _, conversationID := range conversationIDs {
		if !s.access.IsMember(ctx, conversationID, userID) {
			continue
		}
		count, err := s.unreadCount(ctx, conversationID, userID)
		if err != nil {
			return nil, err
		}
		counts[conversationID] = count
	}
	return counts, nil
}

// IncrementOnNewMessage bumps unread counters for everyone but the sender
func (s *Service) IncrementOnNewMessage(ctx context.Context, conversationID, senderID uuid.UUID) error {
	return s.receiptRepo.IncrementExceptSender(ctx, conversationID, senderID)
}

// ListForConversation returns every participant's read receipt
func (s *Service) ListForConversation(ctx context.Context, conversationID, userID uuid.UUID) ([]*domain.ReadReceipt, error) {
	if _, err := s.access.CheckAccess(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	receipts, err := s.receiptRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return receipts, nil
}
