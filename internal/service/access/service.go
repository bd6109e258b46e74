package access

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/repository/cockroach"
	apperrors "relaychat-backend/pkg/errors"
)

// ConversationStore is the lookup surface the gate needs
type ConversationStore interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// UserReader resolves the requester's global roles for moderator checks
type UserReader interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Service is the authorization gate every conversation-scoped
// operation passes through before touching data
type Service struct {
	conversations ConversationStore
	users         UserReader
}

// NewService creates a new access service
func NewService(conversations ConversationStore, users UserReader) *Service {
	return &Service{
		conversations: conversations,
		users:         users,
	}
}

// CheckAccess loads a conversation and verifies the user is on its
// roster. Returns the conversation so callers do not load it twice.
func (s *Service) CheckAccess(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.ConversationNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}

	if !conversation.IsParticipant(userID) {
		return nil, apperrors.NotMemberError()
	}

	return conversation, nil
}

// CheckAdmin verifies membership and moderation rights: the user must
// hold the conversation admin role or a global moderator/admin role
func (s *Service) CheckAdmin(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.CheckAccess(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	if conversation.IsAdmin(userID) {
		return conversation, nil
	}

	user, err := s.users.GetByID(ctx, userID)
	if err == nil && user.HasModeratorRole() {
		return conversation, nil
	}

	return nil, apperrors.ForbiddenError("Only admins can perform this action")
}

// CheckCreator verifies membership and that the user created the conversation
func (s *Service) CheckCreator(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.CheckAccess(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	if conversation.CreatedBy != userID {
		return nil, apperrors.ForbiddenError("Only the creator can perform this action")
	}

	return conversation, nil
}

// IsMember answers membership without loading the full conversation.
// Used on hot paths like typing relays where the roster is not needed.
// Lookup failures read as false rather than surfacing an error.
func (s *Service) IsMember(ctx context.Context, conversationID, userID uuid.UUID) bool {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false
	}
	return ok
}
