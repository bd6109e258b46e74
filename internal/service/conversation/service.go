package conversation

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
	"relaychat-backend/internal/repository/cockroach"
	apperrors "relaychat-backend/pkg/errors"
	"relaychat-backend/pkg/logger"
)

// ConversationRepository is the storage surface the service needs
type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int, sortBy, sortOrder string) ([]*domain.Conversation, int64, error)
	FindDirect(ctx context.Context, userID1, userID2 uuid.UUID) (*domain.Conversation, error)
	UpdateName(ctx context.Context, conversationID uuid.UUID, name string) error
	AddParticipant(ctx context.Context, conversationID, userID uuid.UUID, role string) error
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	UpdateParticipantRole(ctx context.Context, conversationID, userID uuid.UUID, role string) error
	Delete(ctx context.Context, conversationID uuid.UUID) error
}

// ReceiptStore cleans up receipts when participants leave
type ReceiptStore interface {
	Delete(ctx context.Context, conversationID, userID uuid.UUID) error
}

// UserDirectory resolves participant identities for validation and hydration
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetUsersByIDs(ctx context.Context, userIDs []uuid.UUID) ([]*domain.User, error)
}

// Publisher fans domain events out to connected clients
type Publisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// AccessChecker gates conversation-scoped operations
type AccessChecker interface {
	CheckAccess(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
	CheckAdmin(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
	CheckCreator(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
}

// Service handles conversation lifecycle and roster management
type Service struct {
	conversationRepo ConversationRepository
	receipts         ReceiptStore
	users            UserDirectory
	publisher        Publisher
	access           AccessChecker
}

// NewService creates a new conversation service
func NewService(
	conversationRepo ConversationRepository,
	receipts ReceiptStore,
	users UserDirectory,
	publisher Publisher,
	access AccessChecker,
) *Service {
	return &Service{
		conversationRepo: conversationRepo,
		receipts:         receipts,
		users:            users,
		publisher:        publisher,
		access:           access,
	}
}

// publish fans an event out without gating the calling operation
func (s *Service) publish(ctx context.Context, channel, eventType string, payload interface{}) {
	if err := s.publisher.Publish(ctx, channel, events.Event{Type: eventType, Payload: payload}); err != nil {
		logger.Warn("failed to publish conversation event",
			zap.String("event", eventType),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}

// CreateDirectInput identifies the two ends of a direct conversation
type CreateDirectInput struct {
	CreatorID uuid.UUID
	OtherID   uuid.UUID
}

// CreateDirectOutput carries the resulting conversation and whether it
// already existed
type CreateDirectOutput struct {
	Conversation *domain.ConversationResponse
	Existing     bool
}

// CreateOrGetDirect returns the direct conversation between the two
// users, creating it on first contact. Repeated calls with the same
// pair always resolve to the same conversation.
func (s *Service) CreateOrGetDirect(ctx context.Context, input *CreateDirectInput) (*CreateDirectOutput, error) {
	if input.CreatorID == input.OtherID {
		return nil, apperrors.InvalidInputError("Cannot start a conversation with yourself")
	}

	other, err := s.users.GetUserByID(ctx, input.OtherID)
	if err != nil {
		return nil, err
	}
	if !other.IsActive {
		return nil, apperrors.InactiveUserError("Cannot start a conversation with a deactivated user")
	}

	existing, err := s.conversationRepo.FindDirect(ctx, input.CreatorID, input.OtherID)
	if err != nil && !errors.Is(err, cockroach.ErrNotFound) {
		return nil, apperrors.DatabaseError(err)
	}
	if existing != nil {
		response, err := s.hydrate(ctx, existing)
		if err != nil {
			return nil, err
		}
		return &CreateDirectOutput{Conversation: response, Existing: true}, nil
	}

	now := time.Now()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Kind:           domain.ConversationDirect,
		CreatedBy:      input.CreatorID,
		Participants: []domain.Participant{
			{UserID: input.CreatorID, Role: domain.RoleMember, JoinedAt: now},
			{UserID: input.OtherID, Role: domain.RoleMember, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	response, err := s.hydrate(ctx, conversation)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.UserChannel(input.OtherID), events.ConversationCreated, response)
	s.publish(ctx, events.UserChannel(input.CreatorID), events.ConversationCreated, response)

	return &CreateDirectOutput{Conversation: response, Existing: false}, nil
}

// CreateGroupInput contains new group conversation data
type CreateGroupInput struct {
	CreatorID      uuid.UUID
	Name           string
	ParticipantIDs []uuid.UUID
}

// CreateGroup creates a named group conversation with the creator as admin
func (s *Service) CreateGroup(ctx context.Context, input *CreateGroupInput) (*domain.ConversationResponse, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.MissingFieldError("name")
	}
	if utf8.RuneCountInString(name) > domain.MaxGroupNameLength {
		return nil, apperrors.ValidationError("Group name must be at most 100 characters")
	}

	// Dedupe the roster, always including the creator
	seen := map[uuid.UUID]bool{input.CreatorID: true}
	roster := []uuid.UUID{input.CreatorID}
	for _, id := range input.ParticipantIDs {
		if !seen[id] {
			seen[id] = true
			roster = append(roster, id)
		}
	}
	if len(roster) < 2 {
		return nil, apperrors.ValidationError("Group conversations need at least one participant besides the creator")
	}
	if len(roster) > domain.MaxGroupParticipants {
		return nil, apperrors.ValidationError("Group conversations are limited to 100 participants")
	}

	users, err := s.users.GetUsersByIDs(ctx, roster)
	if err != nil {
		return nil, err
	}
	if len(users) != len(roster) {
		return nil, apperrors.InvalidInputError("One or more participants do not exist")
	}
	for _, u := range users {
		if !u.IsActive {
			return nil, apperrors.InactiveUserError("Cannot add a deactivated user to a conversation")
		}
	}

	now := time.Now()
	participants := make([]domain.Participant, 0, len(roster))
	for _, id := range roster {
		role := domain.RoleMember
		if id == input.CreatorID {
			role = domain.RoleAdmin
		}
		participants = append(participants, domain.Participant{UserID: id, Role: role, JoinedAt: now})
	}

	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Kind:           domain.ConversationGroup,
		Name:           &name,
		CreatedBy:      input.CreatorID,
		Participants:   participants,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	response := buildResponse(conversation, users)
	for _, id := range roster {
		s.publish(ctx, events.UserChannel(id), events.ConversationCreated, response)
	}

	return response, nil
}

// ListInput contains list query parameters
type ListInput struct {
	UserID    uuid.UUID
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// ListOutput contains one page of the user's conversations
type ListOutput struct {
	Conversations []*domain.ConversationResponse
	TotalCount    int64
}

// ListForUser retrieves the user's conversations with hydrated rosters
func (s *Service) ListForUser(ctx context.Context, input *ListInput) (*ListOutput, error) {
	offset := (input.Page - 1) * input.Limit
	conversations, total, err := s.conversationRepo.ListForUser(ctx, input.UserID, input.Limit, offset, input.SortBy, input.SortOrder)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	responses, err := s.hydrateAll(ctx, conversations)
	if err != nil {
		return nil, err
	}

	return &ListOutput{Conversations: responses, TotalCount: total}, nil
}

// GetByID retrieves one conversation the user is a member of
func (s *Service) GetByID(ctx context.Context, conversationID, userID uuid.UUID) (*domain.ConversationResponse, error) {
	conversation, err := s.access.CheckAccess(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, conversation)
}

// Rename changes a group conversation's name. Admin only.
func (s *Service) Rename(ctx context.Context, conversationID, userID uuid.UUID, newName string) (*domain.ConversationResponse, error) {
	conversation, err := s.access.CheckAdmin(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation.Kind != domain.ConversationGroup {
		return nil, apperrors.ValidationError("Direct conversations cannot be renamed")
	}

	name := strings.TrimSpace(newName)
	if name == "" {
		return nil, apperrors.MissingFieldError("name")
	}
	if utf8.RuneCountInString(name) > domain.MaxGroupNameLength {
		return nil, apperrors.ValidationError("Group name must be at most 100 characters")
	}

	if err := s.conversationRepo.UpdateName(ctx, conversationID, name); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	conversation.Name = &name

	response, err := s.hydrate(ctx, conversation)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ConversationChannel(conversationID), events.ConversationUpdated, response)

	return response, nil
}

// AddMember adds a user to a group conversation. Admin only. Direct
// conversation rosters are frozen at creation.
func (s *Service) AddMember(ctx context.Context, conversationID, actorID, newMemberID uuid.UUID) (*domain.ConversationResponse, error) {
	conversation, err := s.access.CheckAdmin(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conversation.Kind != domain.ConversationGroup {
		return nil, apperrors.ValidationError("Cannot add participants to a direct conversation")
	}
	if conversation.IsParticipant(newMemberID) {
		return nil, apperrors.AlreadyMemberError()
	}
	if conversation.ParticipantCount() >= domain.MaxGroupParticipants {
		return nil, apperrors.ValidationError("Group conversations are limited to 100 participants")
	}

	user, err := s.users.GetUserByID(ctx, newMemberID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, apperrors.InactiveUserError("Cannot add a deactivated user to a conversation")
	}

	if err := s.conversationRepo.AddParticipant(ctx, conversationID, newMemberID, domain.RoleMember); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	conversation.Participants = append(conversation.Participants, domain.Participant{
		UserID:   newMemberID,
		Role:     domain.RoleMember,
		JoinedAt: time.Now(),
	})

	response, err := s.hydrate(ctx, conversation)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ConversationChannel(conversationID), events.ParticipantAdded, map[string]interface{}{
		"conversation_id": conversationID,
		"user":            user.Summary(),
	})
	s.publish(ctx, events.UserChannel(newMemberID), events.ConversationCreated, response)

	return response, nil
}

// RemoveMember removes a participant from a group conversation and
// returns the remaining roster, or nil when the emptied conversation
// was deleted outright. Admins can remove anyone; a member can only
// remove themselves (leave). If the last admin leaves, the
// longest-standing remaining member is promoted.
func (s *Service) RemoveMember(ctx context.Context, conversationID, actorID, targetID uuid.UUID) (*domain.ConversationResponse, error) {
	conversation, err := s.access.CheckAccess(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conversation.Kind != domain.ConversationGroup {
		return nil, apperrors.ValidationError("Cannot remove participants from a direct conversation")
	}
	if actorID != targetID && !conversation.IsAdmin(actorID) {
		return nil, apperrors.ForbiddenError("Only admins can remove other participants")
	}
	if !conversation.IsParticipant(targetID) {
		return nil, apperrors.NotFoundError("Participant")
	}

	targetWasAdmin := conversation.IsAdmin(targetID)

	if err := s.conversationRepo.RemoveParticipant(ctx, conversationID, targetID); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if err := s.receipts.Delete(ctx, conversationID, targetID); err != nil {
		logger.Warn("failed to delete receipt for removed participant",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", targetID.String()),
			zap.Error(err),
		)
	}

	// Roster as it stands after removal, preserving join order
	remaining := make([]domain.Participant, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		if p.UserID != targetID {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		if err := s.conversationRepo.Delete(ctx, conversationID); err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		s.publish(ctx, events.UserChannel(targetID), events.ConversationDeleted, map[string]interface{}{
			"conversation_id": conversationID,
		})
		return nil, nil
	}

	if targetWasAdmin {
		hasAdmin := false
		for _, p := range remaining {
			if p.Role == domain.RoleAdmin {
				hasAdmin = true
				break
			}
		}
		if !hasAdmin {
			if err := s.conversationRepo.UpdateParticipantRole(ctx, conversationID, remaining[0].UserID, domain.RoleAdmin); err != nil {
				return nil, apperrors.DatabaseError(err)
			}
			remaining[0].Role = domain.RoleAdmin
		}
	}

	conversation.Participants = remaining

	response, err := s.hydrate(ctx, conversation)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ConversationChannel(conversationID), events.ParticipantRemoved, map[string]interface{}{
		"conversation_id": conversationID,
		"user_id":         targetID,
	})
	s.publish(ctx, events.UserChannel(targetID), events.ConversationDeleted, map[string]interface{}{
		"conversation_id": conversationID,
	})

	return response, nil
}

// Delete removes a conversation entirely. Groups require moderation
// rights; direct conversations can only be deleted by their creator.
func (s *Service) Delete(ctx context.Context, conversationID, userID uuid.UUID) error {
	conversation, err := s.access.CheckAccess(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if conversation.Kind == domain.ConversationDirect {
		if _, err := s.access.CheckCreator(ctx, conversationID, userID); err != nil {
			return err
		}
	} else {
		if _, err := s.access.CheckAdmin(ctx, conversationID, userID); err != nil {
			return err
		}
	}

	if err := s.conversationRepo.Delete(ctx, conversationID); err != nil {
		return apperrors.DatabaseError(err)
	}

	s.publish(ctx, events.ConversationChannel(conversationID), events.ConversationDeleted, map[string]interface{}{
		"conversation_id": conversationID,
	})

	return nil
}

// hydrate resolves participant identities for one conversation
func (s *Service) hydrate(ctx context.Context, conversation *domain.Conversation) (*domain.ConversationResponse, error) {
	ids := make([]uuid.UUID, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		ids = append(ids, p.UserID)
	}

	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	return buildResponse(conversation, users), nil
}

// hydrateAll resolves participant identities for a page of conversations
// with a single batched directory lookup
func (s *Service) hydrateAll(ctx context.Context, conversations []*domain.Conversation) ([]*domain.ConversationResponse, error) {
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, c := range conversations {
		for _, p := range c.Participants {
			if !seen[p.UserID] {
				seen[p.UserID] = true
				ids = append(ids, p.UserID)
			}
		}
	}

	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.ConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		responses = append(responses, buildResponse(c, users))
	}
	return responses, nil
}

// buildResponse assembles a hydrated conversation response. Participants
// whose identity cannot be resolved keep a bare user ID.
func buildResponse(conversation *domain.Conversation, users []*domain.User) *domain.ConversationResponse {
	byID := make(map[uuid.UUID]*domain.User, len(users))
	for _, u := range users {
		byID[u.UserID] = u
	}

	participants := make([]domain.ParticipantResponse, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		summary := domain.UserSummary{UserID: p.UserID}
		if user, ok := byID[p.UserID]; ok {
			summary = user.Summary()
		}
		participants = append(participants, domain.ParticipantResponse{
			User:     summary,
			Role:     p.Role,
			JoinedAt: p.JoinedAt,
		})
	}

	return &domain.ConversationResponse{
		ConversationID: conversation.ConversationID,
		Kind:           conversation.Kind,
		Name:           conversation.Name,
		Participants:   participants,
		CreatedBy:      conversation.CreatedBy,
		LastMessage:    conversation.LastMessage,
		CreatedAt:      conversation.CreatedAt,
		UpdatedAt:      conversation.UpdatedAt,
	}
}
