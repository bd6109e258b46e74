package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/repository/cockroach"
	apperrors "relaychat-backend/pkg/errors"
)

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

type MockUserReader struct {
	mock.Mock
}

func (m *MockUserReader) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func conversationWith(members ...domain.Participant) *domain.Conversation {
	return &domain.Conversation{
		ConversationID: uuid.New(),
		Kind:           domain.ConversationGroup,
		Participants:   members,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestCheckAccessMember(t *testing.T) {
	store := new(MockConversationStore)
	users := new(MockUserReader)
	service := NewService(store, users)

	userID := uuid.New()
	conversation := conversationWith(domain.Participant{UserID: userID, Role: domain.RoleMember})

	ctx := context.Background()
	store.On("GetByID", ctx, conversation.ConversationID).Return(conversation, nil)

	got, err := service.CheckAccess(ctx, conversation.ConversationID, userID)

	assert.NoError(t, err)
	assert.Equal(t, conversation.ConversationID, got.ConversationID)
	store.AssertExpectations(t)
}

func TestCheckAccessNonMember(t *testing.T) {
	store := new(MockConversationStore)
	service := NewService(store, new(MockUserReader))

	conversation := conversationWith(domain.Participant{UserID: uuid.New(), Role: domain.RoleMember})

	ctx := context.Background()
	store.On("GetByID", ctx, conversation.ConversationID).Return(conversation, nil)

	_, err := service.CheckAccess(ctx, conversation.ConversationID, uuid.New())

	assert.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, appErr.Code)
	assert.Equal(t, 403, appErr.StatusCode)
}

func TestCheckAccessNotFound(t *testing.T) {
	store := new(MockConversationStore)
	service := NewService(store, new(MockUserReader))

	conversationID := uuid.New()
	ctx := context.Background()
	store.On("GetByID", ctx, conversationID).Return(nil, cockroach.ErrNotFound)

	_, err := service.CheckAccess(ctx, conversationID, uuid.New())

	assert.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeConversationNotFound, appErr.Code)
	assert.Equal(t, 404, appErr.StatusCode)
}

func TestCheckAdminRejectsMember(t *testing.T) {
	store := new(MockConversationStore)
	users := new(MockUserReader)
	service := NewService(store, users)

	userID := uuid.New()
	conversation := conversationWith(
		domain.Participant{UserID: userID, Role: domain.RoleMember},
		domain.Participant{UserID: uuid.New(), Role: domain.RoleAdmin},
	)

	ctx := context.Background()
	store.On("GetByID", ctx, conversation.ConversationID).Return(conversation, nil)
	users.On("GetByID", ctx, userID).Return(&domain.User{UserID: userID, Roles: []string{"user"}}, nil)

	_, err := service.CheckAdmin(ctx, conversation.ConversationID, userID)

	assert.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeForbidden, appErr.Code)
}

func TestCheckAdminAllowsGlobalModerator(t *testing.T) {
	store := new(MockConversationStore)
	users := new(MockUserReader)
	service := NewService(store, users)

	userID := uuid.New()
	conversation := conversationWith(
		domain.Participant{UserID: userID, Role: domain.RoleMember},
		domain.Participant{UserID: uuid.New(), Role: domain.RoleAdmin},
	)

	ctx := context.Background()
	store.On("GetByID", ctx, conversation.ConversationID).Return(conversation, nil)
	users.On("GetByID", ctx, userID).Return(&domain.User{UserID: userID, Roles: []string{"moderator"}}, nil)

	got, err := service.CheckAdmin(ctx, conversation.ConversationID, userID)

	assert.NoError(t, err)
	assert.Equal(t, conversation.ConversationID, got.ConversationID)
}

func TestCheckAdminSkipsLookupForConversationAdmin(t *testing.T) {
	store := new(MockConversationStore)
	users := new(MockUserReader)
	service := NewService(store, users)

	userID := uuid.New()
	conversation := conversationWith(domain.Participant{UserID: userID, Role: domain.RoleAdmin})

	ctx := context.Background()
	store.On("GetByID", ctx, conversation.ConversationID).Return(conversation, nil)

	_, err := service.CheckAdmin(ctx, conversation.ConversationID, userID)

	assert.NoError(t, err)
	users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestCheckCreator(t *testing.T) {
	store := new(MockConversationStore)
	service := NewService(store, new(MockUserReader))

	creatorID := uuid.New()
	otherID := uuid.New()
	conversation := conversationWith(
		domain.Participant{UserID: creatorID, Role: domain.RoleAdmin},
		domain.Participant{UserID: otherID, Role: domain.RoleMember},
	)
	conversation.CreatedBy = creatorID

	ctx := context.Background()
	store.On("GetByID", ctx, conversation.ConversationID).Return(conversation, nil)

	_, err := service.CheckCreator(ctx, conversation.ConversationID, creatorID)
	assert.NoError(t, err)

	_, err = service.CheckCreator(ctx, conversation.ConversationID, otherID)
	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeForbidden, apperrors.GetAppError(err).Code)
}

func TestIsMember(t *testing.T) {
	store := new(MockConversationStore)
	service := NewService(store, new(MockUserReader))

	conversationID := uuid.New()
	userID := uuid.New()

	ctx := context.Background()
	store.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)

	assert.True(t, service.IsMember(ctx, conversationID, userID))
}

func TestIsMemberSwallowsLookupErrors(t *testing.T) {
	store := new(MockConversationStore)
	service := NewService(store, new(MockUserReader))

	conversationID := uuid.New()
	userID := uuid.New()

	ctx := context.Background()
	store.On("IsParticipant", ctx, conversationID, userID).Return(false, errors.New("connection reset"))

	assert.False(t, service.IsMember(ctx, conversationID, userID))
}
