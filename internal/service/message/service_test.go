package message

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/repository/cassandra"
	apperrors "relaychat-backend/pkg/errors"
	"relaychat-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

// Mocks

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(message *domain.Message) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByConversation(conversationID uuid.UUID, limit int, before, after *cassandra.Cursor) ([]*domain.Message, error) {
	args := m.Called(conversationID, limit, before, after)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(conversationID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateContent(message *domain.Message) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockMessageRepository) MarkDeleted(message *domain.Message) error {
	args := m.Called(message)
	return args.Error(0)
}

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, preview *domain.LastMessagePreview) error {
	args := m.Called(ctx, conversationID, preview)
	return args.Error(0)
}

type MockReceiptIncrementer struct {
	mock.Mock
}

func (m *MockReceiptIncrementer) IncrementOnNewMessage(ctx context.Context, conversationID, senderID uuid.UUID) error {
	args := m.Called(ctx, conversationID, senderID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	args := m.Called(ctx, channel, payload)
	return args.Error(0)
}

type MockAccessChecker struct {
	mock.Mock
}

func (m *MockAccessChecker) CheckAccess(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func newTestService() (*Service, *MockMessageRepository, *MockConversationStore, *MockReceiptIncrementer, *MockPublisher, *MockAccessChecker) {
	repo := new(MockMessageRepository)
	conversations := new(MockConversationStore)
	receipts := new(MockReceiptIncrementer)
	publisher := new(MockPublisher)
	access := new(MockAccessChecker)
	return NewService(repo, conversations, receipts, publisher, access, nil), repo, conversations, receipts, publisher, access
}

func memberConversation(conversationID uuid.UUID, userIDs ...uuid.UUID) *domain.Conversation {
	participants := make([]domain.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		participants = append(participants, domain.Participant{UserID: id, Role: domain.RoleMember})
	}
	return &domain.Conversation{
		ConversationID: conversationID,
		Kind:           domain.ConversationGroup,
		Participants:   participants,
	}
}

func TestSendPersistsAndFansOut(t *testing.T) {
	service, repo, conversations, receipts, publisher, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	conversations.On("UpdateLastMessage", ctx, conversationID, mock.AnythingOfType("*domain.LastMessagePreview")).Return(nil)
	receipts.On("IncrementOnNewMessage", ctx, conversationID, senderID).Return(nil)
	publisher.On("Publish", ctx, "conversation:"+conversationID.String(), mock.Anything).Return(nil)
	publisher.On("Publish", ctx, "user:"+senderID.String(), mock.Anything).Return(nil)

	response, err := service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "  hello there  ",
	})

	assert.NoError(t, err)
	assert.Equal(t, "hello there", response.Content)
	assert.Equal(t, domain.MessageText, response.Kind)
	repo.AssertExpectations(t)
	receipts.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	service, repo, _, _, _, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)

	_, err := service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "   ",
	})

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEmptyContent, apperrors.GetAppError(err).Code)
	repo.AssertNotCalled(t, "Save", mock.Anything)
}

func TestSendRejectsOversizedContent(t *testing.T) {
	service, _, _, _, _, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)

	_, err := service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        strings.Repeat("a", domain.MaxMessageLength+1),
	})

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetAppError(err).Code)
}

func TestSendSucceedsWhenIncrementFails(t *testing.T) {
	service, repo, conversations, receipts, publisher, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	conversations.On("UpdateLastMessage", ctx, conversationID, mock.Anything).Return(nil)
	receipts.On("IncrementOnNewMessage", ctx, conversationID, senderID).Return(assert.AnError)
	publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	response, err := service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "still delivered",
	})

	assert.NoError(t, err)
	assert.NotNil(t, response)
}

func TestListReportsHasMore(t *testing.T) {
	service, repo, _, _, _, access := newTestService()

	conversationID := uuid.New()
	userID := uuid.New()

	page := make([]*domain.Message, 2)
	for i := range page {
		page[i] = &domain.Message{
			MessageID:      uuid.New(),
			ConversationID: conversationID,
			SenderID:       userID,
			Content:        "msg",
			CreatedAt:      time.Now(),
		}
	}

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, userID).Return(memberConversation(conversationID, userID), nil)
	repo.On("GetByConversation", conversationID, 2, (*cassandra.Cursor)(nil), (*cassandra.Cursor)(nil)).Return(page, nil)

	output, err := service.List(ctx, &ListInput{
		ConversationID: conversationID,
		UserID:         userID,
		Limit:          2,
	})

	assert.NoError(t, err)
	assert.True(t, output.HasMore)
	assert.Equal(t, page[1].MessageID, *output.NextCursor)
}

func TestGetByIDTombstonesDeletedMessage(t *testing.T) {
	service, repo, _, _, _, access := newTestService()

	conversationID := uuid.New()
	userID := uuid.New()

	deleted := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        "secret",
		Attachments:    []domain.Attachment{{URL: "https://cdn.example.com/a.png"}},
		IsDeleted:      true,
		CreatedAt:      time.Now(),
	}

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, userID).Return(memberConversation(conversationID, userID), nil)
	repo.On("GetByID", conversationID, deleted.MessageID).Return(deleted, nil)

	response, err := service.GetByID(ctx, conversationID, deleted.MessageID, userID)

	assert.NoError(t, err)
	assert.Equal(t, domain.DeletedMessageTombstone, response.Content)
	assert.Nil(t, response.Attachments)
}

func TestEditOnlyBySender(t *testing.T) {
	service, repo, _, _, _, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()
	editorID := uuid.New()

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "original",
		CreatedAt:      time.Now(),
	}

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, editorID).Return(memberConversation(conversationID, senderID, editorID), nil)
	repo.On("GetByID", conversationID, message.MessageID).Return(message, nil)

	_, err := service.Edit(ctx, &EditInput{
		ConversationID: conversationID,
		MessageID:      message.MessageID,
		UserID:         editorID,
		Content:        "hijacked",
	})

	assert.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, apperrors.ErrCodeNotSender, appErr.Code)
	assert.Equal(t, 403, appErr.StatusCode)
	repo.AssertNotCalled(t, "UpdateContent", mock.Anything)
}

func TestEditRecordsHistory(t *testing.T) {
	service, repo, _, _, publisher, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "first draft",
		CreatedAt:      time.Now(),
	}

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("GetByID", conversationID, message.MessageID).Return(message, nil)
	repo.On("UpdateContent", mock.AnythingOfType("*domain.Message")).Return(nil)
	publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	response, err := service.Edit(ctx, &EditInput{
		ConversationID: conversationID,
		MessageID:      message.MessageID,
		UserID:         senderID,
		Content:        "second draft",
	})

	assert.NoError(t, err)
	assert.Equal(t, "second draft", response.Content)
	assert.True(t, response.IsEdited)
	assert.Len(t, message.EditHistory, 1)
	assert.Equal(t, "first draft", message.EditHistory[0].Content)
}

func TestEditRejectsDeletedMessage(t *testing.T) {
	service, repo, _, _, _, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "gone",
		IsDeleted:      true,
		CreatedAt:      time.Now(),
	}

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("GetByID", conversationID, message.MessageID).Return(message, nil)

	_, err := service.Edit(ctx, &EditInput{
		ConversationID: conversationID,
		MessageID:      message.MessageID,
		UserID:         senderID,
		Content:        "resurrect",
	})

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetAppError(err).Code)
}

func TestDeleteIsIdempotent(t *testing.T) {
	service, repo, _, _, _, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "gone",
		IsDeleted:      true,
		CreatedAt:      time.Now(),
	}

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("GetByID", conversationID, message.MessageID).Return(message, nil)

	err := service.Delete(ctx, conversationID, message.MessageID, senderID)

	assert.NoError(t, err)
	repo.AssertNotCalled(t, "MarkDeleted", mock.Anything)
}

func TestSendAllowsCaptionlessAttachment(t *testing.T) {
	service, repo, conversations, receipts, publisher, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	conversations.On("UpdateLastMessage", ctx, conversationID, mock.AnythingOfType("*domain.LastMessagePreview")).Return(nil)
	receipts.On("IncrementOnNewMessage", ctx, conversationID, senderID).Return(nil)
	publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	response, err := service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           domain.MessageImage,
		Attachments:    []domain.Attachment{{URL: "https://cdn.example.com/photo.jpg"}},
	})

	assert.NoError(t, err)
	assert.Empty(t, response.Content)
	assert.Equal(t, domain.MessageImage, response.Kind)
	repo.AssertExpectations(t)
}

func TestSendRejectsAttachmentKindWithoutAttachments(t *testing.T) {
	service, _, _, _, _, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)

	_, err := service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           domain.MessageImage,
	})

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEmptyContent, apperrors.GetAppError(err).Code)
}

func TestSendCountsContentLengthInRunes(t *testing.T) {
	service, repo, conversations, receipts, publisher, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	conversations.On("UpdateLastMessage", ctx, conversationID, mock.AnythingOfType("*domain.LastMessagePreview")).Return(nil)
	receipts.On("IncrementOnNewMessage", ctx, conversationID, senderID).Return(nil)
	publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	// 2000 three-byte characters: over the cap in bytes, under it in runes
	content := strings.Repeat("世", 2000)
	response, err := service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	})

	assert.NoError(t, err)
	assert.Equal(t, content, response.Content)

	_, err = service.Send(ctx, &SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        strings.Repeat("世", domain.MaxMessageLength+1),
	})
	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetAppError(err).Code)
}

func TestDeleteScrubsStoredContent(t *testing.T) {
	service, repo, _, _, publisher, access := newTestService()

	conversationID := uuid.New()
	senderID := uuid.New()

	message := &domain.Message{
		MessageID:      uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        "secret plans",
		Attachments:    []domain.Attachment{{URL: "https://cdn.example.com/plans.pdf"}},
		CreatedAt:      time.Now(),
	}

	ctx := context.Background()
	access.On("CheckAccess", ctx, conversationID, senderID).Return(memberConversation(conversationID, senderID), nil)
	repo.On("GetByID", conversationID, message.MessageID).Return(message, nil)

	var scrubbed *domain.Message
	repo.On("MarkDeleted", mock.AnythingOfType("*domain.Message")).Run(func(args mock.Arguments) {
		scrubbed = args.Get(0).(*domain.Message)
	}).Return(nil)
	publisher.On("Publish", ctx, mock.Anything, mock.Anything).Return(nil)

	err := service.Delete(ctx, conversationID, message.MessageID, senderID)

	assert.NoError(t, err)
	assert.True(t, scrubbed.IsDeleted)
	assert.Equal(t, domain.DeletedMessageTombstone, scrubbed.Content)
	assert.Nil(t, scrubbed.Attachments)
}
