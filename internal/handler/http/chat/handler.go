package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"relaychat-backend/internal/domain"
	"relaychat-backend/internal/service/message"
	"relaychat-backend/internal/service/receipt"
	"relaychat-backend/pkg/pagination"
	"relaychat-backend/pkg/response"
)

// Handler handles message and read receipt HTTP requests
type Handler struct {
	messageService *message.Service
	receiptService *receipt.Service
}

// NewHandler creates a new chat handler
func NewHandler(messageService *message.Service, receiptService *receipt.Service) *Handler {
	return &Handler{
		messageService: messageService,
		receiptService: receiptService,
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user identity")
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "Invalid "+label)
		return uuid.Nil, false
	}
	return id, true
}

// SendMessageRequest represents a send message request
type SendMessageRequest struct {
	Content     string              `json:"content"`
	Kind        string              `json:"kind" binding:"omitempty,oneof=text image file"`
	Attachments []domain.Attachment `json:"attachments"`
}

// SendMessage sends a message into a conversation
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	senderID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}

	sent, err := h.messageService.Send(c.Request.Context(), &message.SendInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        req.Content,
		Kind:           req.Kind,
		Attachments:    req.Attachments,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, sent)
}

// ListMessages retrieves conversation history, newest first
// GET /v1/conversations/:id/messages?limit=50&before=<messageId>&after=<messageId>
func (h *Handler) ListMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}

	input := &message.ListInput{
		ConversationID: conversationID,
		UserID:         userID,
		Limit:          50,
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		params, err := pagination.ParsePaginationParams("", limitStr, "", "")
		if err != nil {
			response.ValidationError(c, err.Error())
			return
		}
		input.Limit = params.Limit
	}

	if beforeStr := c.Query("before"); beforeStr != "" {
		before, err := uuid.Parse(beforeStr)
		if err != nil {
			response.ValidationError(c, "Invalid before cursor")
			return
		}
		input.Before = &before
	}
	if afterStr := c.Query("after"); afterStr != "" {
		after, err := uuid.Parse(afterStr)
		if err != nil {
			response.ValidationError(c, "Invalid after cursor")
			return
		}
		input.After = &after
	}

	output, err := h.messageService.List(c.Request.Context(), input)
	if err != nil {
		response.AppError(c, err)
		return
	}

	lastID := ""
	if output.NextCursor != nil {
		lastID = output.NextCursor.String()
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":   output.Messages,
		"pagination": pagination.BuildCursorMeta(len(output.Messages), input.Limit, lastID),
	})
}

// GetMessage retrieves one message
// GET /v1/conversations/:id/messages/:messageId
func (h *Handler) GetMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "messageId", "message ID")
	if !ok {
		return
	}

	msg, err := h.messageService.GetByID(c.Request.Context(), conversationID, messageID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// EditMessageRequest carries the replacement content
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage edits a message's content
// PATCH /v1/conversations/:id/messages/:messageId
func (h *Handler) EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "messageId", "message ID")
	if !ok {
		return
	}

	edited, err := h.messageService.Edit(c.Request.Context(), &message.EditInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		Content:        req.Content,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, edited)
}

// DeleteMessage soft-deletes a message
// DELETE /v1/conversations/:id/messages/:messageId
func (h *Handler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "messageId", "message ID")
	if !ok {
		return
	}

	if err := h.messageService.Delete(c.Request.Context(), conversationID, messageID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": messageID})
}

// MarkAsReadRequest optionally pins the read position to a message
type MarkAsReadRequest struct {
	LastReadMessageID *string `json:"last_read_message_id"`
}

// MarkAsRead records the caller's read position in a conversation
// POST /v1/conversations/:id/messages/read
func (h *Handler) MarkAsRead(c *gin.Context) {
	var req MarkAsReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}

	input := &receipt.MarkAsReadInput{
		ConversationID: conversationID,
		UserID:         userID,
	}
	if req.LastReadMessageID != nil {
		messageID, err := uuid.Parse(*req.LastReadMessageID)
		if err != nil {
			response.ValidationError(c, "Invalid message ID")
			return
		}
		input.LastReadMessageID = &messageID
	}

	readReceipt, err := h.receiptService.MarkAsRead(c.Request.Context(), input)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, readReceipt)
}

// GetUnreadCount returns the caller's unread counter for a conversation
// GET /v1/conversations/:id/messages/unread-count
func (h *Handler) GetUnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}

	count, err := h.receiptService.GetUnreadCount(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"unread_count":    count,
	})
}

// ListReceipts returns every participant's read receipt
// GET /v1/conversations/:id/receipts
func (h *Handler) ListReceipts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id", "conversation ID")
	if !ok {
		return
	}

	receipts, err := h.receiptService.ListForConversation(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"receipts": receipts})
}
