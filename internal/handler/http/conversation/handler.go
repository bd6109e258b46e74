package conversation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"relaychat-backend/internal/service/conversation"
	"relaychat-backend/pkg/pagination"
	"relaychat-backend/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService *conversation.Service
}

// NewHandler creates a new conversation handler
func NewHandler(conversationService *conversation.Service) *Handler {
	return &Handler{
		conversationService: conversationService,
	}
}

// currentUser extracts the authenticated user set by the auth middleware
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

// pathConversationID parses the :id path parameter
func pathConversationID(c *gin.Context) (uuid.UUID, bool) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return uuid.Nil, false
	}
	return conversationID, true
}

// CreateDirectRequest identifies the other end of a direct conversation
type CreateDirectRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
}

// CreateDirect creates a direct conversation, or returns the existing
// one for the same pair
// POST /v1/conversations/direct
func (h *Handler) CreateDirect(c *gin.Context) {
	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	creatorID, ok := currentUser(c)
	if !ok {
		return
	}

	otherID, err := uuid.Parse(req.ParticipantID)
	if err != nil {
		response.ValidationError(c, "Invalid participant ID")
		return
	}

	output, err := h.conversationService.CreateOrGetDirect(c.Request.Context(), &conversation.CreateDirectInput{
		CreatorID: creatorID,
		OtherID:   otherID,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	status := http.StatusCreated
	if output.Existing {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{
		"conversation": output.Conversation,
		"is_new":       !output.Existing,
	})
}

// CreateGroupRequest carries the group name and initial members
type CreateGroupRequest struct {
	Name           string   `json:"name" binding:"required"`
	ParticipantIDs []string `json:"participant_ids" binding:"required,min=1"`
}

// CreateGroup creates a group conversation
// POST /v1/conversations/group
func (h *Handler) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	creatorID, ok := currentUser(c)
	if !ok {
		return
	}

	participantIDs := make([]uuid.UUID, len(req.ParticipantIDs))
	for i, idStr := range req.ParticipantIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid participant ID: "+idStr)
			return
		}
		participantIDs[i] = id
	}

	created, err := h.conversationService.CreateGroup(c.Request.Context(), &conversation.CreateGroupInput{
		CreatorID:      creatorID,
		Name:           req.Name,
		ParticipantIDs: participantIDs,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// ListConversations retrieves the user's conversations
// GET /v1/conversations?page=1&limit=20&sort_by=updatedAt&sort_order=desc
func (h *Handler) ListConversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	params, err := pagination.ParsePaginationParams(
		c.Query("page"),
		c.Query("limit"),
		c.DefaultQuery("sort_by", "updatedAt"),
		c.Query("sort_order"),
	)
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.conversationService.ListForUser(c.Request.Context(), &conversation.ListInput{
		UserID:    userID,
		Page:      params.Page,
		Limit:     params.Limit,
		SortBy:    params.SortBy,
		SortOrder: params.SortOrder,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversations": output.Conversations,
		"pagination":    pagination.BuildPaginationResponse(params, output.TotalCount),
	})
}

// GetConversation retrieves one conversation
// GET /v1/conversations/:id
func (h *Handler) GetConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	conv, err := h.conversationService.GetByID(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// RenameConversationRequest carries the new group name
type RenameConversationRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameConversation renames a group conversation
// PATCH /v1/conversations/:id/name
func (h *Handler) RenameConversation(c *gin.Context) {
	var req RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	conv, err := h.conversationService.Rename(c.Request.Context(), conversationID, userID, req.Name)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// AddMemberRequest identifies the user being added
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// AddMember adds a user to a group conversation
// POST /v1/conversations/:id/members
func (h *Handler) AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	newMemberID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	conv, err := h.conversationService.AddMember(c.Request.Context(), conversationID, actorID, newMemberID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// RemoveMember removes a user from a group conversation. Members
// may remove themselves; admins may remove anyone.
// DELETE /v1/conversations/:id/members/:userId
func (h *Handler) RemoveMember(c *gin.Context) {
	actorID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	conv, err := h.conversationService.RemoveMember(c.Request.Context(), conversationID, actorID, targetID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	if conv == nil {
		response.Success(c, http.StatusOK, gin.H{"deleted": conversationID})
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// DeleteConversation deletes a group conversation
// DELETE /v1/conversations/:id
func (h *Handler) DeleteConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathConversationID(c)
	if !ok {
		return
	}

	if err := h.conversationService.Delete(c.Request.Context(), conversationID, userID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"deleted": conversationID})
}
