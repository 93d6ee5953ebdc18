package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/supportspark/internal/conversations"
	"github.com/gin-gonic/gin"
)

type createConversationPayload struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Images  []string `json:"images"`
}

type renameConversationPayload struct {
	Title string `json:"title"`
}

type postMessagePayload struct {
	ParentID string   `json:"parent_id"`
	Content  string   `json:"content"`
	Images   []string `json:"images"`
}

func (h *httpHandler) handleListConversations(c *gin.Context) {
	summaries, err := h.conversations.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

func (h *httpHandler) handleCreateConversation(c *gin.Context) {
	var request createConversationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "conversations.create.invalid_body")
		return
	}
	conversation, err := h.conversations.Create(c.Request.Context(), currentUserID(c), conversations.NewConversationRequest{
		Title:   request.Title,
		Content: request.Content,
		Images:  request.Images,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conversation})
}

func (h *httpHandler) handleGetConversation(c *gin.Context) {
	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	conversation, err := h.conversations.Get(c.Request.Context(), currentUserID(c), conversationID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conversation})
}

func (h *httpHandler) handleRenameConversation(c *gin.Context) {
	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var request renameConversationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "conversations.rename.invalid_body")
		return
	}
	conversation, err := h.conversations.Rename(c.Request.Context(), currentUserID(c), conversationID, request.Title)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conversation})
}

func (h *httpHandler) handleAddMessage(c *gin.Context) {
	conversationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var request postMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "conversations.add_message.invalid_body")
		return
	}
	conversation, err := h.conversations.AddMessage(c.Request.Context(), currentUserID(c), conversationID, conversations.PostRequest{
		ParentID: request.ParentID,
		Content:  request.Content,
		Images:   request.Images,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conversation})
}
