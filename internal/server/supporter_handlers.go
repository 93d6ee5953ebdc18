package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type invitePayload struct {
	Email string `json:"email"`
}

func (h *httpHandler) handleListSupporters(c *gin.Context) {
	c.JSON(http.StatusOK, h.supporters.Overview(currentUserID(c)))
}

func (h *httpHandler) handleInviteSupporter(c *gin.Context) {
	var request invitePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "supporters.invite.invalid_body")
		return
	}
	relationship, err := h.supporters.Invite(c.Request.Context(), currentUserID(c), request.Email)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"supporter": relationship})
}

func (h *httpHandler) handleAcceptSupporter(c *gin.Context) {
	recordID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	relationship, err := h.supporters.Accept(c.Request.Context(), currentUserID(c), recordID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"supporter": relationship})
}

func (h *httpHandler) handleRejectSupporter(c *gin.Context) {
	recordID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	relationship, err := h.supporters.Reject(c.Request.Context(), currentUserID(c), recordID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"supporter": relationship})
}
