package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/supportspark/internal/apperror"
	"github.com/MarcoPoloResearchLab/supportspark/internal/conversations"
	"github.com/MarcoPoloResearchLab/supportspark/internal/supporters"
	"github.com/MarcoPoloResearchLab/supportspark/internal/uploads"
	"github.com/MarcoPoloResearchLab/supportspark/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type errorMapping struct {
	target error
	status int
	reason string
	code   string
}

var errorMappings = []errorMapping{
	{target: users.ErrInvalidRegistration, status: http.StatusBadRequest, reason: "invalid_registration", code: "users.register.invalid"},
	{target: users.ErrEmailTaken, status: http.StatusConflict, reason: "email_taken", code: "users.register.email_taken"},
	{target: users.ErrInvalidCredentials, status: http.StatusUnauthorized, reason: "invalid_credentials", code: "users.authenticate.invalid_credentials"},
	{target: users.ErrNotDemoAccount, status: http.StatusBadRequest, reason: "not_demo_account", code: "users.demo.not_demo_account"},
	{target: users.ErrUserNotFound, status: http.StatusNotFound, reason: "user_not_found", code: "users.get.not_found"},
	{target: conversations.ErrConversationNotFound, status: http.StatusNotFound, reason: "conversation_not_found"},
	{target: conversations.ErrMessageNotFound, status: http.StatusNotFound, reason: "message_not_found"},
	{target: conversations.ErrForbidden, status: http.StatusForbidden, reason: "forbidden"},
	{target: conversations.ErrInvalidInput, status: http.StatusBadRequest, reason: "invalid_input"},
	{target: conversations.ErrUnknownAuthor, status: http.StatusUnauthorized, reason: "unknown_author"},
	{target: supporters.ErrUserNotFound, status: http.StatusNotFound, reason: "user_not_found"},
	{target: supporters.ErrSelfInvite, status: http.StatusBadRequest, reason: "self_invite"},
	{target: supporters.ErrAlreadyInvited, status: http.StatusConflict, reason: "already_invited"},
	{target: supporters.ErrInvitationNotFound, status: http.StatusNotFound, reason: "invitation_not_found"},
	{target: supporters.ErrForbidden, status: http.StatusForbidden, reason: "forbidden"},
	{target: supporters.ErrNotPending, status: http.StatusConflict, reason: "not_pending"},
	{target: uploads.ErrEmpty, status: http.StatusBadRequest, reason: "empty_upload", code: "uploads.save.empty"},
	{target: uploads.ErrTooLarge, status: http.StatusRequestEntityTooLarge, reason: "upload_too_large", code: "uploads.save.too_large"},
	{target: uploads.ErrTypeNotAllowed, status: http.StatusUnsupportedMediaType, reason: "unsupported_type", code: "uploads.save.type_not_allowed"},
	{target: uploads.ErrInvalidName, status: http.StatusNotFound, reason: "not_found", code: "uploads.get.invalid_name"},
}

// writeServiceError maps a service error onto a status and JSON body.
// Unmapped errors are logged and reported as 500.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	code := apperror.CodeOf(err)
	for _, mapping := range errorMappings {
		if !errors.Is(err, mapping.target) {
			continue
		}
		if code == "" {
			code = mapping.code
		}
		c.JSON(mapping.status, errorBody{Error: mapping.reason, Code: code})
		return
	}
	h.logger.Error("request failed",
		zap.String("route", c.FullPath()),
		zap.String("code", code),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorBody{Error: "internal_error", Code: code})
}

func badRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Code: code})
}
