package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/supportspark/internal/auth"
	"github.com/MarcoPoloResearchLab/supportspark/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type demoRequestPayload struct {
	UserID string `json:"user_id"`
}

type sessionResponsePayload struct {
	User      users.Profile `json:"user"`
	ExpiresAt time.Time     `json:"expires_at"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "users.register.invalid_body")
		return
	}
	profile, err := h.users.Register(c.Request.Context(), users.Registration{
		Email:     request.Email,
		Password:  request.Password,
		FirstName: request.FirstName,
		LastName:  request.LastName,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.startSession(c, http.StatusCreated, profile)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "users.authenticate.invalid_body")
		return
	}
	profile, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.logger.Info("login rejected", zap.String("client_ip", c.ClientIP()))
		h.writeServiceError(c, err)
		return
	}
	h.startSession(c, http.StatusOK, profile)
}

func (h *httpHandler) handleDemoLogin(c *gin.Context) {
	var request demoRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "users.demo.invalid_body")
		return
	}
	profile, err := h.users.EnterDemo(c.Request.Context(), request.UserID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.startSession(c, http.StatusOK, profile)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	profile, err := h.users.Get(currentUserID(c))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h *httpHandler) startSession(c *gin.Context, status int, profile users.Profile) {
	token, expiresAt, err := h.issuer.IssueSessionToken(c.Request.Context(), auth.SessionIdentity{
		UserID:      profile.ID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.String("user_id", profile.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody{Error: "token_issue_failed", Code: "auth.session.issue_failed"})
		return
	}
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, maxAge, "/", "", h.secureCookies, true)
	c.JSON(status, sessionResponsePayload{User: profile, ExpiresAt: expiresAt})
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookies, true)
}
