package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsecare/pulsecare/internal/auth"
	"github.com/pulsecare/pulsecare/internal/verification"
	appErrors "github.com/pulsecare/pulsecare/pkg/errors"
	"github.com/pulsecare/pulsecare/pkg/response"
)

// AuthHandler exposes the verification flow to the application UI.
type AuthHandler struct {
	sessions *auth.SessionController
}

// NewAuthHandler builds the handler around the session controller.
func NewAuthHandler(sessions *auth.SessionController) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

type signUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,min=1,max=64"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// POST /api/auth/signup
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.sessions.SignUp(c.Request.Context(), req.Email, req.DisplayName, req.Password); err != nil {
		response.Error(c, authError(err))
		return
	}

	response.Success(c, http.StatusAccepted, h.sessions.State())
}

// POST /api/auth/signin
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.sessions.SignIn(c.Request.Context(), req.Email, req.Password); err != nil {
		response.Error(c, authError(err))
		return
	}

	response.Success(c, http.StatusAccepted, h.sessions.State())
}

// POST /api/auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.sessions.Verify(c.Request.Context(), req.Code); err != nil {
		response.Error(c, authError(err))
		return
	}

	response.Success(c, http.StatusOK, h.sessions.State())
}

// POST /api/auth/resend
func (h *AuthHandler) Resend(c *gin.Context) {
	if err := h.sessions.ResendCode(c.Request.Context()); err != nil {
		response.Error(c, authError(err))
		return
	}

	response.Success(c, http.StatusAccepted, h.sessions.State())
}

// POST /api/auth/signout
func (h *AuthHandler) SignOut(c *gin.Context) {
	h.sessions.SignOut()
	response.Success(c, http.StatusOK, h.sessions.State())
}

// DELETE /api/auth/account
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	if err := h.sessions.DeleteAccount(c.Request.Context()); err != nil {
		response.Error(c, authError(err))
		return
	}

	response.Success(c, http.StatusOK, h.sessions.State())
}

// GET /api/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	response.Success(c, http.StatusOK, h.sessions.State())
}

// authError maps flow errors onto the client-facing taxonomy. Expired,
// mismatching, and missing codes stay distinct because each implies a
// different corrective action. A state inconsistency is a data bug and is
// surfaced as a generic failure.
func authError(err error) *appErrors.AppError {
	switch {
	case errors.Is(err, auth.ErrInvalidCredential):
		return appErrors.ErrInvalidCredential
	case errors.Is(err, verification.ErrNotFound):
		return appErrors.ErrCodeNotFound
	case errors.Is(err, verification.ErrExpired):
		return appErrors.ErrCodeExpired
	case errors.Is(err, verification.ErrMismatch):
		return appErrors.ErrCodeMismatch
	case errors.Is(err, auth.ErrNoPendingFlow):
		return appErrors.ErrNoPendingFlow
	case errors.Is(err, auth.ErrNotAuthenticated):
		return appErrors.ErrNotAuthenticated
	default:
		return appErrors.ErrInternal.WithInternal(err)
	}
}
