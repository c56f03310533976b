package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	iauth "github.com/pulsecare/pulsecare/internal/auth"
	"github.com/pulsecare/pulsecare/internal/verification"
	appValidator "github.com/pulsecare/pulsecare/pkg/validator"
)

func TestAuthErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{iauth.ErrInvalidCredential, "auth.invalid_credential", http.StatusUnauthorized},
		{verification.ErrNotFound, "verification.not_found", http.StatusNotFound},
		{verification.ErrExpired, "verification.expired", http.StatusGone},
		{verification.ErrMismatch, "verification.mismatch", http.StatusUnauthorized},
		{iauth.ErrNoPendingFlow, "auth.no_pending_flow", http.StatusConflict},
		{iauth.ErrNotAuthenticated, "auth.not_authenticated", http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", verification.ErrExpired), "verification.expired", http.StatusGone},
		{fmt.Errorf("disk on fire"), "internal.error", http.StatusInternalServerError},
		{iauth.ErrStateInconsistent, "internal.error", http.StatusInternalServerError},
	}

	for _, tc := range cases {
		mapped := authError(tc.err)
		require.Equal(t, tc.code, mapped.Code, "mapping %v", tc.err)
		require.Equal(t, tc.status, mapped.StatusCode, "mapping %v", tc.err)
	}
}

func TestFormatValidationErrorFallback(t *testing.T) {
	require.Equal(t, "invalid request payload", formatValidationError(fmt.Errorf("boom")))
}

func TestFormatValidationErrorMessages(t *testing.T) {
	type payload struct {
		Email string `json:"email" validate:"required,email"`
		Code  string `json:"code" validate:"required,len=6,numeric"`
	}

	err := appValidator.Struct(payload{Email: "nope", Code: "12"})
	require.Error(t, err)

	msg := formatValidationError(err)
	require.Contains(t, msg, "email must be a valid email address")
	require.Contains(t, msg, "code must be exactly 6 characters")
}
