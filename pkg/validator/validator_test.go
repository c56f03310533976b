package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type signUpPayload struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required,min=2"`
}

func TestStructPasses(t *testing.T) {
	err := Struct(&signUpPayload{Email: "ann@example.com", DisplayName: "Ann"})
	require.NoError(t, err)
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(&signUpPayload{Email: "not-an-email", DisplayName: "A"})
	require.Error(t, err)

	failures, ok := err.(FieldErrors)
	require.True(t, ok)
	require.Len(t, failures, 2)

	fields := []string{failures[0].Field, failures[1].Field}
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "display_name")
}
