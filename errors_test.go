package auth_test

import (
	"errors"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-auth-server"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured token expired error",
			err:      auth.ErrTokenExpired,
			expected: true,
		},
		{
			name:     "Different structured error",
			err:      auth.ErrTokenMalformed,
			expected: false,
		},
		{
			name:     "Plain error",
			err:      errors.New("token is expired"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsTokenExpiredError(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, auth.IsNotFound(auth.ErrRecordNotFound))
	assert.True(t, auth.IsNotFound(auth.ErrIdentityNotFound))
	assert.True(t, auth.IsNotFound(auth.NewRouteNotFound("/x")))
	assert.False(t, auth.IsNotFound(auth.ErrEmailInUse))
	assert.False(t, auth.IsNotFound(errors.New("not found")))
	assert.False(t, auth.IsNotFound(nil))
}

func TestNewRouteNotFound(t *testing.T) {
	err := auth.NewRouteNotFound("/api/v2/unknown")
	assert.Equal(t, "Cannot find /api/v2/unknown on this server", err.Message)
	assert.Equal(t, auth.TextCodeRouteNotFound, err.TextCode)
}

func TestNewValidationError(t *testing.T) {
	verr := validation.Errors{
		"password": errors.New("the length must be between 8 and 72"),
		"email":    errors.New("must be a valid email address"),
		"ignored":  nil,
	}

	err := auth.NewValidationError(verr)
	require.NotNil(t, err)
	assert.Equal(t, "Validation failed", err.Message)
	assert.Equal(t, goerrors.CategoryValidation, err.Category)
	assert.Equal(t, auth.TextCodeValidationFailed, err.TextCode)

	fields := auth.ValidationFields(err)
	require.Len(t, fields, 2)
	assert.Equal(t, "email", fields[0].Field)
	assert.Equal(t, "must be a valid email address", fields[0].Message)
	assert.Equal(t, "password", fields[1].Field)
}

func TestFormatValidationErrors(t *testing.T) {
	assert.Nil(t, auth.FormatValidationErrors(nil))

	fields := auth.FormatValidationErrors(errors.New("whole payload is wrong"))
	require.Len(t, fields, 1)
	assert.Empty(t, fields[0].Field)
	assert.Equal(t, "whole payload is wrong", fields[0].Message)

	assert.Nil(t, auth.ValidationFields(nil))
	assert.Nil(t, auth.ValidationFields(auth.ErrEmailInUse))
}

func TestSentinelTextCodes(t *testing.T) {
	tests := []struct {
		err      *goerrors.Error
		category any
		textCode string
	}{
		{auth.ErrEmailInUse, goerrors.CategoryConflict, auth.TextCodeEmailInUse},
		{auth.ErrIdentityNotFound, goerrors.CategoryNotFound, auth.TextCodeUserNotFound},
		{auth.ErrTokenMissing, goerrors.CategoryAuth, auth.TextCodeTokenMissing},
		{auth.ErrTokenMalformed, goerrors.CategoryAuth, auth.TextCodeTokenInvalid},
		{auth.ErrTokenExpired, goerrors.CategoryAuth, auth.TextCodeTokenExpired},
		{auth.ErrMismatchedHashAndPassword, goerrors.CategoryAuth, auth.TextCodeInvalidCredentials},
		{auth.ErrIdentityGone, goerrors.CategoryAuth, auth.TextCodeUserNoLongerExists},
		{auth.ErrAccountInactive, goerrors.CategoryAuthz, auth.TextCodeAccountInactive},
		{auth.ErrInsufficientRole, goerrors.CategoryAuthz, auth.TextCodeInsufficientRole},
		{auth.ErrInvalidPayload, goerrors.CategoryBadInput, auth.TextCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.textCode, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.textCode, tt.err.TextCode)
			assert.True(t, auth.HasTextCode(tt.err, tt.textCode))
		})
	}
}
