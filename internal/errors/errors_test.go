package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "room not found")
		assert.Equal(t, "NOT_FOUND: room not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(ErrCodeStoreUnavailable, "store unavailable", cause)
		assert.Contains(t, err.Error(), "STORE_UNAVAILABLE")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause sets Unwrap target", func(t *testing.T) {
		cause := errors.New("boom")
		err := New(ErrCodeFatal, "invariant violated").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails attaches arbitrary detail", func(t *testing.T) {
		details := map[string]string{"field": "intent"}
		err := New(ErrCodeInvalidArgument, "bad intent").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"AuthFailure", func() *AppError { return AuthFailure("bad handshake") }, ErrCodeAuthFailure},
		{"InvalidToken", InvalidToken, ErrCodeAuthFailure},
		{"ExpiredToken", ExpiredToken, ErrCodeAuthFailure},
		{"UnknownSession", UnknownSession, ErrCodeAuthFailure},
		{"NotAuthorized", func() *AppError { return NotAuthorized("not your room") }, ErrCodeNotAuthorized},
		{"RateLimited", RateLimited, ErrCodeRateLimited},
		{"InvalidArgument", func() *AppError { return InvalidArgument("bad medium") }, ErrCodeInvalidArgument},
		{"PayloadTooLarge", PayloadTooLarge, ErrCodeInvalidArgument},
		{"Conflict", func() *AppError { return Conflict("already has a room") }, ErrCodeConflict},
		{"NotFound", func() *AppError { return NotFound("room") }, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor()
			assert.Equal(t, tt.expectedCode, err.Code)
		})
	}
}

func TestAsAppError(t *testing.T) {
	t.Run("recognizes AppError", func(t *testing.T) {
		err := NotFound("session")
		appErr, ok := AsAppError(err)
		require := assert.New(t)
		require.True(ok)
		require.Equal(ErrCodeNotFound, appErr.Code)
	})

	t.Run("rejects plain errors", func(t *testing.T) {
		_, ok := AsAppError(errors.New("plain"))
		assert.False(t, ok)
	})

	t.Run("GetCode defaults to Fatal for plain errors", func(t *testing.T) {
		assert.Equal(t, ErrCodeFatal, GetCode(errors.New("plain")))
	})
}
