package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"wrapped validation", fmt.Errorf("%w: empty text", ErrValidation), http.StatusBadRequest},
		{"unreachable", fmt.Errorf("append: %w", ErrUnreachable), http.StatusServiceUnavailable},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"expired token", ErrTokenExpired, http.StatusUnauthorized},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"conflict", ErrUserAlreadyExists, http.StatusConflict},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusFromError(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindUnreachable, KindOf(fmt.Errorf("x: %w", ErrUnreachable)))
	assert.Equal(t, KindUnauthorized, KindOf(ErrForbidden))
	assert.Equal(t, KindValidation, KindOf(ErrBadRequest))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("disk on fire")))
}

func TestFromErrorHidesInternalDetails(t *testing.T) {
	apiErr := FromError(fmt.Errorf("pq: relation documents does not exist"))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Code)
	assert.Equal(t, ErrInternalServer.Error(), apiErr.Message)

	apiErr = FromError(fmt.Errorf("%w: message text is empty", ErrValidation))
	assert.Equal(t, "validation failed: message text is empty", apiErr.Message)
	assert.Equal(t, KindValidation, apiErr.Kind)
}
