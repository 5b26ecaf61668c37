package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapError_Categories(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"rate limit", errors.New("429 Too Many Requests: rate limit"), ErrTransient},
		{"auth", errors.New("401 unauthorized: invalid api key"), ErrPermissionDenied},
		{"network", errors.New("dial tcp: connection refused"), ErrTransient},
		{"unknown", errors.New("boom"), ErrInternal},
		{"already categorized", Transient("queue full"), ErrTransient},
		{"model call wrapping auth", fmt.Errorf("%w: anthropic: 403 forbidden", ErrModelCall), ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, MapError(tt.err), tt.want)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(PermissionDenied("nope")))
	assert.False(t, IsRetryable(fmt.Errorf("%w: status 401 unauthorized", ErrModelCall)))
	assert.True(t, IsRetryable(fmt.Errorf("%w: connection reset", ErrModelCall)))
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(ErrQuotaTracking))
	assert.True(t, IsRetryable(InvalidInput("session id is required")))
}

func TestDescribe_ProviderBadRequestIsRetryable(t *testing.T) {
	for _, err := range []error{
		WrapWithCategory(errors.New("POST /v1/messages: 400 Bad Request"), "claude-sonnet", ErrModelCall),
		fmt.Errorf("%w: invalid request: prompt too long", ErrModelCall),
	} {
		desc := Describe(err)
		assert.True(t, desc.Retryable, err.Error())
		assert.NotContains(t, desc.Suggestion, "not authorized")
	}
}

func TestDescribe(t *testing.T) {
	desc := Describe(fmt.Errorf("%w: overloaded", ErrModelCall))
	assert.True(t, desc.Retryable)
	assert.NotEmpty(t, desc.Suggestion)
	assert.Contains(t, desc.Message, "overloaded")

	denied := Describe(PermissionDenied("api key revoked"))
	assert.False(t, denied.Retryable)
	assert.Contains(t, denied.Suggestion, "not authorized")

	assert.Equal(t, Description{}, Describe(nil))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, "ErrQuotaExceeded", Category(fmt.Errorf("session s1: %w", ErrQuotaExceeded)))
	assert.Equal(t, "ErrQuotaTracking", Category(ErrQuotaTracking))
	assert.Equal(t, "Unknown", Category(errors.New("x")))
	assert.Equal(t, "", Category(nil))
}

func TestWrapWithCategory_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapWithCategory(cause, "increment counter", ErrQuotaTracking)
	assert.ErrorIs(t, err, ErrQuotaTracking)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, WrapWithCategory(nil, "x", ErrInternal))
}
