package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrapPreservesSentinel(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "assembly abc")

	assert.Contains(t, wrapped.Error(), "assembly abc")
	assert.True(t, Is(wrapped, ErrNotFound))
	assert.True(t, IsNotFoundError(wrapped))
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound,
		ErrPermissionDenied,
		ErrInvalidSelection,
		ErrMissingSettings,
		ErrServiceUnavailable,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, Is(a, b), "sentinel %v should not match %v", a, b)
		}
	}
}

func TestIsPermissionDeniedError(t *testing.T) {
	err := Wrapf(ErrPermissionDenied, "actor %s on assembly %s", "u1", "a1")

	assert.True(t, IsPermissionDeniedError(err))
	assert.False(t, IsPermissionDeniedError(nil))
	assert.False(t, IsPermissionDeniedError(New("other")))
}

func TestNewInvalidSelectionError(t *testing.T) {
	err := NewInvalidSelectionError("target count %d must be positive", -3)

	require.True(t, IsInvalidSelectionError(err))
	assert.Contains(t, err.Error(), "target count -3 must be positive")
}

func TestWithDetail(t *testing.T) {
	err := New("error")
	withDetail := WithDetail(err, "Task ID: run_123")

	details := GetAllDetails(withDetail)
	require.Len(t, details, 1)
	assert.Equal(t, "Task ID: run_123", details[0])
}
