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
	wrapped := Wrap(ErrLockConflict, "field score_band in module leads")

	assert.Contains(t, wrapped.Error(), "score_band")
	assert.True(t, Is(wrapped, ErrLockConflict))
	assert.False(t, Is(wrapped, ErrNotFound))
}

func TestIsLockConflictError(t *testing.T) {
	assert.False(t, IsLockConflictError(nil))
	assert.False(t, IsLockConflictError(New("other")))
	assert.True(t, IsLockConflictError(ErrLockConflict))
	assert.True(t, IsLockConflictError(Wrap(ErrLockConflict, "wrapped")))
}

func TestIsInvalidScheduleError(t *testing.T) {
	assert.True(t, IsInvalidScheduleError(Wrapf(ErrInvalidSchedule, "cadence %q", "fortnightly")))
	assert.False(t, IsInvalidScheduleError(ErrNotFound))
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("formula %s", "abc123")

	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "formula abc123")
}

func TestHintsSurviveWrapping(t *testing.T) {
	err := WithHint(New("bad formula"), "check the field names")
	err = Wrap(err, "validation")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "check the field names", hints[0])
}
