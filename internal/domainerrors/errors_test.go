package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	t.Run("coded error", func(t *testing.T) {
		err := New(CodeConflict, "number already taken")
		assert.Equal(t, CodeConflict, CodeOf(err))
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("wrapped coded error keeps code", func(t *testing.T) {
		err := fmt.Errorf("participate: %w", New(CodeNotFound, "raffle not found"))
		assert.Equal(t, CodeNotFound, CodeOf(err))
	})

	t.Run("plain error is internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestMessageOf(t *testing.T) {
	cause := errors.New("connection refused")

	assert.Equal(t, "verification failed", MessageOf(Wrap(cause, CodeVerificationFailed, "verification failed")))
	assert.Equal(t, "internal error", MessageOf(Wrap(cause, CodeInternal, "store corrupted at row 7")))
	assert.Equal(t, "internal error", MessageOf(cause))
}

func TestWrapUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Wrap(sentinel, CodeConflict, "conflict")
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "sentinel")
}
