package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	cause := errors.New("connection refused")

	t.Run("direct code", func(t *testing.T) {
		err := New(CodeNotFound, "session not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("nested codes are all visible", func(t *testing.T) {
		inner := Wrap(cause, CodeExternalService, "registrar unreachable")
		outer := Wrap(inner, CodePersistence, "stage not saved")
		assert.True(t, HasCode(outer, CodePersistence))
		assert.True(t, HasCode(outer, CodeExternalService))
		assert.ErrorIs(t, outer, cause)
	})

	t.Run("fmt wrapped coded error", func(t *testing.T) {
		err := fmt.Errorf("load: %w", New(CodeTimeout, "deadline"))
		assert.True(t, Is(err, CodeTimeout))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(cause, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(cause))
	})
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(errors.New("boom"), CodeInternal, "save failed")
	assert.Equal(t, "save failed: boom", err.Error())
	assert.Equal(t, "save failed", MessageOf(err))
	assert.Equal(t, CodeInternal, CodeOf(err))
}
