package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("TestError", func(t *testing.T) {
		ErrBaseErr := New("base error")
		assert.Equal(t, "base error", ErrBaseErr.Error())
		assert.Equal(t, "msg", ErrBaseErr.New("msg").Error())
		assert.ErrorIs(t, ErrBaseErr, ErrBaseErr)

		ErrFirstLevel := ErrBaseErr.New("first level")
		assert.Equal(t, "first level", ErrFirstLevel.Error())
		assert.ErrorIs(t, ErrFirstLevel, ErrBaseErr)

		ErrAnotherErr := New("another error")
		ErrWrappedErr := ErrFirstLevel.Err(ErrAnotherErr)
		assert.Equal(t, "first level", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, ErrAnotherErr)

		err := pkgerrors.New("error")
		ErrWrappedErr = ErrFirstLevel.Err(err)
		assert.Equal(t, "first level", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, err)

		ErrWrappedErr = ErrFirstLevel.MsgErr("msg", err)
		assert.Equal(t, "msg", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, err)
	})

	t.Run("sentinels are not mutated", func(t *testing.T) {
		ErrSentinel := New("sentinel").SetStatusCode(http.StatusNotFound)
		derived := ErrSentinel.Msg("collection testing.demo not found")
		assert.Equal(t, "sentinel", ErrSentinel.Error())
		assert.Equal(t, "collection testing.demo not found", derived.Error())
		assert.Equal(t, http.StatusNotFound, derived.StatusCode())
		assert.ErrorIs(t, derived, ErrSentinel)

		prefixed := ErrSentinel.Prefix("sync")
		assert.Equal(t, "sync: sentinel", prefixed.Error())
		assert.Equal(t, "sync: sentinel", prefixed.Error())
		assert.Equal(t, "sentinel", ErrSentinel.Error())
	})

	t.Run("codes", func(t *testing.T) {
		ErrCoded := New("upstream").SetCode("upstream_unavailable")
		child := ErrCoded.New("timed out")
		assert.Equal(t, "upstream_unavailable", child.Code())
		wrapped := fmt.Errorf("fetch: %w", child)
		assert.Equal(t, "upstream_unavailable", CodeOf(wrapped))
		assert.Equal(t, "", CodeOf(errors.New("plain")))
	})

	t.Run("expand", func(t *testing.T) {
		e := New("outer").Err(errors.New("a"), errors.New("b")).SetExpandError(true)
		assert.Equal(t, "outer: a;b", e.ErrorAll())
		assert.Equal(t, "outer", e.Error())
	})
}
