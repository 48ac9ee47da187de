package raikkonen

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStructuredError(t *testing.T) {
	inner := errors.New("invalid bytecode length")
	err := NewError("parse", ErrBytecode, inner)

	assert.Equal(t, "parse", err.Op)
	assert.Equal(t, ErrBytecode, err.Code)
	assert.Equal(t, "raikkonen: invalid bytecode length (op=parse)", err.Error())
}

func TestStateScopedError(t *testing.T) {
	err := NewStateError("enter_state", "writer", ErrRuntime, ErrNoHandler)

	assert.Equal(t, "writer", err.State)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestWrapErrorPreservesCategory(t *testing.T) {
	inner := NewError("negotiate", ErrProtocol, errors.New("bad magic"))
	wrapped := WrapError("scheduler.run", inner)

	assert.Equal(t, "scheduler.run", wrapped.Op)
	assert.Equal(t, ErrProtocol, wrapped.Code)
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))
}

func TestWrapErrorUncategorized(t *testing.T) {
	wrapped := WrapError("op", errors.New("boom"))
	assert.Equal(t, ErrRuntime, wrapped.Code)
}

func TestIsCode(t *testing.T) {
	err := NewError("enter_state", ErrResource, errors.New("cap reached"))

	assert.True(t, IsCode(err, ErrResource))
	assert.False(t, IsCode(err, ErrProtocol))
	assert.False(t, IsCode(nil, ErrResource))
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := &Error{Code: ErrBytecode}
	b := &Error{Code: ErrBytecode}
	c := &Error{Code: ErrProtocol}

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}
