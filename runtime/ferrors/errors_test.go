package ferrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/ferrors"
)

func TestContract8AMarker(t *testing.T) {
	err := ferrors.Contract8A("state surface")
	assert.Contains(t, err.Error(), "Platform contract §8A")
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.Contract8A, kind)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := ferrors.Wrap(ferrors.HandlerFailed, cause, "realm panicked")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestKindOfNonFerror(t *testing.T) {
	_, ok := ferrors.KindOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestIsMatchesByKind(t *testing.T) {
	a := ferrors.New(ferrors.Validation, "missing tenant id")
	b := ferrors.New(ferrors.Validation, "missing session id")
	assert.True(t, errors.Is(a, b))

	c := ferrors.New(ferrors.Authorization, "denied")
	assert.False(t, errors.Is(a, c))
}
