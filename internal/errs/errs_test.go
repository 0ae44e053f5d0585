package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSurvivesWrap(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(Storage(base, "put record"), "enqueue")
	require.Error(t, err)
	assert.True(t, Is(err, ErrStorage))
	assert.False(t, Is(err, ErrServerError))
	assert.Contains(t, err.Error(), "disk full")
}

func TestQueueFullIsStorage(t *testing.T) {
	err := Mark(Mark(Newf("tenant %q has %d pending", "t1", 3), ErrQueueFull), ErrStorage)
	assert.True(t, Is(err, ErrQueueFull))
	assert.True(t, Is(err, ErrStorage))
	assert.False(t, Is(err, ErrInvalid))
}

func TestKindsStayDistinct(t *testing.T) {
	kinds := []error{ErrNetworkUnavailable, ErrServerError, ErrStorage, ErrQueueFull, ErrReplayFailure, ErrInvalid}
	for i, kind := range kinds {
		err := Mark(New("boom"), kind)
		for j, other := range kinds {
			assert.Equal(t, i == j, Is(err, other), "%v marked, checking %v", kind, other)
		}
	}
	assert.True(t, Is(Invalidf("bad method %s", "GET"), ErrInvalid))
}

func TestNilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "x"))
	assert.NoError(t, Storage(nil, "x"))
	assert.Equal(t, ErrServerError, Mark(nil, ErrServerError))
}
