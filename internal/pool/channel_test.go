package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_CloseNotifiesListenerExactlyOnce(t *testing.T) {
	t.Parallel()
	ch := NewChannel("proto://host", &fakeConn{}, 8)
	var calls int
	ch.setOnClose(func(*Channel) { calls++ })

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, 1, calls)
	assert.False(t, ch.IsConnected())
}

func TestChannel_TryReleaseRejectsStaleToken(t *testing.T) {
	t.Parallel()
	ch := NewChannel("proto://host", &fakeConn{}, 8)

	tok1 := ch.markAcquired()
	assert.True(t, ch.tryRelease(tok1))

	tok2 := ch.markAcquired()
	assert.False(t, ch.tryRelease(tok1), "stale token from a prior borrow must not release the current one")
	assert.True(t, ch.tryRelease(tok2))
}

func TestChannel_TryReleaseRejectsDoubleReleaseSameToken(t *testing.T) {
	t.Parallel()
	ch := NewChannel("proto://host", &fakeConn{}, 8)
	tok := ch.markAcquired()

	assert.True(t, ch.tryRelease(tok))
	assert.False(t, ch.tryRelease(tok))
}
