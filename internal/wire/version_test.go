package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordVersion_Next(t *testing.T) {
	t.Parallel()

	tracked := Tracked(5)
	assert.Equal(t, Tracked(6), tracked.Next())

	untracked := Untracked()
	assert.Equal(t, untracked, untracked.Next())

	tomb := Tombstone(3)
	assert.Equal(t, tomb, tomb.Next())
}

func TestRecordVersion_Predicates(t *testing.T) {
	t.Parallel()
	assert.True(t, Tracked(1).IsTracked())
	assert.False(t, Untracked().IsTracked())
	assert.True(t, Tombstone(1).IsTombstone())
	assert.False(t, Tracked(1).IsTombstone())
}
