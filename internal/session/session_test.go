package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OpenAssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s1 := r.Open(24, "binary")
	s2 := r.Open(24, "binary")

	assert.Equal(t, s1.ID+1, s2.ID)
	assert.NotEmpty(t, s1.ClientID)
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_LookupUnknownSession(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.Lookup(999)
	require.Error(t, err)
	var unknown *UnknownSessionError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistry_CloseRemovesSession(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s := r.Open(24, "binary")
	r.Close(s.ID)

	_, err := r.Lookup(s.ID)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Count())
}

func TestSession_BindAndRecordCommand(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	s := r.Open(24, "binary")

	assert.Equal(t, "", s.BoundDatabase())
	s.BindDatabase("widgets")
	assert.Equal(t, "widgets", s.BoundDatabase())

	at := time.Now()
	s.RecordCommand(at)
	s.RecordCommand(at)
	lastAt, count := s.Stats()
	assert.Equal(t, at, lastAt)
	assert.Equal(t, int64(2), count)
}
