package txbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucentgraph/lucent/internal/wire"
)

func rid(cluster int16, pos byte) wire.RID {
	return wire.RID{ClusterID: cluster, ClusterPosition: []byte{pos}}
}

func TestBuffer_LookupDeleted(t *testing.T) {
	t.Parallel()
	b := New()
	r := rid(9, 1)
	b.Delete(r)

	entry, ok := b.Lookup(r)
	require.True(t, ok)
	assert.Same(t, DeletedMarker, entry)
}

func TestBuffer_UpdateAfterCreateCollapses(t *testing.T) {
	t.Parallel()
	b := New()
	created := &wire.Record{RID: wire.NewRID(), Bytes: []byte("v1")}
	b.Create(created)

	created.RID = rid(9, 5) // as if storage assigned this during the tx
	updated := &wire.Record{RID: created.RID, Bytes: []byte("v2")}
	b.Update(updated)

	plan := b.Plan()
	require.Len(t, plan.Created, 1)
	assert.Empty(t, plan.Updated)
	assert.Equal(t, []byte("v2"), plan.Created[0].Bytes)
}

func TestBuffer_DeleteDiscardsPendingCreate(t *testing.T) {
	t.Parallel()
	b := New()
	r := rid(9, 2)
	b.Create(&wire.Record{RID: r})
	b.Delete(r)

	plan := b.Plan()
	assert.Empty(t, plan.Created)
	require.Len(t, plan.Deleted, 1)
	assert.True(t, plan.Deleted[0].Equal(r))
}

func TestBuffer_PlanOrdersCreatedBeforeUpdatedBeforeDeleted(t *testing.T) {
	t.Parallel()
	b := New()
	b.Create(&wire.Record{RID: rid(1, 1)})
	b.Update(&wire.Record{RID: rid(2, 1)})
	b.Delete(rid(3, 1))

	plan := b.Plan()
	assert.Len(t, plan.Created, 1)
	assert.Len(t, plan.Updated, 1)
	assert.Len(t, plan.Deleted, 1)
}

func TestBuffer_RollbackClears(t *testing.T) {
	t.Parallel()
	b := New()
	b.Create(&wire.Record{RID: rid(1, 1)})
	require.True(t, b.Active())

	b.Rollback()
	assert.False(t, b.Active())
	_, ok := b.Lookup(rid(1, 1))
	assert.False(t, ok)
}
