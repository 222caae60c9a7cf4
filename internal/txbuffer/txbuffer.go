// txbuffer.go — In-memory transaction buffer: the set of created,
// updated, and deleted records accumulated during a transaction and
// replayed to storage at commit.
package txbuffer

import (
	"github.com/lucentgraph/lucent/internal/wire"
)

// EntryKind discriminates what a TxBuffer entry represents.
type EntryKind int

const (
	EntryCreated EntryKind = iota
	EntryUpdated
	EntryDeleted
)

// Entry is one buffered operation, keyed by RID in the buffer's maps.
type Entry struct {
	Kind   EntryKind
	Record *wire.Record // nil for EntryDeleted
}

// DeletedMarker is returned by Lookup when the RID was deleted in this
// transaction: callers must treat this as "does not exist" without
// consulting cache or storage.
var DeletedMarker = &Entry{Kind: EntryDeleted}

// Buffer accumulates the operations of one in-flight transaction. A
// RID that appears in created and is later updated in the same
// transaction collapses into a single created entry carrying the final
// record state, per the commit-ordering rule in §4.6.
type Buffer struct {
	created map[string]*wire.Record
	updated map[string]*wire.Record
	deleted map[string]wire.RID

	// createdOrder and updatedOrder preserve insertion order so commit
	// replays operations deterministically.
	createdOrder []string
	updatedOrder []string

	active bool
}

// New returns a Buffer with an active transaction already begun.
func New() *Buffer {
	b := &Buffer{}
	b.Begin()
	return b
}

// Begin resets the buffer to a fresh, active transaction.
func (b *Buffer) Begin() {
	b.created = make(map[string]*wire.Record)
	b.updated = make(map[string]*wire.Record)
	b.deleted = make(map[string]wire.RID)
	b.createdOrder = nil
	b.updatedOrder = nil
	b.active = true
}

// Active reports whether a transaction is currently open.
func (b *Buffer) Active() bool {
	return b.active
}

// Create buffers a new record. The RID is expected to still be "new"
// (clusterId unassigned) at enqueue time, per the data model invariant.
func (b *Buffer) Create(record *wire.Record) {
	key := record.RID.Key()
	if _, exists := b.created[key]; !exists {
		b.createdOrder = append(b.createdOrder, key)
	}
	b.created[key] = record
	delete(b.deleted, key)
}

// Update buffers a record mutation. If the RID was created earlier in
// this same transaction, the update collapses into the create: the
// created entry is replaced with the record's final state rather than
// tracked as a separate updated entry, so commit need not reconcile two
// versions of the same not-yet-persisted record.
func (b *Buffer) Update(record *wire.Record) {
	key := record.RID.Key()
	if _, wasCreated := b.created[key]; wasCreated {
		b.created[key] = record
		return
	}
	// A created record whose RID was reassigned after it was buffered is
	// still matched by its current RID.
	for createdKey, r := range b.created {
		if r.RID.Equal(record.RID) {
			b.created[createdKey] = record
			return
		}
	}
	if _, exists := b.updated[key]; !exists {
		b.updatedOrder = append(b.updatedOrder, key)
	}
	b.updated[key] = record
	delete(b.deleted, key)
}

// Delete buffers a deletion. Any pending create or update for the same
// RID is discarded: the net effect of the transaction for that RID is
// deletion.
func (b *Buffer) Delete(rid wire.RID) {
	key := rid.Key()
	delete(b.created, key)
	delete(b.updated, key)
	b.deleted[key] = rid
}

// Lookup reports how rid is currently staged in this transaction. It
// returns (nil, false) when the RID has no pending operation, in which
// case the caller should fall through to cache/storage.
func (b *Buffer) Lookup(rid wire.RID) (*Entry, bool) {
	key := rid.Key()
	if _, isDeleted := b.deleted[key]; isDeleted {
		return DeletedMarker, true
	}
	if r, ok := b.created[key]; ok {
		return &Entry{Kind: EntryCreated, Record: r}, true
	}
	if r, ok := b.updated[key]; ok {
		return &Entry{Kind: EntryUpdated, Record: r}, true
	}
	return nil, false
}

// ReplayPlan returns the buffered operations in commit order: created
// records first, then updates, then deletes. This ordering lets storage
// resolve newly assigned RIDs before any update or delete that might
// reference them.
type ReplayPlan struct {
	Created []*wire.Record
	Updated []*wire.Record
	Deleted []wire.RID
}

// Plan produces the ReplayPlan for commit, in the order created →
// updated → deleted, each list in original insertion order.
func (b *Buffer) Plan() ReplayPlan {
	plan := ReplayPlan{
		Created: make([]*wire.Record, 0, len(b.createdOrder)),
		Updated: make([]*wire.Record, 0, len(b.updatedOrder)),
		Deleted: make([]wire.RID, 0, len(b.deleted)),
	}
	for _, key := range b.createdOrder {
		if r, ok := b.created[key]; ok {
			plan.Created = append(plan.Created, r)
		}
	}
	for _, key := range b.updatedOrder {
		if r, ok := b.updated[key]; ok {
			plan.Updated = append(plan.Updated, r)
		}
	}
	for _, rid := range b.deleted {
		plan.Deleted = append(plan.Deleted, rid)
	}
	return plan
}

// Rollback discards all buffered operations and marks the transaction
// inactive. Callers are responsible for reverting any identity changes
// already handed out by listener callbacks.
func (b *Buffer) Rollback() {
	b.created = nil
	b.updated = nil
	b.deleted = nil
	b.createdOrder = nil
	b.updatedOrder = nil
	b.active = false
}

// Commit marks the transaction inactive after a successful replay. It
// does not clear the maps — callers typically discard the Buffer after
// commit and allocate a fresh one for the next transaction via New.
func (b *Buffer) Commit() {
	b.active = false
}
