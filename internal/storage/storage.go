// storage.go — The Storage contract: the wire-agnostic surface the
// database façade calls into. The on-disk engine, index manager, and
// schema/security metadata are external collaborators (§1); this
// package only defines the interface they must satisfy and, in
// memstore.go, a reference in-memory implementation used by tests and
// by lucentd when no persistent storage backend is configured.
package storage

import (
	"github.com/lucentgraph/lucent/internal/wire"
)

// SaveOutcome reports what happened to a record after Save, beyond the
// raw (rid, version, bytes) the façade fills back onto the record.
type SaveOutcome struct {
	RID     wire.RID
	Version wire.RecordVersion
	Bytes   []byte
	// Moved is true when storage relocated the record to a different
	// RID than requested (e.g. a replicated write rerouted elsewhere).
	// The façade must not treat this as a normal create/update for
	// cache-update and hook-selection purposes.
	Moved bool
}

// CollectionChange is one bonsai collection pointer mutation
// accumulated during a save or commit, reported back to the client per
// §6's "collection changes(proto≥20)" wire field.
type CollectionChange struct {
	FieldPath string
	OldPointer []byte
	NewPointer []byte
}

// ErrNotFound is a NotFoundError carrying no RID. MemStore returns its
// own *NotFoundError with the missing RID set, so a not-found result is
// recognized by its type (errors.As), not by comparison with ErrNotFound.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a missing RID.
type NotFoundError struct {
	RID wire.RID
}

func (e *NotFoundError) Error() string {
	if e.RID.ClusterPosition == nil {
		return "record not found"
	}
	return "record not found: " + e.RID.String()
}

// VersionConflictError reports an MVCC version mismatch: the caller's
// expected version does not match what storage currently holds.
type VersionConflictError struct {
	RID      wire.RID
	Expected wire.RecordVersion
	Actual   wire.RecordVersion
}

func (e *VersionConflictError) Error() string {
	return "concurrent modification: " + e.RID.String()
}

// Mode selects how a write should be applied: synchronous or
// fire-and-forget, mirroring the wire's write-mode byte.
type Mode int

const (
	ModeSynchronous Mode = iota
	ModeAsynchronous
)

// Storage is the external collaborator contract for record-level
// persistence. Implementations own their own locking; the façade never
// locks around a Storage call beyond the index-modification locks it
// takes itself (see internal/database).
type Storage interface {
	// Load reads a record by RID. fetchPlan and the load flags shape
	// eager-loading depth and tombstone visibility but are not
	// interpreted by Storage beyond passing them to the collaborator
	// that actually materializes eager-loaded fields.
	Load(rid wire.RID, fetchPlan string, loadTombstone bool) (*wire.Record, error)

	// Save persists record, assigning a RID if record.RID.IsNew().
	// expectedVersion is the version the caller last observed; when
	// mvccEnabled and expectedVersion.IsTracked(), storage must reject
	// with VersionConflictError if its current version differs.
	Save(record *wire.Record, expectedVersion wire.RecordVersion, mvccEnabled bool, mode Mode) (SaveOutcome, error)

	// Delete marks rid deleted (a tombstone remains in the version
	// chain). Returns a *NotFoundError if requireExists and the RID is
	// absent.
	Delete(rid wire.RID, version wire.RecordVersion, requireExists bool, mode Mode) error

	// CleanOut removes rid's tombstone entirely, leaving no trace in the
	// version chain. Used when prohibitTombstone is set on delete.
	CleanOut(rid wire.RID, version wire.RecordVersion, mode Mode) error

	// Hide marks rid hidden without firing delete hooks.
	Hide(rid wire.RID, mode Mode) error

	// ClusterBoundClass returns the class name a cluster is bound to,
	// for the cluster-by-id schema check in §4.4's algorithmic notes.
	// Returns ("", false) if the storage variant does not bind classes
	// to clusters by id.
	ClusterBoundClass(clusterID int16) (string, bool)

	// IsDistributed reports whether this storage instance is a
	// distributed storage, consulted by the hook pipeline's
	// distributed-mode filter.
	IsDistributed() bool

	// Metadata returns the schema/security metadata blob loaded at
	// open(), opaque to the façade beyond handing it to callers that
	// need it.
	Metadata() ([]byte, error)

	// Freeze and Release correspond to the wire's DB_FREEZE/DB_RELEASE
	// opcodes: suspend and resume writes for an external snapshot.
	Freeze() error
	Release() error

	// Close releases any resources Storage holds for this database.
	Close() error
}
