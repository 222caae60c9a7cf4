// record.go — The in-memory Record and its lifecycle status.
package wire

// Status tracks where a Record sits in its load/save lifecycle.
type Status uint8

const (
	StatusNotLoaded Status = iota
	StatusLoaded
	StatusMarshalling
)

// RecordType is the single byte tag distinguishing document, flat, and
// edge-bag records on the wire. The storage collaborator assigns meaning
// to specific values; this package only carries the byte through.
type RecordType byte

// Record is a loaded or pending database record. Bytes holds the
// serialized body produced by the configured serializer; Dirty tracks
// whether Bytes needs to be regenerated (or already reflects) in-memory
// field changes made by a caller above this layer.
type Record struct {
	RID     RID
	Version RecordVersion
	Type    RecordType
	Bytes   []byte
	Dirty   bool
	Status  Status
}

// NewRecord constructs a record pending creation: a placeholder RID, an
// untracked version, and Dirty set so the first Save always proceeds.
func NewRecord(recordType RecordType, bytes []byte) *Record {
	return &Record{
		RID:     NewRID(),
		Version: Untracked(),
		Type:    recordType,
		Bytes:   bytes,
		Dirty:   true,
		Status:  StatusNotLoaded,
	}
}

// ReadyToSave reports the invariant that a dirty record must carry a
// non-empty body before it may be handed to storage.
func (r *Record) ReadyToSave() bool {
	if !r.Dirty {
		return false
	}
	if r.Version.IsTombstone() {
		// Tombstones are opaque: they carry no body to validate.
		return true
	}
	return len(r.Bytes) > 0
}

// Clone returns a shallow copy safe to hand to a different owner (cache,
// tx buffer, caller) without aliasing mutation of the byte slice across
// owners. The byte slice contents are copied; RID.ClusterPosition is
// copied as well since it too is a slice.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Bytes != nil {
		cp.Bytes = make([]byte, len(r.Bytes))
		copy(cp.Bytes, r.Bytes)
	}
	if r.RID.ClusterPosition != nil {
		cp.RID.ClusterPosition = make([]byte, len(r.RID.ClusterPosition))
		copy(cp.RID.ClusterPosition, r.RID.ClusterPosition)
	}
	return &cp
}
