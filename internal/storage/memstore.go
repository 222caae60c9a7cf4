// memstore.go — Reference in-memory Storage implementation. Used by
// lucentd's test harness and by any deployment that hasn't wired a
// persistent storage collaborator. Not a substitute for an on-disk
// engine: all state is lost on process exit.
package storage

import (
	"sync"

	"github.com/lucentgraph/lucent/internal/wire"
)

// MemStore is a Storage backed by an in-process map, keyed by RID. It
// assigns sequential cluster positions per cluster id, mirroring how a
// real cluster allocates the next free position on create.
type MemStore struct {
	mu            sync.Mutex
	records       map[string]*wire.Record
	nextPosition  map[int16]int64
	clusterClass  map[int16]string
	posWidth      int
	distributed   bool
	frozen        bool
}

// NewMemStore returns an empty MemStore using posWidth-byte cluster
// positions (see wire.DefaultPositionWidth).
func NewMemStore(posWidth int) *MemStore {
	return &MemStore{
		records:      make(map[string]*wire.Record),
		nextPosition: make(map[int16]int64),
		clusterClass: make(map[int16]string),
		posWidth:     posWidth,
	}
}

// BindClusterClass registers that clusterID is bound to className, for
// the cluster-by-id schema check.
func (m *MemStore) BindClusterClass(clusterID int16, className string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusterClass[clusterID] = className
}

func (m *MemStore) positionBytes(n int64) []byte {
	buf := make([]byte, m.posWidth)
	for i := m.posWidth - 1; i >= 0 && n > 0; i-- {
		buf[i] = byte(n)
		n >>= 8
	}
	return buf
}

func (m *MemStore) Load(rid wire.RID, _ string, loadTombstone bool) (*wire.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[rid.Key()]
	if !ok {
		return nil, &NotFoundError{RID: rid}
	}
	if rec.Version.IsTombstone() && !loadTombstone {
		return nil, &NotFoundError{RID: rid}
	}
	return rec.Clone(), nil
}

func (m *MemStore) Save(record *wire.Record, expectedVersion wire.RecordVersion, mvccEnabled bool, _ Mode) (SaveOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.RID.IsNew() {
		clusterID := record.RID.ClusterID
		if clusterID < 0 {
			clusterID = 0
		}
		pos := m.nextPosition[clusterID]
		m.nextPosition[clusterID] = pos + 1
		record.RID = wire.RID{ClusterID: clusterID, ClusterPosition: m.positionBytes(pos)}
		record.Version = wire.Tracked(1)
		stored := record.Clone()
		m.records[record.RID.Key()] = stored
		return SaveOutcome{RID: record.RID, Version: record.Version, Bytes: record.Bytes}, nil
	}

	key := record.RID.Key()
	existing, ok := m.records[key]
	if !ok {
		return SaveOutcome{}, &NotFoundError{RID: record.RID}
	}
	if mvccEnabled && expectedVersion.IsTracked() && existing.Version.Counter != expectedVersion.Counter {
		return SaveOutcome{}, &VersionConflictError{RID: record.RID, Expected: expectedVersion, Actual: existing.Version}
	}

	newVersion := existing.Version.Next()
	if !mvccEnabled || !expectedVersion.IsTracked() {
		newVersion = wire.Untracked()
	}
	record.Version = newVersion
	stored := record.Clone()
	m.records[key] = stored
	return SaveOutcome{RID: record.RID, Version: record.Version, Bytes: record.Bytes}, nil
}

func (m *MemStore) Delete(rid wire.RID, version wire.RecordVersion, requireExists bool, _ Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[rid.Key()]
	if !ok {
		if requireExists {
			return &NotFoundError{RID: rid}
		}
		return nil
	}
	if version.IsTracked() && existing.Version.Counter != version.Counter {
		return &VersionConflictError{RID: rid, Expected: version, Actual: existing.Version}
	}
	existing.Version = wire.Tombstone(existing.Version.Counter)
	existing.Bytes = nil
	return nil
}

func (m *MemStore) CleanOut(rid wire.RID, _ wire.RecordVersion, _ Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, rid.Key())
	return nil
}

func (m *MemStore) Hide(rid wire.RID, _ Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[rid.Key()]
	if !ok {
		return &NotFoundError{RID: rid}
	}
	existing.Version = wire.Tombstone(existing.Version.Counter)
	return nil
}

func (m *MemStore) ClusterBoundClass(clusterID int16) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	class, ok := m.clusterClass[clusterID]
	return class, ok
}

func (m *MemStore) IsDistributed() bool { return m.distributed }

func (m *MemStore) Metadata() ([]byte, error) {
	return []byte("{}"), nil
}

func (m *MemStore) Freeze() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
	return nil
}

func (m *MemStore) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = false
	return nil
}

func (m *MemStore) Close() error {
	return nil
}
