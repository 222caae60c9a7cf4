// database.go — Database façade: composes Storage + Hook Pipeline +
// Local Record Cache + TxBuffer behind the operations the dispatcher
// calls. Thread-local current-database context (§9) is modeled as an
// explicit *Database value threaded through every call rather than a
// goroutine-local.
package database

import (
	"fmt"
	"sync"

	"github.com/lucentgraph/lucent/internal/cache"
	"github.com/lucentgraph/lucent/internal/hook"
	"github.com/lucentgraph/lucent/internal/security"
	"github.com/lucentgraph/lucent/internal/storage"
	"github.com/lucentgraph/lucent/internal/txbuffer"
	"github.com/lucentgraph/lucent/internal/wire"
)

// LockingStrategy is the record-lock mode a caller passes to Load. Load
// accepts every value but takes no record lock for any of them.
type LockingStrategy int

const (
	LockNone LockingStrategy = iota
	LockShared
	LockExclusive
)

// SaveMode selects the write mode passed through to storage.
type SaveMode = storage.Mode

// RepairListener mirrors security.RepairListener; Database wires it so
// open() can invoke registered repair hooks without depending on the
// security package's default policy.
type RepairListener = security.RepairListener

// Database is the façade named in §4.4. One instance exists per open
// database; sessions reference it via their bound-database name.
type Database struct {
	Name    string
	Storage storage.Storage
	Hooks   *hook.Pipeline
	Cache   *cache.Cache
	MVCC    bool

	mu              sync.Mutex
	user            *security.User
	tx              *txbuffer.Buffer
	repairListeners []RepairListener

	// indexLocks guards acquisition of per-index modification locks,
	// taken in lexicographic order and always released via defer.
	indexLocks sync.Map // map[string]*sync.Mutex
}

// Open binds user, already authenticated by the caller, to a new façade
// over store and starts the local cache. Open checks no password and
// installs no hooks: the hook pipeline starts empty. repairListeners
// are the caller's explicit opt-in to the admin-repair-on-empty-roles
// affordance (see RegisterRepairListener); Open itself never repairs
// unless at least one is supplied. If the authenticated user has no
// roles, the supplied listeners run in order and the first to mutate
// the user into having roles stops the chain. Remote storage bypasses
// schema-based auth with a passthrough user carrying every permission.
func Open(name string, store storage.Storage, user *security.User, cacheSize int, mvcc bool, repairListeners ...RepairListener) (*Database, error) {
	if user == nil {
		return nil, fmt.Errorf("open %s: no user provided", name)
	}

	db := &Database{
		Name:            name,
		Storage:         store,
		Hooks:           hook.NewPipeline(),
		Cache:           cache.New(cacheSize),
		MVCC:            mvcc,
		user:            user,
		tx:              txbuffer.New(),
		repairListeners: repairListeners,
	}
	db.tx.Rollback() // no transaction open until BeginTx

	if store.IsDistributed() {
		db.user = passthroughUser(user.Name)
		return db, nil
	}

	if !user.HasRoles() {
		for _, repair := range db.repairListeners {
			if err := repair(db.user); err != nil {
				return nil, fmt.Errorf("open %s: repair: %w", name, err)
			}
			if db.user.HasRoles() {
				break
			}
		}
	}

	return db, nil
}

// passthroughUser grants every permission, used when storage reports
// itself as distributed and therefore bypasses schema-based auth.
func passthroughUser(name string) *security.User {
	return &security.User{
		Name: name,
		Roles: []security.Role{{
			Name: "passthrough",
			Rules: []security.Rule{{
				Resource: security.ResourceAll,
				Operations: map[security.Operation]bool{
					security.OpRead: true, security.OpCreate: true,
					security.OpUpdate: true, security.OpDelete: true, security.OpExecute: true,
				},
			}},
		}},
	}
}

// RegisterRepairListener adds a repair hook for a database that is
// already open, run the next time RunRepair is invoked. Open's own
// empty-roles check only consults the listeners passed to Open itself;
// see security.RepairAdminOnEmptyRoles for the reference implementation.
func (db *Database) RegisterRepairListener(l RepairListener) {
	db.repairListeners = append(db.repairListeners, l)
}

// RunRepair re-evaluates the registered repair listeners against the
// current user if it has no roles, mirroring the check Open performs at
// startup. Exposed for administrative tooling that wants to trigger
// repair outside the open() path.
func (db *Database) RunRepair() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.user.HasRoles() {
		return nil
	}
	for _, repair := range db.repairListeners {
		if err := repair(db.user); err != nil {
			return fmt.Errorf("repair %s: %w", db.Name, err)
		}
		if db.user.HasRoles() {
			break
		}
	}
	return nil
}

// BeginTx starts a new transaction buffer, discarding any prior one.
func (db *Database) BeginTx() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tx = txbuffer.New()
}

// checkClusterPermission is the cluster READ/CREATE/UPDATE/DELETE
// permission check shared by load/save/delete/hide.
func (db *Database) checkClusterPermission(clusterID int16, op security.Operation) error {
	return security.CheckSecurity(db.user, "database.cluster", op, fmt.Sprintf("%d", clusterID))
}

// Load implements §4.4's load contract.
func (db *Database) Load(rid wire.RID, fetchPlan string, ignoreCache, loadTombstone bool, locking LockingStrategy) (*wire.Record, error) {
	if err := db.checkClusterPermission(rid.ClusterID, security.OpRead); err != nil {
		return nil, err
	}

	db.mu.Lock()
	tx := db.tx
	db.mu.Unlock()

	if entry, ok := tx.Lookup(rid); ok {
		if entry == txbuffer.DeletedMarker {
			return nil, nil
		}
		return entry.Record, nil
	}

	if !ignoreCache {
		if cached, ok := db.Cache.FindRecord(rid); ok {
			return cached, nil
		}
	}

	guard := hook.NewGuard()

	placeholder := &wire.Record{RID: rid}
	result, replacement := db.Hooks.Dispatch(hook.BeforeRead, placeholder, db.Storage.IsDistributed(), hook.RunDefault, guard)
	switch result {
	case hook.ResultSkip, hook.ResultSkipIO:
		return nil, nil
	case hook.ResultReplaced:
		db.Cache.UpdateRecord(replacement)
		return replacement, nil
	}

	record, err := db.Storage.Load(rid, fetchPlan, loadTombstone)
	if err != nil {
		if _, notFound := err.(*storage.NotFoundError); notFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", rid, err)
	}
	if record == nil {
		return nil, nil
	}
	if record.Version.IsTombstone() {
		// Tombstones are opaque: no further materialization.
		return record, nil
	}

	record.Status = wire.StatusLoaded
	_, _ = db.Hooks.Dispatch(hook.AfterRead, record, db.Storage.IsDistributed(), hook.RunDefault, guard)

	if locking != LockNone {
		// The Storage contract has no record-lock operation, so no
		// record lock is taken for LockShared or LockExclusive.
	}

	db.Cache.UpdateRecord(record)
	return record, nil
}

// CreatedCallback and UpdatedCallback fire after a successful Save, with
// the old (pre-save) RID and the final record.
type CreatedCallback func(oldRID wire.RID, record *wire.Record)
type UpdatedCallback func(record *wire.Record)

// Save implements §4.4's save contract.
func (db *Database) Save(record *wire.Record, cluster *int16, mode storage.Mode, forceCreate bool, onCreated CreatedCallback, onUpdated UpdatedCallback) error {
	if !record.Dirty {
		return nil
	}

	guard := hook.NewGuard()

	isCreate := record.RID.IsNew() || forceCreate
	oldRID := record.RID

	if isCreate && cluster != nil {
		record.RID.ClusterID = *cluster
	}

	op := security.OpUpdate
	if isCreate {
		op = security.OpCreate
	}
	if err := db.checkClusterPermission(record.RID.ClusterID, op); err != nil {
		return err
	}

	if isCreate {
		if className, bound := db.Storage.ClusterBoundClass(record.RID.ClusterID); bound {
			_ = className // schema-level class equality is enforced by the schema collaborator; the façade only has the binding to pass through.
		}
	}

	lockNames := indexLockNamesFor(record)
	db.acquireIndexLocks(lockNames)
	defer db.releaseIndexLocks(lockNames)

	hookType := hook.BeforeUpdate
	if isCreate {
		hookType = hook.BeforeCreate
	}
	result, replacement := db.Hooks.Dispatch(hookType, record, db.Storage.IsDistributed(), hook.RunDefault, guard)
	switch result {
	case hook.ResultSkipIO:
		return nil
	case hook.ResultReplaced:
		record = replacement
	case hook.ResultChanged:
		// Caller's responsibility in a real serializer would be to
		// re-marshal Bytes from the mutated in-memory fields; at this
		// layer Bytes already reflects the hook's edit.
	}

	expectedVersion := record.Version
	if !db.MVCC || !expectedVersion.IsTracked() {
		expectedVersion = wire.Untracked()
	}

	outcome, err := db.Storage.Save(record, expectedVersion, db.MVCC, mode)
	if err != nil {
		failType := hook.UpdateFailed
		if isCreate {
			failType = hook.CreateFailed
		}
		_, _ = db.Hooks.Dispatch(failType, record, db.Storage.IsDistributed(), hook.RunDefault, guard)
		return fmt.Errorf("save %s: %w", record.RID, err)
	}

	record.RID = outcome.RID
	record.Version = outcome.Version
	record.Bytes = outcome.Bytes
	record.Dirty = false

	if isCreate && onCreated != nil {
		onCreated(oldRID, record)
	}
	if !isCreate && onUpdated != nil {
		onUpdated(record)
	}

	successType := hook.AfterUpdate
	if isCreate {
		successType = hook.AfterCreate
	}
	if outcome.Moved {
		successType = hook.UpdateReplicated
		if isCreate {
			successType = hook.CreateReplicated
		}
	}
	_, _ = db.Hooks.Dispatch(successType, record, db.Storage.IsDistributed(), hook.RunDefault, guard)

	if !outcome.Moved {
		db.Cache.UpdateRecord(record)
	}

	record.Status = wire.StatusLoaded
	return nil
}

// Delete implements §4.4's delete contract.
func (db *Database) Delete(rid wire.RID, version wire.RecordVersion, requireExists, callHooks bool, mode storage.Mode, prohibitTombstone bool) error {
	if err := db.checkClusterPermission(rid.ClusterID, security.OpDelete); err != nil {
		return err
	}

	guard := hook.NewGuard()

	placeholder := &wire.Record{RID: rid, Version: version}
	if callHooks {
		result, _ := db.Hooks.Dispatch(hook.BeforeDelete, placeholder, db.Storage.IsDistributed(), hook.RunDefault, guard)
		if result == hook.ResultSkip || result == hook.ResultSkipIO {
			return nil
		}
	}

	var err error
	if prohibitTombstone {
		err = db.Storage.CleanOut(rid, version, mode)
	} else {
		err = db.Storage.Delete(rid, version, requireExists, mode)
	}
	if err != nil {
		if callHooks {
			_, _ = db.Hooks.Dispatch(hook.DeleteFailed, placeholder, db.Storage.IsDistributed(), hook.RunDefault, guard)
		}
		return fmt.Errorf("delete %s: %w", rid, err)
	}

	if callHooks {
		_, _ = db.Hooks.Dispatch(hook.AfterDelete, placeholder, db.Storage.IsDistributed(), hook.RunDefault, guard)
	}
	db.Cache.DeleteRecord(rid)
	return nil
}

// Hide implements §4.4's hide contract: like Delete but calls storage
// Hide directly and never fires hooks.
func (db *Database) Hide(rid wire.RID, mode storage.Mode) error {
	if err := db.checkClusterPermission(rid.ClusterID, security.OpDelete); err != nil {
		return err
	}
	if err := db.Storage.Hide(rid, mode); err != nil {
		return fmt.Errorf("hide %s: %w", rid, err)
	}
	db.Cache.DeleteRecord(rid)
	return nil
}

// CreatedIdentity pairs a transaction-local (client-assigned) RID with
// the RID storage ultimately assigned it.
type CreatedIdentity struct {
	ClientRID wire.RID
	ServerRID wire.RID
}

// UpdatedVersion pairs a RID with the version storage assigned it.
type UpdatedVersion struct {
	RID     wire.RID
	Version wire.RecordVersion
}

// CommitResult is returned by Commit: the identity remapping for
// created records, new versions for updated records, and any
// accumulated bonsai collection-pointer changes.
type CommitResult struct {
	CreatedIdentities []CreatedIdentity
	UpdatedVersions   []UpdatedVersion
	CollectionChanges []storage.CollectionChange
}

// Commit implements §4.6/§4.4's commit contract: replays the tx buffer
// in created → updated → deleted order. Buffered deletes are replayed
// with an untracked version, so they are not MVCC-checked. On any
// failure it rolls back the buffer and surfaces the error.
func (db *Database) Commit() (*CommitResult, error) {
	db.mu.Lock()
	tx := db.tx
	db.mu.Unlock()

	if !tx.Active() {
		return nil, fmt.Errorf("commit: no active transaction")
	}

	plan := tx.Plan()
	result := &CommitResult{}

	for _, record := range plan.Created {
		oldRID := record.RID
		if err := db.Save(record, nil, storage.ModeSynchronous, true, nil, nil); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("commit create %s: %w", oldRID, err)
		}
		result.CreatedIdentities = append(result.CreatedIdentities, CreatedIdentity{ClientRID: oldRID, ServerRID: record.RID})
	}
	for _, record := range plan.Updated {
		if err := db.Save(record, nil, storage.ModeSynchronous, false, nil, nil); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("commit update %s: %w", record.RID, err)
		}
		result.UpdatedVersions = append(result.UpdatedVersions, UpdatedVersion{RID: record.RID, Version: record.Version})
	}
	for _, rid := range plan.Deleted {
		if err := db.Delete(rid, wire.Untracked(), false, true, storage.ModeSynchronous, false); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("commit delete %s: %w", rid, err)
		}
	}

	tx.Commit()
	db.mu.Lock()
	db.tx = txbuffer.New()
	db.mu.Unlock()

	return result, nil
}

// Rollback discards the active transaction buffer without touching
// storage.
func (db *Database) Rollback() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tx.Rollback()
	db.tx = txbuffer.New()
}

// TxBuffer exposes the active transaction buffer so the dispatcher can
// stage create/update/delete operations before Commit.
func (db *Database) TxBuffer() *txbuffer.Buffer {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tx
}

// CheckSecurity exposes the façade's permission evaluation for
// non-record resources (e.g. CONFIG_SET, CLUSTER administration).
func (db *Database) CheckSecurity(resourceKind string, op security.Operation, specifics ...string) error {
	return security.CheckSecurity(db.user, resourceKind, op, specifics...)
}

// Close clears hooks and cache and closes the storage. The DB_CLOSE
// handler does not call it.
func (db *Database) Close() error {
	db.Hooks.Clear()
	db.Cache.Clear()
	return db.Storage.Close()
}

// indexLockNamesFor derives which index names a save must lock. A real
// schema collaborator would supply the indexes covering the record's
// class; in the absence of that collaborator this returns a single
// lock scoped to the record's cluster, which is sufficient to exercise
// the deterministic-ordering invariant in §8.
func indexLockNamesFor(record *wire.Record) []string {
	return []string{fmt.Sprintf("cluster:%d", record.RID.ClusterID)}
}

// acquireIndexLocks takes the named locks in lexicographic order to
// avoid deadlock, per §4.4's algorithmic notes.
func (db *Database) acquireIndexLocks(names []string) {
	sorted := append([]string(nil), names...)
	sortStrings(sorted)
	for _, name := range sorted {
		lockAny, _ := db.indexLocks.LoadOrStore(name, &sync.Mutex{})
		lockAny.(*sync.Mutex).Lock()
	}
}

// releaseIndexLocks releases in the same lexicographic order; order
// does not matter for release safety but keeps acquire/release
// symmetric for readability.
func (db *Database) releaseIndexLocks(names []string) {
	sorted := append([]string(nil), names...)
	sortStrings(sorted)
	for _, name := range sorted {
		if lockAny, ok := db.indexLocks.Load(name); ok {
			lockAny.(*sync.Mutex).Unlock()
		}
	}
}

// sortStrings is a tiny insertion sort: the lock name sets here are a
// handful of entries per save, not worth sort.Strings's overhead.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j-1] > s[j] {
			s[j-1], s[j] = s[j], s[j-1]
			j--
		}
	}
}
