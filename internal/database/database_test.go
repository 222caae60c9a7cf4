package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucentgraph/lucent/internal/hook"
	"github.com/lucentgraph/lucent/internal/security"
	"github.com/lucentgraph/lucent/internal/storage"
	"github.com/lucentgraph/lucent/internal/wire"
)

func adminUser() *security.User {
	return &security.User{
		Name: "admin",
		Roles: []security.Role{{
			Name: "admin",
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

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open("widgets", storage.NewMemStore(8), adminUser(), 64, true)
	require.NoError(t, err)
	return db
}

func TestDatabase_OpenCreateLoad(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	rec := wire.NewRecord(1, []byte("hello"))
	require.NoError(t, db.Save(rec, nil, storage.ModeSynchronous, false, nil, nil))
	assert.False(t, rec.RID.IsNew())

	got, err := db.Load(rec.RID, "", false, false, LockNone)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("hello"), got.Bytes)
}

func TestDatabase_SaveDetectsMVCCConflict(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	rec := wire.NewRecord(1, []byte("v1"))
	require.NoError(t, db.Save(rec, nil, storage.ModeSynchronous, false, nil, nil))

	stale := &wire.Record{RID: rec.RID, Version: wire.Tracked(999), Bytes: []byte("v2"), Dirty: true}
	err := db.Save(stale, nil, storage.ModeSynchronous, false, nil, nil)
	require.Error(t, err)
	var conflict *storage.VersionConflictError
	assert.ErrorAs(t, err, &conflict)
}

// replacerHook substitutes a different record on BeforeCreate, exercising
// the hook-replacement path through Save.
type replacerHook struct {
	substitute *wire.Record
}

func (h *replacerHook) Identity() string                      { return "replacer" }
func (h *replacerHook) DistributedMode() hook.DistributedMode  { return hook.ModeBoth }
func (h *replacerHook) Invoke(t hook.Type, _ *wire.Record) (hook.Result, *wire.Record) {
	if t == hook.BeforeCreate {
		return hook.ResultReplaced, h.substitute
	}
	return hook.ResultNotChanged, nil
}

func TestDatabase_HookReplacementSubstitutesRecord(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	substitute := wire.NewRecord(1, []byte("substituted"))
	db.Hooks.Register(&replacerHook{substitute: substitute}, hook.REGULAR)

	original := wire.NewRecord(1, []byte("original"))
	require.NoError(t, db.Save(original, nil, storage.ModeSynchronous, false, nil, nil))

	got, err := db.Load(substitute.RID, "", true, false, LockNone)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("substituted"), got.Bytes)
}

func TestDatabase_CommitCreatedAndUpdatedInSameTx(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	db.BeginTx()

	created := wire.NewRecord(1, []byte("v1"))
	db.TxBuffer().Create(created)

	updated := &wire.Record{RID: created.RID, Bytes: []byte("v2"), Dirty: true}
	db.TxBuffer().Update(updated)

	result, err := db.Commit()
	require.NoError(t, err)
	require.Len(t, result.CreatedIdentities, 1)
	assert.Empty(t, result.UpdatedVersions)

	got, err := db.Load(result.CreatedIdentities[0].ServerRID, "", true, false, LockNone)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("v2"), got.Bytes)
}

func TestDatabase_DeleteEvictsFromCache(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	rec := wire.NewRecord(1, []byte("v1"))
	require.NoError(t, db.Save(rec, nil, storage.ModeSynchronous, false, nil, nil))
	_, ok := db.Cache.FindRecord(rec.RID)
	require.True(t, ok)

	require.NoError(t, db.Delete(rec.RID, rec.Version, true, true, storage.ModeSynchronous, false))
	_, ok = db.Cache.FindRecord(rec.RID)
	assert.False(t, ok)

	got, err := db.Load(rec.RID, "", true, false, LockNone)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDatabase_OpenRunsRepairListenerOnRolelessUser(t *testing.T) {
	t.Parallel()
	roleless := &security.User{Name: "ghost"}
	db, err := Open("widgets", storage.NewMemStore(8), roleless, 64, true, security.RepairAdminOnEmptyRoles)
	require.NoError(t, err)

	assert.True(t, db.user.HasRoles())
	assert.Equal(t, security.DefaultAdminName, db.user.Name)
}

func TestDatabase_OpenWithoutRepairListenerLeavesRolelessUser(t *testing.T) {
	t.Parallel()
	roleless := &security.User{Name: "ghost"}
	db, err := Open("widgets", storage.NewMemStore(8), roleless, 64, true)
	require.NoError(t, err)
	assert.False(t, db.user.HasRoles())
}

func TestDatabase_RunRepairAfterRegisterListener(t *testing.T) {
	t.Parallel()
	roleless := &security.User{Name: "ghost"}
	db, err := Open("widgets", storage.NewMemStore(8), roleless, 64, true)
	require.NoError(t, err)
	require.False(t, db.user.HasRoles())

	db.RegisterRepairListener(security.RepairAdminOnEmptyRoles)
	require.NoError(t, db.RunRepair())
	assert.True(t, db.user.HasRoles())
}
