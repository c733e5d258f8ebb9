package uow

import (
	"testing"

	ds "github.com/hedgehog/odm/internal/domain/session"
	"github.com/stretchr/testify/require"
)

func newTestSessionModel(meta testMeta, backend ds.BackendAdapter) *SessionModel {
	mgr := NewManager(meta, backend, nil, nil)
	return NewSessionModel(mgr)
}

func TestSessionModel_AddNonPersistentGoesToNewBucket(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)

	added, err := sm.Add(inst, true, nil, false)
	require.NoError(t, err)
	require.False(t, added.GetState().Persistent)
	require.NotEqual(t, ds.NilIID, added.GetState().IID)
	require.Len(t, sm.Dirty(), 1)
}

func TestSessionModel_AddPersistentModifiedGoesToModifiedBucket(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	inst.pk = "1"

	added, err := sm.Add(inst, true, nil, false)
	require.NoError(t, err)
	require.True(t, added.GetState().Persistent)
	require.Len(t, sm.Dirty(), 1)
}

func TestSessionModel_AddPersistentUnmodifiedStaysUntracked(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	inst.pk = "1"

	_, err := sm.Add(inst, false, nil, false)
	require.NoError(t, err)
	require.Empty(t, sm.Dirty())
}

func TestSessionModel_AddDeletedInstanceErrors(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true, Deleted: true}

	_, err := sm.Add(inst, true, nil, false)
	require.ErrorIs(t, err, ds.ErrInvalidOperation)
}

func TestSessionModel_DeletePersistentInstanceMovesToDeletedBucket(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	inst.pk = "1"
	_, err := sm.Add(inst, true, nil, false)
	require.NoError(t, err)

	deleted, err := sm.Delete(inst, "owner")
	require.NoError(t, err)
	require.True(t, deleted.GetState().Deleted)
	require.Equal(t, "owner", deleted.Session())
	require.Len(t, sm.Deleted(), 1)
	require.Empty(t, sm.Dirty())
}

func TestSessionModel_DeleteNonPersistentInstanceDropsAndUnbindsSession(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	inst.session = "some-session"
	_, err := sm.Add(inst, true, nil, false)
	require.NoError(t, err)

	result, err := sm.Delete(inst, "owner")
	require.NoError(t, err)
	require.Nil(t, result)
	require.Nil(t, inst.Session())
	require.Empty(t, sm.Dirty())
	require.Empty(t, sm.Deleted())
}

func TestSessionModel_PopDuplicateAcrossBucketsErrors(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	iid := ds.NewIID("1")
	instA := newTestInstance(meta)
	instB := newTestInstance(meta)
	sm.new.set(iid, instA)
	sm.modified.set(iid, instB)

	_, err := sm.Pop(iid)
	require.ErrorIs(t, err, ds.ErrDuplicateIdentity)
}

func TestSessionModel_GetDeleteQuery_ObjectModelFoldsIntoPKSetQuery(t *testing.T) {
	meta := testMeta{name: "widget", modelType: ds.ModelTypeObject}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	inst.pk = "1"
	_, err := sm.Add(inst, true, nil, false)
	require.NoError(t, err)
	_, err = sm.Delete(inst, nil)
	require.NoError(t, err)

	var capturedPKs []any
	byPKSet := func(pks []any) ds.Query {
		capturedPKs = pks
		return &testQuery{}
	}

	q := sm.GetDeleteQuery(byPKSet)
	require.NotNil(t, q)
	require.Equal(t, []any{"1"}, capturedPKs)
	require.Empty(t, sm.Deleted())
}

func TestSessionModel_GetDeleteQuery_NoPendingWorkReturnsNil(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	require.Nil(t, sm.GetDeleteQuery(func(pks []any) ds.Query { return &testQuery{} }))
}

func TestSessionModel_PostCommit_SavesInstanceAndRecordsScore(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	_, err := sm.Add(inst, true, nil, false)
	require.NoError(t, err)
	iid := inst.GetState().IID

	results := []ds.InstanceResult{{IID: iid, ID: "100", Persistent: true, Score: 3.5, HasScore: true}}
	saved, deletedIDs, errs := sm.PostCommit(results, nil, nil)
	require.Empty(t, errs)
	require.Empty(t, deletedIDs)
	require.Len(t, saved, 1)
	require.Equal(t, "100", saved[0].PKValue())
	require.Equal(t, 3.5, saved[0].GetState().Score)
}

func TestSessionModel_PostCommit_UnknownIIDProducesError(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})

	results := []ds.InstanceResult{{IID: ds.NewIID("nowhere"), Persistent: true}}
	saved, _, errs := sm.PostCommit(results, nil, nil)
	require.Empty(t, saved)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ds.ErrInvalidTransaction)
}

func TestSessionModel_PostCommit_BatchErrorWrapsWithModelName(t *testing.T) {
	meta := testMeta{name: "widget"}
	sm := newTestSessionModel(meta, &testBackend{})

	saved, deletedIDs, errs := sm.PostCommit(nil, assertErr("boom"), nil)
	require.Empty(t, saved)
	require.Empty(t, deletedIDs)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "widget")
	require.Contains(t, errs[0].Error(), "boom")
}

func TestSessionModel_Add_StructureModelAlwaysRoutesToModifiedRegardlessOfPersistence(t *testing.T) {
	meta := testMeta{name: "tags", modelType: ds.ModelTypeStructure}
	sm := newTestSessionModel(meta, &testBackend{})
	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	inst.pk = "1"

	// modified=false and persistent=true would, for an object model,
	// leave the instance untracked (TestSessionModel_AddPersistentUnmodifiedStaysUntracked);
	// a structure model stages it into _modified unconditionally.
	added, err := sm.Add(inst, false, nil, false)
	require.NoError(t, err)
	require.False(t, added.GetState().Deleted)
	require.Len(t, sm.modified.values(), 1)
	require.Empty(t, sm.new.values())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
