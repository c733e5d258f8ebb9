package uow

import (
	"context"
	"testing"

	ds "github.com/hedgehog/odm/internal/domain/session"
	"github.com/stretchr/testify/require"
)

func TestSession_AddThenGetReturnsTrackedInstance(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	inst.pk = "1"

	_, err := s.Begin(false, false)
	require.NoError(t, err)

	added, err := s.Add(context.Background(), inst, true, nil, false)
	require.NoError(t, err)
	require.Equal(t, s, added.Session())

	got, ok := s.Get(meta, ds.NewIID("1"))
	require.True(t, ok)
	require.Equal(t, added, got)
}

func TestSession_Begin_RejectsSecondOpenTransaction(t *testing.T) {
	s := NewSession(NewRouter())

	_, err := s.Begin(false, false)
	require.NoError(t, err)

	_, err = s.Begin(false, false)
	require.ErrorIs(t, err, ds.ErrInvalidTransaction)
}

func TestSession_Begin_AllowsNewTransactionAfterPriorFinished(t *testing.T) {
	s := NewSession(NewRouter())

	tx, err := s.Begin(false, false)
	require.NoError(t, err)
	tx.Rollback()

	_, err = s.Begin(false, false)
	require.NoError(t, err)
}

func TestSession_Delete_RejectsQueryBuiltFromForeignSession(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)

	owner := NewSession(router)
	foreign := NewSession(router)

	inst := newTestInstance(meta)
	q := &testQuery{session: foreign}

	_, err := owner.Delete(context.Background(), inst, q, nil)
	require.ErrorIs(t, err, ds.ErrInvalidOperation)
}

func TestSession_Delete_AcceptsQueryBuiltFromOwnSession(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	inst := newTestInstance(meta)
	q := &testQuery{session: s}

	_, err := s.Delete(context.Background(), inst, q, nil)
	require.NoError(t, err)
}

func TestSession_GetOrCreate_ReturnsExistingWhenExactlyOneMatch(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	existing := newTestInstance(meta)
	existing.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	existing.pk = "1"

	built := false
	inst, created, err := s.GetOrCreate(context.Background(), meta, []ds.Instance{existing}, func() ds.Instance {
		built = true
		return newTestInstance(meta)
	})
	require.NoError(t, err)
	require.False(t, created)
	require.False(t, built)
	require.Equal(t, existing, inst)
}

func TestSession_GetOrCreate_BuildsWhenNoMatch(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	inst, created, err := s.GetOrCreate(context.Background(), meta, nil, func() ds.Instance {
		return newTestInstance(meta)
	})
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, inst.GetState().Persistent)
}

func TestSession_GetOrCreate_MultipleMatchesPassesThroughError(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	a := newTestInstance(meta)
	b := newTestInstance(meta)

	built := false
	_, _, err := s.GetOrCreate(context.Background(), meta, []ds.Instance{a, b}, func() ds.Instance {
		built = true
		return newTestInstance(meta)
	})
	require.ErrorIs(t, err, ds.ErrMultipleFound)
	require.False(t, built)
}

func TestSession_Expunge_UnbindsSession(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	_, err := s.Begin(false, false)
	require.NoError(t, err)

	inst := newTestInstance(meta)
	added, err := s.Add(context.Background(), inst, true, nil, false)
	require.NoError(t, err)

	expunged, err := s.Expunge(added)
	require.NoError(t, err)
	require.Nil(t, expunged.Session())
	_, ok := s.Get(meta, added.GetState().IID)
	require.False(t, ok)
}

func TestSession_Add_NoOpenTransactionCommitsImplicitlyAndClearsSessionTx(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	inst := newTestInstance(meta)

	added, err := s.Add(context.Background(), inst, true, nil, false)
	require.NoError(t, err)
	require.True(t, added.GetState().Persistent)
	require.Nil(t, s.tx)
}

func TestSession_Add_WithOpenTransactionDoesNotCommit(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	tx, err := s.Begin(false, false)
	require.NoError(t, err)

	inst := newTestInstance(meta)
	added, err := s.Add(context.Background(), inst, true, nil, false)
	require.NoError(t, err)
	require.False(t, added.GetState().Persistent)
	require.Equal(t, tx, s.tx)
	require.Equal(t, TxOpen, tx.State())
}

func TestSession_Delete_NoOpenTransactionCommitsImplicitly(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	router.Register(meta, &testBackend{}, nil)
	s := NewSession(router)

	inst := newTestInstance(meta)
	inst.state = ds.InstanceState{IID: ds.NewIID("1"), Persistent: true}
	inst.pk = "1"

	tx, err := s.Begin(false, false)
	require.NoError(t, err)
	_, err = s.Add(context.Background(), inst, false, nil, false)
	require.NoError(t, err)
	tx.Rollback()

	_, err = s.Delete(context.Background(), inst, nil, nil)
	require.NoError(t, err)
	require.Nil(t, s.tx)
}

func TestSession_Model_UnknownManagerFailsWithInvalidTransaction(t *testing.T) {
	s := NewSession(NewRouter())
	meta := testMeta{name: "unregistered"}

	_, err := s.Model(meta, true)
	require.ErrorIs(t, err, ds.ErrInvalidTransaction)
}

func TestSession_Model_NoCreateOnUnknownModelReturnsNilWithoutError(t *testing.T) {
	s := NewSession(NewRouter())
	meta := testMeta{name: "unregistered"}

	sm, err := s.Model(meta, false)
	require.NoError(t, err)
	require.Nil(t, sm)
}
