package uow

import (
	"context"
	"testing"

	ds "github.com/hedgehog/odm/internal/domain/session"
	"github.com/stretchr/testify/require"
)

func TestTransaction_Commit_SavesDirtyInstancesAndMarksPersistent(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	backend := &testBackend{}
	router.Register(meta, backend, nil)
	s := NewSession(router)

	_, err := s.Begin(false, false)
	require.NoError(t, err)

	inst := newTestInstance(meta)
	_, err = s.Add(context.Background(), inst, true, nil, false)
	require.NoError(t, err)

	tx := s.tx
	err = tx.Commit(context.Background())
	require.NoError(t, err)
	require.Equal(t, TxFinished, tx.State())

	saved, ok := tx.Saved.Get(meta)
	require.True(t, ok)
	require.Len(t, saved, 1)
	require.True(t, saved[0].GetState().Persistent)
}

func TestTransaction_Commit_CalledTwiceErrors(t *testing.T) {
	s := NewSession(NewRouter())
	tx, err := s.Begin(false, false)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(context.Background()))
	err = tx.Commit(context.Background())
	require.ErrorIs(t, err, ds.ErrInvalidTransaction)
}

func TestTransaction_Commit_BackendErrorAggregatesPerModel(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	backend := &testBackend{
		executeFn: func(ctx context.Context, data []ds.SessionData) ([]ds.ModelResult, error) {
			return nil, assertErr("backend unavailable")
		},
	}
	router.Register(meta, backend, nil)
	s := NewSession(router)

	_, err := s.Begin(false, false)
	require.NoError(t, err)

	inst := newTestInstance(meta)
	_, err = s.Add(context.Background(), inst, true, nil, false)
	require.NoError(t, err)

	tx := s.tx
	err = tx.Commit(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "widget")
	require.Contains(t, err.Error(), "backend unavailable")
}

func TestTransaction_Rollback_LeavesPendingWorkForNextTransaction(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	backend := &testBackend{}
	router.Register(meta, backend, nil)
	s := NewSession(router)

	tx, err := s.Begin(false, false)
	require.NoError(t, err)

	inst := newTestInstance(meta)
	_, err = s.Add(context.Background(), inst, true, nil, false)
	require.NoError(t, err)

	tx.Rollback()
	require.Equal(t, TxFinished, tx.State())
	require.Nil(t, s.tx)

	sm, err := s.Model(meta, false)
	require.NoError(t, err)
	require.Len(t, sm.Dirty(), 1)

	tx2, err := s.Begin(false, false)
	require.NoError(t, err)
	require.NoError(t, tx2.Commit(context.Background()))

	saved, ok := tx2.Saved.Get(meta)
	require.True(t, ok)
	require.Len(t, saved, 1)
}

func TestDo_CommitsOnSuccessAndRollsBackOnError(t *testing.T) {
	router := NewRouter()
	meta := testMeta{name: "widget"}
	backend := &testBackend{}
	router.Register(meta, backend, nil)
	s := NewSession(router)

	err := Do(context.Background(), s, false, false, func(tx *Transaction) error {
		inst := newTestInstance(meta)
		_, addErr := s.Add(context.Background(), inst, true, nil, false)
		return addErr
	})
	require.NoError(t, err)

	s2 := NewSession(router)
	failErr := Do(context.Background(), s2, false, false, func(tx *Transaction) error {
		return assertErr("fn failed")
	})
	require.Error(t, failErr)
	require.Equal(t, "fn failed", failErr.Error())
}
