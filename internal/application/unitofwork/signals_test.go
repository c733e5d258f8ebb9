package uow

import (
	"context"
	"testing"

	ds "github.com/hedgehog/odm/internal/domain/session"
	"github.com/stretchr/testify/require"
)

func TestSignalHub_PreCommitRunsEverySubscriberDespiteEarlierError(t *testing.T) {
	hub := NewSignalHub(nil)
	var calls []string

	hub.Subscribe(SignalPreCommit, func(ctx context.Context, evt SignalEvent) error {
		calls = append(calls, "first")
		return assertErr("first failed")
	})
	hub.Subscribe(SignalPreCommit, func(ctx context.Context, evt SignalEvent) error {
		calls = append(calls, "second")
		return nil
	})

	meta := testMeta{name: "widget"}
	hub.firePreCommit(meta, nil, nil, nil)

	require.Equal(t, []string{"first", "second"}, calls)
}

func TestSignalHub_PostCommitRobustDispatchRecoversPanicAsError(t *testing.T) {
	hub := NewSignalHub(nil)
	var secondRan bool

	hub.Subscribe(SignalPostCommit, func(ctx context.Context, evt SignalEvent) error {
		panic("boom")
	})
	hub.Subscribe(SignalPostCommit, func(ctx context.Context, evt SignalEvent) error {
		secondRan = true
		return nil
	})

	meta := testMeta{name: "widget"}
	errs := hub.firePostCommit(context.Background(), meta, nil, nil, nil)

	require.True(t, secondRan)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "panicked")
}

func TestSignalHub_PostDeleteCollectsEverySubscriberError(t *testing.T) {
	hub := NewSignalHub(nil)
	hub.Subscribe(SignalPostDelete, func(ctx context.Context, evt SignalEvent) error {
		return assertErr("one")
	})
	hub.Subscribe(SignalPostDelete, func(ctx context.Context, evt SignalEvent) error {
		return assertErr("two")
	})

	meta := testMeta{name: "widget"}
	errs := hub.firePostDelete(context.Background(), meta, []any{"1"}, nil, nil)
	require.Len(t, errs, 2)
}

func TestSignalHub_EventCarriesModelAndTransaction(t *testing.T) {
	hub := NewSignalHub(nil)
	router := NewRouter()
	s := NewSession(router)
	tx, err := s.Begin(false, false)
	require.NoError(t, err)

	var received ds.Meta
	var receivedTx *Transaction
	hub.Subscribe(SignalPreCommit, func(ctx context.Context, evt SignalEvent) error {
		received = evt.Model
		receivedTx = evt.Transaction
		return nil
	})

	meta := testMeta{name: "widget"}
	hub.firePreCommit(meta, nil, s, tx)

	require.Equal(t, meta, received)
	require.Equal(t, tx, receivedTx)
}
