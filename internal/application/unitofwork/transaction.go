package uow

import (
	"context"
	"fmt"

	ds "github.com/hedgehog/odm/internal/domain/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TxState is one of the three states a Transaction moves through, in
// order, never backward.
type TxState string

const (
	TxOpen      TxState = "open"
	TxExecuting TxState = "executing"
	TxFinished  TxState = "finished"
)

var tracer = otel.Tracer("github.com/hedgehog/odm/internal/application/unitofwork")

// Transaction batches every SessionModel's pending work across one
// Session into per-backend dispatches, fires the signal hub around
// commit boundaries, and folds backend results back into the session.
//
// A Transaction is single-use: once Commit or Rollback has run, it
// cannot be reused; Session.Begin must open a new one.
type Transaction struct {
	session      *Session
	hub          *SignalHub
	signalCommit bool
	signalDelete bool

	state    TxState
	finished bool

	logger  *zap.Logger
	limiter *rate.Limiter

	Saved   *ModelDictionary[[]ds.Instance]
	Deleted *ModelDictionary[[]any]
}

func newTransaction(s *Session, signalCommit, signalDelete bool) *Transaction {
	return &Transaction{
		session:      s,
		hub:          NewSignalHub(nil),
		signalCommit: signalCommit,
		signalDelete: signalDelete,
		state:        TxOpen,
		logger:       zap.NewNop(),
		Saved:        NewModelDictionary[[]ds.Instance](),
		Deleted:      NewModelDictionary[[]any](),
	}
}

// WithLogger installs a logger used for commit diagnostics, returning
// the transaction for chaining.
func (tx *Transaction) WithLogger(logger *zap.Logger) *Transaction {
	if logger != nil {
		tx.logger = logger
	}
	return tx
}

// WithLimiter installs a rate limiter Commit waits on before dispatching
// to each distinct backend, so a session touching many models in one
// commit cannot overrun a backend's accepted request rate. A nil
// limiter (the default) disables throttling entirely.
func (tx *Transaction) WithLimiter(limiter *rate.Limiter) *Transaction {
	tx.limiter = limiter
	return tx
}

// Hub returns the signal hub subscribers can register against before
// Commit runs.
func (tx *Transaction) Hub() *SignalHub { return tx.hub }

func (tx *Transaction) State() TxState { return tx.state }

// Commit batches every touched SessionModel's pending work, dispatches
// it grouped by backend, and folds the results back into the session.
// It returns a *ds.CommitError (via errors.As) aggregating every
// failure observed; nil means every batch succeeded. Commit may only be
// called once per Transaction.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.finished {
		return fmt.Errorf("%w: transaction already finished", ds.ErrInvalidTransaction)
	}
	ctx, span := tracer.Start(ctx, "odm.transaction.commit")
	defer span.End()

	tx.state = TxExecuting
	if tx.session.tx == tx {
		tx.session.tx = nil
	}

	byBackend := make(map[ds.BackendAdapter][]ds.SessionData)
	order := make([]ds.BackendAdapter, 0)
	originating := make(map[ds.BackendAdapter][]*SessionModel)

	for _, sm := range tx.session.sessionModels() {
		for _, payload := range sm.BackendsData(tx, sm.Manager().deleteByPKSet) {
			if _, seen := byBackend[payload.backend]; !seen {
				order = append(order, payload.backend)
			}
			byBackend[payload.backend] = append(byBackend[payload.backend], payload.data)
			originating[payload.backend] = append(originating[payload.backend], sm)
		}
	}

	span.SetAttributes(attribute.Int("odm.backend_count", len(order)))

	var allErrs []error
	for _, backend := range order {
		data := byBackend[backend]
		models := originating[backend]

		if tx.limiter != nil {
			if err := tx.limiter.Wait(ctx); err != nil {
				for _, sm := range models {
					_, _, errs := sm.PostCommit(nil, err, backend)
					allErrs = append(allErrs, errs...)
				}
				continue
			}
		}

		results, err := backend.ExecuteSession(ctx, data)
		if err != nil {
			tx.logger.Error("backend batch dispatch failed", zap.Error(err), zap.Int("models", len(data)))
			for _, sm := range models {
				_, _, errs := sm.PostCommit(nil, err, backend)
				allErrs = append(allErrs, errs...)
			}
			continue
		}

		for i, result := range results {
			sm := models[i]
			saved, deletedIDs, errs := sm.PostCommit(result.Results, result.Err, backend)
			allErrs = append(allErrs, errs...)

			if len(saved) > 0 {
				existing, _ := tx.Saved.Get(sm.Meta())
				tx.Saved.Set(sm.Meta(), append(existing, saved...))
			}
			if len(deletedIDs) > 0 {
				existing, _ := tx.Deleted.Get(sm.Meta())
				tx.Deleted.Set(sm.Meta(), append(existing, deletedIDs...))

				if tx.signalDelete {
					if sigErrs := tx.hub.firePostDelete(ctx, sm.Meta(), deletedIDs, tx.session, tx); len(sigErrs) > 0 {
						allErrs = append(allErrs, sigErrs...)
					}
				}
			}
			if tx.signalCommit && len(saved) > 0 {
				if sigErrs := tx.hub.firePostCommit(ctx, sm.Meta(), saved, tx.session, tx); len(sigErrs) > 0 {
					allErrs = append(allErrs, sigErrs...)
				}
			}
		}
	}

	tx.state = TxFinished
	tx.finished = true

	if len(allErrs) > 0 {
		span.SetStatus(codes.Error, "commit had failures")
		return ds.NewCommitError(allErrs)
	}
	return nil
}

// Rollback marks the transaction finished without dispatching anything;
// every SessionModel's pending buckets are left exactly as they were,
// so a fresh Transaction opened on the same Session can still commit
// them.
func (tx *Transaction) Rollback() {
	tx.state = TxFinished
	tx.finished = true
	if tx.session.tx == tx {
		tx.session.tx = nil
	}
}

// Do runs fn against a freshly begun transaction, committing on success
// and rolling back if fn returns an error, mirroring the
// begin/commit-or-rollback block a caller would otherwise have to write
// by hand around every Session use.
func Do(ctx context.Context, s *Session, signalCommit, signalDelete bool, fn func(*Transaction) error) error {
	tx, err := s.Begin(signalCommit, signalDelete)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit(ctx)
}
