package uow

import (
	"context"
	"fmt"

	ds "github.com/hedgehog/odm/internal/domain/session"
	"go.uber.org/zap"
)

// SignalKind names one of the four fixed signals the core emits.
type SignalKind string

const (
	SignalPreCommit  SignalKind = "pre_commit"
	SignalPostCommit SignalKind = "post_commit"
	SignalPreDelete  SignalKind = "pre_delete"
	SignalPostDelete SignalKind = "post_delete"
)

// SignalEvent is what every subscriber receives, regardless of which
// signal fired: the model, the affected instances (saves) or ids
// (deletes), the session, and the transaction driving the commit.
type SignalEvent struct {
	Kind        SignalKind
	Model       ds.Meta
	Instances   []ds.Instance
	DeletedIDs  []any
	DeleteQuery []ds.Query
	Session     *Session
	Transaction *Transaction
}

// Subscriber receives a SignalEvent. A subscriber that needs to await
// further work (the "deferred value" spec.md describes) simply blocks
// inside this call — the hub already waits for it to return before
// considering dispatch of that signal finished.
type Subscriber func(ctx context.Context, evt SignalEvent) error

// SignalHub fans signals out to subscribers through a handler registry
// narrowed to the four fixed signals the session/transaction core needs
// rather than an open topic registry. Subscribers are called
// synchronously; the registry has no mutex, so Subscribe must not run
// concurrently with a dispatch.
type SignalHub struct {
	handlers map[SignalKind][]Subscriber
	logger   *zap.Logger
}

// NewSignalHub returns an empty hub. A nil logger installs a no-op one.
func NewSignalHub(logger *zap.Logger) *SignalHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalHub{handlers: make(map[SignalKind][]Subscriber), logger: logger}
}

// Subscribe registers fn to be called whenever kind fires.
func (h *SignalHub) Subscribe(kind SignalKind, fn Subscriber) {
	h.handlers[kind] = append(h.handlers[kind], fn)
}

// firePreCommit and friends are the internal emission points Transaction
// and SessionModel call. pre_commit/pre_delete call every subscriber in
// registration order; a subscriber error is logged and does not stop
// the remaining subscribers. The error is not returned to the caller,
// so it does not abort the commit.
func (h *SignalHub) firePreCommit(model ds.Meta, instances []ds.Instance, s *Session, tx *Transaction) {
	h.dispatchFailFast(context.Background(), SignalEvent{
		Kind: SignalPreCommit, Model: model, Instances: instances, Session: s, Transaction: tx,
	})
}

func (h *SignalHub) firePreDelete(model ds.Meta, queries []ds.Query, s *Session, tx *Transaction) {
	h.dispatchFailFast(context.Background(), SignalEvent{
		Kind: SignalPreDelete, Model: model, DeleteQuery: queries, Session: s, Transaction: tx,
	})
}

// firePostDelete and firePostCommit are called from Transaction during
// commit finalization; see transaction.go.
func (h *SignalHub) firePostDelete(ctx context.Context, model ds.Meta, ids []any, s *Session, tx *Transaction) []error {
	return h.dispatchFailFast2(ctx, SignalEvent{
		Kind: SignalPostDelete, Model: model, DeletedIDs: ids, Session: s, Transaction: tx,
	})
}

// firePostCommit dispatches robustly: every subscriber runs, and every
// subscriber error is collected rather than aborting dispatch of the
// remaining subscribers.
func (h *SignalHub) firePostCommit(ctx context.Context, model ds.Meta, instances []ds.Instance, s *Session, tx *Transaction) []error {
	evt := SignalEvent{Kind: SignalPostCommit, Model: model, Instances: instances, Session: s, Transaction: tx}
	var errs []error
	for _, sub := range h.handlers[SignalPostCommit] {
		if err := h.callRobust(ctx, sub, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (h *SignalHub) dispatchFailFast(ctx context.Context, evt SignalEvent) {
	for _, sub := range h.handlers[evt.Kind] {
		if err := sub(ctx, evt); err != nil {
			h.logger.Warn("signal subscriber failed",
				zap.String("signal", string(evt.Kind)), zap.Error(err))
		}
	}
}

func (h *SignalHub) dispatchFailFast2(ctx context.Context, evt SignalEvent) []error {
	var errs []error
	for _, sub := range h.handlers[evt.Kind] {
		if err := sub(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// callRobust invokes a post_commit subscriber, converting a panic into
// an error instead of propagating it, matching "robust" dispatch.
func (h *SignalHub) callRobust(ctx context.Context, sub Subscriber, evt SignalEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("signal subscriber panicked",
				zap.String("signal", string(evt.Kind)), zap.Any("recover", r))
			err = fmt.Errorf("post_commit subscriber panicked: %v", r)
		}
	}()
	return sub(ctx, evt)
}
