package uow

import (
	"context"
	"fmt"

	ds "github.com/hedgehog/odm/internal/domain/session"
)

// Session is one unit of work: a collection of SessionModel buckets, one
// per model touched so far, plus the bookkeeping needed to open and
// close a Transaction around them. A Session is not safe for concurrent
// use by more than one goroutine.
type Session struct {
	router *Router
	models map[ds.Meta]*SessionModel
	tx     *Transaction
}

// NewSession returns an empty Session bound to router, the source of
// Manager lookups for every model it will come to track.
func NewSession(router *Router) *Session {
	return &Session{router: router, models: make(map[ds.Meta]*SessionModel)}
}

// Model returns the SessionModel bucket for meta. If there is none yet
// and create is true, it creates one and registers it so it participates
// in the next commit; if create is false it returns nil. create
// distinguishes a lookup that should register
// the model from one that is merely checking whether it has been
// touched already, which should pass false. A create request against a
// meta with no registered Manager fails with InvalidTransaction rather
// than fabricating a manager with no backends to dispatch against.
func (s *Session) Model(meta ds.Meta, create bool) (*SessionModel, error) {
	if sm, ok := s.models[meta]; ok {
		return sm, nil
	}
	if !create {
		return nil, nil
	}
	mgr, ok := s.router.Manager(meta)
	if !ok {
		return nil, fmt.Errorf("%w: no manager registered for %q", ds.ErrInvalidTransaction, meta.Name())
	}
	sm := NewSessionModel(mgr)
	s.models[meta] = sm
	return sm, nil
}

// Begin opens a new Transaction over this session. It is an error to
// begin a second transaction while one is still open.
func (s *Session) Begin(signalCommit, signalDelete bool) (*Transaction, error) {
	if s.tx != nil && !s.tx.finished {
		return nil, fmt.Errorf("%w: a transaction is already open on this session", ds.ErrInvalidTransaction)
	}
	tx := newTransaction(s, signalCommit, signalDelete)
	s.tx = tx
	return tx, nil
}

func (s *Session) hasOpenTransaction() bool {
	return s.tx != nil && !s.tx.finished
}

// commitImplicitly opens and commits a fresh transaction over s with the
// default signal flags, the same fallback Session.commit itself takes
// when no transaction is open yet.
func (s *Session) commitImplicitly(ctx context.Context) error {
	tx, err := s.Begin(true, true)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Commit commits the session's open transaction, opening one implicitly
// first (with the default signal flags) if none is currently active.
func (s *Session) Commit(ctx context.Context) error {
	if !s.hasOpenTransaction() {
		return s.commitImplicitly(ctx)
	}
	return s.tx.Commit(ctx)
}

// Add stages instance for insert/update. modified and forceUpdate mirror
// SessionModel.Add's flags; persistent, when non-nil, overrides the
// instance's own GetState().Persistent for bucket routing. If modified
// and no transaction is currently open, Add performs an implicit commit
// and only returns once it resolves; otherwise it returns synchronously.
func (s *Session) Add(ctx context.Context, instance ds.Instance, modified bool, persistent *bool, forceUpdate bool) (ds.Instance, error) {
	sm, err := s.Model(instance.Meta(), true)
	if err != nil {
		return nil, err
	}
	added, err := sm.Add(instance, modified, persistent, forceUpdate)
	if err != nil {
		return nil, err
	}
	added.SetSession(s)

	if modified && !s.hasOpenTransaction() {
		if err := s.commitImplicitly(ctx); err != nil {
			return nil, err
		}
	}
	return added, nil
}

// Delete stages instance for removal. query, if non-nil, is a bulk
// delete expression instead of a single tracked instance; query must
// have been built from this same Session, or Delete rejects it — a
// query built against a different session's state cannot be safely
// folded into this one's pending delete list. Same implicit-commit rule
// as Add: if no transaction is currently open, Delete commits one before
// returning.
func (s *Session) Delete(ctx context.Context, instance ds.Instance, query ds.Query, owningSession any) (ds.Instance, error) {
	var result ds.Instance

	if query != nil {
		if qs, ok := query.Session().(*Session); ok && qs != nil && qs != s {
			return nil, fmt.Errorf("%w: query was built from a different session", ds.ErrInvalidOperation)
		}
		meta := metaFromQuery(query, instance)
		if meta == nil {
			return nil, fmt.Errorf("%w: cannot resolve a model for a query with no originating instance", ds.ErrInvalidOperation)
		}
		sm, err := s.Model(meta, true)
		if err != nil {
			return nil, err
		}
		sm.AppendDeleteQuery(query)
	} else {
		sm, err := s.Model(instance.Meta(), true)
		if err != nil {
			return nil, err
		}
		owner := owningSession
		if owner == nil {
			owner = s
		}
		result, err = sm.Delete(instance, owner)
		if err != nil {
			return nil, err
		}
	}

	if !s.hasOpenTransaction() {
		if err := s.commitImplicitly(ctx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// metaFromQuery recovers the model a bulk-delete query targets. The
// query itself does not carry a Meta; callers that delete by query
// alone (no representative instance) must route through a model-scoped
// entry point instead, so this only needs to serve the case where an
// instance is available for its type information.
func metaFromQuery(query ds.Query, instance ds.Instance) ds.Meta {
	if instance != nil {
		return instance.Meta()
	}
	return nil
}

// Query registers a read-only query against a model's read backend, to
// be dispatched on the next commit.
func (s *Session) Query(meta ds.Meta, q ds.Query) error {
	sm, err := s.Model(meta, true)
	if err != nil {
		return err
	}
	sm.AppendQuery(q)
	return nil
}

// Get returns the instance tracked under iid for meta, if any.
func (s *Session) Get(meta ds.Meta, iid ds.IID) (ds.Instance, bool) {
	sm, err := s.Model(meta, false)
	if err != nil || sm == nil {
		return nil, false
	}
	return sm.Get(iid)
}

// GetOrCreate implements get_or_create: items is the result of already
// running query(model).filter(**filter).all(). Exactly one match
// returns it unchanged (created=false); zero matches builds a fresh
// instance via build, adds it, and returns it (created=true) — the
// DoesNotExist case, resolved internally rather than surfaced; more
// than one match fails with MultipleFound, passed straight through to
// the caller rather than resolved here.
func (s *Session) GetOrCreate(ctx context.Context, meta ds.Meta, items []ds.Instance, build func() ds.Instance) (ds.Instance, bool, error) {
	switch len(items) {
	case 1:
		return items[0], false, nil
	case 0:
		created := build()
		added, err := s.Add(ctx, created, true, nil, false)
		if err != nil {
			return nil, false, err
		}
		return added, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %d instances matched for %q", ds.ErrMultipleFound, len(items), meta.Name())
	}
}

// Flush completely removes every key for meta via its write backend.
func (s *Session) Flush(ctx context.Context, meta ds.Meta) error {
	sm, err := s.Model(meta, true)
	if err != nil {
		return err
	}
	return sm.Manager().Flush(ctx)
}

// Clean removes empty keys for meta via its write backend.
func (s *Session) Clean(ctx context.Context, meta ds.Meta) error {
	sm, err := s.Model(meta, true)
	if err != nil {
		return err
	}
	return sm.Manager().Clean(ctx)
}

// Keys retrieves every key for meta via its read backend.
func (s *Session) Keys(ctx context.Context, meta ds.Meta) ([]ds.IID, error) {
	sm, err := s.Model(meta, true)
	if err != nil {
		return nil, err
	}
	return sm.Manager().Keys(ctx)
}

// Expunge removes instance from the session entirely.
func (s *Session) Expunge(instance ds.Instance) (ds.Instance, error) {
	sm, err := s.Model(instance.Meta(), false)
	if err != nil || sm == nil {
		return nil, err
	}
	return sm.Expunge(instance)
}

// Manager returns the Manager registered for meta, if any.
func (s *Session) Manager(meta ds.Meta) (*Manager, bool) {
	return s.router.Manager(meta)
}

// sessionModels returns the live map Transaction iterates to visit every
// touched model. The visiting order is Go's map order, which is not
// stable (registration order is not tracked; this is acceptable because
// per-model payloads are
// dispatched independently and carry no cross-model ordering guarantee
// beyond per-model FIFO, which SessionModel itself already preserves).
func (s *Session) sessionModels() map[ds.Meta]*SessionModel {
	return s.models
}
