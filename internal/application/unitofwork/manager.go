package uow

import (
	"context"

	ds "github.com/hedgehog/odm/internal/domain/session"
)

// LazyLoader is the capability a field/descriptor system exposes when
// an attribute needs backend-backed materialization. Manager itself
// holds no LazyLoader and never calls Load; it does no attribute
// forwarding.
type LazyLoader interface {
	Load(ctx context.Context, target any, sess *Session, backend ds.BackendAdapter) error
}

// Manager is a stateless façade binding one model to a (write, read)
// backend pair. It is long-lived and shared by every Session derived
// from the same Router; two Managers are equal iff their Meta are
// identical (Go equality on the Meta interface value already gives
// this, since implementations are expected to be per-model singletons).
type Manager struct {
	meta         ds.Meta
	writeBackend ds.BackendAdapter
	readBackend  ds.BackendAdapter
	router       *Router

	// deleteByPKSet builds the single query a SessionModel for an
	// "object" model uses to delete every instance popped from its
	// deleted bucket in one shot. It is supplied by the (external) query
	// builder via SetDeleteByPKSet; until set, object-model deletes by
	// instance (rather than by an explicit query) are silently dropped
	// from the delete batch, since there is no way to address them.
	deleteByPKSet func(pks []any) ds.Query
}

// NewManager binds model to a write backend and, optionally, a
// separate read-only backend. A nil readBackend means reads go through
// writeBackend too.
func NewManager(meta ds.Meta, writeBackend, readBackend ds.BackendAdapter, router *Router) *Manager {
	return &Manager{meta: meta, writeBackend: writeBackend, readBackend: readBackend, router: router}
}

func (m *Manager) Meta() ds.Meta { return m.meta }

// SetDeleteByPKSet installs the query builder callback object-model
// deletes need. Structure models never call it, since their deleted
// instances address themselves directly.
func (m *Manager) SetDeleteByPKSet(build func(pks []any) ds.Query) {
	m.deleteByPKSet = build
}

func (m *Manager) WriteBackend() ds.BackendAdapter { return m.writeBackend }

// ReadBackend returns the read-only backend, falling back to the write
// backend when none was configured.
func (m *Manager) ReadBackend() ds.BackendAdapter {
	if m.readBackend != nil {
		return m.readBackend
	}
	return m.writeBackend
}

// Session returns a new Session from this manager's Router.
func (m *Manager) Session() *Session {
	return m.router.Session()
}

// Query returns this model's SessionModel on a freshly obtained
// session: Session().Model(meta, true).
func (m *Manager) Query() (*SessionModel, error) {
	return m.Session().Model(m.meta, true)
}

// All returns the dirty instances staged for this model on the session
// Query obtains. Each call obtains a new, empty session, so the result
// is always empty; real row retrieval goes through the (external) query
// builder, not through this core.
func (m *Manager) All() ([]ds.Instance, error) {
	sm, err := m.Query()
	if err != nil {
		return nil, err
	}
	return sm.Dirty(), nil
}

// CreateAll is a no-op hook preserved for backends (SQL-flavored ones)
// that need to create a table/schema before first use. Non-SQL
// backends ignore it.
func (m *Manager) CreateAll(ctx context.Context) error {
	return nil
}

// Flush completely removes every key associated with this manager's
// model, via its write backend.
func (m *Manager) Flush(ctx context.Context) error {
	return m.writeBackend.Flush(ctx, m.meta)
}

// Clean removes empty keys associated with this manager's model.
func (m *Manager) Clean(ctx context.Context) error {
	return m.writeBackend.Clean(ctx, m.meta)
}

// Keys retrieves every key for this manager's model via the read
// backend.
func (m *Manager) Keys(ctx context.Context) ([]ds.IID, error) {
	return m.ReadBackend().ModelKeys(ctx, m.meta)
}

// GetOrCreate mirrors Session.GetOrCreate against a session obtained
// from this manager's Router.
func (m *Manager) GetOrCreate(ctx context.Context, items []ds.Instance, build func() ds.Instance) (ds.Instance, bool, error) {
	return m.Session().GetOrCreate(ctx, m.meta, items, build)
}

// Router resolves Managers by model metadata and vends Sessions bound
// to the whole registered set. Exactly one Router typically exists per
// process configuration.
type Router struct {
	managers map[ds.Meta]*Manager
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{managers: make(map[ds.Meta]*Manager)}
}

// Register binds meta to a (write, read) backend pair and returns the
// Manager for later lookup and reuse.
func (r *Router) Register(meta ds.Meta, writeBackend, readBackend ds.BackendAdapter) *Manager {
	mgr := NewManager(meta, writeBackend, readBackend, r)
	r.managers[meta] = mgr
	return mgr
}

// Manager looks up the Manager registered for meta.
func (r *Router) Manager(meta ds.Meta) (*Manager, bool) {
	mgr, ok := r.managers[meta]
	return mgr, ok
}

// Session returns a new Session bound to this Router.
func (r *Router) Session() *Session {
	return NewSession(r)
}
