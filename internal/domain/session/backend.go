package session

import "context"

// Query is the opaque expression the (external, unspecified) query
// builder produces. The core never inspects a Query's filter payload;
// it only unions queries together and forwards them to a backend.
type Query interface {
	// Union combines this query with others into one query covering the
	// union of their result sets.
	Union(others ...Query) Query

	// Backend reports the BackendAdapter this query was built against.
	// The core does not read it: SessionModel.BackendsData routes every
	// payload by its Manager's write and read backends.
	Backend() BackendAdapter

	// Session returns the session that built this query, or nil if the
	// query builder does not track one. The application layer uses this
	// to reject deletes against a query built from a foreign session.
	Session() any
}

// SessionData is the per-model payload handed to a backend for one
// dispatch: the model's metadata, its dirty (new+modified) instances,
// an optional unioned delete query, and any read-only queries to run.
// A backend must tolerate any of Dirty/Deletes/Queries being empty, but
// never all three at once — Session never emits an all-empty payload.
type SessionData struct {
	Meta    Meta
	Dirty   []Instance
	Deletes Query
	Queries []Query
}

// InstanceResult is one backend-reported outcome for a single instance
// within a commit.
type InstanceResult struct {
	// IID identifies which staged instance this result corresponds to.
	IID IID
	// ID is the raw backend-assigned primary key, coerced through
	// Meta.PKToPython before use.
	ID any
	// Persistent reports whether the instance is now known to be
	// stored in the backend.
	Persistent bool
	// Deleted reports whether this result represents a deletion rather
	// than a save.
	Deleted bool
	// Score is an optional backend-assigned ordering value.
	Score    float64
	HasScore bool
}

// ModelResult pairs one model's metadata with the per-instance results
// a backend produced for it. A backend may instead report a model-level
// error here instead of a ModelResult; see BackendAdapter.ExecuteSession.
type ModelResult struct {
	Meta    Meta
	Results []InstanceResult
	// Err, if non-nil, means the entire SessionData batch for this model
	// failed; Results is ignored in that case.
	Err error
}

// BackendAdapter is the contract the session/transaction core consumes
// from a concrete backend. The core depends on this interface only; it
// never references a specific backend implementation.
type BackendAdapter interface {
	// ExecuteSession dispatches one batch of per-model payloads and
	// returns one ModelResult per SessionData entry (in the same order),
	// or an error if the batch could not be dispatched at all.
	ExecuteSession(ctx context.Context, data []SessionData) ([]ModelResult, error)

	// ModelKeys returns every key currently stored for a model.
	ModelKeys(ctx context.Context, meta Meta) ([]IID, error)

	// Flush completely removes every key associated with a model.
	Flush(ctx context.Context, meta Meta) error

	// Clean removes empty keys associated with a model, without
	// otherwise touching non-empty ones.
	Clean(ctx context.Context, meta Meta) error
}
