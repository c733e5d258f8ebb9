package session

// Action hints to a backend adapter whether a persistent write should
// be a full replace or a partial update.
type Action string

const (
	ActionNone   Action = ""
	ActionUpdate Action = "update"
)

// InstanceState carries everything the session/transaction core tracks
// about one instance, independent of the instance's own field values.
//
// Invariants (enforced by SessionModel, not by InstanceState itself):
// Deleted implies Persistent was true at the moment of marking; IID is
// unique within one SessionModel; an instance never appears in more
// than one of a SessionModel's three buckets at once.
type InstanceState struct {
	IID        IID
	Persistent bool
	Deleted    bool
	Action     Action
	Score      float64
	HasScore   bool
}

// Clone returns an independent copy, since InstanceState is mutated by
// re-stating (see WithIID/WithAction) rather than in place.
func (s InstanceState) Clone() InstanceState {
	return s
}

// WithIID returns a copy of the state with IID replaced.
func (s InstanceState) WithIID(iid IID) InstanceState {
	s.IID = iid
	return s
}

// WithAction returns a copy of the state with Action replaced.
func (s InstanceState) WithAction(a Action) InstanceState {
	s.Action = a
	return s
}

// Instance is the boundary interface between the field/descriptor
// system (external to this module) and the session/transaction core.
// The core never inspects field values except through PKValue.
type Instance interface {
	// Meta returns the model descriptor for this instance.
	Meta() Meta

	// GetState returns the instance's current session state.
	GetState() InstanceState

	// SetState installs a new session state on the instance, returning
	// the instance itself so call sites can chain (mirroring the
	// re-state-and-continue flow SessionModel.Add performs).
	SetState(InstanceState) Instance

	// PKValue returns the instance's current primary key value, or nil
	// if none is set.
	PKValue() any

	// SetPKValue assigns the instance's primary key field. Passing nil
	// clears it, so the backend will assign one on insert.
	SetPKValue(any)

	// SetSession binds (or, with nil, unbinds) the instance to a
	// session. The core does not otherwise hold a reference back from
	// instance to session; callers needing @withsession-style guards use
	// this to check before dereferencing.
	SetSession(s any)

	// Session returns the instance's currently bound session, or nil.
	Session() any
}
