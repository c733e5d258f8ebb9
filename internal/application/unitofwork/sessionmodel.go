package uow

import (
	"fmt"

	ds "github.com/hedgehog/odm/internal/domain/session"
)

// SessionModel is the unit-of-work bucket for one model within a
// Session: three insertion-ordered buckets (new, modified, deleted), a
// list of query-shaped bulk deletes, and a list of read-only queries
// awaiting dispatch via the model's read backend.
//
// A SessionModel is owned exclusively by one Session; nothing here is
// safe for concurrent use from more than one goroutine at a time.
type SessionModel struct {
	manager *Manager

	new         *orderedInstances
	modified    *orderedInstances
	deletedSet  *orderedInstances
	deleteQuery []ds.Query
	queries     []ds.Query
}

// NewSessionModel constructs an empty bucket for the given manager.
func NewSessionModel(manager *Manager) *SessionModel {
	return &SessionModel{
		manager:    manager,
		new:        newOrderedInstances(),
		modified:   newOrderedInstances(),
		deletedSet: newOrderedInstances(),
	}
}

// Manager returns the Manager this bucket belongs to.
func (sm *SessionModel) Manager() *Manager { return sm.manager }

// Meta returns the model descriptor for this bucket.
func (sm *SessionModel) Meta() ds.Meta { return sm.manager.Meta() }

// Len reports the number of instances across all three buckets.
func (sm *SessionModel) Len() int {
	return sm.new.len() + sm.modified.len() + sm.deletedSet.len()
}

// Dirty returns the new and modified instances, new first, each group
// in insertion order — the exact order a backend will receive them in.
func (sm *SessionModel) Dirty() []ds.Instance {
	out := make([]ds.Instance, 0, sm.new.len()+sm.modified.len())
	out = append(out, sm.new.values()...)
	out = append(out, sm.modified.values()...)
	return out
}

// IterDirty is an alias for Dirty kept for readers translating directly
// from the new/modified iteration order spec.
func (sm *SessionModel) IterDirty() []ds.Instance { return sm.Dirty() }

// Deleted returns the instances currently marked for deletion.
func (sm *SessionModel) Deleted() []ds.Instance {
	return sm.deletedSet.values()
}

// Get returns the instance currently stored in _modified or _deleted
// under iid; instances staged only in _new are never returned, since
// they have no identity a caller could already be holding.
func (sm *SessionModel) Get(iid ds.IID) (ds.Instance, bool) {
	if inst, ok := sm.modified.get(iid); ok {
		return inst, true
	}
	if inst, ok := sm.deletedSet.get(iid); ok {
		return inst, true
	}
	return nil, false
}

// Contains reports whether instance currently occupies any bucket.
func (sm *SessionModel) Contains(instance ds.Instance) bool {
	iid := instance.GetState().IID
	return sm.new.has(iid) || sm.modified.has(iid) || sm.deletedSet.has(iid)
}

// Add stages instance into the appropriate bucket. See spec: the
// ordered rules below mirror SessionModel.add exactly.
func (sm *SessionModel) Add(instance ds.Instance, modified bool, persistent *bool, forceUpdate bool) (ds.Instance, error) {
	state := instance.GetState()
	if state.Deleted {
		return nil, fmt.Errorf("%w: instance is marked deleted, cannot add", ds.ErrInvalidOperation)
	}

	if _, err := sm.popChecked(state.IID); err != nil {
		return nil, err
	}

	pers := state.Persistent
	if persistent != nil {
		pers = *persistent
	}

	switch {
	case !pers:
		instance.SetPKValue(nil)
		// An unsaved instance keeps the local token it already has;
		// otherwise it gets a fresh one, so several new instances can be
		// staged side by side in the new bucket.
		if !state.IID.Valid || state.Persistent {
			state = state.WithIID(ds.NewLocalIID())
		}
	case persistent != nil && *persistent:
		// The primary key is already on the instance (the caller set it
		// before calling Add, e.g. PostCommit); re-stating here just
		// carries it into the iid.
		state = state.WithIID(ds.NewIID(instance.PKValue()))
	default:
		action := ds.ActionNone
		if forceUpdate {
			action = ds.ActionUpdate
		}
		state = state.WithAction(action)
	}
	state.Persistent = pers
	instance = instance.SetState(state)

	iid := state.IID

	// Structure-typed models always route to the modified bucket and
	// always clear the deleted flag, regardless of persistence.
	if sm.Meta().ModelType() == ds.ModelTypeStructure {
		if state.Deleted {
			state.Deleted = false
			instance = instance.SetState(state)
		}
		sm.modified.set(iid, instance)
		return instance, nil
	}

	if pers {
		if modified {
			sm.modified.set(iid, instance)
		}
	} else {
		sm.new.set(iid, instance)
	}
	return instance, nil
}

// Delete removes instance from all buckets. If it was persistent, it is
// re-staged into the deleted bucket and bound to owningSession;
// otherwise its session link is severed and it is dropped entirely.
func (sm *SessionModel) Delete(instance ds.Instance, owningSession any) (ds.Instance, error) {
	popped, err := sm.popByInstance(instance)
	if err != nil {
		return nil, err
	}
	target := popped
	if target == nil {
		target = instance
	}
	state := target.GetState()
	if state.Persistent {
		state.Deleted = true
		target = target.SetState(state)
		sm.deletedSet.set(state.IID, target)
		target.SetSession(owningSession)
		return target, nil
	}
	target.SetSession(nil)
	return nil, nil
}

// Pop removes the instance identified by iid from whichever bucket
// holds it. Returns (nil, nil) if it was not present anywhere.
func (sm *SessionModel) Pop(iid ds.IID) (ds.Instance, error) {
	return sm.popChecked(iid)
}

func (sm *SessionModel) popChecked(iid ds.IID) (ds.Instance, error) {
	var found ds.Instance
	for _, bucket := range []*orderedInstances{sm.new, sm.modified, sm.deletedSet} {
		if inst, ok := bucket.pop(iid); ok {
			if found != nil && !sameIdentity(found, inst) {
				return nil, fmt.Errorf("%w: %v is duplicated across buckets", ds.ErrDuplicateIdentity, iid)
			}
			found = inst
		}
	}
	return found, nil
}

func (sm *SessionModel) popByInstance(instance ds.Instance) (ds.Instance, error) {
	iid := instance.GetState().IID
	return sm.popChecked(iid)
}

func sameIdentity(a, b ds.Instance) bool {
	return a == b
}

// Expunge removes instance from the session entirely, unlinking its
// session back-reference.
func (sm *SessionModel) Expunge(instance ds.Instance) (ds.Instance, error) {
	popped, err := sm.popByInstance(instance)
	if err != nil {
		return nil, err
	}
	if popped != nil {
		popped.SetSession(nil)
	}
	return popped, nil
}

// GetDeleteQuery consumes the pending delete-query list and the
// deleted bucket, returning their union as a single Query (or nil if
// there is nothing to delete). For "object" models, the deleted
// instances are folded into one filter-by-primary-key-set query; for
// "structure" models, each deleted instance contributes its own query
// directly. Both buffers are cleared regardless of outcome.
func (sm *SessionModel) GetDeleteQuery(byPKSet func(pks []any) ds.Query) ds.Query {
	queries := sm.deleteQuery
	deleted := sm.Deleted()
	if len(deleted) > 0 {
		sm.deletedSet.clear()
		if sm.Meta().ModelType() == ds.ModelTypeObject {
			pks := make([]any, 0, len(deleted))
			for _, inst := range deleted {
				pks = append(pks, inst.PKValue())
			}
			if byPKSet != nil {
				queries = append(queries, byPKSet(pks))
			}
		} else {
			for _, inst := range deleted {
				if q, ok := instanceAsQuery(inst); ok {
					queries = append(queries, q)
				}
			}
		}
	}
	sm.deleteQuery = nil
	if len(queries) == 0 {
		return nil
	}
	head := queries[0]
	if len(queries) > 1 {
		return head.Union(queries[1:]...)
	}
	return head
}

// instanceAsQuery lets a structure instance contribute itself directly
// to a delete-query union, when the field/descriptor system's instance
// type also implements Query (structures are addressed by their own
// key, not by a filter).
func instanceAsQuery(inst ds.Instance) (ds.Query, bool) {
	q, ok := inst.(ds.Query)
	return q, ok
}

// AppendDeleteQuery appends a query-shaped bulk delete request.
func (sm *SessionModel) AppendDeleteQuery(q ds.Query) {
	sm.deleteQuery = append(sm.deleteQuery, q)
}

// AppendQuery appends a read-only query to be dispatched via the read
// backend on the next commit.
func (sm *SessionModel) AppendQuery(q ds.Query) {
	sm.queries = append(sm.queries, q)
}

// PostCommit processes one model's worth of backend results after a
// commit: instances are popped by reported iid, errors are wrapped with
// the model name and accumulated, deletions contribute coerced primary
// keys, and saves are re-added (unmodified) with their assigned key and
// score.
func (sm *SessionModel) PostCommit(results []ds.InstanceResult, resultErr error, backend any) (saved []ds.Instance, deletedIDs []any, errs []error) {
	if resultErr != nil {
		errs = append(errs, ds.WrapModelError(sm.Meta().Name(), resultErr))
		return nil, nil, errs
	}
	for _, result := range results {
		instance, err := sm.popChecked(result.IID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		id, err := sm.Meta().PKToPython(result.ID, backend)
		if err != nil {
			errs = append(errs, ds.WrapModelError(sm.Meta().Name(), err))
			continue
		}
		// Deleted instances already left the deleted bucket when
		// GetDeleteQuery consumed it, so a delete result needs no match.
		if result.Deleted {
			deletedIDs = append(deletedIDs, id)
			continue
		}
		if instance == nil {
			errs = append(errs, fmt.Errorf("%w: %s session received id %q which is not in the session",
				ds.ErrInvalidTransaction, sm.Meta().Name(), result.IID))
			continue
		}
		instance.SetPKValue(id)
		persistent := result.Persistent
		readded, err := sm.Add(instance, false, &persistent, false)
		if err != nil {
			errs = append(errs, ds.WrapModelError(sm.Meta().Name(), err))
			continue
		}
		state := readded.GetState()
		state.Score = result.Score
		state.HasScore = result.HasScore
		readded = readded.SetState(state)
		if readded.GetState().Persistent {
			saved = append(saved, readded)
		}
	}
	return saved, deletedIDs, errs
}

// BackendsData yields (backend, SessionData) pairs for this model's
// pending work, splitting write traffic from read-only queries when the
// manager's write and read backends differ. It fires pre_delete/
// pre_commit signals (if requested by the transaction) before emitting
// anything, and emits nothing when dirty, deletes, and queries are all
// empty.
func (sm *SessionModel) BackendsData(tx *Transaction, byPKSet func(pks []any) ds.Query) []backendPayload {
	dirty := sm.Dirty()
	deletes := sm.GetDeleteQuery(byPKSet)
	queries := sm.queries
	sm.queries = nil

	if len(dirty) == 0 && deletes == nil && len(queries) == 0 {
		return nil
	}

	if tx.signalDelete && deletes != nil {
		tx.hub.firePreDelete(sm.Meta(), []ds.Query{deletes}, tx.session, tx)
	}
	if tx.signalCommit && len(dirty) > 0 {
		tx.hub.firePreCommit(sm.Meta(), dirty, tx.session, tx)
	}

	write := sm.manager.WriteBackend()
	read := sm.manager.ReadBackend()

	if write == read {
		return []backendPayload{{
			backend: write,
			data:    ds.SessionData{Meta: sm.Meta(), Dirty: dirty, Deletes: deletes, Queries: queries},
		}}
	}

	var out []backendPayload
	if len(dirty) > 0 || deletes != nil {
		out = append(out, backendPayload{
			backend: write,
			data:    ds.SessionData{Meta: sm.Meta(), Dirty: dirty, Deletes: deletes},
		})
	}
	if len(queries) > 0 {
		out = append(out, backendPayload{
			backend: read,
			data:    ds.SessionData{Meta: sm.Meta(), Queries: queries},
		})
	}
	return out
}

type backendPayload struct {
	backend ds.BackendAdapter
	data    ds.SessionData
}
