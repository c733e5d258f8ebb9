package uow

import ds "github.com/hedgehog/odm/internal/domain/session"

// orderedInstances is an insertion-ordered iid -> Instance mapping, the
// shape SessionModel needs for its three buckets: O(1) membership test
// and lookup, but iteration (and therefore the dispatch order a
// backend sees) follows insertion order, not map order.
type orderedInstances struct {
	order []ds.IID
	byIID map[ds.IID]ds.Instance
}

func newOrderedInstances() *orderedInstances {
	return &orderedInstances{byIID: make(map[ds.IID]ds.Instance)}
}

func (m *orderedInstances) set(iid ds.IID, inst ds.Instance) {
	if _, exists := m.byIID[iid]; !exists {
		m.order = append(m.order, iid)
	}
	m.byIID[iid] = inst
}

func (m *orderedInstances) get(iid ds.IID) (ds.Instance, bool) {
	inst, ok := m.byIID[iid]
	return inst, ok
}

func (m *orderedInstances) has(iid ds.IID) bool {
	_, ok := m.byIID[iid]
	return ok
}

// pop removes iid and returns the instance that was stored there, or
// (nil, false) if it was not present.
func (m *orderedInstances) pop(iid ds.IID) (ds.Instance, bool) {
	inst, ok := m.byIID[iid]
	if !ok {
		return nil, false
	}
	delete(m.byIID, iid)
	for i, k := range m.order {
		if k.Equal(iid) {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return inst, true
}

func (m *orderedInstances) clear() {
	m.order = nil
	m.byIID = make(map[ds.IID]ds.Instance)
}

func (m *orderedInstances) len() int {
	return len(m.order)
}

// values returns the stored instances in insertion order.
func (m *orderedInstances) values() []ds.Instance {
	out := make([]ds.Instance, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.byIID[k])
	}
	return out
}

// ModelDictionary is an identity-preserving mapping keyed by model
// metadata. Transaction uses it for Saved/Deleted: populated only once
// a commit has finished, keyed by the exact Meta each SessionModel
// carries.
type ModelDictionary[V any] struct {
	entries map[ds.Meta]V
}

// NewModelDictionary returns an empty dictionary.
func NewModelDictionary[V any]() *ModelDictionary[V] {
	return &ModelDictionary[V]{entries: make(map[ds.Meta]V)}
}

func (d *ModelDictionary[V]) Get(meta ds.Meta) (V, bool) {
	v, ok := d.entries[meta]
	return v, ok
}

func (d *ModelDictionary[V]) Set(meta ds.Meta, v V) {
	d.entries[meta] = v
}

func (d *ModelDictionary[V]) Delete(meta ds.Meta) {
	delete(d.entries, meta)
}

// Len reports how many models currently have an entry.
func (d *ModelDictionary[V]) Len() int {
	return len(d.entries)
}

// Range calls f for every entry; iteration order is unspecified, as
// ModelDictionary's role is keyed lookup (saved/deleted-by-model after
// commit), not ordered traversal.
func (d *ModelDictionary[V]) Range(f func(ds.Meta, V) bool) {
	for k, v := range d.entries {
		if !f(k, v) {
			return
		}
	}
}
