package uow

import (
	"context"

	ds "github.com/hedgehog/odm/internal/domain/session"
)

// testMeta, testInstance, testQuery, and testBackend are the shared
// doubles every *_test.go file in this package builds its fixtures
// from, standing in for the field/descriptor system and a concrete
// backend adapter.

type testMeta struct {
	name      string
	modelType ds.ModelType
}

func (m testMeta) Name() string   { return m.name }
func (m testMeta) PKName() string { return "id" }
func (m testMeta) ModelType() ds.ModelType {
	if m.modelType == "" {
		return ds.ModelTypeObject
	}
	return m.modelType
}
func (m testMeta) PKToPython(raw any, backend any) (any, error) { return raw, nil }

type testInstance struct {
	meta    testMeta
	state   ds.InstanceState
	pk      any
	session any
}

func newTestInstance(meta testMeta) *testInstance {
	return &testInstance{meta: meta}
}

func (i *testInstance) Meta() ds.Meta              { return i.meta }
func (i *testInstance) GetState() ds.InstanceState { return i.state }
func (i *testInstance) SetState(s ds.InstanceState) ds.Instance {
	i.state = s
	return i
}
func (i *testInstance) PKValue() any     { return i.pk }
func (i *testInstance) SetPKValue(v any) { i.pk = v }
func (i *testInstance) SetSession(s any) { i.session = s }
func (i *testInstance) Session() any     { return i.session }

type testQuery struct {
	backend ds.BackendAdapter
	session any
	unioned []ds.Query
}

func (q *testQuery) Union(others ...ds.Query) ds.Query {
	return &testQuery{backend: q.backend, session: q.session, unioned: append([]ds.Query{ds.Query(q)}, others...)}
}
func (q *testQuery) Backend() ds.BackendAdapter { return q.backend }
func (q *testQuery) Session() any               { return q.session }

type testBackend struct {
	executeFn func(ctx context.Context, data []ds.SessionData) ([]ds.ModelResult, error)
	keys      []ds.IID
}

func (b *testBackend) ExecuteSession(ctx context.Context, data []ds.SessionData) ([]ds.ModelResult, error) {
	if b.executeFn != nil {
		return b.executeFn(ctx, data)
	}
	out := make([]ds.ModelResult, len(data))
	for i, d := range data {
		var results []ds.InstanceResult
		for _, inst := range d.Dirty {
			results = append(results, ds.InstanceResult{
				IID:        inst.GetState().IID,
				ID:         inst.GetState().IID.Value,
				Persistent: true,
			})
		}
		out[i] = ds.ModelResult{Meta: d.Meta, Results: results}
	}
	return out, nil
}

func (b *testBackend) ModelKeys(ctx context.Context, meta ds.Meta) ([]ds.IID, error) {
	return b.keys, nil
}
func (b *testBackend) Flush(ctx context.Context, meta ds.Meta) error { return nil }
func (b *testBackend) Clean(ctx context.Context, meta ds.Meta) error { return nil }
