// Package redisbackend implements the session/transaction core's
// BackendAdapter port against a Redis-compatible server, batching every
// model's dirty instances and delete queries for one commit into a
// single pipeline. Read queries in SessionData.Queries are not executed.
package redisbackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	ds "github.com/hedgehog/odm/internal/domain/session"
)

// Serializer converts between an Instance's field values and the flat
// string map a Redis hash stores. The field/descriptor system (external
// to this core) supplies the concrete implementation; this package only
// depends on the two directions it needs.
type Serializer interface {
	ToHash(instance ds.Instance) (map[string]string, error)
	FromHash(meta ds.Meta, hash map[string]string) (ds.Instance, error)
}

// Backend is a BackendAdapter over go-redis, storing each object model
// as one Redis hash per instance (keyed by model name and primary key)
// and tracking the live key set for a model in a companion Redis set,
// mirroring the key-prefix/namespacing convention the cache adapter uses
// elsewhere in this codebase.
type Backend struct {
	client     *redis.Client
	keyPrefix  string
	serializer Serializer
}

// New returns a Backend bound to client, namespacing every key under
// keyPrefix.
func New(client *redis.Client, keyPrefix string, serializer Serializer) *Backend {
	return &Backend{client: client, keyPrefix: keyPrefix, serializer: serializer}
}

func (b *Backend) hashKey(meta ds.Meta, pk any) string {
	return fmt.Sprintf("%s:%s:%v", b.keyPrefix, meta.Name(), pk)
}

func (b *Backend) indexKey(meta ds.Meta) string {
	return fmt.Sprintf("%s:%s:__keys__", b.keyPrefix, meta.Name())
}

// ExecuteSession batches every SessionData entry's writes into one
// pipeline, then reports per-instance results in the same order data
// was given.
func (b *Backend) ExecuteSession(ctx context.Context, data []ds.SessionData) ([]ds.ModelResult, error) {
	start := time.Now()
	pipe := b.client.TxPipeline()

	results := make([]ds.ModelResult, len(data))

	for i, entry := range data {
		for _, instance := range entry.Dirty {
			hash, err := b.serializer.ToHash(instance)
			if err != nil {
				results[i] = ds.ModelResult{Meta: entry.Meta, Err: b.wrapError("serialize", err)}
				break
			}
			iid := instance.GetState().IID
			key := b.hashKey(entry.Meta, iid)
			pipe.HSet(ctx, key, hash)
			pipe.SAdd(ctx, b.indexKey(entry.Meta), key)
		}

		if entry.Deletes != nil {
			if err := b.queueDelete(ctx, pipe, entry.Meta, entry.Deletes); err != nil {
				results[i] = ds.ModelResult{Meta: entry.Meta, Err: b.wrapError("delete", err)}
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		b.recordMetrics("execute_session", start, err)
		return nil, b.wrapError("pipeline_exec", err)
	}

	for i, entry := range data {
		if results[i].Err != nil {
			continue
		}
		modelResult := ds.ModelResult{Meta: entry.Meta}
		for _, instance := range entry.Dirty {
			state := instance.GetState()
			id, err := entry.Meta.PKToPython(instance.PKValue(), b)
			if err != nil {
				modelResult.Err = b.wrapError("pk_coerce", err)
				break
			}
			modelResult.Results = append(modelResult.Results, ds.InstanceResult{
				IID:        state.IID,
				ID:         id,
				Persistent: true,
			})
		}
		if entry.Deletes != nil {
			modelResult.Results = append(modelResult.Results, ds.InstanceResult{Deleted: true})
		}
		results[i] = modelResult
	}

	b.recordMetrics("execute_session", start, nil)
	return results, nil
}

// pkSetQuery is the concrete ds.Query this backend's DeleteByPKSet
// builds: a delete batch addressed by an explicit primary-key set,
// resolved straight to each instance's own hash key without touching
// any key this delete batch did not target.
type pkSetQuery struct {
	meta ds.Meta
	pks  []any
}

func (q *pkSetQuery) Union(others ...ds.Query) ds.Query {
	merged := append([]any{}, q.pks...)
	for _, o := range others {
		if pq, ok := o.(*pkSetQuery); ok {
			merged = append(merged, pq.pks...)
		}
	}
	return &pkSetQuery{meta: q.meta, pks: merged}
}

func (q *pkSetQuery) Backend() ds.BackendAdapter { return nil }
func (q *pkSetQuery) Session() any               { return nil }

// DeleteByPKSet returns the callback a Manager for meta wires in via
// SetDeleteByPKSet, so that SessionModel.GetDeleteQuery's object-model
// deletes arrive at queueDelete as a pkSetQuery this backend can resolve
// to concrete keys instead of a query it cannot interpret.
func (b *Backend) DeleteByPKSet(meta ds.Meta) func(pks []any) ds.Query {
	return func(pks []any) ds.Query {
		return &pkSetQuery{meta: meta, pks: pks}
	}
}

// queueDelete resolves entry.Deletes to the exact hash keys it targets
// and pipelines their removal, untracking only those keys from the
// model's index set rather than wiping the whole index. It can only
// resolve queries built by this backend's own DeleteByPKSet; any other
// concrete Query type is reported as an error instead of silently
// deleting more (or less) than the batch actually targets.
func (b *Backend) queueDelete(ctx context.Context, pipe redis.Pipeliner, meta ds.Meta, query ds.Query) error {
	pq, ok := query.(*pkSetQuery)
	if !ok {
		return fmt.Errorf("cannot resolve delete query of type %T to concrete keys", query)
	}
	for _, pk := range pq.pks {
		key := b.hashKey(meta, pk)
		pipe.Del(ctx, key)
		pipe.SRem(ctx, b.indexKey(meta), key)
	}
	return nil
}

// ModelKeys returns every key tracked for meta, coerced through
// Meta.PKToPython.
func (b *Backend) ModelKeys(ctx context.Context, meta ds.Meta) ([]ds.IID, error) {
	members, err := b.client.SMembers(ctx, b.indexKey(meta)).Result()
	if err != nil {
		return nil, b.wrapError("model_keys", err)
	}
	prefix := b.hashKey(meta, "")
	out := make([]ds.IID, 0, len(members))
	for _, m := range members {
		id, err := meta.PKToPython(strings.TrimPrefix(m, prefix), b)
		if err != nil {
			return nil, b.wrapError("model_keys_coerce", err)
		}
		out = append(out, ds.NewIID(id))
	}
	return out, nil
}

// Flush removes every key tracked for meta, plus the tracking set
// itself.
func (b *Backend) Flush(ctx context.Context, meta ds.Meta) error {
	keys, err := b.client.SMembers(ctx, b.indexKey(meta)).Result()
	if err != nil {
		return b.wrapError("flush_members", err)
	}
	pipe := b.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, b.indexKey(meta))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return b.wrapError("flush_exec", err)
	}
	return nil
}

// Clean removes tracked keys whose hash no longer has any fields,
// without otherwise touching non-empty ones.
func (b *Backend) Clean(ctx context.Context, meta ds.Meta) error {
	keys, err := b.client.SMembers(ctx, b.indexKey(meta)).Result()
	if err != nil {
		return b.wrapError("clean_members", err)
	}
	for _, key := range keys {
		n, err := b.client.HLen(ctx, key).Result()
		if err != nil {
			return b.wrapError("clean_hlen", err)
		}
		if n == 0 {
			if err := b.client.SRem(ctx, b.indexKey(meta), key).Err(); err != nil {
				return b.wrapError("clean_srem", err)
			}
		}
	}
	return nil
}

func (b *Backend) wrapError(operation string, err error) error {
	return fmt.Errorf("redis backend %s failed: %w", operation, err)
}

func (b *Backend) recordMetrics(operation string, start time.Time, err error) {
	_ = operation
	_ = start
	_ = err
}
