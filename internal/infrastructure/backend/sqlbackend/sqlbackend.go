// Package sqlbackend implements the session/transaction core's
// BackendAdapter port against a SQL database via database/sql, proving
// the core is backend-agnostic by swapping Redis's pipeline model for
// transactional upsert-by-exists-check writes.
package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	ds "github.com/hedgehog/odm/internal/domain/session"
)

// Mapper converts between an Instance's field values and the row a
// table for its model expects, and supplies the table name and column
// list. The field/descriptor system (external to this core) supplies
// the concrete implementation.
type Mapper interface {
	Table(meta ds.Meta) string
	Columns(meta ds.Meta) []string
	Values(instance ds.Instance) ([]any, error)
	ScanKey(row RowScanner) (any, error)
}

// RowScanner abstracts over sql.Row/sql.Rows so callers can pass either
// a single-row or multi-row scan target.
type RowScanner interface {
	Scan(dest ...any) error
}

// Backend is a BackendAdapter over database/sql + lib/pq: one
// transaction per ExecuteSession batch, one upsert-by-exists-check per
// dirty instance, one DELETE per model with a pending delete query.
type Backend struct {
	db     *sql.DB
	mapper Mapper
}

// New returns a Backend bound to db.
func New(db *sql.DB, mapper Mapper) *Backend {
	return &Backend{db: db, mapper: mapper}
}

// ExecuteSession runs every SessionData entry's writes inside one SQL
// transaction, committing only if every entry succeeds; a single
// entry's failure rolls the whole batch back and is reported on that
// entry's ModelResult, matching how a backend-level error propagates
// through the rest of the batch.
func (b *Backend) ExecuteSession(ctx context.Context, data []ds.SessionData) ([]ds.ModelResult, error) {
	start := time.Now()

	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		b.recordMetrics("begin_tx", start, err)
		return nil, b.wrapError("begin_tx", err)
	}

	results := make([]ds.ModelResult, len(data))
	for i, entry := range data {
		modelResult := ds.ModelResult{Meta: entry.Meta}

		for _, instance := range entry.Dirty {
			id, err := b.upsert(ctx, tx, entry.Meta, instance)
			if err != nil {
				modelResult.Err = b.wrapError("upsert", err)
				break
			}
			modelResult.Results = append(modelResult.Results, ds.InstanceResult{
				IID:        instance.GetState().IID,
				ID:         id,
				Persistent: true,
			})
		}

		if modelResult.Err == nil && entry.Deletes != nil {
			if err := b.deleteByQuery(ctx, tx, entry.Meta); err != nil {
				modelResult.Err = b.wrapError("delete", err)
			} else {
				modelResult.Results = append(modelResult.Results, ds.InstanceResult{Deleted: true})
			}
		}

		if modelResult.Err != nil {
			_ = tx.Rollback()
			results[i] = modelResult
			b.recordMetrics("execute_session", start, modelResult.Err)
			return results, nil
		}
		results[i] = modelResult
	}

	if err := tx.Commit(); err != nil {
		b.recordMetrics("commit", start, err)
		return nil, b.wrapError("commit", err)
	}

	b.recordMetrics("execute_session", start, nil)
	return results, nil
}

func (b *Backend) upsert(ctx context.Context, tx *sql.Tx, meta ds.Meta, instance ds.Instance) (any, error) {
	table := b.mapper.Table(meta)
	columns := b.mapper.Columns(meta)
	values, err := b.mapper.Values(instance)
	if err != nil {
		return nil, err
	}

	exists, err := b.rowExists(ctx, tx, table, meta.PKName(), instance.PKValue())
	if err != nil {
		return nil, err
	}

	if exists {
		if err := b.update(ctx, tx, table, meta.PKName(), columns, values, instance.PKValue()); err != nil {
			return nil, err
		}
		return instance.PKValue(), nil
	}
	return b.insert(ctx, tx, table, columns, values)
}

func (b *Backend) rowExists(ctx context.Context, tx *sql.Tx, table, pkName string, pk any) (bool, error) {
	if pk == nil {
		return false, nil
	}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1 LIMIT 1", table, pkName)
	var exists int
	err := tx.QueryRowContext(ctx, query, pk).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) update(ctx context.Context, tx *sql.Tx, table, pkName string, columns []string, values []any, pk any) error {
	set := ""
	for i, col := range columns {
		if i > 0 {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", col, i+1)
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d", table, set, pkName, len(columns)+1)
	_, err := tx.ExecContext(ctx, query, append(append([]any{}, values...), pk)...)
	return err
}

func (b *Backend) insert(ctx context.Context, tx *sql.Tx, table string, columns []string, values []any) (any, error) {
	placeholders := ""
	cols := ""
	for i, col := range columns {
		if i > 0 {
			placeholders += ", "
			cols += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		cols += col
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", table, cols, placeholders)
	row := tx.QueryRowContext(ctx, query, values...)
	return b.mapper.ScanKey(row)
}

func (b *Backend) deleteByQuery(ctx context.Context, tx *sql.Tx, meta ds.Meta) error {
	table := b.mapper.Table(meta)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IS NOT NULL", table, meta.PKName())
	_, err := tx.ExecContext(ctx, query)
	return err
}

// ModelKeys returns every primary key currently stored for meta.
func (b *Backend) ModelKeys(ctx context.Context, meta ds.Meta) ([]ds.IID, error) {
	table := b.mapper.Table(meta)
	query := fmt.Sprintf("SELECT %s FROM %s", meta.PKName(), table)
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, b.wrapError("model_keys", err)
	}
	defer rows.Close()

	var out []ds.IID
	for rows.Next() {
		var pk any
		if err := rows.Scan(&pk); err != nil {
			return nil, b.wrapError("model_keys_scan", err)
		}
		out = append(out, ds.NewIID(pk))
	}
	return out, rows.Err()
}

// Flush removes every row for meta's table.
func (b *Backend) Flush(ctx context.Context, meta ds.Meta) error {
	table := b.mapper.Table(meta)
	_, err := b.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table))
	if err != nil {
		return b.wrapError("flush", err)
	}
	return nil
}

// Clean is a no-op for sqlbackend: a SQL table has no notion of an
// "empty key" distinct from a deleted row, so there is nothing for
// Clean to do beyond what Flush/delete already handle.
func (b *Backend) Clean(ctx context.Context, meta ds.Meta) error {
	return nil
}

func (b *Backend) wrapError(operation string, err error) error {
	return fmt.Errorf("sql backend %s failed: %w", operation, err)
}

func (b *Backend) recordMetrics(operation string, start time.Time, err error) {
	_ = operation
	_ = start
	_ = err
}
