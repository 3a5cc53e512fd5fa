// Copyright 2024-2026 The Velt Authors
// This file is part of the Velt embedded datastore.
//
// Velt is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Velt is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Velt. If not, see <http://www.gnu.org/licenses/>.

package datastore

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// ChangeKind discriminates a row-level mutation recorded during a MutTx,
// consumed by the subscription engine's incremental delta evaluation.
type ChangeKind uint8

const (
	ChangeInsert ChangeKind = iota
	ChangeDelete
)

// RowChange is one row-level effect of a committed transaction.
type RowChange struct {
	Table string
	Kind  ChangeKind
	RowId rowstore.RowId
	Row   sats.Value
}

// txBase holds what ReadTx and MutTx have in common: a live bbolt
// transaction and a snapshot of the catalog as of when the transaction
// began.
type txBase struct {
	tx      *bolt.Tx
	catalog Catalog
	ds      *Datastore
	closed  bool
}

func (b *txBase) table(name string) (*rowstore.Table, error) {
	if b.closed {
		return nil, errors.ErrTxClosed
	}
	schema, ok := b.catalog.Tables[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrTableNotFound, "table %q", name)
	}
	return rowstore.NewTable(schema, b.ds.typespace, b.ds.blobs, b.ds.cfg.MaxBlobInlineSize), nil
}

// ReadTx is a read-only snapshot: a live bbolt view transaction, so every
// read it performs observes the same consistent point in time regardless
// of writes that commit afterward.
type ReadTx struct {
	txBase
}

// Get reads one row by id.
func (r *ReadTx) Get(table string, id rowstore.RowId) (sats.Value, error) {
	t, err := r.table(table)
	if err != nil {
		return sats.Value{}, err
	}
	return t.Get(r.tx, id)
}

// Scan visits every row of table in RowId order.
func (r *ReadTx) Scan(table string, fn func(id rowstore.RowId, row sats.Value) bool) error {
	t, err := r.table(table)
	if err != nil {
		return err
	}
	return t.Scan(r.tx, fn)
}

// IndexSeek returns row ids whose indexed columns exactly match key.
func (r *ReadTx) IndexSeek(table, index string, key []sats.Value) ([]rowstore.RowId, error) {
	t, err := r.table(table)
	if err != nil {
		return nil, err
	}
	return t.IndexSeek(r.tx, index, key)
}

// Catalog returns the schema snapshot this transaction observes.
func (r *ReadTx) Catalog() Catalog { return r.catalog }

// MutTx is the single exclusive writer. Every mutation it performs is
// recorded as a RowChange so the caller (normally the module host,
// dispatching one reducer) can hand the changeset to the subscription
// engine once the transaction commits.
type MutTx struct {
	txBase
	changes     []RowChange
	newCatalog  Catalog
	schemaDirty bool
}

func newMutTx(tx *bolt.Tx, catalog Catalog, ds *Datastore) *MutTx {
	return &MutTx{
		txBase:     txBase{tx: tx, catalog: catalog, ds: ds},
		newCatalog: catalog,
	}
}

// Insert adds a row and returns its assigned id.
func (m *MutTx) Insert(table string, row sats.Value) (rowstore.RowId, error) {
	t, err := m.table(table)
	if err != nil {
		return 0, err
	}
	id, err := t.Insert(m.tx, row)
	if err != nil {
		return 0, err
	}
	m.changes = append(m.changes, RowChange{Table: table, Kind: ChangeInsert, RowId: id, Row: row})
	return id, nil
}

// Delete removes a row.
func (m *MutTx) Delete(table string, id rowstore.RowId) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	row, err := t.Get(m.tx, id)
	if err != nil {
		return err
	}
	if err := t.Delete(m.tx, id); err != nil {
		return err
	}
	m.changes = append(m.changes, RowChange{Table: table, Kind: ChangeDelete, RowId: id, Row: row})
	return nil
}

// Update replaces a row's contents, recorded as a delete of the old row
// plus an insert of the new one: subscription deltas only ever need to
// reason about inserts and deletes, never in-place mutation, which keeps
// the multiset-cancellation logic in package subscription to one rule.
func (m *MutTx) Update(table string, id rowstore.RowId, next sats.Value) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	prev, err := t.Get(m.tx, id)
	if err != nil {
		return err
	}
	if err := t.Update(m.tx, id, next); err != nil {
		return err
	}
	m.changes = append(m.changes,
		RowChange{Table: table, Kind: ChangeDelete, RowId: id, Row: prev},
		RowChange{Table: table, Kind: ChangeInsert, RowId: id, Row: next},
	)
	return nil
}

// Get, Scan, IndexSeek read through the in-flight writer's own view,
// which bbolt guarantees sees its own uncommitted writes.
func (m *MutTx) Get(table string, id rowstore.RowId) (sats.Value, error) {
	t, err := m.table(table)
	if err != nil {
		return sats.Value{}, err
	}
	return t.Get(m.tx, id)
}

func (m *MutTx) Scan(table string, fn func(id rowstore.RowId, row sats.Value) bool) error {
	t, err := m.table(table)
	if err != nil {
		return err
	}
	return t.Scan(m.tx, fn)
}

func (m *MutTx) IndexSeek(table, index string, key []sats.Value) ([]rowstore.RowId, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return t.IndexSeek(m.tx, index, key)
}

// CreateTable registers a new table schema. Returns ErrBreakingSchemaChange
// if a table of this name already exists and the change is breaking,
// unless allowBreaking is set (module publish sets this only after the
// caller explicitly acknowledged the break).
func (m *MutTx) CreateTable(schema rowstore.TableSchema, allowBreaking bool) error {
	if existing, ok := m.newCatalog.Tables[schema.Name]; ok {
		if existing.Breaking(schema) && !allowBreaking {
			return errors.ErrBreakingSchemaChange
		}
	}
	m.newCatalog.Tables[schema.Name] = schema
	m.schemaDirty = true
	return nil
}

// DropTable removes a table's schema. The caller is responsible for
// having already deleted its rows; DropTable only touches the catalog.
func (m *MutTx) DropTable(name string) error {
	if _, ok := m.newCatalog.Tables[name]; !ok {
		return errors.Wrapf(errors.ErrTableNotFound, "table %q", name)
	}
	delete(m.newCatalog.Tables, name)
	m.schemaDirty = true
	return nil
}

// AddRLSRule binds a row-level security predicate to a table.
func (m *MutTx) AddRLSRule(table, predicate string) error {
	if _, ok := m.newCatalog.Tables[table]; !ok {
		return errors.Wrapf(errors.ErrTableNotFound, "table %q", table)
	}
	m.newCatalog.RLS[table] = append(m.newCatalog.RLS[table], RLSRule{Table: table, Predicate: predicate})
	m.schemaDirty = true
	return nil
}

// Changes returns the row-level effects recorded so far.
func (m *MutTx) Changes() []RowChange { return append([]RowChange(nil), m.changes...) }

// Cancelled reports whether ctx has been cancelled, for long-running
// reducer host calls to check cooperatively between row operations.
func Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
