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

// Package rowstore is the typed table layer above the raw key/value
// store: tables are Products in the sats algebra, rows are identified by
// a RowId independent of their column values, and secondary indexes are
// derived key ranges over the same bbolt buckets. This mirrors the
// teacher's rawdb package, which likewise separates a schema description
// (bucket/key layout) from the operations that use it.
package rowstore

import "github.com/veltdb/velt/sats"

// RowId uniquely and permanently identifies a row within a table,
// independent of its column values. It is assigned by the table's
// internal sequence at insert time and never reused.
type RowId uint64

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name string
	Type sats.Type
	// AutoInc marks this column as populated from the table's row-id
	// sequence on insert rather than from caller-supplied data.
	AutoInc bool
}

// IndexSchema describes one secondary index: an ordered list of column
// positions and whether the combination must be unique.
type IndexSchema struct {
	Name    string
	Columns []int
	Unique  bool
}

// TableSchema fully describes a table's shape.
type TableSchema struct {
	Name    string
	Columns []ColumnSchema
	Indexes []IndexSchema
	// PrimaryKey names the unique index (by name) treated as the row's
	// primary key for upsert/foreign-key purposes, or "" if none.
	PrimaryKey string
}

// RowType returns the sats Product type of one row, in column order.
func (s TableSchema) RowType() sats.Type {
	fields := make([]sats.Field, len(s.Columns))
	for i, c := range s.Columns {
		fields[i] = sats.Field{Name: c.Name, Type: c.Type}
	}
	return sats.ProductOf(fields...)
}

// ColumnIndex returns the position of a named column, or -1.
func (s TableSchema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// IndexByName returns the named index schema and whether it exists.
func (s TableSchema) IndexByName(name string) (IndexSchema, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSchema{}, false
}

// Breaking reports whether evolving s into next is a breaking schema
// change: removing a column, narrowing a column's type, or removing a
// unique index are all breaking. Adding a column, adding a non-unique
// index, or widening generally is not checked here (see module host's
// migration path for the full algebraic-subtyping check); this is the
// coarse structural check the datastore applies on every migration.
func (s TableSchema) Breaking(next TableSchema) bool {
	if len(next.Columns) < len(s.Columns) {
		return true
	}
	for i, c := range s.Columns {
		if next.Columns[i].Name != c.Name || next.Columns[i].Type.Kind != c.Type.Kind {
			return true
		}
	}
	for _, idx := range s.Indexes {
		if !idx.Unique {
			continue
		}
		if _, ok := next.IndexByName(idx.Name); !ok {
			return true
		}
	}
	return false
}
