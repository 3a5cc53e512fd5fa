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

// Package index keeps an in-process, total-ordered secondary index of row
// ids by one column's value, answering equality and range seeks with a
// btree scan. The subscription planner does not use it; plans evaluate
// their predicates row by row.
package index

import (
	"github.com/google/btree"

	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// entry is one (key, row id) pair ordered first by key under the column's
// own sats total order, then by row id to keep duplicates distinct.
type entry struct {
	key   sats.Value
	rowID rowstore.RowId
}

// OrderedIndex orders row ids by one column's value, using the same
// total-order comparator the row store's own B-tree indexes use, so a
// subscription's view of "rows with column = x" stays consistent with the
// datastore's own notion of equality.
type OrderedIndex struct {
	ts   *sats.Typespace
	typ  sats.Type
	tree *btree.BTreeG[entry]
}

// New builds an empty index over columns of type typ.
func New(ts *sats.Typespace, typ sats.Type) *OrderedIndex {
	less := func(a, b entry) bool {
		if c := sats.Compare(ts, typ, a.key, b.key); c != 0 {
			return c < 0
		}
		return a.rowID < b.rowID
	}
	return &OrderedIndex{ts: ts, typ: typ, tree: btree.NewG(32, less)}
}

// Insert adds one (key, row id) pair.
func (idx *OrderedIndex) Insert(key sats.Value, rowID rowstore.RowId) {
	idx.tree.ReplaceOrInsert(entry{key: key, rowID: rowID})
}

// Delete removes one (key, row id) pair, a no-op if absent.
func (idx *OrderedIndex) Delete(key sats.Value, rowID rowstore.RowId) {
	idx.tree.Delete(entry{key: key, rowID: rowID})
}

// Len reports the number of indexed entries.
func (idx *OrderedIndex) Len() int { return idx.tree.Len() }

// SeekEqual returns every row id indexed under exactly key, in row id
// order.
func (idx *OrderedIndex) SeekEqual(key sats.Value) []rowstore.RowId {
	var out []rowstore.RowId
	pivot := entry{key: key, rowID: 0}
	idx.tree.AscendGreaterOrEqual(pivot, func(e entry) bool {
		if sats.Compare(idx.ts, idx.typ, e.key, key) != 0 {
			return false
		}
		out = append(out, e.rowID)
		return true
	})
	return out
}

// SeekRange returns every row id indexed under a key in [lo, hi], in
// ascending (key, row id) order. A nil lo/hi means unbounded on that side.
func (idx *OrderedIndex) SeekRange(lo, hi *sats.Value) []rowstore.RowId {
	var out []rowstore.RowId
	visit := func(e entry) bool {
		if hi != nil && sats.Compare(idx.ts, idx.typ, e.key, *hi) > 0 {
			return false
		}
		out = append(out, e.rowID)
		return true
	}
	if lo != nil {
		idx.tree.AscendGreaterOrEqual(entry{key: *lo, rowID: 0}, visit)
	} else {
		idx.tree.Ascend(visit)
	}
	return out
}
