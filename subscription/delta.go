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

package subscription

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"

	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// Delta is one row entering or leaving a subscription's result set as of
// one commit.
type Delta struct {
	Insert bool
	Row    Row
}

// rowKey returns a canonical content hash, used to cancel a delete and
// an insert of byte-identical content within one commit instead of
// flashing a spurious remove/re-add at the client.
func rowKey(ts *sats.Typespace, typ sats.Type, row sats.Value) (uint64, error) {
	buf, err := sats.Encode(ts, typ, row, nil)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(buf), nil
}

// visibility tracks whether one projected row passed the full plan
// (join + WHERE) before and after one commit, plus the row content on
// each side a delta needs to carry.
type visibility struct {
	before, after     sats.Value
	beforeOK, afterOK bool
}

// EvaluateDelta computes the insert/delete deltas one commit produces
// for a compiled plan. after is a Reader over the post-commit snapshot;
// changes is that commit's recorded row-level effects. A row's
// pre-commit content comes from the ChangeDelete half of its own
// recorded change rather than a second live transaction, since the
// datastore already captures the exact prior value there.
//
// A row whose projected content is identical before and after (an
// UPDATE that doesn't change subscription visibility, or a join-key
// move that doesn't change which rows are joined) produces no delta at
// all - the multiset cancellation the join semantics require.
func (p *Plan) EvaluateDelta(after Reader, changes []datastore.RowChange, sender energy.Identity) ([]Delta, error) {
	vis, err := p.collectVisibility(after, changes, sender)
	if err != nil {
		return nil, err
	}

	projType := p.projectedSchema().RowType()
	var deltas []Delta
	for id, v := range vis {
		switch {
		case !v.beforeOK && v.afterOK:
			deltas = append(deltas, Delta{Insert: true, Row: Row{ID: id, Value: v.after}})
		case v.beforeOK && !v.afterOK:
			deltas = append(deltas, Delta{Insert: false, Row: Row{ID: id, Value: v.before}})
		case v.beforeOK && v.afterOK:
			beforeHash, err := rowKey(p.ts, projType, v.before)
			if err != nil {
				return nil, err
			}
			afterHash, err := rowKey(p.ts, projType, v.after)
			if err != nil {
				return nil, err
			}
			if beforeHash != afterHash {
				deltas = append(deltas,
					Delta{Insert: false, Row: Row{ID: id, Value: v.before}},
					Delta{Insert: true, Row: Row{ID: id, Value: v.after}},
				)
			}
			// identical content before and after: cancels, no delta.
		}
	}
	return deltas, nil
}

// projectedSchema returns the schema of whichever table's rows this
// plan's query actually projects.
func (p *Plan) projectedSchema() rowstore.TableSchema {
	if p.projectJoin {
		return *p.joinSchema
	}
	return p.baseSchema
}

// projectedTable returns the name of the table whose row ids index the
// projected result set.
func (p *Plan) projectedTable() string {
	if p.projectJoin {
		return p.q.Join.Table
	}
	return p.q.Table
}

// otherTable returns the table on the opposite side of a join from the
// projected table.
func (p *Plan) otherTable() string {
	if p.projectedTable() == p.q.Table {
		return p.q.Join.Table
	}
	return p.q.Table
}

// joinMatch applies the plan's join condition with role assignment
// determined by which side is projected.
func (p *Plan) joinMatch(projectedRow, otherRow sats.Value) bool {
	base, join := projectedRow, otherRow
	if p.projectJoin {
		base, join = otherRow, projectedRow
	}
	return p.joinOn(base, join)
}

// wherePair evaluates the WHERE clause given an explicit projected-row
// and other-row pair, with no Reader involved at all.
func (p *Plan) wherePair(projectedRow, otherRow sats.Value, sender energy.Identity) bool {
	base, join := projectedRow, otherRow
	if p.projectJoin {
		base, join = otherRow, projectedRow
	}
	return p.where(evalCtx{base: base, join: join, hasJoin: true, sender: sender})
}

// collectVisibility computes a before/after visibility record for every
// projected-table row id one commit's changes could plausibly have
// affected: rows the commit changed directly, and - for a join query -
// projected rows whose join partner changed. Two changes touching
// different tables for the same projected row id in the same commit is
// treated approximately: whichever axis (direct or join-side) is
// processed first for that id wins, a documented limitation rather than
// a full bi-temporal join diff.
func (p *Plan) collectVisibility(after Reader, changes []datastore.RowChange, sender energy.Identity) (map[rowstore.RowId]visibility, error) {
	vis := map[rowstore.RowId]visibility{}
	projectedTable := p.projectedTable()

	for _, c := range changes {
		if c.Table != projectedTable {
			continue
		}
		v := vis[c.RowId]
		if c.Kind == datastore.ChangeDelete {
			v.before, v.beforeOK = c.Row, p.rowPassesOtherSide(after, sender, c.Row)
		} else {
			v.after, v.afterOK = c.Row, p.rowPassesOtherSide(after, sender, c.Row)
		}
		vis[c.RowId] = v
	}

	if p.joinSchema == nil {
		return vis, nil
	}

	for _, c := range changes {
		if c.Table != p.otherTable() {
			continue
		}
		if err := p.applyJoinSideChange(after, c, sender, vis); err != nil {
			return nil, err
		}
	}
	return vis, nil
}

// rowPassesOtherSide evaluates a single-table plan's WHERE clause, or
// (for a join) scans the current state of the other table to see if any
// partner makes row visible. Used for rows the commit changed directly,
// where the other side of any join is assumed unaffected by this same
// commit.
func (p *Plan) rowPassesOtherSide(after Reader, sender energy.Identity, row sats.Value) bool {
	if p.joinSchema == nil {
		return p.where(evalCtx{base: row, sender: sender})
	}
	ok, err := p.MatchesRow(after, sender, p.projectJoin, row)
	return err == nil && ok
}

// applyJoinSideChange resolves one change on the non-projected side of a
// join to every projected row id whose join key matches the changed
// row's content, recording that candidate's visibility contribution from
// this specific change (old content for a delete, new content for an
// insert) without overwriting a visibility record a direct change on
// that same row id already established.
func (p *Plan) applyJoinSideChange(after Reader, c datastore.RowChange, sender energy.Identity, vis map[rowstore.RowId]visibility) error {
	candidates := roaring.New()
	err := after.Scan(p.projectedTable(), func(id rowstore.RowId, row sats.Value) bool {
		if p.joinMatch(row, c.Row) {
			candidates.Add(uint32(id))
		}
		return true
	})
	if err != nil {
		return err
	}

	it := candidates.Iterator()
	for it.HasNext() {
		id := rowstore.RowId(it.Next())
		row, err := after.Get(p.projectedTable(), id)
		if err != nil {
			continue
		}
		v, seen := vis[id]
		if !seen {
			v = visibility{before: row, after: row}
		}
		matches := p.wherePair(row, c.Row, sender)
		if c.Kind == datastore.ChangeDelete {
			v.beforeOK = v.beforeOK || matches
		} else {
			v.afterOK = v.afterOK || matches
		}
		vis[id] = v
	}
	return nil
}
