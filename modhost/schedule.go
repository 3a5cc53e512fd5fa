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

package modhost

import (
	"time"

	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// scheduleTableName is the system table backing scheduled-reducer
// dispatch. Rows carry an atomic-claim column (dispatchedAt) so the
// scheduler can mark a due call claimed within the same transaction that
// reads it, closing the race a separate claim step would otherwise leave
// between two poll cycles picking up the same due row.
const scheduleTableName = "__scheduled_calls__"

// scheduleColumns, by index, matching the product SystemScheduleTable
// declares.
const (
	scheduleColID = iota
	scheduleColSourceTable
	scheduleColSourceRow
	scheduleColReducer
	scheduleColDueAt
	scheduleColDispatchedAt
	scheduleColCaller
)

// SystemScheduleTable is the schema for the scheduled-call system table,
// created alongside any module that declares at least one ScheduleDesc.
func SystemScheduleTable() rowstore.TableSchema {
	return rowstore.TableSchema{
		Name: scheduleTableName,
		Columns: []rowstore.ColumnSchema{
			{Name: "id", Type: sats.U64(), AutoInc: true},
			{Name: "source_table", Type: sats.StringT()},
			{Name: "source_row", Type: sats.U64()},
			{Name: "reducer", Type: sats.StringT()},
			{Name: "due_at", Type: sats.U64()},
			{Name: "dispatched_at", Type: sats.U64()},
			{Name: "caller", Type: sats.ArrayOf(sats.U8())},
		},
		Indexes: []rowstore.IndexSchema{
			{Name: "by_source_row", Columns: []int{scheduleColSourceTable, scheduleColSourceRow}, Unique: false},
			{Name: "by_due_at", Columns: []int{scheduleColDueAt}, Unique: false},
		},
	}
}

func scheduleRow(sourceTable string, sourceRow rowstore.RowId, reducer string, dueAt time.Time, caller energy.Identity) sats.Value {
	return sats.ProductVal(
		sats.U64Val(0),
		sats.StrVal(sourceTable),
		sats.U64Val(uint64(sourceRow)),
		sats.StrVal(reducer),
		sats.U64Val(uint64(dueAt.UnixMicro())),
		sats.U64Val(0),
		identityArrayVal(caller),
	)
}

func identityArrayVal(id energy.Identity) sats.Value {
	elems := make([]sats.Value, len(id))
	for i, b := range id {
		elems[i] = sats.U8Val(b)
	}
	return sats.ArrayVal(elems...)
}

func identityFromArrayVal(v sats.Value) energy.Identity {
	var id energy.Identity
	for i := 0; i < len(id) && i < len(v.Array); i++ {
		id[i] = v.Array[i].U8
	}
	return id
}

// scheduleFor looks up the ScheduleDesc that fires when table is
// inserted into, if any.
func scheduleFor(desc *Description, table string) (ScheduleDesc, bool) {
	for _, s := range desc.Schedules {
		if s.Table == table {
			return s, true
		}
	}
	return ScheduleDesc{}, false
}

// OnScheduledInsert enqueues a future reducer call when row is inserted
// into a table declared scheduled(reducer, at=...): it reads the due
// timestamp from row's AtColumn and inserts a claim row into the system
// schedule table within the same transaction as the triggering insert,
// so the enqueue is atomic with the row that caused it.
func (e *Env) OnScheduledInsert(table string, id rowstore.RowId, row sats.Value, caller energy.Identity) error {
	sched, ok := scheduleFor(e.desc, table)
	if !ok {
		return nil
	}
	colIdx := -1
	for _, t := range e.desc.Tables {
		if t.Name != table {
			continue
		}
		colIdx = t.ColumnIndex(sched.AtColumn)
	}
	if colIdx < 0 || colIdx >= len(row.Product) {
		return nil
	}
	dueAt := time.UnixMicro(int64(row.Product[colIdx].U64))
	_, err := e.tx.Insert(scheduleTableName, scheduleRow(table, id, sched.Reducer, dueAt, caller))
	return err
}

// OnScheduledDelete cancels a pending call when its triggering row is
// deleted, provided the call has not yet been dispatched.
func (e *Env) OnScheduledDelete(table string, id rowstore.RowId) error {
	if _, ok := scheduleFor(e.desc, table); !ok {
		return nil
	}
	rows, err := e.tx.IndexSeek(scheduleTableName, "by_source_row", []sats.Value{sats.StrVal(table), sats.U64Val(uint64(id))})
	if err != nil {
		return nil
	}
	for _, rid := range rows {
		call, err := e.tx.Get(scheduleTableName, rid)
		if err != nil {
			continue
		}
		if call.Product[scheduleColDispatchedAt].U64 != 0 {
			continue // already claimed; too late to cancel
		}
		if err := e.tx.Delete(scheduleTableName, rid); err != nil {
			return err
		}
	}
	return nil
}

// Scheduler polls the system schedule table for due, unclaimed calls and
// dispatches them through a Host.
type Scheduler struct {
	ds   *datastore.Datastore
	host *Host
}

// NewScheduler builds a Scheduler bound to a datastore and the host that
// will dispatch its due reducers.
func NewScheduler(ds *datastore.Datastore, host *Host) *Scheduler {
	return &Scheduler{ds: ds, host: host}
}

type dueCall struct {
	rowID    rowstore.RowId
	reducer  string
	caller   energy.Identity
	srcTable string
	srcRow   rowstore.RowId
}

// PollOnce claims every call due at or before now and dispatches each in
// turn, returning the outcomes in claim order. Claiming happens in its
// own MutTx (setting dispatched_at) so two concurrent polls - there can
// only be one writer at a time, but a Poll could race a manual admin
// write - can never double-dispatch the same call.
func (s *Scheduler) PollOnce(now time.Time) ([]Outcome, error) {
	var due []dueCall
	_, err := s.ds.WriteTx(func(tx *datastore.MutTx) error {
		var claim []rowstore.RowId
		if err := tx.Scan(scheduleTableName, func(id rowstore.RowId, row sats.Value) bool {
			dueAt := time.UnixMicro(int64(row.Product[scheduleColDueAt].U64))
			if row.Product[scheduleColDispatchedAt].U64 == 0 && !dueAt.After(now) {
				claim = append(claim, id)
				due = append(due, dueCall{
					rowID:    id,
					reducer:  row.Product[scheduleColReducer].Str,
					caller:   identityFromArrayVal(row.Product[scheduleColCaller]),
					srcTable: row.Product[scheduleColSourceTable].Str,
					srcRow:   rowstore.RowId(row.Product[scheduleColSourceRow].U64),
				})
			}
			return true
		}); err != nil {
			return err
		}
		for _, id := range claim {
			row, err := tx.Get(scheduleTableName, id)
			if err != nil {
				return err
			}
			row.Product[scheduleColDispatchedAt] = sats.U64Val(uint64(now.UnixMicro()))
			if err := tx.Update(scheduleTableName, id, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var outcomes []Outcome
	for _, d := range due {
		row, getErr := s.readSourceRow(d)
		if getErr != nil {
			continue // the source row was deleted after the call was claimed
		}
		outcome, dispatchErr := s.host.Dispatch(Request{
			ReducerName: d.reducer,
			Args:        row,
			Caller:      d.caller,
			Timestamp:   now,
		})
		if dispatchErr != nil {
			return outcomes, dispatchErr
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Scheduler) readSourceRow(d dueCall) (sats.Value, error) {
	var row sats.Value
	err := s.ds.View(func(r *datastore.ReadTx) error {
		v, err := r.Get(d.srcTable, d.srcRow)
		row = v
		return err
	})
	return row, err
}
