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
	"math/rand"

	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/log"
	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// Call tags one instance-environment entry point a running reducer can
// invoke. Kept as a closed set (rather than free-form strings) so the
// energy cost table and call-timing instrumentation can't silently drift
// out of sync with what the environment actually exposes.
type Call string

const (
	CallInsert    Call = "insert"
	CallDelete    Call = "delete"
	CallUpdate    Call = "update"
	CallIterStart Call = "iter_start"
	CallIterNext  Call = "iter_next"
	CallFilterEq  Call = "iter_by_col_eq"
	CallIndexSeek Call = "index_seek"
	CallLog       Call = "console_log"
	CallSchedule  Call = "schedule_reducer"
	CallCancel    Call = "cancel_reducer"
)

var callToOp = map[Call]energy.Op{
	CallInsert:    energy.OpRowInsert,
	CallDelete:    energy.OpRowDelete,
	CallUpdate:    energy.OpRowUpdate,
	CallIterStart: energy.OpIndexSeek,
	CallIterNext:  energy.OpIterStep,
	CallFilterEq:  energy.OpIndexSeek,
	CallIndexSeek: energy.OpIndexSeek,
	CallLog:       energy.OpLog,
	CallSchedule:  energy.OpScheduleAt,
	CallCancel:    energy.OpScheduleAt,
}

// Env is the instance environment a single reducer invocation's guest
// code calls into. One Env is constructed per dispatch and discarded
// afterward; it is never shared across invocations, matching the
// module host's "no re-entrance while a module is executing" rule.
type Env struct {
	tx     *datastore.MutTx
	meter  *energy.Meter
	rng    *rand.Rand
	logger log.Logger
	desc   *Description
	caller energy.Identity

	openIters map[uint32]*iterState
	nextIter  uint32
}

type iterState struct {
	rows []rowstore.RowId
	pos  int
	table string
}

// NewEnv builds the environment a reducer dispatch exposes to its guest
// code over the transaction it runs inside.
func NewEnv(tx *datastore.MutTx, meter *energy.Meter, rng *rand.Rand, logger log.Logger, desc *Description, caller energy.Identity) *Env {
	return &Env{tx: tx, meter: meter, rng: rng, logger: logger, desc: desc, caller: caller, openIters: map[uint32]*iterState{}}
}

// RowType looks up table's row product type from the module description,
// used by the host-import layer to decode a guest-supplied BSATN buffer
// before handing it to the transaction.
func (e *Env) RowType(table string) (sats.Type, error) {
	for _, t := range e.desc.Tables {
		if t.Name == table {
			return t.RowType(), nil
		}
	}
	return sats.Type{}, errors.ErrTableNotFound
}

// IndexKeyTypes looks up an index's column types in declaration order,
// used to decode a guest-supplied key tuple for iter_by_col_eq.
func (e *Env) IndexKeyTypes(table, index string) ([]sats.Type, error) {
	for _, t := range e.desc.Tables {
		if t.Name != table {
			continue
		}
		idx, ok := t.IndexByName(index)
		if !ok {
			return nil, errors.ErrIndexNotFound
		}
		types := make([]sats.Type, len(idx.Columns))
		for i, colIdx := range idx.Columns {
			types[i] = t.Columns[colIdx].Type
		}
		return types, nil
	}
	return nil, errors.ErrTableNotFound
}

// Typespace exposes the module's typespace for BSATN decode calls.
func (e *Env) Typespace() *sats.Typespace { return e.desc.Typespace }

func (e *Env) charge(call Call) error {
	op, ok := callToOp[call]
	if !ok {
		return nil
	}
	return e.meter.Charge(op)
}

// Insert is the host side of the guest's row-insert import. Inserting into
// a table declared scheduled(reducer, at=...) also enqueues the future
// call, atomically with this same transaction.
func (e *Env) Insert(table string, row sats.Value) (rowstore.RowId, error) {
	if err := e.charge(CallInsert); err != nil {
		return 0, err
	}
	id, err := e.tx.Insert(table, row)
	if err != nil {
		return 0, err
	}
	if err := e.OnScheduledInsert(table, id, row, e.caller); err != nil {
		return 0, err
	}
	return id, nil
}

// Delete is the host side of the guest's row-delete import. Deleting a row
// that triggered a scheduled call cancels that call if it hasn't already
// been claimed for dispatch.
func (e *Env) Delete(table string, id rowstore.RowId) error {
	if err := e.charge(CallDelete); err != nil {
		return err
	}
	if err := e.tx.Delete(table, id); err != nil {
		return err
	}
	return e.OnScheduledDelete(table, id)
}

// Update is the host side of the guest's row-update import.
func (e *Env) Update(table string, id rowstore.RowId, next sats.Value) error {
	if err := e.charge(CallUpdate); err != nil {
		return err
	}
	return e.tx.Update(table, id, next)
}

// IterStart opens a full-table scan cursor and returns its handle.
func (e *Env) IterStart(table string) (uint32, error) {
	if err := e.charge(CallIterStart); err != nil {
		return 0, err
	}
	var rows []rowstore.RowId
	err := e.tx.Scan(table, func(id rowstore.RowId, _ sats.Value) bool {
		rows = append(rows, id)
		return true
	})
	if err != nil {
		return 0, err
	}
	return e.storeIter(table, rows), nil
}

// IterByColEq opens a cursor over an index seek's matching row ids.
func (e *Env) IterByColEq(table, index string, key []sats.Value) (uint32, error) {
	if err := e.charge(CallFilterEq); err != nil {
		return 0, err
	}
	rows, err := e.tx.IndexSeek(table, index, key)
	if err != nil {
		return 0, err
	}
	return e.storeIter(table, rows), nil
}

func (e *Env) storeIter(table string, rows []rowstore.RowId) uint32 {
	e.nextIter++
	handle := e.nextIter
	e.openIters[handle] = &iterState{rows: rows, table: table}
	return handle
}

// IterNext advances a cursor, returning the next row and false once
// exhausted.
func (e *Env) IterNext(handle uint32) (sats.Value, bool, error) {
	it, ok := e.openIters[handle]
	if !ok {
		return sats.Value{}, false, errors.ErrHostCallInvalid
	}
	if err := e.charge(CallIterNext); err != nil {
		return sats.Value{}, false, err
	}
	if it.pos >= len(it.rows) {
		return sats.Value{}, false, nil
	}
	id := it.rows[it.pos]
	it.pos++
	row, err := e.tx.Get(it.table, id)
	if err != nil {
		return sats.Value{}, false, err
	}
	return row, true, nil
}

// IterDrop releases a cursor's handle.
func (e *Env) IterDrop(handle uint32) { delete(e.openIters, handle) }

// ConsoleLog is the host side of the guest's logging import.
func (e *Env) ConsoleLog(level, message string) error {
	if err := e.charge(CallLog); err != nil {
		return err
	}
	switch level {
	case "error":
		e.logger.Error(message)
	case "warn":
		e.logger.Warn(message)
	case "debug":
		e.logger.Debug(message)
	default:
		e.logger.Info(message)
	}
	return nil
}

// RandomU64 is the host side of the guest's deterministic RNG import.
func (e *Env) RandomU64() uint64 { return e.rng.Uint64() }
