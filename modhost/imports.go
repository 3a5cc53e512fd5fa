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
	"github.com/bytecodealliance/wasmtime-go/v3"

	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// bindHostImports registers env's methods as the "env" module's imports.
// Every import that crosses a row value uses the calling instance's own
// exported memory to read a BSATN-encoded buffer, since wasmtime host
// functions only see scalars at the ABI boundary; the guest is
// responsible for laying out and owning that memory.
func bindHostImports(linker *wasmtime.Linker, store *wasmtime.Store, env *Env) error {
	defs := map[string]interface{}{
		"row_insert": func(caller *wasmtime.Caller, tablePtr, tableLen, rowPtr, rowLen int32) int64 {
			table, err := readMem(caller, tablePtr, tableLen)
			if err != nil {
				return -1
			}
			row, err := decodeRow(caller, env, string(table), rowPtr, rowLen)
			if err != nil {
				return int64(errCode(err))
			}
			id, err := env.Insert(string(table), row)
			if err != nil {
				return int64(errCode(err))
			}
			return int64(id)
		},
		"row_delete": func(caller *wasmtime.Caller, tablePtr, tableLen int32, rowID int64) int32 {
			table, err := readMem(caller, tablePtr, tableLen)
			if err != nil {
				return -1
			}
			if err := env.Delete(string(table), rowstore.RowId(rowID)); err != nil {
				return errCode(err)
			}
			return 0
		},
		"row_update": func(caller *wasmtime.Caller, tablePtr, tableLen int32, rowID int64, rowPtr, rowLen int32) int32 {
			table, err := readMem(caller, tablePtr, tableLen)
			if err != nil {
				return -1
			}
			row, err := decodeRow(caller, env, string(table), rowPtr, rowLen)
			if err != nil {
				return errCode(err)
			}
			if err := env.Update(string(table), rowstore.RowId(rowID), row); err != nil {
				return errCode(err)
			}
			return 0
		},
		"iter_start": func(caller *wasmtime.Caller, tablePtr, tableLen int32) int64 {
			table, err := readMem(caller, tablePtr, tableLen)
			if err != nil {
				return -1
			}
			handle, err := env.IterStart(string(table))
			if err != nil {
				return int64(errCode(err))
			}
			return int64(handle)
		},
		"iter_by_col_eq": func(caller *wasmtime.Caller, tablePtr, tableLen, indexPtr, indexLen, keyPtr, keyLen int32) int64 {
			table, err := readMem(caller, tablePtr, tableLen)
			if err != nil {
				return -1
			}
			index, err := readMem(caller, indexPtr, indexLen)
			if err != nil {
				return -1
			}
			key, err := decodeIndexKey(caller, env, string(table), string(index), keyPtr, keyLen)
			if err != nil {
				return int64(errCode(err))
			}
			handle, err := env.IterByColEq(string(table), string(index), key)
			if err != nil {
				return int64(errCode(err))
			}
			return int64(handle)
		},
		"iter_next": func(caller *wasmtime.Caller, handle int32, outPtr, outCap int32) int64 {
			row, ok, err := env.IterNext(uint32(handle))
			if err != nil {
				return int64(errCode(err))
			}
			if !ok {
				return -1
			}
			encoded, err := sats.Encode(env.Typespace(), rowTypeOrZero(env, handle), row, nil)
			if err != nil {
				return int64(errCode(err))
			}
			if err := writeMem(caller, outPtr, outCap, encoded); err != nil {
				return int64(errCode(err))
			}
			return int64(len(encoded))
		},
		"iter_drop": func(_ *wasmtime.Caller, handle int32) {
			env.IterDrop(uint32(handle))
		},
		"console_log": func(caller *wasmtime.Caller, level, msgPtr, msgLen int32) int32 {
			msg, err := readMem(caller, msgPtr, msgLen)
			if err != nil {
				return -1
			}
			if err := env.ConsoleLog(logLevelName(level), string(msg)); err != nil {
				return errCode(err)
			}
			return 0
		},
		"random_u64": func(*wasmtime.Caller) int64 {
			return int64(env.RandomU64())
		},
	}

	for name, fn := range defs {
		if err := linker.DefineFunc("env", name, fn); err != nil {
			return errors.Wrapf(err, "define host import %q", name)
		}
	}
	return nil
}

func decodeRow(caller *wasmtime.Caller, env *Env, table string, ptr, length int32) (sats.Value, error) {
	raw, err := readMem(caller, ptr, length)
	if err != nil {
		return sats.Value{}, err
	}
	rowType, err := env.RowType(table)
	if err != nil {
		return sats.Value{}, err
	}
	return sats.DecodeExact(env.Typespace(), rowType, raw)
}

func decodeIndexKey(caller *wasmtime.Caller, env *Env, table, index string, ptr, length int32) ([]sats.Value, error) {
	raw, err := readMem(caller, ptr, length)
	if err != nil {
		return nil, err
	}
	colTypes, err := env.IndexKeyTypes(table, index)
	if err != nil {
		return nil, err
	}
	keyTuple := make([]sats.Field, len(colTypes))
	for i, t := range colTypes {
		keyTuple[i] = sats.Field{Type: t}
	}
	tupleType := sats.ProductOf(keyTuple...)
	val, err := sats.DecodeExact(env.Typespace(), tupleType, raw)
	if err != nil {
		return nil, err
	}
	return val.Product, nil
}

func rowTypeOrZero(env *Env, handle int32) sats.Type {
	it, ok := env.openIters[uint32(handle)]
	if !ok {
		return sats.ProductOf()
	}
	t, err := env.RowType(it.table)
	if err != nil {
		return sats.ProductOf()
	}
	return t
}

func logLevelName(code int32) string {
	switch code {
	case 0:
		return "error"
	case 1:
		return "warn"
	case 2:
		return "info"
	default:
		return "debug"
	}
}

func errCode(err error) int32 {
	switch {
	case errors.Is(err, errors.ErrOutOfEnergy):
		return 1
	case errors.Is(err, errors.ErrTableNotFound):
		return 2
	case errors.Is(err, errors.ErrIndexNotFound):
		return 3
	case errors.Is(err, errors.ErrUniqueViolation):
		return 4
	case errors.Is(err, errors.ErrRowNotFound):
		return 5
	default:
		return -1
	}
}

func readMem(caller *wasmtime.Caller, ptr, length int32) ([]byte, error) {
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil, errors.Wrapf(errors.ErrHostCallInvalid, "caller exports no memory")
	}
	data := ext.Memory().UnsafeData(caller)
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, errors.Wrapf(errors.ErrHostCallInvalid, "buffer out of bounds")
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}

func writeMem(caller *wasmtime.Caller, ptr, capacity int32, payload []byte) error {
	if int32(len(payload)) > capacity {
		return errors.Wrapf(errors.ErrHostCallInvalid, "guest buffer too small: need %d have %d", len(payload), capacity)
	}
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return errors.Wrapf(errors.ErrHostCallInvalid, "caller exports no memory")
	}
	data := ext.Memory().UnsafeData(caller)
	if ptr < 0 || int(ptr)+len(payload) > len(data) {
		return errors.Wrapf(errors.ErrHostCallInvalid, "buffer out of bounds")
	}
	copy(data[ptr:], payload)
	return nil
}
