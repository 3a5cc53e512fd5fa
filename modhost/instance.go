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
	"strings"

	"lukechampine.com/blake3"
	"github.com/bytecodealliance/wasmtime-go/v3"

	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
)

// wireBuffer is the guest/host calling convention: every host import that
// exchanges a BSATN value with the guest does so by pointer+length into
// the guest's own exported linear memory, with the guest responsible for
// allocating space (via its exported `__alloc__`) for anything the host
// writes back. This mirrors the buffer-passing ABI a sandboxed
// Wasm guest needs for any value wider than a handful of scalars.
type wireBuffer struct {
	ptr int32
	len int32
}

// describeFuelBudget is a fixed, generous fuel grant for the one-time
// describe call at module load, which runs outside any reducer dispatch
// and so isn't metered against a caller's energy balance.
const describeFuelBudget = 10_000_000

// Instance is one compiled Wasm module, ready to be instantiated fresh
// for each reducer dispatch. A fresh per-dispatch wasmtime.Instance
// (sharing the compiled wasmtime.Module) is cheap relative to
// compilation and keeps one dispatch's host imports - which close over
// that dispatch's own Env - from ever being reachable by another.
type Instance struct {
	engine *wasmtime.Engine
	module *wasmtime.Module
	desc   *Description
}

// Load compiles programBytes and extracts the module's description by
// invoking its `__describe_module__` export, which returns a pointer and
// length into the guest's own linear memory holding a JSON-encoded
// description document. Describing a module never touches the datastore -
// it runs with no host imports bound other than the memory the guest
// itself exports - so it's safe to do before any schema migration check.
func Load(programBytes []byte) (*Instance, *Description, error) {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	engine := wasmtime.NewEngineWithConfig(cfg)
	module, err := wasmtime.NewModule(engine, programBytes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "compile wasm module")
	}

	store := wasmtime.NewStore(engine)
	if err := store.AddFuel(describeFuelBudget); err != nil {
		return nil, nil, errors.Wrap(err, "fund describe call fuel")
	}
	linker := wasmtime.NewLinker(engine)
	inst, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, nil, errors.Wrap(err, "instantiate wasm module for describe")
	}

	describeFn := inst.GetFunc(store, "__describe_module__")
	if describeFn == nil {
		return nil, nil, errors.Wrapf(errors.ErrHostCallInvalid, "module exports no __describe_module__")
	}
	raw, err := describeFn.Call(store)
	if err != nil {
		return nil, nil, errors.Wrap(err, "call __describe_module__")
	}
	packed, ok := raw.(int64)
	if !ok {
		return nil, nil, errors.Wrapf(errors.ErrHostCallInvalid, "__describe_module__ must return a packed (ptr,len) i64")
	}
	buf := wireBuffer{ptr: int32(packed >> 32), len: int32(packed & 0xffffffff)}

	mem := inst.GetExport(store, "memory")
	if mem == nil || mem.Memory() == nil {
		return nil, nil, errors.Wrapf(errors.ErrHostCallInvalid, "module exports no linear memory")
	}
	data := mem.Memory().UnsafeData(store)
	if int(buf.ptr)+int(buf.len) > len(data) || buf.ptr < 0 || buf.len < 0 {
		return nil, nil, errors.Wrapf(errors.ErrHostCallInvalid, "describe buffer out of bounds")
	}
	encoded := make([]byte, buf.len)
	copy(encoded, data[buf.ptr:buf.ptr+buf.len])

	desc, err := decodeDescription(encoded)
	if err != nil {
		return nil, nil, err
	}
	desc.ProgramHash = blake3.Sum256(programBytes)

	return &Instance{engine: engine, module: module, desc: desc}, desc, nil
}

// InvokeReducer instantiates the module fresh, binds env's methods as
// host imports under the "env" module name, funds the instance's fuel
// counter from the meter's remaining budget (so wasmtime itself traps
// the guest the moment it would overspend, independent of env's own
// per-host-call accounting), and calls the named reducer export with its
// BSATN-encoded argument product.
func (in *Instance) InvokeReducer(env *Env, reducerName string, args sats.Value) error {
	encodedArgs, err := sats.Encode(in.desc.Typespace, argsTypeFor(in.desc, reducerName), args, nil)
	if err != nil {
		return errors.Wrap(err, "encode reducer args")
	}

	store := wasmtime.NewStore(in.engine)
	if err := store.AddFuel(uint64(env.meter.Remaining())); err != nil {
		return errors.Wrap(err, "fund instance fuel")
	}

	linker := wasmtime.NewLinker(in.engine)
	if err := bindHostImports(linker, store, env); err != nil {
		return errors.Wrap(err, "bind host imports")
	}

	inst, err := linker.Instantiate(store, in.module)
	if err != nil {
		return errors.Wrap(err, "instantiate wasm module for reducer call")
	}

	mem := inst.GetExport(store, "memory")
	allocFn := inst.GetFunc(store, "__alloc__")
	if mem == nil || mem.Memory() == nil || allocFn == nil {
		return errors.Wrapf(errors.ErrHostCallInvalid, "module missing memory or __alloc__ export")
	}
	rawPtr, err := allocFn.Call(store, int32(len(encodedArgs)))
	if err != nil {
		return wrapTrap(err)
	}
	ptr, ok := rawPtr.(int32)
	if !ok {
		return errors.Wrapf(errors.ErrHostCallInvalid, "__alloc__ must return i32")
	}
	copy(mem.Memory().UnsafeData(store)[ptr:], encodedArgs)

	reducerFn := inst.GetFunc(store, "__call_reducer__"+reducerName)
	if reducerFn == nil {
		return errors.Wrapf(errors.ErrReducerNotFound, "%q", reducerName)
	}
	result, err := reducerFn.Call(store, ptr, int32(len(encodedArgs)))
	if err != nil {
		return wrapTrap(err)
	}
	if code, ok := result.(int32); ok && code != 0 {
		return errors.Errorf("reducer %q returned error code %d", reducerName, code)
	}
	return nil
}

func wrapTrap(err error) error {
	if trap, ok := err.(*wasmtime.Trap); ok {
		msg := trap.Message()
		if strings.Contains(strings.ToLower(msg), "fuel") {
			return errors.Wrapf(errors.ErrOutOfEnergy, "%s", msg)
		}
		return errors.Wrapf(errors.ErrWasmTrap, "%s", msg)
	}
	return errors.Wrap(errors.ErrWasmTrap, err.Error())
}

func argsTypeFor(desc *Description, reducerName string) sats.Type {
	for _, r := range desc.Reducers {
		if r.Name == reducerName {
			return r.ArgType
		}
	}
	return sats.ProductOf()
}
