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
	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
)

// OutcomeStatus is one of a reducer invocation's four terminal states.
// Only Committed mutates the database; all four produce a transaction
// event for the subscription/event stream.
type OutcomeStatus string

const (
	Committed         OutcomeStatus = "committed"
	Failed            OutcomeStatus = "failed"
	Panicked          OutcomeStatus = "panicked"
	OutOfEnergyStatus OutcomeStatus = "out_of_energy"
)

// Outcome reports the result of one reducer invocation.
type Outcome struct {
	Status     OutcomeStatus
	Message    string
	EnergyUsed int64
	TxOffset   uint64
	Changes    []datastore.RowChange
}

// Request bundles a CallReducer's inputs.
type Request struct {
	ReducerName string
	Args        sats.Value
	Caller      energy.Identity
	Timestamp   time.Time
}

// Invoker runs one reducer body against env, returning an error that
// classifies as ErrOutOfEnergy, ErrWasmTrap, or an ordinary reducer
// `Err` result. Satisfied by *Instance; split out so Dispatch can be
// exercised in tests against a fake that needs no real Wasm module.
type Invoker interface {
	InvokeReducer(env *Env, reducerName string, args sats.Value) error
}

// Host ties a datastore, its loaded module description, and the Wasm
// instance together to dispatch reducer invocations.
type Host struct {
	ds       *datastore.Datastore
	instance Invoker
	desc     *Description
}

// NewHost builds a Host for a loaded module.
func NewHost(ds *datastore.Datastore, instance Invoker, desc *Description) *Host {
	return &Host{ds: ds, instance: instance, desc: desc}
}

// Description returns the module's loaded metadata, for callers (the
// WebSocket handler, primarily) that need to resolve a reducer's
// argument type before Dispatch ever sees a call.
func (h *Host) Description() *Description { return h.desc }

// Dispatch runs one reducer invocation to completion: it allocates an
// energy budget from the caller's balance, opens a MutTx, invokes the
// reducer, and lets the MutTx commit or roll back depending on outcome.
// Energy consumed is withdrawn from the caller's balance unconditionally
// afterward, via a transaction separate from the reducer's own MutTx, so
// the withdrawal survives even a reducer whose row effects rolled back.
func (h *Host) Dispatch(req Request) (Outcome, error) {
	if _, ok := h.desc.ReducerByName(req.ReducerName); !ok {
		return Outcome{}, errors.ErrReducerNotFound
	}

	meter, err := h.ds.BeginReducerBudget(req.Caller)
	if err != nil {
		return Outcome{Status: OutOfEnergyStatus, Message: err.Error()}, nil
	}

	rng := NewDeterministicRand(h.ds.NextTxOffset(), req.ReducerName, req.Caller)

	var outcome Outcome
	res, writeErr := h.ds.WriteTx(func(tx *datastore.MutTx) error {
		env := NewEnv(tx, meter, rng, h.ds.Logger(), h.desc, req.Caller)
		invokeErr := h.instance.InvokeReducer(env, req.ReducerName, req.Args)
		switch {
		case invokeErr == nil:
			outcome.Status = Committed
		case errors.Is(invokeErr, errors.ErrOutOfEnergy):
			outcome.Status = OutOfEnergyStatus
			outcome.Message = invokeErr.Error()
		case errors.Is(invokeErr, errors.ErrWasmTrap):
			outcome.Status = Panicked
			outcome.Message = invokeErr.Error()
		default:
			outcome.Status = Failed
			if invokeErr != nil {
				outcome.Message = invokeErr.Error()
			}
		}
		return invokeErr
	})

	outcome.EnergyUsed = meter.Spent()
	if writeErr == nil {
		outcome.TxOffset = res.TxOffset
		outcome.Changes = res.Changes
	}

	if _, err := h.ds.SettleReducerEnergy(req.Caller, meter); err != nil {
		return outcome, err
	}
	return outcome, nil
}
