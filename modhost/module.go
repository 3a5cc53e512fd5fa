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

// Package modhost loads sandboxed Wasm modules, exposes the host
// instance environment they call into (row access, logging,
// scheduling), and dispatches reducer invocations against a datastore
// transaction with energy metering.
package modhost

import (
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// ReducerKind distinguishes the special lifecycle reducers a module can
// export from ordinary ones dispatched only by explicit client call.
type ReducerKind string

const (
	ReducerStandard           ReducerKind = "standard"
	ReducerInit               ReducerKind = "init"
	ReducerClientConnected    ReducerKind = "client_connected"
	ReducerClientDisconnected ReducerKind = "client_disconnected"
	ReducerScheduled          ReducerKind = "scheduled"
)

// ReducerDesc describes one reducer a module exports.
type ReducerDesc struct {
	Name    string
	ArgType sats.Type // always a Product
	Kind    ReducerKind
}

// ScheduleDesc names a table whose rows drive scheduled dispatch of a
// reducer: inserting a row enqueues a future call, deleting it cancels
// the pending one.
type ScheduleDesc struct {
	Table      string
	Reducer    string
	AtColumn   string // column holding the dispatch timestamp/duration
}

// Description is a module's extracted metadata: its schema and its
// reducer catalog. Produced by Load by calling the guest's describer
// export, then used to drive the datastore schema migration and to
// validate CallReducer/Subscribe requests against known names and types.
type Description struct {
	ProgramHash [32]byte
	Tables      []rowstore.TableSchema
	Reducers    []ReducerDesc
	Schedules   []ScheduleDesc
	Typespace   *sats.Typespace
}

// ReducerByName looks up a reducer by name, reporting ok=false if the
// module doesn't export one by that name.
func (d *Description) ReducerByName(name string) (ReducerDesc, bool) {
	for _, r := range d.Reducers {
		if r.Name == name {
			return r, true
		}
	}
	return ReducerDesc{}, false
}
