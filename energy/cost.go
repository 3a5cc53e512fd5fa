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

package energy

// Op identifies a metered host call a reducer can make into the engine.
type Op string

const (
	OpRowInsert        Op = "row_insert"
	OpRowDelete        Op = "row_delete"
	OpRowUpdate        Op = "row_update"
	OpIterStep         Op = "iter_step"
	OpIndexSeek        Op = "index_seek"
	OpLog              Op = "log"
	OpScheduleAt       Op = "schedule_at"
	OpWasmFuel         Op = "wasm_fuel"
	OpSubscriptionEval Op = "subscription_eval"
)

// CostTable maps a metered operation to its fixed energy cost.
type CostTable map[Op]int64

// DefaultCostTable returns the fixed per-call costs charged against a
// reducer's budget. Wasm instruction execution itself is bounded by
// wasmtime's own fuel counter, funded from the meter's remaining budget;
// consumed fuel is not charged to the meter, so the OpWasmFuel rate (1
// energy per fuel unit) is not applied by the module host. The other
// entries cover the host-call surface a reducer crosses into the engine
// for, which fuel alone doesn't price.
func DefaultCostTable() CostTable {
	return CostTable{
		OpRowInsert:        100,
		OpRowDelete:        100,
		OpRowUpdate:        150,
		OpIterStep:         5,
		OpIndexSeek:        20,
		OpLog:              10,
		OpScheduleAt:       50,
		OpWasmFuel:         1,
		OpSubscriptionEval: 5,
	}
}
