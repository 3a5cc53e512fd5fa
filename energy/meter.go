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

import velterrors "github.com/veltdb/velt/pkg/errors"

// Meter tracks one reducer dispatch's spending against a fixed budget.
// It is single-use: created fresh for each dispatch by the module host,
// charged as the reducer crosses metered host calls, and discarded (its
// Spent value withdrawn via Ledger.Debit) once the dispatch finishes.
type Meter struct {
	budget  int64
	spent   int64
	costs   CostTable
	tripped bool
}

// NewMeter creates a meter with the given budget and cost table.
func NewMeter(budget int64, costs CostTable) *Meter {
	return &Meter{budget: budget, costs: costs}
}

// Charge debits the cost of op from the remaining budget. Once a meter
// has tripped (gone to zero remaining budget) every subsequent Charge
// also fails, even for a zero-cost op, so a reducer can't keep running
// host calls after its budget is exhausted.
func (m *Meter) Charge(op Op) error {
	if m.tripped {
		return velterrors.ErrOutOfEnergy
	}
	cost := m.costs[op]
	return m.ChargeAmount(cost)
}

// ChargeAmount debits an explicit amount rather than a fixed per-op
// constant from the cost table. Charge uses it for table costs.
func (m *Meter) ChargeAmount(amount int64) error {
	if m.tripped {
		return velterrors.ErrOutOfEnergy
	}
	if amount < 0 {
		amount = 0
	}
	if m.spent+amount > m.budget {
		m.spent = m.budget
		m.tripped = true
		return velterrors.ErrOutOfEnergy
	}
	m.spent += amount
	return nil
}

// Remaining reports the unspent budget.
func (m *Meter) Remaining() int64 { return m.budget - m.spent }

// Spent reports the amount charged so far, capped at the original budget.
func (m *Meter) Spent() int64 { return m.spent }

// OutOfEnergy reports whether the meter has tripped.
func (m *Meter) OutOfEnergy() bool { return m.tripped }
