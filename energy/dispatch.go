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

import (
	"math/big"

	bolt "go.etcd.io/bbolt"

	"github.com/veltdb/velt/conf"
)

// Accountant ties the ledger, budgeting rule, and cost table together for
// the module host: one BeginDispatch/Settle pair brackets a single
// reducer invocation.
type Accountant struct {
	ledger Ledger
	costs  CostTable
	cfg    conf.Config
}

// NewAccountant builds an Accountant from the engine's configuration.
func NewAccountant(cfg conf.Config) *Accountant {
	return &Accountant{costs: DefaultCostTable(), cfg: cfg}
}

// BeginDispatch reads id's current balance and grants a Meter funded per
// Budget's clamping rule. Callers that get ErrOutOfEnergy must not
// invoke the reducer at all.
func (a *Accountant) BeginDispatch(tx *bolt.Tx, id Identity) (*Meter, error) {
	balance := a.ledger.Balance(tx, id)
	budget, err := Budget(balance, a.cfg)
	if err != nil {
		return nil, err
	}
	return NewMeter(budget, a.costs), nil
}

// Settle withdraws a finished dispatch's actual spend from id's balance
// and returns the balance afterward. Called unconditionally once a
// reducer invocation completes, whether it committed, failed, panicked,
// or was cut off by OutOfEnergy.
func (a *Accountant) Settle(tx *bolt.Tx, id Identity, m *Meter) (*big.Int, error) {
	return a.ledger.Debit(tx, id, big.NewInt(m.Spent()))
}

// Ledger exposes the underlying ledger for direct balance queries and
// top-up credits outside a dispatch (e.g. an admin funding a module).
func (a *Accountant) Ledger() Ledger { return a.ledger }
