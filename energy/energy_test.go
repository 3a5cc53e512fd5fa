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
	"testing"

	bolt "go.etcd.io/bbolt"
	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/conf"
	velterrors "github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/storage/boltkv"
)

func openTestStore(t *testing.T) *boltkv.Store {
	t.Helper()
	store, err := boltkv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testIdentity(b byte) Identity {
	var id Identity
	id[0] = b
	return id
}

func TestLedgerCreditDebitRoundTrip(t *testing.T) {
	store := openTestStore(t)
	var ledger Ledger
	id := testIdentity(1)

	err := store.Update(func(tx *bolt.Tx) error {
		_, err := ledger.Credit(tx, id, big.NewInt(500))
		return err
	})
	require.NoError(t, err)

	err = store.View(func(tx *bolt.Tx) error {
		require.Equal(t, big.NewInt(500), ledger.Balance(tx, id))
		return nil
	})
	require.NoError(t, err)

	err = store.Update(func(tx *bolt.Tx) error {
		bal, err := ledger.Debit(tx, id, big.NewInt(700))
		require.NoError(t, err)
		require.Equal(t, big.NewInt(-200), bal)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerI128EncodingRoundTripsNegativeAndLarge(t *testing.T) {
	store := openTestStore(t)
	var ledger Ledger
	id := testIdentity(2)

	big1 := new(big.Int).Lsh(big.NewInt(1), 100)
	values := []*big.Int{
		big.NewInt(0),
		big.NewInt(-1),
		big.NewInt(1),
		new(big.Int).Neg(big1),
		big1,
	}
	for _, v := range values {
		err := store.Update(func(tx *bolt.Tx) error { return ledger.SetBalance(tx, id, v) })
		require.NoError(t, err)
		err = store.View(func(tx *bolt.Tx) error {
			require.Equal(t, 0, v.Cmp(ledger.Balance(tx, id)), "want %s got %s", v, ledger.Balance(tx, id))
			return nil
		})
		require.NoError(t, err)
	}
}

func TestBudgetGrantsDefaultWhenBalanceSufficient(t *testing.T) {
	cfg := conf.DefaultConfig()
	budget, err := Budget(big.NewInt(cfg.DefaultBudget*10), cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.DefaultBudget, budget)
}

func TestBudgetClampsToBalanceWhenInsufficient(t *testing.T) {
	cfg := conf.DefaultConfig()
	small := cfg.MinBudget + 1
	budget, err := Budget(big.NewInt(small), cfg)
	require.NoError(t, err)
	require.Equal(t, small, budget)
}

func TestBudgetFailsOnNonPositiveBalanceByDefault(t *testing.T) {
	cfg := conf.DefaultConfig()
	_, err := Budget(big.NewInt(0), cfg)
	require.ErrorIs(t, err, velterrors.ErrOutOfEnergy)
	_, err = Budget(big.NewInt(-5), cfg)
	require.ErrorIs(t, err, velterrors.ErrOutOfEnergy)
}

func TestBudgetGrantsMinBudgetWhenNegativeDispatchAllowed(t *testing.T) {
	cfg := conf.DefaultConfig()
	cfg.AllowNegativeBalanceDispatch = true
	budget, err := Budget(big.NewInt(-1000), cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.MinBudget, budget)
}

func TestMeterTripsOnOverspendAndStaysTripped(t *testing.T) {
	m := NewMeter(105, DefaultCostTable())
	require.NoError(t, m.Charge(OpRowInsert))
	require.Equal(t, int64(5), m.Remaining())

	err := m.Charge(OpRowInsert)
	require.ErrorIs(t, err, velterrors.ErrOutOfEnergy)
	require.True(t, m.OutOfEnergy())
	require.Equal(t, int64(105), m.Spent())

	err = m.ChargeAmount(0)
	require.ErrorIs(t, err, velterrors.ErrOutOfEnergy)
}

func TestMeterChargeAmountTracksWasmFuel(t *testing.T) {
	m := NewMeter(1000, DefaultCostTable())
	require.NoError(t, m.ChargeAmount(400))
	require.NoError(t, m.ChargeAmount(400))
	require.Equal(t, int64(200), m.Remaining())
	require.Error(t, m.ChargeAmount(400))
}

func TestAccountantBeginDispatchAndSettle(t *testing.T) {
	store := openTestStore(t)
	cfg := conf.DefaultConfig()
	a := NewAccountant(cfg)
	id := testIdentity(3)

	err := store.Update(func(tx *bolt.Tx) error {
		_, err := a.Ledger().Credit(tx, id, big.NewInt(250))
		return err
	})
	require.NoError(t, err)

	var meter *Meter
	err = store.Update(func(tx *bolt.Tx) error {
		var err error
		meter, err = a.BeginDispatch(tx, id)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, int64(250), meter.Remaining())

	require.NoError(t, meter.Charge(OpRowInsert))
	require.NoError(t, meter.Charge(OpLog))

	err = store.Update(func(tx *bolt.Tx) error {
		bal, err := a.Settle(tx, id, meter)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(250-110), bal)
		return nil
	})
	require.NoError(t, err)
}

func TestAccountantBeginDispatchFailsWithoutBalance(t *testing.T) {
	store := openTestStore(t)
	cfg := conf.DefaultConfig()
	a := NewAccountant(cfg)
	id := testIdentity(4)

	err := store.View(func(tx *bolt.Tx) error {
		_, err := a.BeginDispatch(tx, id)
		return err
	})
	require.ErrorIs(t, err, velterrors.ErrOutOfEnergy)
}

func TestIdentityStringIsHex(t *testing.T) {
	id := testIdentity(0xab)
	require.Len(t, id.String(), 64)
	require.Equal(t, "ab", id.String()[:2])
}
