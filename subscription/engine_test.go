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

package subscription

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/conf"
	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
)

func openTestDatastore(t *testing.T) (*datastore.Datastore, *sats.Typespace) {
	t.Helper()
	dir := t.TempDir()
	cfg := conf.DefaultConfig()
	cfg.DataDir = dir
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	ds, err := datastore.Open(dir, cfg, ts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds, ts
}

func TestEngineSubscribeReturnsInitialMatchingRows(t *testing.T) {
	ds, ts := openTestDatastore(t)
	alice := energy.Identity{1}
	bob := energy.Identity{2}

	_, err := ds.WriteTx(func(m *datastore.MutTx) error {
		return m.CreateTable(widgetsTableSchema(), false)
	})
	require.NoError(t, err)

	_, err = ds.WriteTx(func(m *datastore.MutTx) error {
		if _, err := m.Insert("widgets", widgetRow(1, alice, 5)); err != nil {
			return err
		}
		_, err := m.Insert("widgets", widgetRow(2, bob, 9))
		return err
	})
	require.NoError(t, err)

	e := NewEngine(ds, ts, alice)
	rows, err := e.Subscribe("sub1", "SELECT * FROM widgets WHERE owner = :sender", alice)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, uint64(1), rows[0].Value.Product[0].U64)
}

func TestEngineSubscribeDuplicateIDFails(t *testing.T) {
	ds, ts := openTestDatastore(t)
	alice := energy.Identity{1}
	_, err := ds.WriteTx(func(m *datastore.MutTx) error {
		return m.CreateTable(widgetsTableSchema(), false)
	})
	require.NoError(t, err)

	e := NewEngine(ds, ts, alice)
	_, err = e.Subscribe("sub1", "SELECT * FROM widgets WHERE owner = :sender", alice)
	require.NoError(t, err)

	_, err = e.Subscribe("sub1", "SELECT * FROM widgets WHERE owner = :sender", alice)
	require.Error(t, err)
}

func TestEngineOnCommitDeliversInsertDelta(t *testing.T) {
	ds, ts := openTestDatastore(t)
	alice := energy.Identity{1}
	bob := energy.Identity{2}

	_, err := ds.WriteTx(func(m *datastore.MutTx) error {
		return m.CreateTable(widgetsTableSchema(), false)
	})
	require.NoError(t, err)
	require.NoError(t, ds.SetEnergyBalance(alice, big.NewInt(10_000)))

	e := NewEngine(ds, ts, alice)
	rows, err := e.Subscribe("sub1", "SELECT * FROM widgets WHERE owner = :sender", alice)
	require.NoError(t, err)
	require.Empty(t, rows)

	var result datastore.WriteResult
	result, err = ds.WriteTx(func(m *datastore.MutTx) error {
		if _, err := m.Insert("widgets", widgetRow(1, bob, 5)); err != nil {
			return err
		}
		_, err := m.Insert("widgets", widgetRow(2, alice, 9))
		return err
	})
	require.NoError(t, err)

	updates, err := e.OnCommit(result)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, "sub1", updates[0].ID)
	require.Len(t, updates[0].Deltas, 1)
	require.True(t, updates[0].Deltas[0].Insert)
	require.Equal(t, uint64(2), updates[0].Deltas[0].Row.Value.Product[0].U64)
}

func TestEngineUnsubscribeStopsFurtherDeltas(t *testing.T) {
	ds, ts := openTestDatastore(t)
	alice := energy.Identity{1}

	_, err := ds.WriteTx(func(m *datastore.MutTx) error {
		return m.CreateTable(widgetsTableSchema(), false)
	})
	require.NoError(t, err)

	e := NewEngine(ds, ts, alice)
	_, err = e.Subscribe("sub1", "SELECT * FROM widgets WHERE owner = :sender", alice)
	require.NoError(t, err)

	require.NoError(t, e.Unsubscribe("sub1"))
	require.ErrorIs(t, e.Unsubscribe("sub1"), errors.ErrSubscriptionNotFound)

	result, err := ds.WriteTx(func(m *datastore.MutTx) error {
		_, err := m.Insert("widgets", widgetRow(1, alice, 5))
		return err
	})
	require.NoError(t, err)

	updates, err := e.OnCommit(result)
	require.NoError(t, err)
	require.Empty(t, updates)
}

func TestEngineOneOffQueryDoesNotRegisterSubscription(t *testing.T) {
	ds, ts := openTestDatastore(t)
	alice := energy.Identity{1}

	_, err := ds.WriteTx(func(m *datastore.MutTx) error {
		return m.CreateTable(widgetsTableSchema(), false)
	})
	require.NoError(t, err)
	_, err = ds.WriteTx(func(m *datastore.MutTx) error {
		_, err := m.Insert("widgets", widgetRow(1, alice, 5))
		return err
	})
	require.NoError(t, err)

	e := NewEngine(ds, ts, alice)
	rows, err := e.OneOffQuery("SELECT * FROM widgets WHERE owner = :sender", alice)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Empty(t, e.subs)
}

func TestEngineRLSHidesRowsFromOtherIdentity(t *testing.T) {
	ds, ts := openTestDatastore(t)
	alice := energy.Identity{1}
	bob := energy.Identity{2}

	_, err := ds.WriteTx(func(m *datastore.MutTx) error {
		if err := m.CreateTable(widgetsTableSchema(), false); err != nil {
			return err
		}
		return m.AddRLSRule("widgets", "owner = :sender")
	})
	require.NoError(t, err)

	_, err = ds.WriteTx(func(m *datastore.MutTx) error {
		_, err := m.Insert("widgets", widgetRow(1, alice, 5))
		return err
	})
	require.NoError(t, err)

	e := NewEngine(ds, ts, alice)
	rows, err := e.Subscribe("sub1", "SELECT * FROM widgets", bob)
	require.NoError(t, err)
	require.Empty(t, rows)
}
