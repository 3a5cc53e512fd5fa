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
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/conf"
	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	velterrors "github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// fakeInvoker satisfies Invoker without any real Wasm module, so Dispatch
// and Scheduler can be exercised without a compiled guest binary.
type fakeInvoker struct {
	run func(env *Env, reducerName string, args sats.Value) error
}

func (f *fakeInvoker) InvokeReducer(env *Env, reducerName string, args sats.Value) error {
	return f.run(env, reducerName, args)
}

func widgetsSchema() rowstore.TableSchema {
	return rowstore.TableSchema{
		Name: "widgets",
		Columns: []rowstore.ColumnSchema{
			{Name: "id", Type: sats.U64(), AutoInc: true},
			{Name: "name", Type: sats.StringT()},
		},
	}
}

func openTestHostDatastore(t *testing.T) *datastore.Datastore {
	t.Helper()
	dir := t.TempDir()
	cfg := conf.DefaultConfig()
	cfg.DataDir = dir
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	ds, err := datastore.Open(dir, cfg, ts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	_, err = ds.WriteTx(func(m *datastore.MutTx) error {
		return m.CreateTable(widgetsSchema(), false)
	})
	require.NoError(t, err)
	return ds
}

func creditIdentity(t *testing.T, ds *datastore.Datastore, id energy.Identity, amount int64) {
	t.Helper()
	require.NoError(t, ds.SetEnergyBalance(id, big.NewInt(amount)))
}

func basicDescription() *Description {
	return &Description{
		Tables: []rowstore.TableSchema{widgetsSchema()},
		Reducers: []ReducerDesc{
			{Name: "create_widget", ArgType: sats.ProductOf(sats.Field{Name: "name", Type: sats.StringT()}), Kind: ReducerStandard},
		},
	}
}

func TestHostDispatchCommitsAndChargesEnergy(t *testing.T) {
	ds := openTestHostDatastore(t)
	caller := testHostIdentity(1)
	creditIdentity(t, ds, caller, 10_000)

	invoker := &fakeInvoker{run: func(env *Env, reducerName string, args sats.Value) error {
		_, err := env.Insert("widgets", sats.ProductVal(sats.U64Val(0), sats.StrVal(args.Product[0].Str)))
		return err
	}}
	host := NewHost(ds, invoker, basicDescription())

	outcome, err := host.Dispatch(Request{
		ReducerName: "create_widget",
		Args:        sats.ProductVal(sats.StrVal("gadget")),
		Caller:      caller,
	})
	require.NoError(t, err)
	require.Equal(t, Committed, outcome.Status)
	require.Greater(t, outcome.EnergyUsed, int64(0))
	require.Len(t, outcome.Changes, 1)

	bal, err := ds.EnergyBalance(caller)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000-outcome.EnergyUsed), bal)

	err = ds.View(func(r *datastore.ReadTx) error {
		var found bool
		scanErr := r.Scan("widgets", func(_ rowstore.RowId, row sats.Value) bool {
			if row.Product[1].Str == "gadget" {
				found = true
			}
			return true
		})
		require.True(t, found)
		return scanErr
	})
	require.NoError(t, err)
}

func TestHostDispatchFailsOutOfEnergyWithoutBalance(t *testing.T) {
	ds := openTestHostDatastore(t)
	caller := testHostIdentity(2)

	invoker := &fakeInvoker{run: func(env *Env, reducerName string, args sats.Value) error {
		t.Fatal("reducer body must not run without a funded balance")
		return nil
	}}
	host := NewHost(ds, invoker, basicDescription())

	outcome, err := host.Dispatch(Request{ReducerName: "create_widget", Args: sats.ProductVal(sats.StrVal("x")), Caller: caller})
	require.NoError(t, err)
	require.Equal(t, OutOfEnergyStatus, outcome.Status)
}

func TestHostDispatchUnknownReducerFails(t *testing.T) {
	ds := openTestHostDatastore(t)
	host := NewHost(ds, &fakeInvoker{}, basicDescription())

	_, err := host.Dispatch(Request{ReducerName: "does_not_exist", Caller: testHostIdentity(3)})
	require.ErrorIs(t, err, velterrors.ErrReducerNotFound)
}

func TestHostDispatchWasmTrapClassifiesPanickedAndStillSettlesEnergy(t *testing.T) {
	ds := openTestHostDatastore(t)
	caller := testHostIdentity(4)
	creditIdentity(t, ds, caller, 10_000)

	invoker := &fakeInvoker{run: func(env *Env, reducerName string, args sats.Value) error {
		if _, err := env.Insert("widgets", sats.ProductVal(sats.U64Val(0), sats.StrVal("ghost"))); err != nil {
			return err
		}
		return velterrors.Wrap(velterrors.ErrWasmTrap, "guest panicked")
	}}
	host := NewHost(ds, invoker, basicDescription())

	outcome, err := host.Dispatch(Request{ReducerName: "create_widget", Args: sats.ProductVal(sats.StrVal("ghost")), Caller: caller})
	require.NoError(t, err)
	require.Equal(t, Panicked, outcome.Status)
	require.Greater(t, outcome.EnergyUsed, int64(0))

	bal, err := ds.EnergyBalance(caller)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10_000-outcome.EnergyUsed), bal)

	err = ds.View(func(r *datastore.ReadTx) error {
		var found bool
		scanErr := r.Scan("widgets", func(_ rowstore.RowId, row sats.Value) bool {
			if row.Product[1].Str == "ghost" {
				found = true
			}
			return true
		})
		require.False(t, found, "reducer's row effects must roll back on trap")
		return scanErr
	})
	require.NoError(t, err)
}

func TestHostDispatchOutOfEnergyMidReducerStillCharges(t *testing.T) {
	ds := openTestHostDatastore(t)
	caller := testHostIdentity(5)
	creditIdentity(t, ds, caller, 1)

	invoker := &fakeInvoker{run: func(env *Env, reducerName string, args sats.Value) error {
		_, err := env.Insert("widgets", sats.ProductVal(sats.U64Val(0), sats.StrVal("too expensive")))
		return err
	}}
	host := NewHost(ds, invoker, basicDescription())

	outcome, err := host.Dispatch(Request{ReducerName: "create_widget", Args: sats.ProductVal(sats.StrVal("x")), Caller: caller})
	require.NoError(t, err)
	require.Equal(t, OutOfEnergyStatus, outcome.Status)

	bal, err := ds.EnergyBalance(caller)
	require.NoError(t, err)
	require.Equal(t, 0, big.NewInt(0).Cmp(bal))
}

func testHostIdentity(b byte) energy.Identity {
	var id energy.Identity
	id[0] = b
	return id
}
