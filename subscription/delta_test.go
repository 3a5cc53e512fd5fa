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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/subscription/query"
)

func TestEvaluateDeltaSingleTableInsert(t *testing.T) {
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	alice := energy.Identity{1}

	q, err := query.Parse("SELECT * FROM widgets WHERE owner = :sender")
	require.NoError(t, err)
	plan, err := Compile(ts, q, map[string]rowstore.TableSchema{"widgets": widgetsTableSchema()})
	require.NoError(t, err)

	after := &memReader{rows: map[string][]Row{
		"widgets": {
			{ID: 1, Value: widgetRow(1, alice, 5)},
			{ID: 2, Value: widgetRow(2, alice, 9)},
		},
	}}
	changes := []datastore.RowChange{
		{Table: "widgets", Kind: datastore.ChangeInsert, RowId: 2, Row: widgetRow(2, alice, 9)},
	}

	deltas, err := plan.EvaluateDelta(after, changes, alice)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.True(t, deltas[0].Insert)
	require.Equal(t, rowstore.RowId(2), deltas[0].Row.ID)
}

func TestEvaluateDeltaSingleTableUpdateOutsideVisibilityIsNoOp(t *testing.T) {
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	alice := energy.Identity{1}
	bob := energy.Identity{2}

	q, err := query.Parse("SELECT * FROM widgets WHERE owner = :sender")
	require.NoError(t, err)
	plan, err := Compile(ts, q, map[string]rowstore.TableSchema{"widgets": widgetsTableSchema()})
	require.NoError(t, err)

	after := &memReader{rows: map[string][]Row{
		"widgets": {{ID: 1, Value: widgetRow(1, bob, 9)}},
	}}
	changes := []datastore.RowChange{
		{Table: "widgets", Kind: datastore.ChangeDelete, RowId: 1, Row: widgetRow(1, bob, 5)},
		{Table: "widgets", Kind: datastore.ChangeInsert, RowId: 1, Row: widgetRow(1, bob, 9)},
	}

	deltas, err := plan.EvaluateDelta(after, changes, alice)
	require.NoError(t, err)
	require.Empty(t, deltas)
}

func TestEvaluateDeltaSingleTableUpdateChangesContent(t *testing.T) {
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	alice := energy.Identity{1}

	q, err := query.Parse("SELECT * FROM widgets WHERE owner = :sender")
	require.NoError(t, err)
	plan, err := Compile(ts, q, map[string]rowstore.TableSchema{"widgets": widgetsTableSchema()})
	require.NoError(t, err)

	after := &memReader{rows: map[string][]Row{
		"widgets": {{ID: 1, Value: widgetRow(1, alice, 9)}},
	}}
	changes := []datastore.RowChange{
		{Table: "widgets", Kind: datastore.ChangeDelete, RowId: 1, Row: widgetRow(1, alice, 5)},
		{Table: "widgets", Kind: datastore.ChangeInsert, RowId: 1, Row: widgetRow(1, alice, 9)},
	}

	deltas, err := plan.EvaluateDelta(after, changes, alice)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	require.False(t, deltas[0].Insert)
	require.True(t, deltas[1].Insert)
}

func TestEvaluateDeltaJoinVisibilityFlipOnOtherSideChange(t *testing.T) {
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	alice := energy.Identity{1}
	bob := energy.Identity{2}

	q, err := query.Parse("SELECT o.* FROM orders AS o JOIN widgets AS w ON o.widget_id = w.id WHERE w.owner = :sender")
	require.NoError(t, err)
	schemas := map[string]rowstore.TableSchema{
		"orders":  ordersTableSchema(),
		"widgets": widgetsTableSchema(),
	}
	plan, err := Compile(ts, q, schemas)
	require.NoError(t, err)

	after := &memReader{rows: map[string][]Row{
		"widgets": {{ID: 1, Value: widgetRow(1, alice, 5)}},
		"orders":  {{ID: 10, Value: orderRow(10, 1, 2)}},
	}}
	changes := []datastore.RowChange{
		{Table: "widgets", Kind: datastore.ChangeDelete, RowId: 1, Row: widgetRow(1, bob, 5)},
		{Table: "widgets", Kind: datastore.ChangeInsert, RowId: 1, Row: widgetRow(1, alice, 5)},
	}

	deltas, err := plan.EvaluateDelta(after, changes, alice)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.True(t, deltas[0].Insert)
	require.Equal(t, rowstore.RowId(10), deltas[0].Row.ID)
}
