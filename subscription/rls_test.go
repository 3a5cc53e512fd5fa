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
)

func catalogWithOwnerRLS() datastore.Catalog {
	return datastore.Catalog{
		Version: 1,
		Tables:  map[string]rowstore.TableSchema{"widgets": widgetsTableSchema()},
		RLS: map[string][]datastore.RLSRule{
			"widgets": {{Table: "widgets", Predicate: "owner = :sender"}},
		},
	}
}

func TestRLSCompilerAllowsOwnRowOnly(t *testing.T) {
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)

	alice := energy.Identity{1}
	bob := energy.Identity{2}

	c := NewRLSCompiler()
	cat := catalogWithOwnerRLS()
	plans, err := c.Compiled(ts, cat, "widgets")
	require.NoError(t, err)
	require.Len(t, plans, 1)

	row := widgetRow(1, alice, 5)
	require.True(t, Allows(plans, row, alice))
	require.False(t, Allows(plans, row, bob))
}

func TestRLSCompilerCachesByVersion(t *testing.T) {
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)

	c := NewRLSCompiler()
	cat := catalogWithOwnerRLS()

	first, err := c.Compiled(ts, cat, "widgets")
	require.NoError(t, err)
	second, err := c.Compiled(ts, cat, "widgets")
	require.NoError(t, err)
	require.Same(t, first[0], second[0])

	cat.Version = 2
	third, err := c.Compiled(ts, cat, "widgets")
	require.NoError(t, err)
	require.NotSame(t, first[0], third[0])
}

func TestAllowsWithNoRulesIsFullyVisible(t *testing.T) {
	require.True(t, Allows(nil, widgetRow(1, energy.Identity{1}, 5), energy.Identity{9}))
}
