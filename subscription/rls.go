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
	"sync"

	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/subscription/query"
)

// rlsCacheKey identifies one compiled RLS rule set by the table it binds
// to and the catalog version it was compiled against; a schema change
// bumps the version and invalidates every entry transparently.
type rlsCacheKey struct {
	table   string
	version uint64
}

// RLSCompiler parses and caches a database's row-level-security rule
// set, keyed by (table, schema version) so an unchanged schema never
// re-parses its rules on every subscription.
type RLSCompiler struct {
	mu    sync.Mutex
	cache map[rlsCacheKey][]*Plan
}

// NewRLSCompiler builds an empty compiler cache.
func NewRLSCompiler() *RLSCompiler {
	return &RLSCompiler{cache: map[rlsCacheKey][]*Plan{}}
}

// Compiled returns the compiled RLS predicates bound to table under cat,
// parsing and caching them on first use for this catalog version. Each
// rule must be a WHERE-only clause against table's own schema; a JOIN is
// rejected here with ErrQueryTypeMismatch.
func (c *RLSCompiler) Compiled(ts *sats.Typespace, cat datastore.Catalog, table string) ([]*Plan, error) {
	key := rlsCacheKey{table: table, version: cat.Version}

	c.mu.Lock()
	if plans, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return plans, nil
	}
	c.mu.Unlock()

	rules := cat.RLS[table]
	plans := make([]*Plan, 0, len(rules))
	for _, rule := range rules {
		q, err := query.Parse("SELECT * FROM " + rule.Table + " WHERE " + rule.Predicate)
		if err != nil {
			return nil, err
		}
		if q.Join != nil {
			return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "RLS rule on %q may not JOIN", table)
		}
		plan, err := Compile(ts, q, cat.Tables)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	c.mu.Lock()
	c.cache[key] = plans
	c.mu.Unlock()
	return plans, nil
}

// Allows reports whether row is visible to sender under table's RLS
// rules. A table with no rules is fully visible to everyone; a table
// with one or more rules requires at least one rule to match, a
// default-deny posture once any rule exists for the table.
func Allows(plans []*Plan, row sats.Value, sender energy.Identity) bool {
	if len(plans) == 0 {
		return true
	}
	for _, p := range plans {
		if p.MatchesBaseRow(row, sender) {
			return true
		}
	}
	return false
}
