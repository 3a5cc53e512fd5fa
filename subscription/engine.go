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

	"golang.org/x/sync/errgroup"

	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/subscription/query"
)

// subEntry is one client's live subscription.
type subEntry struct {
	sql    string
	sender energy.Identity
	plan   *Plan
}

// Update is what one subscription receives for one commit: either its
// full initial matching set (on Subscribe) or an incremental delta list
// (on every later commit until Unsubscribe).
type Update struct {
	ID       string
	TxOffset uint64
	Rows     []Row   // set on the initial snapshot
	Deltas   []Delta // set on every subsequent commit
}

// Engine owns every live subscription against one database and turns
// each committed transaction into the per-subscription updates clients
// should receive, in strict tx_offset order, with every table's RLS
// rules applied as an implicit extra filter no client query can see
// past.
type Engine struct {
	ds    *datastore.Datastore
	ts    *sats.Typespace
	rls   *RLSCompiler
	owner energy.Identity

	mu   sync.Mutex
	subs map[string]*subEntry
}

// NewEngine builds an engine over ds. owner is the identity subscription
// re-evaluation energy is charged against, per the module host's
// database-owner billing model rather than the subscribing client's own
// balance.
func NewEngine(ds *datastore.Datastore, ts *sats.Typespace, owner energy.Identity) *Engine {
	return &Engine{
		ds:    ds,
		ts:    ts,
		rls:   NewRLSCompiler(),
		owner: owner,
		subs:  map[string]*subEntry{},
	}
}

// Subscribe compiles sql, registers it under id, and returns its initial
// matching set (already RLS-filtered) as of the current committed state.
// A commit that lands after this call's snapshot but before the
// registration completes is guaranteed to show up in a later OnCommit
// call instead of being silently missed, since both hold the same mu.
func (e *Engine) Subscribe(id, sql string, sender energy.Identity) ([]Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.subs[id]; exists {
		return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "subscription %q already exists", id)
	}

	var rows []Row
	err := e.ds.View(func(tx *datastore.ReadTx) error {
		plan, err := e.compile(tx.Catalog(), sql)
		if err != nil {
			return err
		}
		matched, err := plan.Evaluate(tx, sender)
		if err != nil {
			return err
		}
		rlsPlans, err := e.rls.Compiled(e.ts, tx.Catalog(), plan.projectedTable())
		if err != nil {
			return err
		}
		rows = filterRows(matched, rlsPlans, sender)
		e.subs[id] = &subEntry{sql: sql, sender: sender, plan: plan}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Unsubscribe removes a subscription. Any OnCommit call already in
// progress when Unsubscribe is invoked holds e.mu for its own duration,
// so a commit that started delivering before the unsubscribe point
// still completes delivery to this id; no commit that starts after does.
func (e *Engine) Unsubscribe(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[id]; !ok {
		return errors.ErrSubscriptionNotFound
	}
	delete(e.subs, id)
	return nil
}

// ProjectedTable returns the name of the table a live subscription's
// result rows are identified in, so a caller translating Update rows to
// wire bytes knows which schema to encode them with.
func (e *Engine) ProjectedTable(id string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	se, ok := e.subs[id]
	if !ok {
		return "", errors.ErrSubscriptionNotFound
	}
	return se.plan.projectedTable(), nil
}

// OneOffQuery evaluates sql once against the current committed state,
// RLS-filtered the same way a subscription's initial set is, without
// registering anything.
func (e *Engine) OneOffQuery(sql string, sender energy.Identity) ([]Row, error) {
	var rows []Row
	err := e.ds.View(func(tx *datastore.ReadTx) error {
		plan, err := e.compile(tx.Catalog(), sql)
		if err != nil {
			return err
		}
		matched, err := plan.Evaluate(tx, sender)
		if err != nil {
			return err
		}
		rlsPlans, err := e.rls.Compiled(e.ts, tx.Catalog(), plan.projectedTable())
		if err != nil {
			return err
		}
		rows = filterRows(matched, rlsPlans, sender)
		return nil
	})
	return rows, err
}

// QueryTable compiles sql against the current committed schema and
// returns the name of the table its result rows are identified in,
// without evaluating it. Used to pick a row schema for wire encoding
// ahead of a Subscribe or OneOffQuery call.
func (e *Engine) QueryTable(sql string) (string, error) {
	var table string
	err := e.ds.View(func(tx *datastore.ReadTx) error {
		plan, err := e.compile(tx.Catalog(), sql)
		if err != nil {
			return err
		}
		table = plan.projectedTable()
		return nil
	})
	return table, err
}

// OnCommit turns one commit's recorded changes into the Update each
// currently-registered subscription should receive, evaluated
// concurrently (one bbolt read transaction per subscription, since a
// single transaction isn't safe to share across goroutines) and charged
// against the database owner's energy balance rather than any
// subscriber's own. Subscriptions with no resulting delta are omitted
// from the returned slice entirely - an empty commit for every
// subscriber returns nothing to send.
func (e *Engine) OnCommit(result datastore.WriteResult) ([]Update, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.subs) == 0 {
		return nil, nil
	}

	meter, err := e.ds.BeginReducerBudget(e.owner)
	if err != nil {
		return nil, err
	}
	if err := meter.Charge(energy.OpSubscriptionEval); err != nil {
		e.ds.SettleReducerEnergy(e.owner, meter)
		return nil, err
	}

	type pair struct {
		id    string
		entry *subEntry
	}
	ordered := make([]pair, 0, len(e.subs))
	for id, se := range e.subs {
		ordered = append(ordered, pair{id, se})
	}

	updates := make([]Update, len(ordered))
	g := new(errgroup.Group)
	for i, p := range ordered {
		i, p := i, p
		g.Go(func() error {
			return e.ds.View(func(tx *datastore.ReadTx) error {
				deltas, err := p.entry.plan.EvaluateDelta(tx, result.Changes, p.entry.sender)
				if err != nil {
					return err
				}
				rlsPlans, err := e.rls.Compiled(e.ts, tx.Catalog(), p.entry.plan.projectedTable())
				if err != nil {
					return err
				}
				deltas = filterDeltas(deltas, rlsPlans, p.entry.sender)
				updates[i] = Update{ID: p.id, TxOffset: result.TxOffset, Deltas: deltas}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		e.ds.SettleReducerEnergy(e.owner, meter)
		return nil, err
	}

	if _, err := e.ds.SettleReducerEnergy(e.owner, meter); err != nil {
		return nil, err
	}

	out := updates[:0]
	for _, u := range updates {
		if len(u.Deltas) > 0 {
			out = append(out, u)
		}
	}
	return out, nil
}

func (e *Engine) compile(cat datastore.Catalog, sql string) (*Plan, error) {
	q, err := query.Parse(sql)
	if err != nil {
		return nil, err
	}
	return Compile(e.ts, q, cat.Tables)
}

func filterRows(rows []Row, rlsPlans []*Plan, sender energy.Identity) []Row {
	if len(rlsPlans) == 0 {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if Allows(rlsPlans, r.Value, sender) {
			out = append(out, r)
		}
	}
	return out
}

func filterDeltas(deltas []Delta, rlsPlans []*Plan, sender energy.Identity) []Delta {
	if len(rlsPlans) == 0 {
		return deltas
	}
	out := deltas[:0]
	for _, d := range deltas {
		if Allows(rlsPlans, d.Row.Value, sender) {
			out = append(out, d)
		}
	}
	return out
}
