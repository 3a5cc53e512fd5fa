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

package datastore

import (
	"math/big"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/veltdb/velt/commitlog"
	"github.com/veltdb/velt/conf"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/log"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/storage/boltkv"
)

// Datastore owns one database's row storage, schema catalog, and commit
// stream. Writes are serialized: bbolt itself admits only one in-flight
// Update transaction, and writeMu additionally spans the post-commit
// commitlog append so the two stay in lockstep under concurrent callers.
type Datastore struct {
	store     *boltkv.Store
	commit    commitlog.Log
	blobs     *rowstore.BlobStore
	typespace *sats.Typespace
	cfg       conf.Config
	logger    log.Logger
	energy    *energy.Accountant

	writeMu sync.Mutex
}

// Open opens or creates the database rooted at dataDir.
func Open(dataDir string, cfg conf.Config, ts *sats.Typespace) (*Datastore, error) {
	store, err := boltkv.Open(dataDir)
	if err != nil {
		return nil, err
	}
	clog, err := commitlog.Open(filepath.Join(dataDir, "log"), cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Datastore{
		store:     store,
		commit:    clog,
		blobs:     rowstore.NewBlobStore(int64(cfg.MaxBlobSize)),
		typespace: ts,
		cfg:       cfg,
		logger:    log.New("component", "datastore", "dir", dataDir),
		energy:    energy.NewAccountant(cfg),
	}, nil
}

// Logger exposes the datastore's logger for callers (the module host)
// that want a child logger scoped to the same database.
func (ds *Datastore) Logger() log.Logger { return ds.logger }

// BeginReducerBudget reads callerID's current energy balance and grants
// a Meter funded per the configured budgeting rule. Runs in its own
// read-only bbolt transaction, independent of the MutTx the reducer
// itself will run inside, since a budget is computed from state at
// dispatch time regardless of what the reducer's own transaction does.
func (ds *Datastore) BeginReducerBudget(callerID energy.Identity) (*energy.Meter, error) {
	var meter *energy.Meter
	err := ds.store.View(func(tx *bolt.Tx) error {
		m, err := ds.energy.BeginDispatch(tx, callerID)
		meter = m
		return err
	})
	return meter, err
}

// SettleReducerEnergy withdraws a finished dispatch's actual spend from
// callerID's balance. Runs in its own bbolt write transaction, separate
// from the reducer's own MutTx, so the withdrawal survives even when the
// reducer's row effects are rolled back.
func (ds *Datastore) SettleReducerEnergy(callerID energy.Identity, meter *energy.Meter) (*big.Int, error) {
	var balance *big.Int
	err := ds.store.Update(func(tx *bolt.Tx) error {
		b, err := ds.energy.Settle(tx, callerID, meter)
		balance = b
		return err
	})
	return balance, err
}

// EnergyBalance returns an identity's current balance.
func (ds *Datastore) EnergyBalance(id energy.Identity) (*big.Int, error) {
	var balance *big.Int
	err := ds.store.View(func(tx *bolt.Tx) error {
		balance = ds.energy.Ledger().Balance(tx, id)
		return nil
	})
	return balance, err
}

// SetEnergyBalance administratively overwrites an identity's balance.
func (ds *Datastore) SetEnergyBalance(id energy.Identity, balance *big.Int) error {
	return ds.store.Update(func(tx *bolt.Tx) error {
		return ds.energy.Ledger().SetBalance(tx, id, balance)
	})
}

// Close closes the underlying store and commit log.
func (ds *Datastore) Close() error {
	logErr := ds.commit.Close()
	storeErr := ds.store.Close()
	if logErr != nil {
		return logErr
	}
	return storeErr
}

// View runs fn against a consistent read-only snapshot.
func (ds *Datastore) View(fn func(*ReadTx) error) error {
	return ds.store.View(func(tx *bolt.Tx) error {
		catalog, err := loadCatalog(tx)
		if err != nil {
			return err
		}
		rtx := &ReadTx{txBase{tx: tx, catalog: catalog, ds: ds}}
		return fn(rtx)
	})
}

// WriteResult summarizes one committed transaction for callers (the
// module host, primarily) that need to hand it to the subscription
// engine or commitlog consumers.
type WriteResult struct {
	TxOffset uint64
	Changes  []RowChange
}

// WriteTx runs fn against the single exclusive writer, commits the bbolt
// transaction first (so row data is durable via bbolt's own fsync before
// anything else observes it), and only then appends the transaction's
// recorded changes to the commit log. If the commitlog append fails
// after a successful bbolt commit, the row data is still correctly
// persisted; the commit is simply missing from the log's replication/
// notification stream, a narrower failure mode than losing the write
// outright. This ordering is a recorded Open Question decision (see
// DESIGN.md).
func (ds *Datastore) WriteTx(fn func(*MutTx) error) (WriteResult, error) {
	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	var changes []RowChange
	err := ds.store.Update(func(tx *bolt.Tx) error {
		catalog, err := loadCatalog(tx)
		if err != nil {
			return err
		}
		mtx := newMutTx(tx, catalog, ds)
		if err := fn(mtx); err != nil {
			return err
		}
		if mtx.schemaDirty {
			mtx.newCatalog.Version++
			if err := saveCatalog(tx, mtx.newCatalog); err != nil {
				return err
			}
		}
		changes = mtx.changes
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	payload, err := encodeChanges(changes)
	if err != nil {
		return WriteResult{}, err
	}
	offset, err := ds.commit.Append(payload)
	if err != nil {
		ds.logger.Error("commitlog append failed after successful row commit", "err", err)
		return WriteResult{}, err
	}
	return WriteResult{TxOffset: offset, Changes: changes}, nil
}

// Catalog returns the current schema catalog.
func (ds *Datastore) Catalog() (Catalog, error) {
	var c Catalog
	err := ds.store.View(func(tx *bolt.Tx) error {
		var err error
		c, err = loadCatalog(tx)
		return err
	})
	return c, err
}

// NextTxOffset previews the tx_offset the next WriteTx will be assigned.
func (ds *Datastore) NextTxOffset() uint64 { return ds.commit.NextOffset() }

// Replay visits every committed changeset since the beginning of the
// commit log, in tx_offset order. Used at startup by consumers that
// maintain derived state outside the row store itself (e.g. a fresh
// subscription engine's initial matching set).
func (ds *Datastore) Replay(visit func(offset uint64, changes []RowChange) error) error {
	return ds.commit.Replay(func(offset uint64, payload []byte) error {
		changes, err := decodeChanges(payload)
		if err != nil {
			return err
		}
		return visit(offset, changes)
	})
}
