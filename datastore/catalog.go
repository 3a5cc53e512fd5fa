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

// Package datastore is the transactional layer above rowstore: a single
// exclusive writer and any number of concurrent snapshot readers, a
// schema catalog persisted alongside the row data, and a strictly
// increasing tx_offset assigned to every committed write, which is what
// the commitlog, subscription engine, and energy ledger all key off of.
package datastore

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/storage/boltkv"
)

const catalogKey = "catalog"

// RLSRule is a row-level security predicate bound to a table, in the
// subscription engine's SQL-subset source form. Compilation against a
// caller identity is the subscription engine's job; the datastore only
// stores and versions the source text.
type RLSRule struct {
	Table     string `json:"table"`
	Predicate string `json:"predicate"`
}

// Catalog is the engine's system metadata: table schemas and the RLS
// rules bound to them. It is versioned as a whole on every schema
// change so compiled query plans and RLS rules elsewhere can be cached
// by (table, schema_version) and invalidated in one step.
type Catalog struct {
	Version uint64                            `json:"version"`
	Tables  map[string]rowstore.TableSchema   `json:"tables"`
	RLS     map[string][]RLSRule              `json:"rls"`
}

func emptyCatalog() Catalog {
	return Catalog{Tables: map[string]rowstore.TableSchema{}, RLS: map[string][]RLSRule{}}
}

func loadCatalog(tx *bolt.Tx) (Catalog, error) {
	b := tx.Bucket(boltkv.BucketCatalog)
	raw := b.Get([]byte(catalogKey))
	if raw == nil {
		return emptyCatalog(), nil
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return Catalog{}, err
	}
	if c.Tables == nil {
		c.Tables = map[string]rowstore.TableSchema{}
	}
	if c.RLS == nil {
		c.RLS = map[string][]RLSRule{}
	}
	return c, nil
}

func saveCatalog(tx *bolt.Tx, c Catalog) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return tx.Bucket(boltkv.BucketCatalog).Put([]byte(catalogKey), raw)
}
