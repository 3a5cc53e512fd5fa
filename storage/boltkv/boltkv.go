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

// Package boltkv wraps go.etcd.io/bbolt with the bucket layout the row
// store and datastore build on: one physical file per database, a fixed
// set of top-level buckets created up front, and two entry points -
// View for a read-only snapshot, Update for the single exclusive writer -
// that mirror bbolt's own single-writer/many-reader model closely enough
// that ReadTx/MutTx in package datastore are thin wrappers around them.
package boltkv

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	BucketRows     = []byte("rows")
	BucketIndexes  = []byte("indexes")
	BucketBlobs    = []byte("blobs")
	BucketBlobRefs = []byte("blob_refs")
	BucketCatalog  = []byte("catalog")
	BucketSequences = []byte("sequences")
	BucketSchedule = []byte("schedule")
	BucketEnergy   = []byte("energy")
)

var allBuckets = [][]byte{
	BucketRows, BucketIndexes, BucketBlobs, BucketBlobRefs,
	BucketCatalog, BucketSequences, BucketSchedule, BucketEnergy,
}

// Store is one open database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at dataDir/data.bolt and
// ensures every top-level bucket exists.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "data.bolt")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error { return s.db.Close() }

// View runs fn against a read-only snapshot. Any number of Views may run
// concurrently with each other and with an in-flight Update.
func (s *Store) View(fn func(tx *bolt.Tx) error) error { return s.db.View(fn) }

// Update runs fn against the single exclusive writer transaction. Only
// one Update runs at a time; it blocks until any earlier Update commits
// or rolls back.
func (s *Store) Update(fn func(tx *bolt.Tx) error) error { return s.db.Update(fn) }

// Path returns the on-disk path of the underlying file.
func (s *Store) Path() string { return s.db.Path() }
