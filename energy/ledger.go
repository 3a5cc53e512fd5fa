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

// Package energy tracks per-identity energy balances and meters a single
// reducer dispatch's spending against a budget drawn from that balance.
// Balances are signed 128-bit integers; as noted in sats, no ecosystem
// library in the retrieval pack provides that width, so balances are
// carried as *big.Int and stored as their fixed 16-byte two's-complement
// encoding, the same representation sats.I128 uses on the wire.
package energy

import (
	"math/big"

	bolt "go.etcd.io/bbolt"

	"github.com/veltdb/velt/storage/boltkv"
)

// Identity is an opaque 32-byte principal: a client identity, a module's
// owning identity, or the identity a scheduled reducer is dispatched as.
type Identity [32]byte

func (id Identity) String() string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range id {
		out[i*2] = hexdigits[b>>4]
		out[i*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}

// Ledger reads and writes per-identity balances within a live bbolt
// transaction. It holds no state of its own; every method takes the
// transaction explicitly, matching rowstore.Table's shape.
type Ledger struct{}

// Balance returns id's current balance, or zero if id has never been
// credited.
func (Ledger) Balance(tx *bolt.Tx, id Identity) *big.Int {
	b := tx.Bucket(boltkv.BucketEnergy)
	raw := b.Get(id[:])
	if raw == nil {
		return new(big.Int)
	}
	return decodeI128(raw)
}

// SetBalance overwrites id's balance.
func (Ledger) SetBalance(tx *bolt.Tx, id Identity, balance *big.Int) error {
	b := tx.Bucket(boltkv.BucketEnergy)
	return b.Put(id[:], encodeI128(balance))
}

// Credit adds amount (which may be negative) to id's balance and returns
// the new balance.
func (l Ledger) Credit(tx *bolt.Tx, id Identity, amount *big.Int) (*big.Int, error) {
	next := new(big.Int).Add(l.Balance(tx, id), amount)
	if err := l.SetBalance(tx, id, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Debit subtracts amount from id's balance, allowing the result to go
// negative: a reducer dispatch withdraws its actually-spent energy after
// the fact, and a module owner can go into debt the same way the
// original system lets a budget dispatch exceed a razor-thin balance by
// design (see DefaultBudget clamping in budget.go).
func (l Ledger) Debit(tx *bolt.Tx, id Identity, amount *big.Int) (*big.Int, error) {
	return l.Credit(tx, id, new(big.Int).Neg(amount))
}

func encodeI128(n *big.Int) []byte {
	var mag big.Int
	if n != nil {
		mag.Set(n)
	}
	if mag.Sign() < 0 {
		var mod big.Int
		mod.Lsh(big.NewInt(1), 128)
		mag.Add(&mod, &mag)
	}
	be := mag.Bytes()
	var out [16]byte
	for i := 0; i < len(be) && i < 16; i++ {
		out[i] = be[len(be)-1-i]
	}
	return out[:]
}

func decodeI128(buf []byte) *big.Int {
	if len(buf) != 16 {
		return new(big.Int)
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = buf[15-i]
	}
	n := new(big.Int).SetBytes(be)
	var top big.Int
	top.Lsh(big.NewInt(1), 127)
	if n.Cmp(&top) >= 0 {
		var mod big.Int
		mod.Lsh(big.NewInt(1), 128)
		n.Sub(n, &mod)
	}
	return n
}
