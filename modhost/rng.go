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
	"encoding/binary"
	"math/rand"

	"lukechampine.com/blake3"

	"github.com/veltdb/velt/energy"
)

// deterministicSeed derives a reducer invocation's RNG seed from the
// triple that must determine every observable random draw: the
// committing transaction's offset, the reducer's name, and the calling
// identity. Two nodes replaying the same commit log invoke the same
// reducer with the same seed and therefore the same sequence of "random"
// draws, which is the whole point: a reducer must not be a source of
// non-determinism the commit log can't reproduce.
func deterministicSeed(txOffset uint64, reducerName string, caller energy.Identity) int64 {
	h := blake3.New(32, nil)
	var offsetBuf [8]byte
	binary.LittleEndian.PutUint64(offsetBuf[:], txOffset)
	h.Write(offsetBuf[:])
	h.Write([]byte(reducerName))
	h.Write(caller[:])
	sum := h.Sum(nil)
	return int64(binary.LittleEndian.Uint64(sum[:8]))
}

// NewDeterministicRand returns the *rand.Rand a reducer's host environment
// exposes for its invocation. Each reducer dispatch gets a fresh one;
// it is never shared or reused across invocations.
func NewDeterministicRand(txOffset uint64, reducerName string, caller energy.Identity) *rand.Rand {
	return rand.New(rand.NewSource(deterministicSeed(txOffset, reducerName, caller)))
}
