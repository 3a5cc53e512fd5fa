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

package sats

import (
	"encoding/binary"
	"math"
	"math/big"
	"sort"

	"github.com/veltdb/velt/pkg/errors"
)

// Encode appends the canonical BSATN encoding of v (typed as t, resolved
// against ts) to buf and returns the result. Encoding never fails for a
// value that was constructed to conform to t; a shape mismatch is a
// programmer error and panics rather than threading an error return
// through every recursive call, matching how malformed row tuples are
// treated elsewhere in the row store.
func Encode(ts *Typespace, t Type, v Value, buf []byte) ([]byte, error) {
	rt, err := ts.Resolve(t)
	if err != nil {
		return nil, err
	}
	if rt.Kind != v.Kind {
		return nil, errors.Wrapf(errors.ErrTypeMismatch, "encode: type %s value %s", rt.Kind, v.Kind)
	}
	switch rt.Kind {
	case KindBool:
		if v.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case KindI8:
		return append(buf, byte(v.I8)), nil
	case KindU8:
		return append(buf, v.U8), nil
	case KindI16:
		return appendLE16(buf, uint16(v.I16)), nil
	case KindU16:
		return appendLE16(buf, v.U16), nil
	case KindI32:
		return appendLE32(buf, uint32(v.I32)), nil
	case KindU32:
		return appendLE32(buf, v.U32), nil
	case KindF32:
		return appendLE32(buf, math.Float32bits(v.F32)), nil
	case KindI64:
		return appendLE64(buf, uint64(v.I64)), nil
	case KindU64:
		return appendLE64(buf, v.U64), nil
	case KindF64:
		return appendLE64(buf, math.Float64bits(v.F64)), nil
	case KindI128:
		return appendBigInt128(buf, v.I128, true), nil
	case KindU128:
		return appendBigInt128(buf, v.U128, false), nil
	case KindString:
		return encodeBytes(buf, []byte(v.Str)), nil
	case KindArray:
		buf = putUvarint(buf, uint64(len(v.Array)))
		for _, e := range v.Array {
			var err error
			buf, err = Encode(ts, *rt.Elem, e, buf)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindMap:
		return encodeMap(ts, rt, v, buf)
	case KindProduct:
		if len(v.Product) != len(rt.Fields) {
			return nil, errors.Wrapf(errors.ErrTypeMismatch, "product arity %d != %d", len(v.Product), len(rt.Fields))
		}
		for i, f := range rt.Fields {
			var err error
			buf, err = Encode(ts, f.Type, v.Product[i], buf)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case KindSum:
		if v.Sum == nil || int(v.Sum.Tag) >= len(rt.Variants) {
			return nil, errors.Wrapf(errors.ErrTypeMismatch, "sum tag out of range")
		}
		buf = append(buf, v.Sum.Tag)
		variant := rt.Variants[v.Sum.Tag]
		payload := Value{}
		if v.Sum.Val != nil {
			payload = *v.Sum.Val
		}
		return Encode(ts, variant.Type, payload, buf)
	default:
		return nil, errors.Wrapf(errors.ErrTypeMismatch, "unencodable kind %s", rt.Kind)
	}
}

func encodeBytes(buf []byte, b []byte) []byte {
	buf = putUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendLE16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLE32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLE64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// appendBigInt128 writes a fixed 16-byte little-endian integer: plain
// magnitude for unsigned, two's complement for signed. n == nil encodes
// as zero.
func appendBigInt128(buf []byte, n *big.Int, signed bool) []byte {
	var mag big.Int
	if n != nil {
		mag.Set(n)
	}
	if signed && mag.Sign() < 0 {
		// two's complement: (1<<128) + n
		var mod big.Int
		mod.Lsh(big.NewInt(1), 128)
		mag.Add(&mod, &mag)
	}
	be := mag.Bytes() // big-endian, no leading zero byte beyond significant digits
	var out [16]byte
	for i := 0; i < len(be) && i < 16; i++ {
		out[i] = be[len(be)-1-i]
	}
	return append(buf, out[:]...)
}

// encodeMap sorts entries by their key's canonical encoding before
// writing them, so two maps with the same logical contents always
// serialize identically regardless of insertion order.
func encodeMap(ts *Typespace, rt Type, v Value, buf []byte) ([]byte, error) {
	type encodedEntry struct {
		key []byte
		val []byte
	}
	entries := make([]encodedEntry, len(v.Map))
	for i, e := range v.Map {
		kb, err := Encode(ts, *rt.Key, e.Key, nil)
		if err != nil {
			return nil, err
		}
		vb, err := Encode(ts, *rt.Val, e.Val, nil)
		if err != nil {
			return nil, err
		}
		entries[i] = encodedEntry{key: kb, val: vb}
	}
	sort.Slice(entries, func(i, j int) bool {
		return compareBytes(entries[i].key, entries[j].key) < 0
	})
	buf = putUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.key...)
		buf = append(buf, e.val...)
	}
	return buf, nil
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
