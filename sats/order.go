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
	"math/big"
	"strings"
)

// Compare imposes a total order over values of type t, used for index
// key ordering and as the tie-breaker for deterministic iteration in the
// row store. Ordering is structural: numeric types compare by value,
// strings by byte sequence, arrays and product fields lexicographically
// element by element, and sums first by tag then by payload.
func Compare(ts *Typespace, t Type, a, b Value) int {
	rt, err := ts.Resolve(t)
	if err != nil {
		return 0
	}
	switch rt.Kind {
	case KindBool:
		return boolCmp(a.Bool, b.Bool)
	case KindI8:
		return intCmp(int64(a.I8), int64(b.I8))
	case KindU8:
		return uintCmp(uint64(a.U8), uint64(b.U8))
	case KindI16:
		return intCmp(int64(a.I16), int64(b.I16))
	case KindU16:
		return uintCmp(uint64(a.U16), uint64(b.U16))
	case KindI32:
		return intCmp(int64(a.I32), int64(b.I32))
	case KindU32:
		return uintCmp(uint64(a.U32), uint64(b.U32))
	case KindI64:
		return intCmp(a.I64, b.I64)
	case KindU64:
		return uintCmp(a.U64, b.U64)
	case KindF32:
		return floatCmp(float64(a.F32), float64(b.F32))
	case KindF64:
		return floatCmp(a.F64, b.F64)
	case KindI128:
		return bigCmp(a.I128, b.I128)
	case KindU128:
		return bigCmp(a.U128, b.U128)
	case KindString:
		return strings.Compare(a.Str, b.Str)
	case KindArray:
		return arrayCmp(ts, *rt.Elem, a.Array, b.Array)
	case KindMap:
		return mapCmp(ts, rt, a.Map, b.Map)
	case KindProduct:
		for i := range rt.Fields {
			if c := Compare(ts, rt.Fields[i].Type, a.Product[i], b.Product[i]); c != 0 {
				return c
			}
		}
		return 0
	case KindSum:
		if a.Sum.Tag != b.Sum.Tag {
			return uintCmp(uint64(a.Sum.Tag), uint64(b.Sum.Tag))
		}
		variant := rt.Variants[a.Sum.Tag]
		av, bv := Value{}, Value{}
		if a.Sum.Val != nil {
			av = *a.Sum.Val
		}
		if b.Sum.Val != nil {
			bv = *b.Sum.Val
		}
		return Compare(ts, variant.Type, av, bv)
	default:
		return 0
	}
}

func boolCmp(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func intCmp(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func uintCmp(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floatCmp(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func bigCmp(a, b *big.Int) int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b)
}

func arrayCmp(ts *Typespace, elem Type, a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(ts, elem, a[i], b[i]); c != 0 {
			return c
		}
	}
	return intCmp(int64(len(a)), int64(len(b)))
}

func mapCmp(ts *Typespace, rt Type, a, b []MapEntry) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(ts, *rt.Key, a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Compare(ts, *rt.Val, a[i].Val, b[i].Val); c != 0 {
			return c
		}
	}
	return intCmp(int64(len(a)), int64(len(b)))
}
