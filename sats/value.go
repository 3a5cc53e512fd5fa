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

import "math/big"

// MapEntry is one key/value pair of a KindMap value, kept as a slice (not
// a Go map) so insertion order is preserved until encoding sorts entries
// by canonical key encoding.
type MapEntry struct {
	Key Value
	Val Value
}

// SumValue is the payload of a KindSum value: which variant is inhabited
// and the value it carries.
type SumValue struct {
	Tag uint8
	Val *Value
}

// Value is a single algebraic value, tagged the same way as Type. No
// 128-bit integer type exists in the standard library or anywhere in the
// retrieval pack with the right width, so I128/U128 values are carried as
// *big.Int (see DESIGN.md for why this is a deliberate stdlib fallback).
type Value struct {
	Kind Kind

	Bool bool
	I8   int8
	U8   uint8
	I16  int16
	U16  uint16
	I32  int32
	U32  uint32
	I64  int64
	U64  uint64
	I128 *big.Int
	U128 *big.Int
	F32  float32
	F64  float64
	Str  string

	Array []Value
	Map   []MapEntry
	// Product holds ordered field values; len must match the Product
	// type's Fields.
	Product []Value
	Sum     *SumValue
}

func BoolVal(b bool) Value  { return Value{Kind: KindBool, Bool: b} }
func I8Val(v int8) Value    { return Value{Kind: KindI8, I8: v} }
func U8Val(v uint8) Value   { return Value{Kind: KindU8, U8: v} }
func I16Val(v int16) Value  { return Value{Kind: KindI16, I16: v} }
func U16Val(v uint16) Value { return Value{Kind: KindU16, U16: v} }
func I32Val(v int32) Value  { return Value{Kind: KindI32, I32: v} }
func U32Val(v uint32) Value { return Value{Kind: KindU32, U32: v} }
func I64Val(v int64) Value  { return Value{Kind: KindI64, I64: v} }
func U64Val(v uint64) Value { return Value{Kind: KindU64, U64: v} }
func F32Val(v float32) Value { return Value{Kind: KindF32, F32: v} }
func F64Val(v float64) Value { return Value{Kind: KindF64, F64: v} }
func StrVal(s string) Value  { return Value{Kind: KindString, Str: s} }

func I128Val(v *big.Int) Value { return Value{Kind: KindI128, I128: v} }
func U128Val(v *big.Int) Value { return Value{Kind: KindU128, U128: v} }

func ArrayVal(elems ...Value) Value { return Value{Kind: KindArray, Array: elems} }
func MapVal(entries ...MapEntry) Value { return Value{Kind: KindMap, Map: entries} }
func ProductVal(fields ...Value) Value { return Value{Kind: KindProduct, Product: fields} }
func SumVal(tag uint8, v *Value) Value {
	return Value{Kind: KindSum, Sum: &SumValue{Tag: tag, Val: v}}
}
