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

// Package sats implements SpacetimeDB's Algebraic Type System: a closed
// type algebra of sums, products, arrays, maps and primitives, intern'd
// into an ordered Typespace, plus BSATN, its canonical binary encoding.
//
// The algebra is represented as a single tagged struct (Type) rather than
// an interface hierarchy: every Type has a Kind and only the fields for
// that Kind are populated. This mirrors how the corpus represents closed,
// self-describing wire schemas (see rawdb's bucket/key schema tables) and
// avoids a sprawl of small interface types for what is, structurally, a
// handful of fixed shapes.
package sats

import "fmt"

// Kind discriminates the AlgebraicType variants.
type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindI128
	KindU128
	KindF32
	KindF64
	KindString
	KindArray
	KindMap
	KindProduct
	KindSum
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindI8:
		return "I8"
	case KindU8:
		return "U8"
	case KindI16:
		return "I16"
	case KindU16:
		return "U16"
	case KindI32:
		return "I32"
	case KindU32:
		return "U32"
	case KindI64:
		return "I64"
	case KindU64:
		return "U64"
	case KindI128:
		return "I128"
	case KindU128:
		return "U128"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindString:
		return "String"
	case KindArray:
		return "Array"
	case KindMap:
		return "Map"
	case KindProduct:
		return "Product"
	case KindSum:
		return "Sum"
	case KindRef:
		return "Ref"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// IsPrimitive reports whether k is one of the fixed-width or String leaf
// kinds (everything except Array, Map, Product, Sum, Ref).
func (k Kind) IsPrimitive() bool {
	return k <= KindString
}

// Field is a named, ordered member of a Product type. Name is optional:
// positional products (tuples) leave it empty.
type Field struct {
	Name string
	Type Type
}

// Variant is a named, ordered member of a Sum type.
type Variant struct {
	Name string
	Type Type
}

// Type is a single node of the algebra. Only the fields relevant to Kind
// are meaningful; the zero Type is KindBool.
type Type struct {
	Kind Kind

	// KindArray
	Elem *Type
	// KindMap
	Key *Type
	Val *Type
	// KindProduct
	Fields []Field
	// KindSum
	Variants []Variant
	// KindRef
	Ref uint32
}

// Primitive constructors.
func Bool() Type   { return Type{Kind: KindBool} }
func I8() Type     { return Type{Kind: KindI8} }
func U8() Type     { return Type{Kind: KindU8} }
func I16() Type    { return Type{Kind: KindI16} }
func U16() Type    { return Type{Kind: KindU16} }
func I32() Type    { return Type{Kind: KindI32} }
func U32() Type    { return Type{Kind: KindU32} }
func I64() Type    { return Type{Kind: KindI64} }
func U64() Type    { return Type{Kind: KindU64} }
func I128() Type   { return Type{Kind: KindI128} }
func U128() Type   { return Type{Kind: KindU128} }
func F32() Type    { return Type{Kind: KindF32} }
func F64() Type    { return Type{Kind: KindF64} }
func StringT() Type { return Type{Kind: KindString} }

// ArrayOf builds an Array(elem) type.
func ArrayOf(elem Type) Type { return Type{Kind: KindArray, Elem: &elem} }

// MapOf builds a Map(key, val) type.
func MapOf(key, val Type) Type { return Type{Kind: KindMap, Key: &key, Val: &val} }

// ProductOf builds a Product type from ordered fields.
func ProductOf(fields ...Field) Type { return Type{Kind: KindProduct, Fields: fields} }

// SumOf builds a Sum type from ordered variants.
func SumOf(variants ...Variant) Type { return Type{Kind: KindSum, Variants: variants} }

// RefTo builds a Ref(i) type pointing at typespace index i.
func RefTo(i uint32) Type { return Type{Kind: KindRef, Ref: i} }

// FixedWidth returns the encoded width in bytes of a fixed-width
// primitive, or 0 if Kind is not fixed-width (String, Array, Map,
// Product, Sum, Ref, I128, U128 are all variable or wider-than-one-word
// and are handled by their own encode paths).
func (k Kind) FixedWidth() int {
	switch k {
	case KindBool, KindI8, KindU8:
		return 1
	case KindI16, KindU16:
		return 2
	case KindI32, KindU32, KindF32:
		return 4
	case KindI64, KindU64, KindF64:
		return 8
	case KindI128, KindU128:
		return 16
	default:
		return 0
	}
}
