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
	"unicode/utf8"

	"github.com/veltdb/velt/pkg/errors"
)

// DecodeExact decodes one value of type t and requires it to consume all
// of buf, the way a self-contained encoding (a row's column slot, a
// reducer's argument bytes, a whole wire message) always should. Callers
// that decode one value out of a larger stream - a product field, an
// array element - want Decode directly so they can keep reading after it.
func DecodeExact(ts *Typespace, t Type, buf []byte) (Value, error) {
	v, n, err := Decode(ts, t, buf)
	if err != nil {
		return Value{}, err
	}
	if n != len(buf) {
		return Value{}, errors.ErrTrailingBytes
	}
	return v, nil
}

// Decode reads one value of type t (resolved against ts) from the front
// of buf, returning the value and the number of bytes consumed.
func Decode(ts *Typespace, t Type, buf []byte) (Value, int, error) {
	rt, err := ts.Resolve(t)
	if err != nil {
		return Value{}, 0, err
	}
	switch rt.Kind {
	case KindBool:
		if len(buf) < 1 {
			return Value{}, 0, errors.ErrEndOfInput
		}
		if buf[0] > 1 {
			return Value{}, 0, errors.ErrInvalidTag
		}
		return BoolVal(buf[0] == 1), 1, nil
	case KindI8:
		if len(buf) < 1 {
			return Value{}, 0, errors.ErrEndOfInput
		}
		return I8Val(int8(buf[0])), 1, nil
	case KindU8:
		if len(buf) < 1 {
			return Value{}, 0, errors.ErrEndOfInput
		}
		return U8Val(buf[0]), 1, nil
	case KindI16:
		u, err := readLE16(buf)
		return I16Val(int16(u)), 2, err
	case KindU16:
		u, err := readLE16(buf)
		return U16Val(u), 2, err
	case KindI32:
		u, err := readLE32(buf)
		return I32Val(int32(u)), 4, err
	case KindU32:
		u, err := readLE32(buf)
		return U32Val(u), 4, err
	case KindF32:
		u, err := readLE32(buf)
		return F32Val(math.Float32frombits(u)), 4, err
	case KindI64:
		u, err := readLE64(buf)
		return I64Val(int64(u)), 8, err
	case KindU64:
		u, err := readLE64(buf)
		return U64Val(u), 8, err
	case KindF64:
		u, err := readLE64(buf)
		return F64Val(math.Float64frombits(u)), 8, err
	case KindI128:
		return decodeBigInt128(buf, true)
	case KindU128:
		return decodeBigInt128(buf, false)
	case KindString:
		return decodeString(buf)
	case KindArray:
		return decodeArray(ts, rt, buf)
	case KindMap:
		return decodeMap(ts, rt, buf)
	case KindProduct:
		return decodeProduct(ts, rt, buf)
	case KindSum:
		return decodeSum(ts, rt, buf)
	default:
		return Value{}, 0, errors.Wrapf(errors.ErrTypeMismatch, "undecodable kind %s", rt.Kind)
	}
}

func readLE16(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, errors.ErrEndOfInput
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func readLE32(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, errors.ErrEndOfInput
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func readLE64(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, errors.ErrEndOfInput
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func decodeBigInt128(buf []byte, signed bool) (Value, int, error) {
	if len(buf) < 16 {
		return Value{}, 0, errors.ErrEndOfInput
	}
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = buf[15-i]
	}
	mag := new(big.Int).SetBytes(be)
	if signed {
		var top big.Int
		top.Lsh(big.NewInt(1), 127)
		if mag.Cmp(&top) >= 0 {
			var mod big.Int
			mod.Lsh(big.NewInt(1), 128)
			mag.Sub(mag, &mod)
		}
		return I128Val(mag), 16, nil
	}
	return U128Val(mag), 16, nil
}

func decodeString(buf []byte) (Value, int, error) {
	n, hdr, err := takeUvarint(buf)
	if err != nil {
		return Value{}, 0, err
	}
	rest := buf[hdr:]
	if uint64(len(rest)) < n {
		return Value{}, 0, errors.ErrEndOfInput
	}
	s := rest[:n]
	if !utf8.Valid(s) {
		return Value{}, 0, errors.ErrInvalidUtf8
	}
	return StrVal(string(s)), hdr + int(n), nil
}

func decodeArray(ts *Typespace, rt Type, buf []byte) (Value, int, error) {
	n, off, err := takeUvarint(buf)
	if err != nil {
		return Value{}, 0, err
	}
	elems := make([]Value, 0, n)
	for i := uint64(0); i < n; i++ {
		v, adv, err := Decode(ts, *rt.Elem, buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		elems = append(elems, v)
		off += adv
	}
	return ArrayVal(elems...), off, nil
}

func decodeMap(ts *Typespace, rt Type, buf []byte) (Value, int, error) {
	n, off, err := takeUvarint(buf)
	if err != nil {
		return Value{}, 0, err
	}
	entries := make([]MapEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		k, adv, err := Decode(ts, *rt.Key, buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += adv
		v, adv2, err := Decode(ts, *rt.Val, buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		off += adv2
		entries = append(entries, MapEntry{Key: k, Val: v})
	}
	return MapVal(entries...), off, nil
}

func decodeProduct(ts *Typespace, rt Type, buf []byte) (Value, int, error) {
	fields := make([]Value, len(rt.Fields))
	off := 0
	for i, f := range rt.Fields {
		v, adv, err := Decode(ts, f.Type, buf[off:])
		if err != nil {
			return Value{}, 0, err
		}
		fields[i] = v
		off += adv
	}
	return ProductVal(fields...), off, nil
}

func decodeSum(ts *Typespace, rt Type, buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, errors.ErrEndOfInput
	}
	tag := buf[0]
	if int(tag) >= len(rt.Variants) {
		return Value{}, 0, errors.ErrInvalidTag
	}
	payload, adv, err := Decode(ts, rt.Variants[tag].Type, buf[1:])
	if err != nil {
		return Value{}, 0, err
	}
	return SumVal(tag, &payload), 1 + adv, nil
}
