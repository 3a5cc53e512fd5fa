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

import "github.com/veltdb/velt/pkg/errors"

// maxVarintLen is the most bytes a canonical base-128
// LSB-first varint may use to represent a 64-bit value: ceil(64/7) = 10.
const maxVarintLen = 10

// putUvarint appends the base-128 LSB-first varint encoding of v to buf.
func putUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// takeUvarint decodes a base-128 LSB-first varint from the front of buf.
// It returns the value, the number of bytes consumed, and an error if buf
// ends before a terminating byte, the encoding exceeds maxVarintLen bytes,
// or the value overflows 64 bits.
func takeUvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		if i == maxVarintLen {
			return 0, 0, errors.ErrVarintOverflow
		}
		b := buf[i]
		if i == maxVarintLen-1 && b > 1 {
			// 10th byte may only contribute bit 63; anything else overflows.
			return 0, 0, errors.ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.ErrEndOfInput
}
