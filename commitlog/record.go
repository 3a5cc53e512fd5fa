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

// Package commitlog is the durable, segmented, append-only log every
// committed transaction is written to before it is visible to readers.
// Framing follows the teacher's write-ahead-log idiom (a fixed header,
// a length-prefixed payload, a trailing checksum) generalized to the
// tx_offset-addressed commit stream this engine needs.
package commitlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/veltdb/velt/pkg/errors"
)

const recordVersion = 1

// record is one commit frame:
//
//	[version u8][min_tx_offset u64le][n_txs varint][payload_len varint][payload][crc32 u32le]
//
// crc32 covers every byte from version through the end of payload.
type record struct {
	minTxOffset uint64
	nTxs        uint64
	payload     []byte
}

func encodeRecord(r record) []byte {
	buf := make([]byte, 0, 1+8+2+len(r.payload)+4)
	buf = append(buf, recordVersion)
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], r.minTxOffset)
	buf = append(buf, off[:]...)
	buf = putUvarint(buf, r.nTxs)
	buf = putUvarint(buf, uint64(len(r.payload)))
	buf = append(buf, r.payload...)
	sum := crc32.ChecksumIEEE(buf)
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], sum)
	return append(buf, crc[:]...)
}

// decodeRecord reads one record from the front of buf, returning the
// record, the number of bytes consumed, and an error. ErrEndOfInput
// means buf holds a partial (truncated) record — the caller treats this
// as the trailing write of a crashed process and truncates rather than
// failing the whole log. errors.ErrChecksum means the bytes present form
// a complete frame whose crc32 does not match, which is only tolerated
// at the very end of the log.
func decodeRecord(buf []byte) (record, int, error) {
	if len(buf) < 1+8 {
		return record{}, 0, errors.ErrEndOfInput
	}
	if buf[0] != recordVersion {
		return record{}, 0, errors.Wrapf(errors.ErrChecksum, "unknown record version %d", buf[0])
	}
	off := 1
	minTxOffset := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	nTxs, n, err := takeUvarint(buf[off:])
	if err != nil {
		return record{}, 0, errors.ErrEndOfInput
	}
	off += n
	payloadLen, n, err := takeUvarint(buf[off:])
	if err != nil {
		return record{}, 0, errors.ErrEndOfInput
	}
	off += n
	if uint64(len(buf)-off) < payloadLen {
		return record{}, 0, errors.ErrEndOfInput
	}
	payload := buf[off : off+int(payloadLen)]
	off += int(payloadLen)
	if len(buf)-off < 4 {
		return record{}, 0, errors.ErrEndOfInput
	}
	wantCRC := binary.LittleEndian.Uint32(buf[off : off+4])
	gotCRC := crc32.ChecksumIEEE(buf[:off])
	total := off + 4
	if wantCRC != gotCRC {
		return record{}, total, errors.ErrChecksum
	}
	return record{minTxOffset: minTxOffset, nTxs: nTxs, payload: append([]byte(nil), payload...)}, total, nil
}

func putUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func takeUvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		if i == 10 {
			return 0, 0, errors.ErrVarintOverflow
		}
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.ErrEndOfInput
}
