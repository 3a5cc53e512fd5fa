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

package rowstore

import (
	"encoding/binary"
	"math"

	bolt "go.etcd.io/bbolt"

	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/storage/boltkv"
)

const (
	colTagInline byte = 0
	colTagBlob   byte = 1
)

// Table is a handle to one table's nested buckets within an open bbolt
// transaction. A Table is re-derived on every transaction (it holds no
// tx state of its own beyond the schema), matching how the teacher's
// rawdb accessors are constructed fresh per-call from a live *bolt.Tx.
type Table struct {
	schema    TableSchema
	ts        *sats.Typespace
	blobs     *BlobStore
	inlineMax int
}

// NewTable returns a Table handle for schema, using ts to resolve column
// types and blobs/inlineMax to decide per-column blob indirection.
func NewTable(schema TableSchema, ts *sats.Typespace, blobs *BlobStore, inlineMax int) *Table {
	return &Table{schema: schema, ts: ts, blobs: blobs, inlineMax: inlineMax}
}

func rowIDKey(id RowId) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func (t *Table) rowsBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	root := tx.Bucket(boltkv.BucketRows)
	b, err := root.CreateBucketIfNotExists([]byte(t.schema.Name))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (t *Table) indexBucket(tx *bolt.Tx, indexName string) (*bolt.Bucket, error) {
	root := tx.Bucket(boltkv.BucketIndexes)
	b, err := root.CreateBucketIfNotExists([]byte(t.schema.Name + "/" + indexName))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// nextRowID draws from the table's own rows bucket sequence, which bbolt
// keeps monotonically increasing for the lifetime of the bucket.
func (t *Table) nextRowID(tx *bolt.Tx) (RowId, error) {
	rows, err := t.rowsBucket(tx)
	if err != nil {
		return 0, err
	}
	n, err := rows.NextSequence()
	if err != nil {
		return 0, err
	}
	return RowId(n), nil
}

// encodeColumn encodes one column's value, spilling to the blob store
// and writing a blob reference when the inline encoding exceeds
// inlineMax and the column's kind is spill-eligible (String or Array).
func (t *Table) encodeColumn(tx *bolt.Tx, col ColumnSchema, v sats.Value) ([]byte, error) {
	inline, err := sats.Encode(t.ts, col.Type, v, nil)
	if err != nil {
		return nil, err
	}
	spillEligible := col.Type.Kind == sats.KindString || col.Type.Kind == sats.KindArray
	if !spillEligible || len(inline) <= t.inlineMax {
		return append([]byte{colTagInline}, inline...), nil
	}
	hash, err := t.blobs.Put(tx, inline)
	if err != nil {
		return nil, err
	}
	return append([]byte{colTagBlob}, hash[:]...), nil
}

func (t *Table) decodeColumn(tx *bolt.Tx, col ColumnSchema, buf []byte) (sats.Value, error) {
	if len(buf) == 0 {
		return sats.Value{}, errors.ErrEndOfInput
	}
	switch buf[0] {
	case colTagInline:
		return sats.DecodeExact(t.ts, col.Type, buf[1:])
	case colTagBlob:
		if len(buf) != 33 {
			return sats.Value{}, errors.ErrEndOfInput
		}
		var hash BlobHash
		copy(hash[:], buf[1:])
		raw, err := t.blobs.Get(tx, hash)
		if err != nil {
			return sats.Value{}, err
		}
		return sats.DecodeExact(t.ts, col.Type, raw)
	default:
		return sats.Value{}, errors.ErrInvalidTag
	}
}

// encodeRow lays out a row as a sequence of length-prefixed per-column
// encodings (rather than one flat Product encoding) so an individual
// column can be blob-indirected without re-encoding its neighbors.
func (t *Table) encodeRow(tx *bolt.Tx, row sats.Value) ([]byte, error) {
	var out []byte
	for i, col := range t.schema.Columns {
		enc, err := t.encodeColumn(tx, col, row.Product[i])
		if err != nil {
			return nil, err
		}
		out = putLen(out, len(enc))
		out = append(out, enc...)
	}
	return out, nil
}

func putLen(buf []byte, n int) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n))
	return append(buf, tmp[:]...)
}

func (t *Table) decodeRow(tx *bolt.Tx, buf []byte) (sats.Value, error) {
	fields := make([]sats.Value, len(t.schema.Columns))
	off := 0
	for i, col := range t.schema.Columns {
		if off+4 > len(buf) {
			return sats.Value{}, errors.ErrEndOfInput
		}
		n := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+n > len(buf) {
			return sats.Value{}, errors.ErrEndOfInput
		}
		v, err := t.decodeColumn(tx, col, buf[off:off+n])
		if err != nil {
			return sats.Value{}, err
		}
		fields[i] = v
		off += n
	}
	return sats.ProductVal(fields...), nil
}

// indexKey builds the sort key for an index entry: the concatenated
// canonical encodings of the indexed columns, followed by the row id so
// that non-unique indexes keep distinct entries distinguishable while
// preserving the value ordering as the primary sort.
func (t *Table) indexKey(row sats.Value, idx IndexSchema, id RowId) ([]byte, error) {
	var key []byte
	for _, col := range idx.Columns {
		enc, err := sats.Encode(t.ts, t.schema.Columns[col].Type, row.Product[col], nil)
		if err != nil {
			return nil, err
		}
		key = putLen(key, len(enc))
		key = append(key, enc...)
	}
	return append(key, rowIDKey(id)...), nil
}

// autoIncValue renders a RowId as whichever integer kind the auto_inc
// column was declared with, so a literal schema like `person(id u32
// pk auto_inc, ...)` gets a U32 value rather than one sats.Encode
// rejects for a kind mismatch against the column's own AlgebraicType.
func autoIncValue(kind sats.Kind, id RowId) (sats.Value, error) {
	switch kind {
	case sats.KindU8:
		if uint64(id) > math.MaxUint8 {
			return sats.Value{}, errors.Wrapf(errors.ErrTypeMismatch, "auto_inc id %d overflows u8", id)
		}
		return sats.U8Val(uint8(id)), nil
	case sats.KindU16:
		if uint64(id) > math.MaxUint16 {
			return sats.Value{}, errors.Wrapf(errors.ErrTypeMismatch, "auto_inc id %d overflows u16", id)
		}
		return sats.U16Val(uint16(id)), nil
	case sats.KindU32:
		if uint64(id) > math.MaxUint32 {
			return sats.Value{}, errors.Wrapf(errors.ErrTypeMismatch, "auto_inc id %d overflows u32", id)
		}
		return sats.U32Val(uint32(id)), nil
	case sats.KindU64:
		return sats.U64Val(uint64(id)), nil
	default:
		return sats.Value{}, errors.Wrapf(errors.ErrTypeMismatch, "auto_inc column has unsupported type kind %v", kind)
	}
}

// Insert assigns a new RowId, checks unique constraints, writes the row
// and its index entries, and returns the assigned id.
func (t *Table) Insert(tx *bolt.Tx, row sats.Value) (RowId, error) {
	if len(row.Product) != len(t.schema.Columns) {
		return 0, errors.Wrapf(errors.ErrTypeMismatch, "row arity %d != %d", len(row.Product), len(t.schema.Columns))
	}
	id, err := t.nextRowID(tx)
	if err != nil {
		return 0, err
	}
	for i, col := range t.schema.Columns {
		if col.AutoInc {
			v, err := autoIncValue(col.Type.Kind, id)
			if err != nil {
				return 0, err
			}
			row.Product[i] = v
		}
	}
	for _, idx := range t.schema.Indexes {
		if !idx.Unique {
			continue
		}
		if err := t.checkUnique(tx, row, idx, 0, false); err != nil {
			return 0, err
		}
	}

	rows, err := t.rowsBucket(tx)
	if err != nil {
		return 0, err
	}
	enc, err := t.encodeRow(tx, row)
	if err != nil {
		return 0, err
	}
	if err := rows.Put(rowIDKey(id), enc); err != nil {
		return 0, err
	}
	for _, idx := range t.schema.Indexes {
		ib, err := t.indexBucket(tx, idx.Name)
		if err != nil {
			return 0, err
		}
		key, err := t.indexKey(row, idx, id)
		if err != nil {
			return 0, err
		}
		if err := ib.Put(key, rowIDKey(id)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// checkUnique scans idx for an existing entry with the same indexed
// column values as row, other than excludeID when excluding is true
// (used by Update to allow a row to keep its own key).
func (t *Table) checkUnique(tx *bolt.Tx, row sats.Value, idx IndexSchema, excludeID RowId, excluding bool) error {
	ib, err := t.indexBucket(tx, idx.Name)
	if err != nil {
		return err
	}
	var prefix []byte
	for _, col := range idx.Columns {
		enc, err := sats.Encode(t.ts, t.schema.Columns[col].Type, row.Product[col], nil)
		if err != nil {
			return err
		}
		prefix = putLen(prefix, len(enc))
		prefix = append(prefix, enc...)
	}
	c := ib.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if excluding && len(v) == 8 && RowId(binary.BigEndian.Uint64(v)) == excludeID {
			continue
		}
		return errors.ErrUniqueViolation
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Get reads the row at id, or ErrRowNotFound.
func (t *Table) Get(tx *bolt.Tx, id RowId) (sats.Value, error) {
	rows, err := t.rowsBucket(tx)
	if err != nil {
		return sats.Value{}, err
	}
	buf := rows.Get(rowIDKey(id))
	if buf == nil {
		return sats.Value{}, errors.ErrRowNotFound
	}
	return t.decodeRow(tx, buf)
}

// Delete removes the row at id and all of its index entries, releasing
// any blob references it held.
func (t *Table) Delete(tx *bolt.Tx, id RowId) error {
	row, err := t.Get(tx, id)
	if err != nil {
		return err
	}
	rows, err := t.rowsBucket(tx)
	if err != nil {
		return err
	}
	for _, idx := range t.schema.Indexes {
		ib, err := t.indexBucket(tx, idx.Name)
		if err != nil {
			return err
		}
		key, err := t.indexKey(row, idx, id)
		if err != nil {
			return err
		}
		if err := ib.Delete(key); err != nil {
			return err
		}
	}
	if err := t.releaseRowBlobs(tx, id); err != nil {
		return err
	}
	return rows.Delete(rowIDKey(id))
}

func (t *Table) releaseRowBlobs(tx *bolt.Tx, id RowId) error {
	rows, err := t.rowsBucket(tx)
	if err != nil {
		return err
	}
	buf := rows.Get(rowIDKey(id))
	if buf == nil {
		return nil
	}
	off := 0
	for range t.schema.Columns {
		if off+4 > len(buf) {
			break
		}
		n := int(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		if off+n > len(buf) {
			break
		}
		enc := buf[off : off+n]
		off += n
		if len(enc) == 33 && enc[0] == colTagBlob {
			var hash BlobHash
			copy(hash[:], enc[1:])
			if err := t.blobs.Release(tx, hash); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update replaces the row at id with next, re-validating unique
// constraints (excluding id's own prior entry) and rewriting index
// entries and any blob references that changed.
func (t *Table) Update(tx *bolt.Tx, id RowId, next sats.Value) error {
	if _, err := t.Get(tx, id); err != nil {
		return err
	}
	for _, idx := range t.schema.Indexes {
		if !idx.Unique {
			continue
		}
		if err := t.checkUnique(tx, next, idx, id, true); err != nil {
			return err
		}
	}
	if err := t.Delete(tx, id); err != nil {
		return err
	}
	rows, err := t.rowsBucket(tx)
	if err != nil {
		return err
	}
	enc, err := t.encodeRow(tx, next)
	if err != nil {
		return err
	}
	if err := rows.Put(rowIDKey(id), enc); err != nil {
		return err
	}
	for _, idx := range t.schema.Indexes {
		ib, err := t.indexBucket(tx, idx.Name)
		if err != nil {
			return err
		}
		key, err := t.indexKey(next, idx, id)
		if err != nil {
			return err
		}
		if err := ib.Put(key, rowIDKey(id)); err != nil {
			return err
		}
	}
	return nil
}

// Scan calls fn for every row in RowId order, stopping early if fn
// returns false.
func (t *Table) Scan(tx *bolt.Tx, fn func(id RowId, row sats.Value) bool) error {
	rows, err := t.rowsBucket(tx)
	if err != nil {
		return err
	}
	c := rows.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		row, err := t.decodeRow(tx, v)
		if err != nil {
			return err
		}
		if !fn(RowId(binary.BigEndian.Uint64(k)), row) {
			break
		}
	}
	return nil
}

// IndexSeek returns the row ids whose indexed columns exactly match key
// (already-encoded via sats against the index's column types, in order).
func (t *Table) IndexSeek(tx *bolt.Tx, indexName string, key []sats.Value) ([]RowId, error) {
	idx, ok := t.schema.IndexByName(indexName)
	if !ok {
		return nil, errors.ErrIndexNotFound
	}
	ib, err := t.indexBucket(tx, indexName)
	if err != nil {
		return nil, err
	}
	var prefix []byte
	for i, col := range idx.Columns {
		enc, err := sats.Encode(t.ts, t.schema.Columns[col].Type, key[i], nil)
		if err != nil {
			return nil, err
		}
		prefix = putLen(prefix, len(enc))
		prefix = append(prefix, enc...)
	}
	var ids []RowId
	c := ib.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		if len(v) != 8 {
			continue
		}
		ids = append(ids, RowId(binary.BigEndian.Uint64(v)))
	}
	return ids, nil
}
