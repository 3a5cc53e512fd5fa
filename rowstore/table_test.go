package rowstore

import (
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/storage/boltkv"
)

func openTestStore(t *testing.T) *boltkv.Store {
	t.Helper()
	dir := t.TempDir()
	_ = filepath.Join(dir, "data.bolt")
	store, err := boltkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func usersSchema() TableSchema {
	return TableSchema{
		Name: "users",
		Columns: []ColumnSchema{
			{Name: "id", Type: sats.U64(), AutoInc: true},
			{Name: "handle", Type: sats.StringT()},
			{Name: "bio", Type: sats.StringT()},
		},
		Indexes: []IndexSchema{
			{Name: "by_handle", Columns: []int{1}, Unique: true},
		},
	}
}

func TestInsertGetDelete(t *testing.T) {
	store := openTestStore(t)
	schema := usersSchema()
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	blobs := NewBlobStore(1 << 20)
	tbl := NewTable(schema, ts, blobs, 32)

	var id RowId
	err = store.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = tbl.Insert(tx, sats.ProductVal(sats.U64Val(0), sats.StrVal("ada"), sats.StrVal("mathematician")))
		return err
	})
	require.NoError(t, err)

	err = store.View(func(tx *bolt.Tx) error {
		row, err := tbl.Get(tx, id)
		require.NoError(t, err)
		require.Equal(t, "ada", row.Product[1].Str)
		return nil
	})
	require.NoError(t, err)

	err = store.Update(func(tx *bolt.Tx) error { return tbl.Delete(tx, id) })
	require.NoError(t, err)

	err = store.View(func(tx *bolt.Tx) error {
		_, err := tbl.Get(tx, id)
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	store := openTestStore(t)
	schema := usersSchema()
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	blobs := NewBlobStore(1 << 20)
	tbl := NewTable(schema, ts, blobs, 32)

	err = store.Update(func(tx *bolt.Tx) error {
		_, err := tbl.Insert(tx, sats.ProductVal(sats.U64Val(0), sats.StrVal("grace"), sats.StrVal("")))
		return err
	})
	require.NoError(t, err)

	err = store.Update(func(tx *bolt.Tx) error {
		_, err := tbl.Insert(tx, sats.ProductVal(sats.U64Val(0), sats.StrVal("grace"), sats.StrVal("duplicate")))
		return err
	})
	require.Error(t, err)
}

func TestIndexSeekFindsExactMatch(t *testing.T) {
	store := openTestStore(t)
	schema := usersSchema()
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	blobs := NewBlobStore(1 << 20)
	tbl := NewTable(schema, ts, blobs, 32)

	var wantID RowId
	err = store.Update(func(tx *bolt.Tx) error {
		var err error
		wantID, err = tbl.Insert(tx, sats.ProductVal(sats.U64Val(0), sats.StrVal("turing"), sats.StrVal("")))
		return err
	})
	require.NoError(t, err)

	err = store.View(func(tx *bolt.Tx) error {
		ids, err := tbl.IndexSeek(tx, "by_handle", []sats.Value{sats.StrVal("turing")})
		require.NoError(t, err)
		require.Equal(t, []RowId{wantID}, ids)
		return nil
	})
	require.NoError(t, err)
}

func TestBlobSpillRoundTrip(t *testing.T) {
	store := openTestStore(t)
	schema := usersSchema()
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	blobs := NewBlobStore(1 << 20)
	tbl := NewTable(schema, ts, blobs, 4) // tiny inline threshold forces spill

	longBio := "a very long biography that exceeds the inline threshold by a wide margin"
	var id RowId
	err = store.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = tbl.Insert(tx, sats.ProductVal(sats.U64Val(0), sats.StrVal("hopper"), sats.StrVal(longBio)))
		return err
	})
	require.NoError(t, err)

	err = store.View(func(tx *bolt.Tx) error {
		row, err := tbl.Get(tx, id)
		require.NoError(t, err)
		require.Equal(t, longBio, row.Product[2].Str)
		return nil
	})
	require.NoError(t, err)
}

func personSchema() TableSchema {
	return TableSchema{
		Name: "person",
		Columns: []ColumnSchema{
			{Name: "id", Type: sats.U32(), AutoInc: true},
			{Name: "name", Type: sats.StringT()},
		},
	}
}

func TestInsertAssignsAutoIncInColumnsDeclaredKind(t *testing.T) {
	store := openTestStore(t)
	schema := personSchema()
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	blobs := NewBlobStore(1 << 20)
	tbl := NewTable(schema, ts, blobs, 32)

	var id RowId
	err = store.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = tbl.Insert(tx, sats.ProductVal(sats.U32Val(0), sats.StrVal("ada")))
		return err
	})
	require.NoError(t, err)

	err = store.View(func(tx *bolt.Tx) error {
		row, err := tbl.Get(tx, id)
		require.NoError(t, err)
		require.Equal(t, sats.KindU32, row.Product[0].Kind)
		require.Equal(t, uint32(id), row.Product[0].U32)
		return nil
	})
	require.NoError(t, err)
}

func TestDecodeColumnRejectsTrailingBytes(t *testing.T) {
	store := openTestStore(t)
	schema := usersSchema()
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	blobs := NewBlobStore(1 << 20)
	tbl := NewTable(schema, ts, blobs, 32)

	enc, err := sats.Encode(ts, sats.U64(), sats.U64Val(9000), nil)
	require.NoError(t, err)
	buf := append([]byte{colTagInline}, enc...)
	buf = append(buf, 0xff)

	err = store.View(func(tx *bolt.Tx) error {
		_, err := tbl.decodeColumn(tx, schema.Columns[0], buf)
		return err
	})
	require.ErrorIs(t, err, errors.ErrTrailingBytes)
}

func TestScanVisitsAllRows(t *testing.T) {
	store := openTestStore(t)
	schema := usersSchema()
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	blobs := NewBlobStore(1 << 20)
	tbl := NewTable(schema, ts, blobs, 32)

	names := []string{"a", "b", "c"}
	err = store.Update(func(tx *bolt.Tx) error {
		for _, n := range names {
			if _, err := tbl.Insert(tx, sats.ProductVal(sats.U64Val(0), sats.StrVal(n), sats.StrVal(""))); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var seen []string
	err = store.View(func(tx *bolt.Tx) error {
		return tbl.Scan(tx, func(id RowId, row sats.Value) bool {
			seen = append(seen, row.Product[1].Str)
			return true
		})
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
}
