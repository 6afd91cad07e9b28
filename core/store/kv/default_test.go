package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestBoltDB_UpdateAndView(t *testing.T) {
	db, clean := makeDB(t)
	defer clean()

	err := db.Update([]byte("bucket"), func(b Bucket) error {
		return b.Set([]byte("ping"), []byte("pong"))
	})
	require.NoError(t, err)

	err = db.View([]byte("bucket"), func(b Bucket) error {
		require.Equal(t, []byte("pong"), b.Get([]byte("ping")))
		require.Nil(t, b.Get([]byte("missing")))

		return nil
	})
	require.NoError(t, err)

	err = db.View([]byte("unknown"), func(Bucket) error { return nil })
	require.Error(t, err)
}

func TestBoltDB_Delete(t *testing.T) {
	db, clean := makeDB(t)
	defer clean()

	err := db.Update([]byte("bucket"), func(b Bucket) error {
		require.NoError(t, b.Set([]byte("ping"), []byte("pong")))

		return b.Delete([]byte("ping"))
	})
	require.NoError(t, err)

	err = db.View([]byte("bucket"), func(b Bucket) error {
		require.Nil(t, b.Get([]byte("ping")))

		return nil
	})
	require.NoError(t, err)
}

func TestBoltBucket_ForEach(t *testing.T) {
	db, clean := makeDB(t)
	defer clean()

	err := db.Update([]byte("bucket"), func(b Bucket) error {
		require.NoError(t, b.Set([]byte{1}, []byte{1}))
		require.NoError(t, b.Set([]byte{2}, []byte{2}))

		count := 0
		err := b.ForEach(func(k, v []byte) error {
			count++
			require.Equal(t, k, v)

			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, count)

		return b.ForEach(func(k, v []byte) error {
			return xerrors.New("oops")
		})
	})
	require.Error(t, err)
}

func TestBoltBucket_Scan(t *testing.T) {
	db, clean := makeDB(t)
	defer clean()

	err := db.Update([]byte("bucket"), func(b Bucket) error {
		require.NoError(t, b.Set([]byte{7, 1}, []byte{1}))
		require.NoError(t, b.Set([]byte{7, 2}, []byte{2}))
		require.NoError(t, b.Set([]byte{8, 1}, []byte{3}))

		var keys [][]byte
		err := b.Scan([]byte{7}, func(k, v []byte) error {
			keys = append(keys, append([]byte{}, k...))

			return nil
		})
		require.NoError(t, err)
		require.Equal(t, [][]byte{{7, 1}, {7, 2}}, keys)

		err = b.Scan([]byte{7}, func(k, v []byte) error {
			return xerrors.New("oops")
		})
		require.Error(t, err)

		return nil
	})
	require.NoError(t, err)
}

func TestSnapshot(t *testing.T) {
	db, clean := makeDB(t)
	defer clean()

	err := db.Update([]byte("bucket"), func(b Bucket) error {
		snap := NewSnapshot(b)

		require.NoError(t, snap.Set([]byte("a"), []byte{1}))

		value, err := snap.Get([]byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte{1}, value)

		require.NoError(t, snap.Delete([]byte("a")))

		value, err = snap.Get([]byte("a"))
		require.NoError(t, err)
		require.Nil(t, value)

		return nil
	})
	require.NoError(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeDB(t *testing.T) (DB, func()) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	return db, func() { db.Close() }
}
