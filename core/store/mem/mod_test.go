package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/driva/internal/testing/fake"
)

func TestSnapshot_Get(t *testing.T) {
	parent := fake.NewSnapshot()
	require.NoError(t, parent.Set([]byte("a"), []byte{1}))

	snap := NewSnapshot(parent)

	value, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)

	require.NoError(t, snap.Set([]byte("a"), []byte{2}))

	value, err = snap.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{2}, value)

	// The parent is untouched.
	value, err = parent.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{1}, value)
}

func TestSnapshot_Delete(t *testing.T) {
	parent := fake.NewSnapshot()
	require.NoError(t, parent.Set([]byte("a"), []byte{1}))

	snap := NewSnapshot(parent)

	require.NoError(t, snap.Delete([]byte("a")))

	value, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, value)

	// A later write revives the key.
	require.NoError(t, snap.Set([]byte("a"), []byte{3}))

	value, err = snap.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte{3}, value)
}

func TestSnapshot_NilParent(t *testing.T) {
	snap := NewSnapshot(nil)

	value, err := snap.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, value)
}
