package pebbledb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/database/storage/pebbledb"
)

func TestBatchAndLookup(t *testing.T) {
	strg, err := pebbledb.New(t.TempDir())
	require.NoError(t, err)
	defer strg.Close()

	sets := []database.KV{
		{Key: []byte("a/one"), Value: []byte("1")},
		{Key: []byte("a/two"), Value: []byte("2")},
		{Key: []byte("b/one"), Value: []byte("3")},
	}
	require.NoError(t, strg.WriteBatch(sets, nil))

	value, err := strg.Get([]byte("a/one"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	_, err = strg.Get([]byte("a/three"))
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestPrefixIteration(t *testing.T) {
	strg, err := pebbledb.New(t.TempDir())
	require.NoError(t, err)
	defer strg.Close()

	sets := []database.KV{
		{Key: []byte("a/1"), Value: []byte("x")},
		{Key: []byte("a/2"), Value: []byte("y")},
		{Key: []byte("b/1"), Value: []byte("z")},
	}
	require.NoError(t, strg.WriteBatch(sets, nil))

	var keys []string
	err = strg.Iterate([]byte("a/"), func(key []byte, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, keys)
}

func TestDeletesAndDurability(t *testing.T) {
	dir := t.TempDir()

	strg, err := pebbledb.New(dir)
	require.NoError(t, err)

	require.NoError(t, strg.WriteBatch([]database.KV{
		{Key: []byte("m/tip"), Value: []byte("tip")},
		{Key: []byte("t/x"), Value: []byte("loc")},
	}, nil))
	require.NoError(t, strg.WriteBatch(nil, [][]byte{[]byte("t/x")}))
	require.NoError(t, strg.Close())

	// Reopen: the committed batch survives, the delete too.
	reopened, err := pebbledb.New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get([]byte("m/tip"))
	require.NoError(t, err)
	assert.Equal(t, []byte("tip"), value)

	_, err = reopened.Get([]byte("t/x"))
	assert.ErrorIs(t, err, database.ErrNotFound)
}
