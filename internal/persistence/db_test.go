package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "turf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turf.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveMeta(context.Background(), "k", "v"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.GetMeta(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	v, err := db.GetMeta(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = db.GetMeta(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)

	require.NoError(t, db.SaveMeta(ctx, "last_sweep", "a"))
	require.NoError(t, db.SaveMeta(ctx, "last_sweep", "b"))
	v, err = db.GetMeta(ctx, "last_sweep")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestWallets(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	bal, err := db.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)

	bal, err = db.Credit(ctx, "u1", 120)
	require.NoError(t, err)
	assert.Equal(t, int64(120), bal)
	bal, err = db.Credit(ctx, "u1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal)

	_, err = db.Credit(ctx, "u1", -1)
	assert.ErrorIs(t, err, ErrNegativeAmount)

	bal, err = db.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal)
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	s, err := db.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, s)
}
