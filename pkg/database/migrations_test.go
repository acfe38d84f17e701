package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db"), MaxOpenConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadMigrations_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"002_second.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.md":      {Data: []byte("ignored")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Len(t, migrations[0].Checksum, 64)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"init.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	})
	assert.Error(t, err)
}

func TestMigrator_EmbeddedSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewMigrator(db, nil)

	require.NoError(t, m.Migrate(ctx))
	require.NoError(t, m.Migrate(ctx))

	for _, table := range []string{"workflow_definitions", "workflow_instances", "workflow_history"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewMigrator(db, nil)

	err := m.Apply(ctx, fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"002_broken.sql": {Data: []byte("CREATE TABLE nope (")},
	})
	require.Error(t, err)

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestMigrator_DetectsDrift(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewMigrator(db, nil)

	require.NoError(t, m.Apply(ctx, fstest.MapFS{
		"001_defs.sql": {Data: []byte("CREATE TABLE defs (id TEXT);")},
	}))

	err := m.Apply(ctx, fstest.MapFS{
		"001_defs.sql": {Data: []byte("CREATE TABLE defs (id TEXT, name TEXT);")},
	})
	assert.ErrorIs(t, err, ErrMigrationDrift)
}

func TestNew_InMemory(t *testing.T) {
	db, err := New(Config{Path: MemoryPath}, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, NewMigrator(db, nil).Migrate(context.Background()))
	assert.Equal(t, MemoryPath, db.Path())
}
