package runstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestMigrations lays out a two-step migration set in a temp dir.
func writeTestMigrations(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "migrations")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	files := map[string]string{
		"000001_scratch_table.up.sql": `
			CREATE TABLE IF NOT EXISTS scratch (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				label TEXT NOT NULL
			);
		`,
		"000001_scratch_table.down.sql": `DROP TABLE IF EXISTS scratch;`,
		"000002_scratch_value.up.sql":   `ALTER TABLE scratch ADD COLUMN value DOUBLE;`,
		"000002_scratch_value.down.sql": `
			CREATE TABLE scratch_new (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				label TEXT NOT NULL
			);
			INSERT INTO scratch_new (id, label) SELECT id, label FROM scratch;
			DROP TABLE scratch;
			ALTER TABLE scratch_new RENAME TO scratch;
		`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestMigrateUpDownVersion(t *testing.T) {
	s := openTestStore(t)
	dir := writeTestMigrations(t)

	version, dirty, err := s.MigrateVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateUp(dir))

	version, dirty, err = s.MigrateVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Up again is a no-op, not an error.
	require.NoError(t, s.MigrateUp(dir))

	require.NoError(t, s.MigrateDown(dir))
	version, _, err = s.MigrateVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// The rolled-back column is gone.
	_, err = s.Exec("INSERT INTO scratch (label, value) VALUES ('x', 1.0)")
	assert.Error(t, err)
	_, err = s.Exec("INSERT INTO scratch (label) VALUES ('x')")
	assert.NoError(t, err)
}
