package migrate

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INT);\n\n-- +migrate Down\nDROP TABLE a;\n"

	migration, err := Parse("003_create_a.sql", content)
	require.NoError(t, err)

	assert.Equal(t, 3, migration.Version)
	assert.Equal(t, "create_a", migration.Name)
	assert.Equal(t, "CREATE TABLE a (id INT);", migration.UpSQL)
	assert.Equal(t, "DROP TABLE a;", migration.DownSQL)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{"no separator", "create.sql", "CREATE TABLE a (id INT);"},
		{"no version", "abc_create.sql", "CREATE TABLE a (id INT);"},
		{"zero version", "000_create.sql", "CREATE TABLE a (id INT);"},
		{"empty up", "001_create.sql", "-- +migrate Up\n-- +migrate Down\nDROP TABLE a;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.filename, tt.content)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_second.sql": {Data: []byte("-- +migrate Up\nSELECT 2;")},
		"migrations/001_first.sql":  {Data: []byte("-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 0;")},
		"migrations/README.md":      {Data: []byte("not a migration")},
	}

	migrations, err := Load(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, "second", migrations[1].Name)
	assert.Empty(t, migrations[1].DownSQL)
}

func TestLoad_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/001_first.sql": {Data: []byte("SELECT 1;")},
		"migrations/001_other.sql": {Data: []byte("SELECT 1;")},
	}

	_, err := Load(fsys, "migrations")
	assert.Error(t, err)
}

func TestLoad_ShippedMigrations(t *testing.T) {
	migrations, err := Load(os.DirFS("../../cmd/migrate"), "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Contains(t, migrations[0].UpSQL, "CREATE TABLE IF NOT EXISTS upload_sessions")
	assert.Contains(t, migrations[1].UpSQL, "CREATE TABLE IF NOT EXISTS completed_uploads")
	for _, migration := range migrations {
		assert.NotEmpty(t, migration.DownSQL, migration.Name)
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}

	todo := pending(migrations, map[int]bool{1: true, 3: true})
	require.Len(t, todo, 1)
	assert.Equal(t, 2, todo[0].Version)

	assert.Empty(t, pending(migrations, map[int]bool{1: true, 2: true, 3: true}))
}
