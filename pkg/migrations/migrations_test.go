package migrations

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDBAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	schema := `create table if not exists Item (id integer primary key, name text not null);`
	require.NoError(t, Migrate(db, schema))
	require.NoError(t, Migrate(db, schema))

	_, err = db.Exec(`insert into Item (name) values (?)`, "a")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`select count(*) from Item`).Scan(&count))
	require.Equal(t, 1, count)

	require.Error(t, Migrate(db, `create tabel Broken`))
}
