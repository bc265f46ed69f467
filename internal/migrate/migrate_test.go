package migrate

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMultiStatement(t *testing.T) {
	assert.Equal(t,
		"clickhouse://ch:9000/metrics?x-multi-statement=true",
		withMultiStatement("clickhouse://ch:9000/metrics"),
	)
	assert.Equal(t,
		"clickhouse://ch:9000/metrics?debug=true&x-multi-statement=true",
		withMultiStatement("clickhouse://ch:9000/metrics?debug=true"),
	)
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "sql")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	assert.Contains(t, names, "000001_create_data_points.up.sql")
	assert.Contains(t, names, "000001_create_data_points.down.sql")

	up, err := fs.ReadFile(migrations, "sql/000001_create_data_points.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "instance_id")
}

func TestCheckTable(t *testing.T) {
	require.NoError(t, CheckTable("data_points"))

	err := CheckTable("points")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "points"`)
}

func TestEmbeddedMigrationsCreateTable(t *testing.T) {
	up, err := fs.ReadFile(migrations, "sql/000001_create_data_points.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), Table)
}
