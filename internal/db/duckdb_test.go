package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "", Config{DataDir: "/data"}.Path())
	assert.Equal(t, filepath.Join("/data", "duckdb", "coverage.duckdb"), Config{DataDir: "/data", Name: "coverage"}.Path())
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{DataDir: dir, Name: "coverage", Extensions: []string{"bad;name"}})
	require.NoError(t, err)
	defer conn.Close()

	var n int
	require.NoError(t, conn.QueryRow("SELECT 41 + 1").Scan(&n))
	assert.Equal(t, 42, n)
	assert.FileExists(t, filepath.Join(dir, "duckdb", "coverage.duckdb"))
}

func TestOpenInMemory(t *testing.T) {
	conn, err := Open(Config{})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec("CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)
}
