package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDir(t *testing.T) {
	c, err := LoadDir("testdata")
	require.NoError(t, err)

	assert.Equal(t, 4, c.Len())

	item, err := c.Resolve("masala dosa")
	require.NoError(t, err)
	assert.Equal(t, "masala-dosa", item.ID)
	assert.Equal(t, int64(80), item.Price)

	coffee := c.List("beverage")
	require.Len(t, coffee, 1)
	assert.Equal(t, "filter-coffee", coffee[0].ID)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join("testdata", "no-such-dir"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadDirNotADirectory(t *testing.T) {
	_, err := LoadDir(filepath.Join("testdata", "menu.cue"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestLoadDirNoCUEFiles(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestLoadDirSchemaViolation(t *testing.T) {
	_, err := LoadDir(filepath.Join("testdata", "badmenu"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}
