package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore creates a store backed by a temp-dir SQLite file.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tiffin.db")
	s, err := Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Catalog snapshots used across store tests.
var (
	idly = Item{ID: "idly", Name: "Idly", Price: 40}
	dosa = Item{ID: "masala-dosa", Name: "Masala Dosa", Price: 80}
	vada = Item{ID: "medu-vada", Name: "Medu Vada", Price: 50}
)
