package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/karupatti/tiffin/internal/store"
)

// execute runs the CLI with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

// seedDatabase creates a database with one session that has a cart and
// a completed checkout history, then closes it and returns the path.
func seedDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "tiffin.db")
	s, err := store.Open(path)
	require.NoError(t, err)

	_, err = s.AddItem(ctx, "s1", store.Item{ID: "idly", Name: "Idly", Price: 40}, 2)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, "s1", store.Item{ID: "masala-dosa", Name: "Masala Dosa", Price: 80}, 1)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	return path
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// backdate ages a session and its events in a closed database.
func backdate(t *testing.T, path, sessionID string, age time.Duration) {
	t.Helper()

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	stamp := time.Now().Add(-age).UTC().Truncate(time.Millisecond).Format(timeLayout)
	_, err = s.DB().Exec(`UPDATE sessions SET last_activity = ? WHERE id = ?`, stamp, sessionID)
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE session_events SET created_at = ? WHERE session_id = ?`, stamp, sessionID)
	require.NoError(t, err)
}
