package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karupatti/tiffin/internal/store"
)

func corruptCart(t *testing.T, path string) {
	t.Helper()

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.DB().Exec(`UPDATE cart_lines SET qty = 99 WHERE session_id = 's1' AND item_id = 'idly'`)
	require.NoError(t, err)
}

func TestReplayConsistent(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "replay", "--db", db, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "consistent with event log")
}

func TestReplayDetectsDivergence(t *testing.T) {
	db := seedDatabase(t)
	corruptCart(t, db)

	out, err := execute(t, "replay", "--db", db, "--session", "s1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "line:idly")
}

func TestReplayRestore(t *testing.T) {
	db := seedDatabase(t)
	corruptCart(t, db)

	out, err := execute(t, "replay", "--db", db, "--session", "s1", "--restore")
	require.NoError(t, err)
	assert.Contains(t, out, "restored")

	// A second check passes once the rows are rewritten from the log.
	out, err = execute(t, "replay", "--db", db, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "consistent")
}

func TestReplayUnknownSession(t *testing.T) {
	db := seedDatabase(t)

	_, err := execute(t, "replay", "--db", db, "--session", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
