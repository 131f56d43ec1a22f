package cli

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karupatti/tiffin/internal/store"
)

func TestSweepDeletesExpired(t *testing.T) {
	db := seedDatabase(t)
	backdate(t, db, "s1", 48*time.Hour)

	out, err := execute(t, "sweep", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions deleted: 1")

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestSweepKeepsFresh(t *testing.T) {
	db := seedDatabase(t)

	out, err := execute(t, "sweep", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions deleted: 0")
}

func TestSweepCustomWindows(t *testing.T) {
	db := seedDatabase(t)
	backdate(t, db, "s1", 2*time.Hour)

	out, err := execute(t, "sweep", "--db", db,
		"--session-ttl", "1h",
		"--event-retention", "1h",
		"--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   SweepResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, int64(1), resp.Data.SessionsDeleted)
	assert.Greater(t, resp.Data.EventsDeleted, int64(0))
}
