package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phil-mansfield/linkage"
)

func openTest(t *testing.T, path, runID string) *Ledger {
	l, err := Open(context.Background(), "sqlite", path, runID)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l := openTest(t, path, "run-a")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return at }

	require.NoError(t, l.Checkpoint(linkage.CheckpointEvent{Index: 0, TimeYears: 0}))
	require.NoError(t, l.Checkpoint(linkage.CheckpointEvent{
		Index: 1, TimeYears: 10000, Transitions: 7,
	}))
	assert.Error(t, l.Checkpoint(linkage.CheckpointEvent{Index: 1}))

	other := openTest(t, path, "run-b")
	require.NoError(t, other.Checkpoint(linkage.CheckpointEvent{Index: 0, TimeYears: 5}))

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for i, e := range entries {
		assert.Equal(t, "run-a", e.RunID)
		assert.Equal(t, i, e.Index)
		assert.True(t, at.Equal(e.RecordedAt))
	}
	assert.Equal(t, 10000.0, entries[1].TimeYears)
	assert.Equal(t, 7, entries[1].Transitions)

	entries, err = other.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5.0, entries[0].TimeYears)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", "run")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	l := &Ledger{driver: "pgx"}
	assert.Equal(t, "VALUES ($1, $2, $3)", l.rebind("VALUES (?, ?, ?)"))
	l.driver = "sqlite"
	assert.Equal(t, "VALUES (?, ?)", l.rebind("VALUES (?, ?)"))
}
