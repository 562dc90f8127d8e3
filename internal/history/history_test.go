package history

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path, uuid.NewString(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	store.RecordTransfer("1", "/data", "10.0.0.2", 0, false, 1500*time.Millisecond)
	store.RecordTransfer("Retry", "/data/sub", "10.0.0.3", 23, true, 200*time.Millisecond)

	recent, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first.
	assert.Equal(t, "/data/sub", recent[0].Task)
	assert.Equal(t, 23, recent[0].ExitCode)
	assert.True(t, recent[0].IsRetry)
	assert.Equal(t, 200*time.Millisecond, recent[0].Duration)

	assert.Equal(t, "/data", recent[1].Task)
	assert.Equal(t, 0, recent[1].ExitCode)
	assert.False(t, recent[1].IsRetry)
}

func TestRecentLimit(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		store.RecordTransfer("1", "/data", "10.0.0.2", 0, false, time.Second)
	}
	recent, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	logger := slog.New(slog.DiscardHandler)

	store, err := Open(path, "session-a", logger)
	require.NoError(t, err)
	store.RecordTransfer("1", "/data", "10.0.0.2", 0, false, time.Second)
	require.NoError(t, store.Close())

	// Migrations are idempotent across reopen.
	store, err = Open(path, "session-b", logger)
	require.NoError(t, err)
	defer store.Close()

	recent, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "session-a", recent[0].SessionID)
}
