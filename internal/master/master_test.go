package master

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/filesync/internal/bus"
	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/queue"
	"github.com/vitaliisemenov/filesync/internal/state"
)

// newMasterFixture builds a store with the given listen sections (path →
// body) and wires a master with an event buffer bound on the bus.
func newMasterFixture(t *testing.T, listens map[string]string) (*Master, *state.EventBuffer, *queue.Dedup) {
	t.Helper()
	content := `[GLOBAL]
sync_period = 1

[__GLOBAL_REQUIRED__]
int_type = sync_period

[__LISTEN_REQUIRED__]
str_type = remote_ip
`
	for path, body := range listens {
		content += fmt.Sprintf("\n[%s]\n%s\n", path, body)
	}
	iniPath := filepath.Join(t.TempDir(), "filesync.ini")
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0o644))

	logger := slog.New(slog.DiscardHandler)
	store := config.NewStore(iniPath, state.NewStringSet(), logger)
	require.NoError(t, store.Init())

	b := bus.New(logger)
	events := state.NewEventBuffer()
	b.Bind(bus.TopicWatcherEvents, func(any) any { return events })

	tasks := queue.NewDedup("task", 1000, logger)
	return New(store, tasks, b, logger), events, tasks
}

func TestDrainPromotesFileEventToParent(t *testing.T) {
	root := t.TempDir()
	m, events, tasks := newMasterFixture(t, map[string]string{root: "remote_ip = 10.0.0.2"})

	// foo.txt is not a configured single-file listen and not a
	// directory, so the parent becomes the task.
	events.Append("MODIFY " + filepath.Join(root, "foo.txt"))
	m.Drain()

	assert.Equal(t, []string{root}, tasks.Snapshot())
	assert.Equal(t, 0, events.Len())
}

func TestDrainKeepsDirectoryEvent(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	m, events, tasks := newMasterFixture(t, map[string]string{root: "remote_ip = 10.0.0.2"})

	events.Append("CREATE,ISDIR " + sub)
	m.Drain()

	assert.Equal(t, []string{sub}, tasks.Snapshot())
}

func TestDrainKeepsConfiguredFileListen(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "single.conf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	m, events, tasks := newMasterFixture(t, map[string]string{file: "remote_ip = 10.0.0.2"})

	events.Append("CLOSE_WRITE " + file)
	m.Drain()

	assert.Equal(t, []string{file}, tasks.Snapshot())
}

func TestDrainDedupsBursts(t *testing.T) {
	root := t.TempDir()
	m, events, tasks := newMasterFixture(t, map[string]string{root: "remote_ip = 10.0.0.2"})

	for i := 0; i < 10; i++ {
		events.Append(fmt.Sprintf("MODIFY %s/burst-%d.tmp", root, i))
	}
	m.Drain()

	assert.Equal(t, 1, tasks.Len(), "burst inside one directory collapses to one task")
}

func TestDrainHandlesPathsWithSpaces(t *testing.T) {
	root := t.TempDir()
	m, events, tasks := newMasterFixture(t, map[string]string{root: "remote_ip = 10.0.0.2"})

	events.Append("MODIFY " + filepath.Join(root, "with space.txt"))
	m.Drain()

	// Only the first whitespace splits; the full path survives.
	assert.Equal(t, []string{root}, tasks.Snapshot())
}

func TestDrainSkipsMalformedLines(t *testing.T) {
	root := t.TempDir()
	m, events, tasks := newMasterFixture(t, map[string]string{root: "remote_ip = 10.0.0.2"})

	events.Append("JUNK")
	m.Drain()
	assert.Equal(t, 0, tasks.Len())
}

func TestDrainToleratesUnboundBus(t *testing.T) {
	root := t.TempDir()
	m, _, tasks := newMasterFixture(t, map[string]string{root: "remote_ip = 10.0.0.2"})
	m.messageBus.Unbind(bus.TopicWatcherEvents)

	m.Drain() // must not panic
	assert.Equal(t, 0, tasks.Len())
}
