package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/filesync/internal/bus"
	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/core"
	"github.com/vitaliisemenov/filesync/internal/state"
)

// fakeWatcherTool writes a script that emits the given lines and then
// blocks, standing in for the external inotify-class tool.
func fakeWatcherTool(t *testing.T, lines ...string) string {
	t.Helper()
	script := "#!/bin/sh\n"
	for _, l := range lines {
		script += fmt.Sprintf("echo '%s'\n", l)
	}
	script += "sleep 60\n"
	path := filepath.Join(t.TempDir(), "inotifywait")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// newWatcherFixture builds a store with one listen root plus the event
// booleans and returns a ready watcher.
func newWatcherFixture(t *testing.T, tool string, events map[string]string) (*Watcher, *state.EventBuffer, *bus.Bus, string) {
	t.Helper()
	root := t.TempDir()

	global := "sync_period = 1\n"
	for k, v := range events {
		global += fmt.Sprintf("%s = %s\n", k, v)
	}
	content := fmt.Sprintf(`[GLOBAL]
%s
[__GLOBAL_REQUIRED__]
str_type =
int_type = sync_period
bool_type =
float_type =

[__LISTEN_REQUIRED__]
str_type = remote_ip
int_type =
bool_type =
float_type =

[%s]
remote_ip = 10.0.0.2
`, global, root)
	iniPath := filepath.Join(t.TempDir(), "filesync.ini")
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0o644))

	logger := slog.New(slog.DiscardHandler)
	store := config.NewStore(iniPath, state.NewStringSet(), logger)
	require.NoError(t, store.Init())

	b := bus.New(logger)
	buf := state.NewEventBuffer()
	runDir := t.TempDir()
	return New(tool, runDir, store, buf, b, logger), buf, b, root
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Fail(t, msg)
}

func TestInitWritesListenFile(t *testing.T) {
	w, _, _, root := newWatcherFixture(t, fakeWatcherTool(t), map[string]string{"event_closewrite": "true"})
	require.NoError(t, w.Init())

	data, err := os.ReadFile(w.ListenFile())
	require.NoError(t, err)
	assert.Equal(t, root+"\n", string(data))
}

func TestInitRequiresAtLeastOneEventFlag(t *testing.T) {
	w, _, _, _ := newWatcherFixture(t, fakeWatcherTool(t), map[string]string{
		"event_delete": "false",
		"event_create": "false",
	})
	assert.ErrorIs(t, w.Init(), core.ErrConfig)
}

func TestEventFlagComposition(t *testing.T) {
	w, _, _, _ := newWatcherFixture(t, fakeWatcherTool(t), map[string]string{
		"event_delete":     "true",
		"event_closewrite": "true",
		"event_attrib":     "false",
	})
	require.NoError(t, w.Init())

	joined := strings.Join(w.args, " ")
	assert.Contains(t, joined, "-rmq")
	assert.Contains(t, joined, "--format %e %w%f")
	assert.Contains(t, joined, "-e delete")
	assert.Contains(t, joined, "-e close_write")
	assert.NotContains(t, joined, "-e attrib")
	assert.Contains(t, joined, "--fromfile "+w.ListenFile())
}

func TestStartCollectsEvents(t *testing.T) {
	tool := fakeWatcherTool(t, "CLOSE_WRITE /data/foo.txt", "MODIFY /data/bar.txt")
	w, buf, _, _ := newWatcherFixture(t, tool, map[string]string{"event_closewrite": "true"})
	require.NoError(t, w.Init())
	require.NoError(t, w.Start())
	defer w.Stop()

	waitFor(t, func() bool { return buf.Len() == 2 }, "events never arrived")
	line, ok := buf.PopFront()
	require.True(t, ok)
	assert.Equal(t, "CLOSE_WRITE /data/foo.txt", line)
}

func TestBusBindings(t *testing.T) {
	tool := fakeWatcherTool(t, "MODIFY /data/x")
	w, buf, b, _ := newWatcherFixture(t, tool, map[string]string{"event_closewrite": "true"})
	require.NoError(t, w.Init())
	require.NoError(t, w.Start())
	defer w.Stop()

	// The event-fetch topic returns the live buffer, not a copy.
	reply, err := b.Send(bus.TopicWatcherEvents, nil)
	require.NoError(t, err)
	assert.Same(t, buf, reply)

	hb, err := b.Send(bus.TopicWatcherHeartbeat, nil)
	require.NoError(t, err)
	assert.Equal(t, true, hb)
}

func TestHeartbeatFalseAfterSubprocessDies(t *testing.T) {
	tool := fakeWatcherTool(t) // emits nothing, sleeps
	w, _, b, _ := newWatcherFixture(t, tool, map[string]string{"event_closewrite": "true"})
	require.NoError(t, w.Init())
	require.NoError(t, w.Start())
	require.True(t, w.Alive())
	assert.Greater(t, w.PID(), 0)

	w.Stop()
	waitFor(t, func() bool { return !w.Alive() }, "watcher still alive after Stop")
	assert.Equal(t, -1, w.PID())

	hb, err := b.Send(bus.TopicWatcherHeartbeat, nil)
	require.NoError(t, err)
	assert.Equal(t, false, hb)
}

func TestReloadRespawns(t *testing.T) {
	tool := fakeWatcherTool(t, "MODIFY /data/x")
	w, _, _, _ := newWatcherFixture(t, tool, map[string]string{"event_closewrite": "true"})
	require.NoError(t, w.Init())
	require.NoError(t, w.Start())
	first := w.PID()

	require.NoError(t, w.Reload())
	defer w.Stop()
	waitFor(t, func() bool { return w.Alive() && w.PID() != first }, "watcher not respawned")
}
