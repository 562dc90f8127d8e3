// Package master implements the event dispatcher: on every sync period
// it drains the raw event buffer, normalizes each event to a task path
// and pushes it onto the task queue.
package master

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/filesync/internal/bus"
	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/loop"
	"github.com/vitaliisemenov/filesync/internal/queue"
	"github.com/vitaliisemenov/filesync/internal/state"
)

// Master owns the dispatch loop.
type Master struct {
	store      *config.Store
	tasks      *queue.Dedup
	messageBus *bus.Bus
	logger     *slog.Logger
	loop       *loop.Loop
}

// New creates the dispatcher. Start launches its loop.
func New(store *config.Store, tasks *queue.Dedup, b *bus.Bus, logger *slog.Logger) *Master {
	return &Master{store: store, tasks: tasks, messageBus: b, logger: logger}
}

// Start launches the dispatch loop with the configured sync period.
// The period bounds latency only when the buffer is empty at tick
// start; a busy buffer is always drained to empty first.
func (m *Master) Start() {
	period := m.syncPeriod()
	m.loop = loop.New("master", period, func(int) { m.Drain() })
	m.loop.Start()
}

// Stop, Pause and Resume control the dispatch loop.
func (m *Master) Stop() {
	if m.loop != nil {
		m.loop.Stop()
	}
}

// Pause suspends dispatching before the next tick.
func (m *Master) Pause() {
	if m.loop != nil {
		m.loop.Pause()
	}
}

// Resume releases a paused dispatcher.
func (m *Master) Resume() {
	if m.loop != nil {
		m.loop.Resume()
	}
}

func (m *Master) syncPeriod() time.Duration {
	raw, _ := m.store.GetGlobal("sync_period")
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Drain empties the event buffer into the task queue. Each line splits
// once on whitespace into (event, path); a path that is neither a
// configured single-file listen nor an existing directory is promoted
// to its parent directory, collapsing per-file events inside an
// unwatched subtree into one directory-level task. The queue's dedup
// absorbs bursts.
func (m *Master) Drain() {
	reply, err := m.messageBus.Send(bus.TopicWatcherEvents, nil)
	if err != nil {
		return
	}
	events, ok := reply.(*state.EventBuffer)
	if !ok || events == nil {
		return
	}

	for {
		line, ok := events.PopFront()
		if !ok {
			return
		}
		event, path, found := strings.Cut(line, " ")
		if !found {
			m.logger.Debug("malformed watcher event", "line", line)
			continue
		}
		path = strings.TrimSpace(path)
		m.logger.Debug("watcher event", "event", event, "path", path)

		if !m.store.IsListenFile(path) && !isDir(path) {
			path = filepath.Dir(path)
		}
		m.tasks.Push(path)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
