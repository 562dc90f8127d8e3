// Package watcher supervises the external change-watcher subprocess.
// The subprocess's only contract is that it writes one "EVENT PATH"
// line per observed filesystem change to its stdout; the adapter
// accumulates those lines in the shared event buffer and answers
// liveness probes over the bus.
package watcher

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vitaliisemenov/filesync/internal/bus"
	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/core"
	"github.com/vitaliisemenov/filesync/internal/state"
)

// eventFlags maps the GLOBAL boolean keys onto the watcher's -e event
// names, in the order the command line is composed.
var eventFlags = []struct {
	key   string
	event string
}{
	{"event_delete", "delete"},
	{"event_create", "create"},
	{"event_closewrite", "close_write"},
	{"event_move", "move"},
	{"event_movedto", "moved_to"},
	{"event_movedfrom", "moved_from"},
	{"event_attrib", "attrib"},
}

// Watcher owns the subprocess and its stdout reader goroutine.
type Watcher struct {
	tool       string
	runDir     string
	store      *config.Store
	events     *state.EventBuffer
	messageBus *bus.Bus
	logger     *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	alive  bool
	pid    int
	args   []string
	reader sync.WaitGroup
}

// New creates a watcher adapter. Init composes the command; Start
// spawns it.
func New(tool, runDir string, store *config.Store, events *state.EventBuffer, b *bus.Bus, logger *slog.Logger) *Watcher {
	return &Watcher{
		tool:       tool,
		runDir:     runDir,
		store:      store,
		events:     events,
		messageBus: b,
		logger:     logger,
	}
}

// ListenFile returns the path of the listen-root list handed to the
// subprocess.
func (w *Watcher) ListenFile() string {
	return filepath.Join(w.runDir, "listen.ini")
}

// Init writes the listen list, composes the watcher arguments from the
// current configuration and binds the bus topics. It must run before
// Start and again on every reload.
func (w *Watcher) Init() error {
	listens := w.store.ListenPaths(config.Current)
	if len(listens) == 0 {
		return core.Configf("watcher listen path is NULL")
	}
	w.logger.Info("watcher listen paths", "count", len(listens), "paths", strings.Join(listens, ","))

	if err := os.WriteFile(w.ListenFile(), []byte(strings.Join(listens, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write listen file: %w", err)
	}

	args := []string{"-rmq", "--format", "%e %w%f"}
	flagged := false
	for _, f := range eventFlags {
		if v, _ := w.store.GetGlobal(f.key); v == "true" {
			args = append(args, "-e", f.event)
			flagged = true
		}
	}
	if !flagged {
		return core.Configf("ALL event type is false")
	}
	args = append(args, "--fromfile", w.ListenFile())

	w.mu.Lock()
	w.args = args
	w.mu.Unlock()

	w.messageBus.Bind(bus.TopicWatcherEvents, func(any) any { return w.events })
	w.messageBus.Bind(bus.TopicWatcherHeartbeat, func(any) any { return w.Alive() })
	return nil
}

// Start spawns the subprocess and its reader goroutine.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	cmd := exec.Command(w.tool, w.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("watcher stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	w.logger.Info("starting event watcher",
		"cmd", w.tool+" "+strings.Join(w.args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", core.ErrWatcherLost, w.tool, err)
	}
	w.cmd = cmd
	w.alive = true
	w.pid = cmd.Process.Pid
	w.logger.Info("event watcher started", "pid", w.pid)

	w.reader.Add(1)
	go w.readEvents(cmd, stdout)
	return nil
}

// readEvents appends trimmed non-empty stdout lines to the event
// buffer until the pipe closes, then reaps the subprocess. Liveness
// flips false here, which is what the monitor's heartbeat observes.
func (w *Watcher) readEvents(cmd *exec.Cmd, stdout io.Reader) {
	defer w.reader.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		w.events.Append(line)
	}

	err := cmd.Wait()
	w.mu.Lock()
	if w.cmd == cmd {
		w.alive = false
	}
	w.mu.Unlock()
	w.logger.Warn("event watcher exited", "pid", cmd.Process.Pid, "error", err)
}

// Alive reports whether the subprocess is still running. This is the
// heartbeat reply.
func (w *Watcher) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// PID returns the subprocess pid, or -1 when not running.
func (w *Watcher) PID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.alive {
		return -1
	}
	return w.pid
}

// Stop kills the subprocess. The reader goroutine drains and exits on
// the closed pipe.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cmd := w.cmd
	alive := w.alive
	w.mu.Unlock()

	if cmd == nil || !alive {
		return
	}
	w.logger.Info("stopping event watcher", "pid", cmd.Process.Pid)
	_ = cmd.Process.Kill()
	w.reader.Wait()
}

// Reload stops the subprocess, re-reads configuration and starts a
// fresh one.
func (w *Watcher) Reload() error {
	w.Stop()
	if err := w.Init(); err != nil {
		return err
	}
	return w.Start()
}
