package daemon

import (
	"fmt"
	"os"
	"strings"
)

// StatusInfo is everything the status block renders.
type StatusInfo struct {
	DaemonPID  int
	WatcherPID int
	SessionID  string
	Syncing    []string
	Waiting    []string
	Retry      []string
	LiveIPs    []string
	Missing    []string
}

// Render produces the human-readable status block the CLI prints.
func (s StatusInfo) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[PIDS]\n")
	fmt.Fprintf(&b, " daemon pid: %d\n", s.DaemonPID)
	fmt.Fprintf(&b, "inotify pid: %d\n", s.WatcherPID)
	fmt.Fprintf(&b, "    session: %s\n", s.SessionID)
	fmt.Fprintf(&b, "\n[TASK-COUNT]\n")
	fmt.Fprintf(&b, "syncing: %d\n", len(s.Syncing))
	fmt.Fprintf(&b, "waiting: %d\n", len(s.Waiting))
	fmt.Fprintf(&b, "  retry: %d\n", len(s.Retry))
	fmt.Fprintf(&b, "\n[TASK-LIST]\n")
	fmt.Fprintf(&b, "syncing:%s\n", taskList(s.Syncing))
	fmt.Fprintf(&b, "  retry:%s\n", taskList(s.Retry))
	fmt.Fprintf(&b, "\n[OTHERS]\n")
	fmt.Fprintf(&b, "connected-ip: %s\n", strings.Join(s.LiveIPs, ","))
	fmt.Fprintf(&b, "missing-path: %s\n", strings.Join(s.Missing, ","))
	return b.String()
}

func taskList(tasks []string) string {
	if len(tasks) == 0 {
		return ""
	}
	return "\n\t" + strings.Join(tasks, "\n\t")
}

// writeStatusFile atomically replaces the status scratch file the CLI
// polls after sending the status signal.
func writeStatusFile(path, content string) error {
	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
