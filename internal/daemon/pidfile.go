package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile records the current process id.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile returns the recorded pid. A missing or malformed file is
// an error; callers treat it as "not running".
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s: %q", path, data)
	}
	return pid, nil
}

// RemovePIDFile deletes the file; absence is fine.
func RemovePIDFile(path string) {
	_ = os.Remove(path)
}

// ProcessAlive probes the pid with signal 0. EPERM still means the
// process exists (an unprivileged prober hitting a root daemon).
func ProcessAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// RunningPID reports the live daemon pid recorded in the file, or 0
// when the file is absent, malformed or stale.
func RunningPID(path string) int {
	pid, err := ReadPIDFile(path)
	if err != nil || !ProcessAlive(pid) {
		return 0
	}
	return pid
}
