package core

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the sync pipeline. Components wrap these with
// %w so callers can route on the kind while the message stays human-readable.
var (
	// ErrConfig marks malformed or inconsistent configuration. Init
	// fails with it; reload keeps the prior snapshot installed.
	ErrConfig = errors.New("config error")

	// ErrTaskVanished marks a task whose path disappeared before the
	// transfer could run. The task is warn-logged and dropped.
	ErrTaskVanished = errors.New("task path vanished")

	// ErrTaskUnresolvable marks a task that no listen root in either
	// config generation owns. The task is error-logged and dropped.
	ErrTaskUnresolvable = errors.New("task not resolvable")

	// ErrNoBinding is returned by the unicast bus when nothing is bound
	// to the requested topic. Callers must tolerate it.
	ErrNoBinding = errors.New("no binding for topic")

	// ErrWatcherLost marks a dead event-watcher subprocess. The monitor
	// observes it via heartbeat and triggers a reload.
	ErrWatcherLost = errors.New("event watcher lost")
)

// Configf wraps ErrConfig with a formatted detail message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
