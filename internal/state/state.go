// Package state holds the shared mutable state of the sync pipeline:
// the raw event buffer, the in-flight task set, the live-IP set and the
// missing-listen set. Each structure serializes its own
// mutations with a single mutex.
package state

import "sync"

// EventBuffer is the unbounded ordered sequence of raw watcher lines.
// The watcher adapter exclusively appends; the master exclusively pops
// from the head.
type EventBuffer struct {
	mu    sync.Mutex
	lines []string
}

// NewEventBuffer creates an empty buffer.
func NewEventBuffer() *EventBuffer { return &EventBuffer{} }

// Append adds one raw line at the tail.
func (b *EventBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// PopFront removes and returns the head line; ok is false when empty.
func (b *EventBuffer) PopFront() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return "", false
	}
	line := b.lines[0]
	b.lines = b.lines[1:]
	return line, true
}

// Len returns the number of buffered lines.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// InFlight tracks task paths currently being transferred by some worker,
// preventing two workers from replicating the same path concurrently.
type InFlight struct {
	mu    sync.Mutex
	tasks map[string]struct{}
}

// NewInFlight creates an empty set.
func NewInFlight() *InFlight {
	return &InFlight{tasks: make(map[string]struct{})}
}

// TryAcquire marks the task in-flight; false when some worker holds it.
func (f *InFlight) TryAcquire(task string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.tasks[task]; busy {
		return false
	}
	f.tasks[task] = struct{}{}
	return true
}

// Release clears the in-flight mark.
func (f *InFlight) Release(task string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, task)
}

// Snapshot returns the tasks currently in flight.
func (f *InFlight) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tasks))
	for t := range f.tasks {
		out = append(out, t)
	}
	return out
}

// StringSet is a mutex-guarded set of strings. It backs the live-IP set
// and the missing-listen set.
type StringSet struct {
	mu    sync.Mutex
	items map[string]struct{}
}

// NewStringSet creates an empty set.
func NewStringSet() *StringSet {
	return &StringSet{items: make(map[string]struct{})}
}

// Add inserts the item.
func (s *StringSet) Add(item string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item] = struct{}{}
}

// Remove deletes the item if present.
func (s *StringSet) Remove(item string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, item)
}

// Contains reports membership.
func (s *StringSet) Contains(item string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[item]
	return ok
}

// Len returns the set size.
func (s *StringSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns the members in unspecified order.
func (s *StringSet) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	return out
}

// ReplaceAll swaps the contents for the given items.
func (s *StringSet) ReplaceAll(items []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]struct{}, len(items))
	for _, item := range items {
		s.items[item] = struct{}{}
	}
}

// Diff returns the members of s absent from other.
func (s *StringSet) Diff(other *StringSet) []string {
	var out []string
	for _, item := range s.Snapshot() {
		if !other.Contains(item) {
			out = append(out, item)
		}
	}
	return out
}
