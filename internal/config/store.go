package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/vitaliisemenov/filesync/internal/core"
	"github.com/vitaliisemenov/filesync/internal/state"
)

// Section and key names with fixed meaning in filesync.ini.
const (
	SectionGlobal         = "GLOBAL"
	SectionGlobalRequired = "__GLOBAL_REQUIRED__"
	SectionListenRequired = "__LISTEN_REQUIRED__"
)

// The schema sections declare required keys per value type, one
// newline-joined list each.
var schemaTypes = []string{"str_type", "int_type", "bool_type", "float_type"}

// Generation selects one of the two retained snapshots.
type Generation int

const (
	// Current is the active snapshot.
	Current Generation = iota
	// Previous is the snapshot retained across one reload so in-flight
	// work keeps resolving.
	Previous
)

// Snapshot is one parsed and validated configuration generation:
// section name → key → string value. Immutable once installed.
type Snapshot struct {
	sections map[string]map[string]string
	order    []string
}

// Get returns the value for (section, key).
func (s *Snapshot) Get(section, key string) (string, bool) {
	if s == nil {
		return "", false
	}
	kv, ok := s.sections[section]
	if !ok {
		return "", false
	}
	v, ok := kv[key]
	return v, ok
}

// HasSection reports whether the section exists.
func (s *Snapshot) HasSection(section string) bool {
	if s == nil {
		return false
	}
	_, ok := s.sections[section]
	return ok
}

// ListenPaths enumerates the listen-root sections in file order.
func (s *Snapshot) ListenPaths() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.order))
	for _, name := range s.order {
		if name == SectionGlobal {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Equal compares snapshot contents byte-wise.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.sections) != len(other.sections) {
		return false
	}
	for name, kv := range s.sections {
		okv, ok := other.sections[name]
		if !ok || len(kv) != len(okv) {
			return false
		}
		for k, v := range kv {
			if okv[k] != v {
				return false
			}
		}
	}
	return true
}

// Store owns the current and previous configuration snapshots and the
// missing-listen set. Reload installs a new current; readers holding a
// snapshot reference stay valid because snapshots are never mutated in
// place.
type Store struct {
	path    string
	logger  *slog.Logger
	missing *state.StringSet

	mu       sync.RWMutex
	current  *Snapshot
	previous *Snapshot
	appeared []string
}

// NewStore creates an empty store for the given filesync.ini path.
func NewStore(path string, missing *state.StringSet, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger, missing: missing}
}

// Path returns the filesync.ini path the store reads from.
func (s *Store) Path() string { return s.path }

// Init parses and validates the configuration into the current
// generation. On failure the store stays empty and the error is logged.
func (s *Store) Init() error {
	snap, miss, err := s.parseAndValidate()
	if err != nil {
		s.logger.Error("config init failed", "file", s.path, "error", err)
		return err
	}
	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	s.missing.ReplaceAll(miss)
	s.logSnapshot("curr_config", snap)
	return nil
}

// Reload reparses the file. On success the prior current becomes
// previous and the missing-listen set is recomputed from scratch; on
// failure both generations are left unchanged.
func (s *Store) Reload() error {
	prevMissing := s.missing.Snapshot()

	snap, miss, err := s.parseAndValidate()
	if err != nil {
		s.logger.Error("config reload failed, keeping prior snapshots",
			"file", s.path, "error", err)
		return err
	}

	s.mu.Lock()
	s.previous = s.current
	s.current = snap
	s.appeared = diffStrings(prevMissing, miss)
	s.mu.Unlock()
	s.missing.ReplaceAll(miss)

	s.logSnapshot("last_config", s.Generation(Previous))
	s.logSnapshot("curr_config", snap)
	return nil
}

// Generation returns the selected snapshot (possibly nil for Previous
// before the first reload).
func (s *Store) Generation(gen Generation) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if gen == Previous {
		return s.previous
	}
	return s.current
}

// AppearedListens returns the listens that reappeared at the last
// reload (previous missing minus now missing). Informational.
func (s *Store) AppearedListens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appeared
}

// ListenPaths enumerates listen roots in the selected generation.
func (s *Store) ListenPaths(gen Generation) []string {
	return s.Generation(gen).ListenPaths()
}

// IsListenFile reports whether path is itself a configured listen root
// in the current generation (a single-file listen).
func (s *Store) IsListenFile(path string) bool {
	snap := s.Generation(Current)
	return path != SectionGlobal && snap.HasSection(path)
}

// Get looks up a key in the given section and generation. Missing
// section or key yields ok=false.
func (s *Store) Get(key, section string, gen Generation) (string, bool) {
	return s.Generation(gen).Get(section, key)
}

// GetGlobal looks up a GLOBAL key in the current generation.
func (s *Store) GetGlobal(key string) (string, bool) {
	return s.Get(key, SectionGlobal, Current)
}

// parseAndValidate reads filesync.ini and runs the validation pass:
// GLOBAL presence, at least one listen root, schema-declared required
// keys with type checks, then listen existence. Listens absent on disk
// are collected rather than rejected; the schema sections are stripped
// from the accepted snapshot.
func (s *Store) parseAndValidate() (*Snapshot, []string, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
	}, s.path)
	if err != nil {
		return nil, nil, core.Configf("parse %s: %v", s.path, err)
	}

	snap := &Snapshot{sections: make(map[string]map[string]string)}
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		kv := make(map[string]string)
		for _, key := range sec.Keys() {
			kv[key.Name()] = key.String()
		}
		snap.sections[sec.Name()] = kv
		snap.order = append(snap.order, sec.Name())
	}

	if !snap.HasSection(SectionGlobal) {
		return nil, nil, core.Configf("GLOBAL section not in %s", s.path)
	}

	var listens []string
	for _, name := range snap.order {
		if name == SectionGlobal || name == SectionGlobalRequired || name == SectionListenRequired {
			continue
		}
		listens = append(listens, name)
	}
	if len(listens) == 0 {
		return nil, nil, core.Configf("listen path is NULL")
	}

	globalRequired, err := readSchema(snap, SectionGlobalRequired)
	if err != nil {
		return nil, nil, err
	}
	listenRequired, err := readSchema(snap, SectionListenRequired)
	if err != nil {
		return nil, nil, err
	}

	for types, keys := range globalRequired {
		for _, key := range keys {
			value, ok := snap.Get(SectionGlobal, key)
			if !ok {
				return nil, nil, core.Configf("%s option is not in GLOBAL", key)
			}
			if !checkType(value, types) {
				return nil, nil, core.Configf("%s of GLOBAL must be %s", key, types)
			}
		}
	}
	for types, keys := range listenRequired {
		for _, key := range keys {
			for _, listen := range listens {
				value, ok := snap.Get(listen, key)
				if !ok {
					return nil, nil, core.Configf("%s option is not in %s", key, listen)
				}
				if !checkType(value, types) {
					return nil, nil, core.Configf("%s of %s must be %s", key, listen, types)
				}
			}
		}
	}

	var missing []string
	for _, listen := range listens {
		if _, err := os.Stat(listen); err != nil {
			s.logger.Warn("listen path does not exist", "listen", listen)
			missing = append(missing, listen)
		}
	}

	drop := append([]string{SectionGlobalRequired, SectionListenRequired}, missing...)
	for _, name := range drop {
		delete(snap.sections, name)
	}
	kept := snap.order[:0]
	for _, name := range snap.order {
		if snap.HasSection(name) {
			kept = append(kept, name)
		}
	}
	snap.order = kept

	return snap, missing, nil
}

// readSchema extracts the required-key lists of one schema section.
func readSchema(snap *Snapshot, section string) (map[string][]string, error) {
	if !snap.HasSection(section) {
		return nil, core.Configf("%s section not in config file", section)
	}
	out := make(map[string][]string)
	for _, types := range schemaTypes {
		raw, ok := snap.Get(section, types)
		if !ok || raw == "" {
			continue
		}
		var keys []string
		for _, line := range strings.Split(raw, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				keys = append(keys, line)
			}
		}
		if len(keys) > 0 {
			out[types] = keys
		}
	}
	return out, nil
}

// checkType validates a raw string against a declared schema type:
// non-empty string, integer strictly greater than zero, the literal
// tokens true/false, or a non-negative float.
func checkType(value, types string) bool {
	switch types {
	case "str_type":
		return value != ""
	case "int_type":
		n, err := strconv.Atoi(value)
		return err == nil && n > 0
	case "bool_type":
		return value == "true" || value == "false"
	case "float_type":
		f, err := strconv.ParseFloat(value, 64)
		return err == nil && f >= 0
	default:
		return true
	}
}

func diffStrings(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, item := range b {
		inB[item] = struct{}{}
	}
	var out []string
	for _, item := range a {
		if _, ok := inB[item]; !ok {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// logSnapshot logs the accepted snapshot as indented JSON for log
// readability.
func (s *Store) logSnapshot(label string, snap *Snapshot) {
	if snap == nil {
		return
	}
	raw, err := json.MarshalIndent(snap.sections, "", "    ")
	if err != nil {
		return
	}
	s.logger.Info("config snapshot", "generation", label, "data", string(raw))
}
