// Package monitor implements the self-healing checks that run every
// two seconds: live log-level edits, a stop request after prolonged
// destination blackout, reload on missing-listen reappearance, and
// reload on a lost watcher heartbeat.
package monitor

import (
	"log/slog"
	"os"
	"time"

	"github.com/vitaliisemenov/filesync/internal/bus"
	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/loop"
	"github.com/vitaliisemenov/filesync/internal/state"
	"github.com/vitaliisemenov/filesync/pkg/logger"
)

const (
	monitorPeriod = 2 * time.Second

	// ipNullLimit is how many consecutive empty live-IP observations
	// (~60s) are tolerated before the daemon asks to stop.
	ipNullLimit = 30

	// heartbeatLimit is how many consecutive failed watcher heartbeats
	// trigger a reload-driven respawn.
	heartbeatLimit = 2
)

// Monitor owns the periodic check loop.
type Monitor struct {
	envPath    string
	liveIPs    *state.StringSet
	missing    *state.StringSet
	messageBus *bus.Bus
	level      *slog.LevelVar
	logger     *slog.Logger

	logLevel    string
	ipNullCount int
	hbFailCount int
	probedOnce  func() bool

	loop *loop.Loop
}

// New creates the monitor. probedOnce gates the blackout counter until
// the prober has produced at least one observation.
func New(envPath string, liveIPs, missing *state.StringSet, level *slog.LevelVar, probedOnce func() bool, b *bus.Bus, logger *slog.Logger) *Monitor {
	m := &Monitor{
		envPath:    envPath,
		liveIPs:    liveIPs,
		missing:    missing,
		messageBus: b,
		level:      level,
		logger:     logger,
		logLevel:   config.ReadLogLevel(envPath),
		probedOnce: probedOnce,
	}
	m.loop = loop.New("monitor", monitorPeriod, func(int) { m.Tick() })
	return m
}

// Start launches the monitor loop.
func (m *Monitor) Start() { m.loop.Start() }

// Stop ends the monitor loop.
func (m *Monitor) Stop() { m.loop.Stop() }

// Tick runs one round of checks. Each escalation emits its bus request
// and ends the tick; the remaining checks run next round.
func (m *Monitor) Tick() {
	m.checkLogLevel()

	if m.checkLiveIPs() {
		return
	}
	if m.checkMissingListens() {
		return
	}
	m.checkHeartbeat()
}

// checkLogLevel re-reads only the log_level key so live edits to
// env.ini take effect without a reload.
func (m *Monitor) checkLogLevel() {
	level := config.ReadLogLevel(m.envPath)
	if level == m.logLevel {
		return
	}
	m.logLevel = level
	m.level.Set(logger.ParseLevel(level))
	m.logger.Info("log level changed", "level", level)
}

// checkLiveIPs escalates to a stop request after ipNullLimit
// consecutive observations of an empty live set. Any non-empty
// observation resets the counter.
func (m *Monitor) checkLiveIPs() bool {
	if !m.probedOnce() {
		return false
	}
	if m.liveIPs.Len() > 0 {
		m.ipNullCount = 0
		return false
	}
	m.ipNullCount++
	if m.ipNullCount < ipNullLimit {
		m.logger.Warn("no destination IP reachable",
			"consecutive", m.ipNullCount)
		return false
	}
	m.logger.Error("no destination reachable for too long, requesting stop")
	_, _ = m.messageBus.Send(bus.TopicStopRequest, nil)
	return true
}

// checkMissingListens requests a reload when a configured listen path
// reappears on disk. The reload itself recomputes the missing set; the
// monitor never clears it.
func (m *Monitor) checkMissingListens() bool {
	reload := false
	for _, listen := range m.missing.Snapshot() {
		if _, err := os.Stat(listen); err == nil {
			m.logger.Info("missing listen path appeared", "listen", listen)
			reload = true
		}
	}
	if !reload {
		return false
	}
	_, _ = m.messageBus.Send(bus.TopicReloadRequest, nil)
	return true
}

// checkHeartbeat probes the watcher liveness topic and requests a
// reload (which respawns the watcher) after heartbeatLimit consecutive
// failures.
func (m *Monitor) checkHeartbeat() {
	reply, err := m.messageBus.Send(bus.TopicWatcherHeartbeat, nil)
	if err == nil {
		if ok, _ := reply.(bool); ok {
			m.hbFailCount = 0
			return
		}
	}
	m.hbFailCount++
	if m.hbFailCount < heartbeatLimit {
		m.logger.Warn("watcher heartbeat failed", "consecutive", m.hbFailCount)
		return
	}
	m.logger.Error("watcher heartbeat lost, requesting reload")
	m.hbFailCount = 0
	_, _ = m.messageBus.Send(bus.TopicReloadRequest, nil)
}
