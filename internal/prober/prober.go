// Package prober maintains the live-IP set: every check period it
// collects the destination IPs from both configuration generations,
// hands them to the external probe tool and reconciles the set with
// the hosts the tool reports alive.
package prober

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/loop"
	"github.com/vitaliisemenov/filesync/internal/metrics"
	"github.com/vitaliisemenov/filesync/internal/state"
	"github.com/vitaliisemenov/filesync/internal/worker"
)

// defaultCheckPeriod applies when GLOBAL carries no check_period.
const defaultCheckPeriod = 60 * time.Second

// Prober owns the reachability loop.
type Prober struct {
	tool    string
	runDir  string
	store   *config.Store
	liveIPs *state.StringSet
	runner  worker.CommandRunner
	logger  *slog.Logger

	ready atomic.Bool
	loop  *loop.Loop
}

// New creates a prober. runner executes the probe pipeline; the daemon
// passes a ShellRunner, tests a fake.
func New(tool, runDir string, store *config.Store, liveIPs *state.StringSet, runner worker.CommandRunner, logger *slog.Logger) *Prober {
	p := &Prober{
		tool:    tool,
		runDir:  runDir,
		store:   store,
		liveIPs: liveIPs,
		runner:  runner,
		logger:  logger,
	}
	period := defaultCheckPeriod
	if raw, ok := store.GetGlobal("check_period"); ok {
		if secs, err := time.ParseDuration(raw + "s"); err == nil && secs > 0 {
			period = secs
		}
	}
	p.loop = loop.New("prober", period, func(int) { p.Probe() })
	return p
}

// Ready reports whether at least one probe pass has completed. The
// full-sync loop gates on it so the first sweep does not mistake
// unprobed hosts for dead ones.
func (p *Prober) Ready() bool { return p.ready.Load() }

// IPListFile returns the scratch file fed to the probe tool.
func (p *Prober) IPListFile() string {
	return filepath.Join(p.runDir, "ip_list.ini")
}

// Start launches the probe loop.
func (p *Prober) Start() { p.loop.Start() }

// Stop ends the probe loop.
func (p *Prober) Stop() { p.loop.Stop() }

// Probe runs one reachability pass.
func (p *Prober) Probe() {
	ips := p.collectIPs()
	if err := os.WriteFile(p.IPListFile(), []byte(strings.Join(ips, "\n")), 0o644); err != nil {
		p.logger.Error("write ip list failed", "file", p.IPListFile(), "error", err)
		return
	}

	// The probe tool reads newline-separated IPs on stdin and prints
	// "<ip> is alive" per reachable host; the pipe form is its contract.
	cmdLine := fmt.Sprintf("cat %s | sudo %s", p.IPListFile(), p.tool)
	_, out, _, err := p.runner.Run(cmdLine)
	if err != nil {
		p.logger.Warn("probe execution failed", "error", err)
	}

	alive := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if ip, found := strings.CutSuffix(line, " is alive"); found {
			alive[ip] = struct{}{}
		}
	}

	for _, ip := range ips {
		if _, ok := alive[ip]; ok {
			p.liveIPs.Add(ip)
			continue
		}
		if p.liveIPs.Contains(ip) {
			p.liveIPs.Remove(ip)
		}
		p.logger.Warn("destination is disconnect", "ip", ip)
	}
	// IPs no longer configured anywhere drop out of the set too.
	configured := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		configured[ip] = struct{}{}
	}
	for _, ip := range p.liveIPs.Snapshot() {
		if _, ok := configured[ip]; !ok {
			p.liveIPs.Remove(ip)
		}
	}

	metrics.LiveIPs.Set(float64(p.liveIPs.Len()))
	p.ready.Store(true)
}

// collectIPs gathers the unique remote IPs of every listen section in
// both generations, skipping malformed entries with a warning.
func (p *Prober) collectIPs() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, gen := range []config.Generation{config.Current, config.Previous} {
		for _, listen := range p.store.ListenPaths(gen) {
			raw, _ := p.store.Get("remote_ip", listen, gen)
			for _, ip := range strings.Split(raw, ",") {
				ip = strings.TrimSpace(ip)
				if ip == "" {
					continue
				}
				if net.ParseIP(ip) == nil {
					p.logger.Warn("invalid destination IP",
						"listen", listen, "ip", ip, "generation", int(gen))
					continue
				}
				if _, dup := seen[ip]; dup {
					continue
				}
				seen[ip] = struct{}{}
				out = append(out, ip)
			}
		}
	}
	return out
}
