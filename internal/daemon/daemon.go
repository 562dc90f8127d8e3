// Package daemon wires the sync pipeline together and owns its
// lifecycle: ordered initialization, the signal surface, reload and
// stop requests from the monitor, and the status block.
package daemon

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/filesync/internal/bus"
	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/history"
	"github.com/vitaliisemenov/filesync/internal/master"
	"github.com/vitaliisemenov/filesync/internal/metrics"
	"github.com/vitaliisemenov/filesync/internal/monitor"
	"github.com/vitaliisemenov/filesync/internal/opsserver"
	"github.com/vitaliisemenov/filesync/internal/prober"
	"github.com/vitaliisemenov/filesync/internal/queue"
	"github.com/vitaliisemenov/filesync/internal/state"
	"github.com/vitaliisemenov/filesync/internal/watcher"
	"github.com/vitaliisemenov/filesync/internal/worker"
	"github.com/vitaliisemenov/filesync/pkg/logger"
)

// defaultQueueSize applies when GLOBAL omits a queue size key.
const defaultQueueSize = 1000

// Paths groups the filesystem layout derived from the working
// directory.
type Paths struct {
	BaseDir    string
	RunDir     string
	EnvINI     string
	SyncINI    string
	PIDFile    string
	ReloadFlag string
	StatusFlag string
}

// NewPaths derives the run layout from the daemon's working directory.
func NewPaths(baseDir string) Paths {
	runDir := filepath.Join(baseDir, "run")
	return Paths{
		BaseDir:    baseDir,
		RunDir:     runDir,
		EnvINI:     filepath.Join(baseDir, "env.ini"),
		SyncINI:    filepath.Join(baseDir, "filesync.ini"),
		PIDFile:    filepath.Join(runDir, "filesync.pid"),
		ReloadFlag: filepath.Join(runDir, "reload.flag"),
		StatusFlag: filepath.Join(runDir, "status.flag"),
	}
}

// Daemon is the running filesync process.
type Daemon struct {
	paths     Paths
	env       *config.Env
	sessionID string

	logger *slog.Logger
	level  *slog.LevelVar

	messageBus *bus.Bus
	store      *config.Store
	missing    *state.StringSet
	liveIPs    *state.StringSet
	inflight   *state.InFlight
	events     *state.EventBuffer
	tasks      *queue.Dedup
	retryQ     *queue.Dedup

	watch    *watcher.Watcher
	dispatch *master.Master
	pool     *worker.Pool
	retry    *worker.RetryLoop
	fullsync *worker.FullSyncLoop
	probe    *prober.Prober
	mon      *monitor.Monitor
	hist     *history.Store
	ops      *opsserver.Server

	reloadCh chan struct{}
	stopCh   chan struct{}
}

// New creates an unwired daemon for the given working directory. The
// caller loads env.ini first so environment failures map to their own
// exit code.
func New(paths Paths, env *config.Env) *Daemon {
	return &Daemon{
		paths:     paths,
		env:       env,
		sessionID: uuid.NewString(),
		reloadCh:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}, 1),
	}
}

// Init builds every component in dependency order: logger, config
// store, queues, worker pool, watcher, master, monitor. Any failure
// aborts startup.
func (d *Daemon) Init() error {
	if err := os.MkdirAll(d.paths.RunDir, 0o755); err != nil {
		return err
	}

	log, level, err := logger.New(logger.Config{
		Level:      d.env.LogLevel,
		Dir:        d.env.LogDir,
		MaxSize:    d.env.MaxLogSize,
		MaxBackups: d.env.MaxLogCount,
	})
	if err != nil {
		return err
	}
	d.logger = log
	d.level = level
	d.logger.Info("init filesync", "session", d.sessionID, "pid", os.Getpid())

	d.messageBus = bus.New(d.logger)
	d.missing = state.NewStringSet()
	d.liveIPs = state.NewStringSet()
	d.inflight = state.NewInFlight()
	d.events = state.NewEventBuffer()

	d.store = config.NewStore(d.paths.SyncINI, d.missing, d.logger)
	if err := d.store.Init(); err != nil {
		return err
	}

	d.tasks = queue.NewDedup("task", d.queueSize("sync_queue_size"), d.logger)
	d.retryQ = queue.NewDedup("retry", d.queueSize("fail_queue_size"), d.logger)

	// History is an audit trail; a broken database degrades to
	// logging, never to a failed startup.
	var recorder worker.Recorder
	hist, err := history.Open(filepath.Join(d.paths.RunDir, "history.db"), d.sessionID, d.logger)
	if err != nil {
		d.logger.Warn("transfer history disabled", "error", err)
	} else {
		d.hist = hist
		recorder = hist
	}

	d.pool, err = worker.NewPool(worker.PoolConfig{
		Store:     d.store,
		Tasks:     d.tasks,
		Retry:     d.retryQ,
		InFlight:  d.inflight,
		LiveIPs:   d.liveIPs,
		Runner:    worker.ShellRunner{},
		Recorder:  recorder,
		RsyncTool: d.env.RsyncTool,
		RsyncUser: d.env.RsyncUser,
		Logger:    d.logger,
	})
	if err != nil {
		d.logger.Error("worker pool init failed", "error", err)
		return err
	}
	d.retry = worker.NewRetryLoop(d.pool)
	d.probe = prober.New(d.env.FpingTool, d.paths.RunDir, d.store, d.liveIPs, worker.ShellRunner{}, d.logger)
	d.fullsync = worker.NewFullSyncLoop(d.pool, d.probe.Ready)

	d.watch = watcher.New(d.env.InotifyTool, d.paths.RunDir, d.store, d.events, d.messageBus, d.logger)
	if err := d.watch.Init(); err != nil {
		d.logger.Error("watcher init failed", "error", err)
		return err
	}

	d.dispatch = master.New(d.store, d.tasks, d.messageBus, d.logger)
	d.mon = monitor.New(d.paths.EnvINI, d.liveIPs, d.missing, d.level, d.probe.Ready, d.messageBus, d.logger)

	if addr, ok := d.store.GetGlobal("metrics_addr"); ok && addr != "" {
		var histSrc opsserver.HistorySource
		if d.hist != nil {
			histSrc = d.hist
		}
		d.ops = opsserver.New(addr, func() string { return d.statusInfo().Render() }, histSrc, d.logger)
	}

	d.bindBus()
	d.subscribeLifecycle()
	return nil
}

func (d *Daemon) queueSize(key string) int {
	if raw, ok := d.store.GetGlobal(key); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultQueueSize
}

// bindBus routes the monitor's escalation topics into the main loop.
func (d *Daemon) bindBus() {
	d.messageBus.Bind(bus.TopicReloadRequest, func(any) any {
		select {
		case d.reloadCh <- struct{}{}:
		default:
		}
		return nil
	})
	d.messageBus.Bind(bus.TopicStopRequest, func(any) any {
		select {
		case d.stopCh <- struct{}{}:
		default:
		}
		return nil
	})
}

// subscribeLifecycle registers every component on the lifecycle
// broadcast topic. The daemon itself only ever emits; subscribers
// decide what a signal means for them.
func (d *Daemon) subscribeLifecycle() {
	d.messageBus.Register(bus.TopicSignal, bus.Subscriber{
		Name: "worker-pool",
		Handler: func(payload any) {
			switch payload {
			case bus.SignalPause:
				d.pool.Pause()
			case bus.SignalResume:
				d.pool.Resume()
			case bus.SignalStop:
				d.pool.Stop()
			}
		},
	})
	d.messageBus.Register(bus.TopicSignal, bus.Subscriber{
		Name: "master",
		Handler: func(payload any) {
			switch payload {
			case bus.SignalPause:
				d.dispatch.Pause()
			case bus.SignalResume:
				d.dispatch.Resume()
			case bus.SignalStop:
				d.dispatch.Stop()
			}
		},
	})
	d.messageBus.Register(bus.TopicSignal, bus.Subscriber{
		Name: "watcher",
		Handler: func(payload any) {
			if payload == bus.SignalStop {
				d.watch.Stop()
			}
		},
	})
	d.messageBus.Register(bus.TopicSignal, bus.Subscriber{
		Name: "periodic-loops",
		Handler: func(payload any) {
			if payload == bus.SignalStop {
				d.retry.Stop()
				d.fullsync.Stop()
				d.probe.Stop()
				d.mon.Stop()
			}
		},
	})
}

// Run starts every component and blocks until a stop arrives, from a
// signal or from the monitor. Always exits zero once running; only
// startup failures produce non-zero codes.
func (d *Daemon) Run() int {
	if err := WritePIDFile(d.paths.PIDFile); err != nil {
		d.logger.Error("write pid file failed", "error", err)
		return 3
	}
	defer RemovePIDFile(d.paths.PIDFile)

	if err := d.watch.Start(); err != nil {
		d.logger.Error("watcher start failed", "error", err)
		return 3
	}
	d.probe.Start()
	d.pool.Start()
	d.retry.Start()
	d.fullsync.Start()
	d.dispatch.Start()
	d.mon.Start()
	if d.ops != nil {
		d.ops.Start()
	}
	d.messageBus.Notify(bus.TopicSignal, bus.SignalStart)
	d.logger.Info("filesync started", "pid", os.Getpid(), "watcher_pid", d.watch.PID())

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, controlSignals...)
	defer signal.Stop(sigCh)

	// The flag files are a legacy control path: touching them has the
	// same effect as the reload/status signals.
	flagTicker := time.NewTicker(time.Second)
	defer flagTicker.Stop()

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case SigStop:
				d.shutdown()
				return 0
			case SigPause:
				d.logger.Info("pause requested")
				d.messageBus.Notify(bus.TopicSignal, bus.SignalPause)
			case SigResume:
				d.logger.Info("resume requested")
				d.messageBus.Notify(bus.TopicSignal, bus.SignalResume)
			case SigReload:
				d.reload()
			case SigStatus:
				d.publishStatus()
			}
		case <-d.reloadCh:
			d.reload()
		case <-d.stopCh:
			d.shutdown()
			return 0
		case <-flagTicker.C:
			d.checkFlagFiles()
		}
	}
}

// reload rotates the config generations and respawns the watcher. A
// failed parse keeps the prior snapshots; the daemon never exits over
// a reload.
func (d *Daemon) reload() {
	d.logger.Info("reload filesync start")
	d.messageBus.Notify(bus.TopicSignal, bus.SignalReload)

	if err := d.store.Reload(); err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.ReloadsTotal.WithLabelValues("success").Inc()
		if appeared := d.store.AppearedListens(); len(appeared) > 0 {
			d.logger.Info("listen paths appeared", "paths", appeared)
		}
	}
	if err := d.watch.Reload(); err != nil {
		d.logger.Error("watcher reload failed", "error", err)
		return
	}
	metrics.WatcherRestarts.Inc()
}

// publishStatus writes the status block where the CLI polls for it and
// mirrors it into the log.
func (d *Daemon) publishStatus() {
	d.messageBus.Notify(bus.TopicSignal, bus.SignalStatus)
	info := d.statusInfo().Render()
	if err := writeStatusFile(d.paths.StatusFlag+".tmp", info); err != nil {
		d.logger.Error("write status file failed", "error", err)
	}
	d.logger.Info("status requested", "status", "\n"+info)
}

func (d *Daemon) statusInfo() StatusInfo {
	return StatusInfo{
		DaemonPID:  os.Getpid(),
		WatcherPID: d.watch.PID(),
		SessionID:  d.sessionID,
		Syncing:    d.pool.Syncing(),
		Waiting:    d.tasks.Snapshot(),
		Retry:      d.retryQ.Snapshot(),
		LiveIPs:    d.liveIPs.Snapshot(),
		Missing:    d.missing.Snapshot(),
	}
}

// checkFlagFiles honors the overwritable run/ touchpoints.
func (d *Daemon) checkFlagFiles() {
	if _, err := os.Stat(d.paths.ReloadFlag); err == nil {
		_ = os.Remove(d.paths.ReloadFlag)
		d.reload()
	}
	if _, err := os.Stat(d.paths.StatusFlag); err == nil {
		_ = os.Remove(d.paths.StatusFlag)
		d.publishStatus()
	}
}

// shutdown is cooperative: loops get their run flags cleared, the
// watcher subprocess is killed, queued tasks are dropped. In-flight
// transfers finish inside their worker loops before those exit.
func (d *Daemon) shutdown() {
	d.logger.Info("stopping filesync")
	d.messageBus.Notify(bus.TopicSignal, bus.SignalStop)
	if d.ops != nil {
		d.ops.Stop()
	}
	if d.hist != nil {
		_ = d.hist.Close()
	}
	d.logger.Info("filesync stopped")
}
