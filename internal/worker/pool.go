// Package worker implements the transfer stage of the pipeline: the
// worker pool draining the task queue, the command composition per
// destination, the retry loop and the periodic full sync.
package worker

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/core"
	"github.com/vitaliisemenov/filesync/internal/loop"
	"github.com/vitaliisemenov/filesync/internal/metrics"
	"github.com/vitaliisemenov/filesync/internal/queue"
	"github.com/vitaliisemenov/filesync/internal/state"
)

// workerPeriod is the idle sleep between batch attempts.
const workerPeriod = time.Second

// Recorder persists transfer outcomes. The pool tolerates a nil
// recorder; history is an audit trail, never a dependency.
type Recorder interface {
	RecordTransfer(worker, task, dest string, exitCode int, isRetry bool, duration time.Duration)
}

// Pool drives thread_count workers over the task queue and owns the
// shared per-task processing used by the retry and full-sync loops.
type Pool struct {
	count     int
	rsyncTool string
	rsyncUser string

	store    *config.Store
	tasks    *queue.Dedup
	retry    *queue.Dedup
	inflight *state.InFlight
	liveIPs  *state.StringSet
	resolver *Resolver
	runner   CommandRunner
	recorder Recorder
	logger   *slog.Logger

	loops *loop.Pool
}

// PoolConfig wires the pool's collaborators.
type PoolConfig struct {
	Store     *config.Store
	Tasks     *queue.Dedup
	Retry     *queue.Dedup
	InFlight  *state.InFlight
	LiveIPs   *state.StringSet
	Runner    CommandRunner
	Recorder  Recorder
	RsyncTool string
	RsyncUser string
	Logger    *slog.Logger
}

// NewPool validates thread_count (1..100) and builds the pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	raw, _ := cfg.Store.GetGlobal("thread_count")
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 || count > 100 {
		return nil, core.Configf("thread_count is invalid: %s", raw)
	}

	p := &Pool{
		count:     count,
		rsyncTool: cfg.RsyncTool,
		rsyncUser: cfg.RsyncUser,
		store:     cfg.Store,
		tasks:     cfg.Tasks,
		retry:     cfg.Retry,
		inflight:  cfg.InFlight,
		liveIPs:   cfg.LiveIPs,
		resolver:  NewResolver(cfg.Store),
		runner:    cfg.Runner,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
	}
	p.loops = loop.NewPool("worker", count, workerPeriod, p.tick)
	return p, nil
}

// WorkerCount returns the configured pool size.
func (p *Pool) WorkerCount() int { return p.count }

// Syncing returns the tasks currently in flight, for the status block.
func (p *Pool) Syncing() []string { return p.inflight.Snapshot() }

// Start launches the worker loops.
func (p *Pool) Start() { p.loops.Start() }

// Stop ends the worker loops after their in-progress batches.
func (p *Pool) Stop() { p.loops.Stop() }

// Pause suspends batch pulling; in-flight transfers finish.
func (p *Pool) Pause() { p.loops.Pause() }

// Resume releases paused workers.
func (p *Pool) Resume() { p.loops.Resume() }

// tick is one worker iteration: pull a batch and process it serially.
// An empty queue just sleeps out the period.
func (p *Pool) tick(id int) {
	metrics.QueueDepth.WithLabelValues("task").Set(float64(p.tasks.Len()))
	batch := p.tasks.TakeBatch(p.count)
	if len(batch) == 0 {
		return
	}
	workerID := strconv.Itoa(id)
	p.logger.Info("worker got tasks",
		"worker", workerID, "count", len(batch), "tasks", strings.Join(batch, "\n"))
	p.Process(workerID, batch, false)
}

// Process runs a batch serially under the in-flight discipline. A task
// some other worker already holds is deferred to a second pass at the
// end of the batch; if it still collides there it is dropped. Retry
// batches (the retry loop, full sync) use isRetry=true: their failures
// are terminal and never re-enter the retry queue.
func (p *Pool) Process(workerID string, batch []string, isRetry bool) {
	var collisions []string
	for _, task := range batch {
		if !p.inflight.TryAcquire(task) {
			p.logger.Debug("task collides with in-flight transfer",
				"worker", workerID, "task", task)
			collisions = append(collisions, task)
			continue
		}
		p.processOne(workerID, task, isRetry)
	}

	for _, task := range collisions {
		if !p.inflight.TryAcquire(task) {
			p.logger.Debug("task still syncing, ignored",
				"worker", workerID, "task", task)
			metrics.TasksDropped.WithLabelValues("collision").Inc()
			continue
		}
		p.processOne(workerID, task, isRetry)
	}
}

// processOne resolves, composes and executes the transfers for one
// task. The caller has acquired the in-flight mark; it is released
// here.
func (p *Pool) processOne(workerID, task string, isRetry bool) {
	defer p.inflight.Release(task)

	listen, gen, err := p.resolver.Resolve(task)
	if err != nil {
		p.logger.Error("task not in config ini, ignore",
			"worker", workerID, "task", task)
		metrics.TasksDropped.WithLabelValues("unresolvable").Inc()
		return
	}
	if gen == config.Previous {
		p.logger.Warn("task resolved via previous config generation",
			"worker", workerID, "task", task, "listen", listen)
	}

	// Transient paths vanish between event and transfer; that is a
	// drop, not a failure.
	if _, err := os.Stat(task); err != nil {
		p.logger.Warn("task path is not exist, ignore",
			"worker", workerID, "task", task)
		metrics.TasksDropped.WithLabelValues("vanished").Inc()
		return
	}

	opts := readOptions(p.store, listen, gen)
	failed := false
	for _, ip := range opts.RemoteIPs {
		if !p.liveIPs.Contains(ip) {
			p.logger.Warn("unavailable IP, ignore destination",
				"worker", workerID, "ip", ip, "task", task)
			continue
		}
		if !p.runCommand(workerID, task, ip, opts, isRetry) {
			failed = true
		}
	}

	if failed && !isRetry {
		p.retry.Push(task)
	}
}

// runCommand executes one per-destination transfer and logs/records
// the outcome. Returns true on exit 0.
func (p *Pool) runCommand(workerID, task, ip string, opts TransferOptions, isRetry bool) bool {
	line := ComposeCommand(p.rsyncTool, p.rsyncUser, task, ip, opts)
	p.logger.Debug("exec transfer", "worker", workerID, "cmd", line)

	start := time.Now()
	code, _, detail, err := p.runner.Run(line)
	cost := time.Since(start)
	metrics.TransferDuration.Observe(cost.Seconds())

	retryLabel := "first"
	if isRetry {
		retryLabel = "retry"
	}
	if p.recorder != nil {
		p.recorder.RecordTransfer(workerID, task, ip, code, isRetry, cost)
	}

	if err == nil && code == 0 {
		metrics.TransfersTotal.WithLabelValues("success", retryLabel).Inc()
		p.logger.Info("sync success",
			"worker", workerID, "task", task, "dest", ip,
			"cost", fmt.Sprintf("%.3fs", cost.Seconds()))
		return true
	}

	metrics.TransfersTotal.WithLabelValues("failure", retryLabel).Inc()
	msg := "sync failed"
	if isRetry {
		p.logger.Error(msg,
			"worker", workerID, "task", task, "dest", ip,
			"ret", code, "detail", detail, "error", err)
	} else {
		p.logger.Warn(msg,
			"worker", workerID, "task", task, "dest", ip,
			"ret", code, "detail", detail, "error", err)
	}
	return false
}
