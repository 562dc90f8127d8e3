package worker

import (
	"strconv"
	"time"

	"github.com/vitaliisemenov/filesync/internal/loop"
	"github.com/vitaliisemenov/filesync/internal/metrics"
)

// defaultRetryPeriod applies when GLOBAL carries no retry_period.
const defaultRetryPeriod = 60 * time.Second

// RetryLoop periodically drains the retry queue and re-runs the
// transfers with terminal-failure semantics under the synthetic worker
// id "Retry".
type RetryLoop struct {
	pool *Pool
	loop *loop.Loop
}

// NewRetryLoop creates the loop; the period comes from GLOBAL
// retry_period when present.
func NewRetryLoop(pool *Pool) *RetryLoop {
	period := defaultRetryPeriod
	if raw, ok := pool.store.GetGlobal("retry_period"); ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			period = time.Duration(secs) * time.Second
		}
	}
	r := &RetryLoop{pool: pool}
	r.loop = loop.New("retry", period, func(int) { r.tick() })
	return r
}

func (r *RetryLoop) tick() {
	metrics.QueueDepth.WithLabelValues("retry").Set(float64(r.pool.retry.Len()))
	batch := r.pool.retry.TakeAll()
	if len(batch) == 0 {
		return
	}
	r.pool.Process("Retry", batch, true)
}

// Start launches the loop.
func (r *RetryLoop) Start() { r.loop.Start() }

// Stop ends the loop.
func (r *RetryLoop) Stop() { r.loop.Stop() }
