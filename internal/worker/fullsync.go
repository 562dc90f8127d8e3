package worker

import (
	"strconv"
	"time"

	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/loop"
)

// FullSyncLoop periodically replicates every listen root whose
// full_sync option is true, as synthetic tasks under the worker id
// "Full". Full sync never populates the retry queue: its next period
// is the retry.
type FullSyncLoop struct {
	pool  *Pool
	ready func() bool
	loop  *loop.Loop
}

// NewFullSyncLoop creates the loop. ready gates the first run: until
// the prober has completed one pass, every destination would look
// dead and the sweep would be a no-op with warn spam.
func NewFullSyncLoop(pool *Pool, ready func() bool) *FullSyncLoop {
	period := time.Hour
	if raw, ok := pool.store.GetGlobal("fullsync_period"); ok {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			period = time.Duration(secs * float64(time.Second))
		}
	}
	f := &FullSyncLoop{pool: pool, ready: ready}
	f.loop = loop.New("fullsync", period, func(int) { f.tick() })
	return f
}

func (f *FullSyncLoop) tick() {
	f.waitForReady()

	var batch []string
	for _, listen := range f.pool.store.ListenPaths(config.Current) {
		if v, _ := f.pool.store.Get("full_sync", listen, config.Current); v != "true" {
			continue
		}
		batch = append(batch, listen)
	}
	if len(batch) == 0 {
		return
	}
	f.pool.Process("Full", batch, true)
}

func (f *FullSyncLoop) waitForReady() {
	for !f.ready() {
		time.Sleep(time.Second)
	}
}

// Start launches the loop.
func (f *FullSyncLoop) Start() { f.loop.Start() }

// Stop ends the loop.
func (f *FullSyncLoop) Stop() { f.loop.Stop() }
