package worker

import (
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/core"
)

// resolverCacheSize bounds the task→listen cache. Tasks repeat heavily
// (parent-directory promotion funnels bursts onto few paths), so a
// small LRU absorbs almost all lookups between reloads.
const resolverCacheSize = 1024

type resolution struct {
	listen string
	gen    config.Generation
}

// Resolver maps a task path to its owning listen root: longest-prefix
// match against the current generation first, then previous. Results
// are cached per snapshot pair; installing a new generation drops the
// cache wholesale.
type Resolver struct {
	store *config.Store

	mu      sync.Mutex
	cache   *lru.Cache[string, resolution]
	stamped *config.Snapshot
}

// NewResolver creates a resolver over the store.
func NewResolver(store *config.Store) *Resolver {
	cache, _ := lru.New[string, resolution](resolverCacheSize)
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the owning listen root and the generation that owns
// it. A task neither generation contains yields ErrTaskUnresolvable.
func (r *Resolver) Resolve(task string) (string, config.Generation, error) {
	current := r.store.Generation(config.Current)
	r.mu.Lock()
	if current != r.stamped {
		r.cache.Purge()
		r.stamped = current
	}
	r.mu.Unlock()

	if res, ok := r.cache.Get(task); ok {
		return res.listen, res.gen, nil
	}

	for _, gen := range []config.Generation{config.Current, config.Previous} {
		if listen, ok := longestPrefix(r.store.ListenPaths(gen), task); ok {
			r.cache.Add(task, resolution{listen: listen, gen: gen})
			return listen, gen, nil
		}
	}
	return "", config.Current, core.ErrTaskUnresolvable
}

// longestPrefix picks the listen whose path is the longest ancestor of
// (or equal to) task.
func longestPrefix(listens []string, task string) (string, bool) {
	task = filepath.Clean(task)
	best := ""
	for _, listen := range listens {
		l := filepath.Clean(listen)
		if !contains(l, task) {
			continue
		}
		if len(l) > len(best) {
			best = l
		}
	}
	return best, best != ""
}

// contains reports whether dir equals path or is one of its ancestors.
func contains(dir, path string) bool {
	if dir == path {
		return true
	}
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
