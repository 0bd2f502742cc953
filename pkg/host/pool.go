package host

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

type workerPool struct {
	name string
	size int
	sem  *semaphore.Weighted
}

func (p *workerPool) acquire(ctx context.Context) error { return p.sem.Acquire(ctx, 1) }
func (p *workerPool) release()                          { p.sem.Release(1) }

// pool returns the named worker pool, creating it on first use. The first
// deployment naming a pool fixes its size.
func (h *Host) pool(name string, size int) *workerPool {
	if name == "" {
		name = DefaultWorkerPoolName
	}
	if size < 1 {
		size = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pools[name]; ok {
		if p.size != size {
			log.Debug().Str("pool", name).Int("size", p.size).Int("requested", size).Msg("worker pool already sized")
		}
		return p
	}
	p := &workerPool{name: name, size: size, sem: semaphore.NewWeighted(int64(size))}
	h.pools[name] = p
	return p
}

// Pools reports the size of every worker pool created so far.
func (h *Host) Pools() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.pools))
	for name, p := range h.pools {
		out[name] = p.size
	}
	return out
}
