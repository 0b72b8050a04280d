package webfetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate bounds outbound fetch concurrency with one global semaphore and one
// lazily created semaphore per host. Waiters queue FIFO.
type Gate struct {
	global  *semaphore.Weighted
	perHost int64

	mu    sync.Mutex
	hosts map[string]*semaphore.Weighted
}

// NewGate creates a gate with the given global and per-host limits.
func NewGate(global, perHost int) *Gate {
	if global < 1 {
		global = 1
	}
	if perHost < 1 {
		perHost = 1
	}
	return &Gate{
		global:  semaphore.NewWeighted(int64(global)),
		perHost: int64(perHost),
		hosts:   make(map[string]*semaphore.Weighted),
	}
}

func (g *Gate) hostSem(host string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.hosts[host]
	if !ok {
		sem = semaphore.NewWeighted(g.perHost)
		g.hosts[host] = sem
	}
	return sem
}

// Acquire takes the global slot and then the host slot. The returned release
// function restores both and must be called on every exit path.
func (g *Gate) Acquire(ctx context.Context, host string) (func(), error) {
	if err := g.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	sem := g.hostSem(host)
	if err := sem.Acquire(ctx, 1); err != nil {
		g.global.Release(1)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			sem.Release(1)
			g.global.Release(1)
		})
	}, nil
}
