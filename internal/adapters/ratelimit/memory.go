package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	hits    int
	resetAt time.Time
}

// MemoryLimiter keeps attempt counters in process. It serves single-node
// deployments and tests; expired windows are swept in the background.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryLimiter(sweepInterval time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: map[string]*window{},
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go l.sweepLoop(sweepInterval)
	}
	return l
}

func (l *MemoryLimiter) Hit(_ context.Context, key string, decay time.Duration) (int, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(decay)}
		l.windows[key] = w
	}
	w.hits++
	return w.hits, w.resetAt.Sub(now), nil
}

func (l *MemoryLimiter) Clear(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// Close stops the sweeper.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *MemoryLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *MemoryLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
