package detections

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Session is anything the pool can hand out and tear down.
type Session interface {
	Destroy()
}

// SessionPool hands out at most size sessions at a time. With size 1 it
// serializes every inference on the single loaded model.
type SessionPool[S Session] struct {
	sessions       chan S
	size           int
	acquireTimeout time.Duration
	mu             sync.Mutex
	closed         bool
	checkedOut     sync.WaitGroup
	metrics        *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	AcquireFailures int64
	WaitTime        time.Duration
}

// PoolSnapshot is a copy of the metrics safe to hand to callers.
type PoolSnapshot struct {
	Size            int           `json:"pool_size"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// NewSessionPool creates size sessions up front. If any fails, the ones
// already built are destroyed.
func NewSessionPool[S Session](size int, newSession func() (S, error)) (*SessionPool[S], error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool[S]{
		sessions:       make(chan S, size),
		size:           size,
		acquireTimeout: AcquireTimeout,
		metrics:        &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

func (p *SessionPool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S
	if p.isClosed() {
		return zero, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return zero, fmt.Errorf("pool is closed")
		}
		// Counted under mu so Wait cannot miss a session taken just
		// before Destroy.
		p.mu.Lock()
		p.checkedOut.Add(1)
		p.mu.Unlock()

		p.metrics.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.AcquireFailures++
		p.metrics.mu.Unlock()
		return zero, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (p *SessionPool[S]) Release(session S) {
	defer p.checkedOut.Done()
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.mu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metrics.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

func (p *SessionPool[S]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

// Wait blocks until every acquired session has been released, including
// runs abandoned by a timeout.
func (p *SessionPool[S]) Wait() {
	p.checkedOut.Wait()
}

func (p *SessionPool[S]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *SessionPool[S]) Metrics() PoolSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolSnapshot{
		Size:            p.size,
		InUse:           p.metrics.InUse,
		TotalAcquired:   p.metrics.TotalAcquired,
		TotalReleased:   p.metrics.TotalReleased,
		AcquireFailures: p.metrics.AcquireFailures,
		WaitTime:        p.metrics.WaitTime,
	}
}
