package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// limiter bounds how many fallback pulls/pushes may run concurrently,
// independent of the per-job sequential-item semantics spec.md already
// specifies. Grounded in the teacher's GlobalLimiter (internal/daemon/limiter.go).
type limiter struct {
	limit int64
	sem   chan struct{}
}

func newLimiter(n int) *limiter {
	if n < 0 {
		n = 0
	}
	return &limiter{
		limit: int64(n),
		sem:   make(chan struct{}, 4096),
	}
}

func (l *limiter) setLimit(n int) {
	if n < 0 {
		n = 0
	}
	if n > cap(l.sem) {
		n = cap(l.sem)
	}
	atomic.StoreInt64(&l.limit, int64(n))
}

// acquire blocks until a slot is free or ctx is done. A limit of 0
// means unlimited.
func (l *limiter) acquire(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		limit := atomic.LoadInt64(&l.limit)
		if limit <= 0 {
			return true
		}
		if int64(len(l.sem)) < limit {
			select {
			case l.sem <- struct{}{}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(150 * time.Millisecond):
		}
	}
}

func (l *limiter) release() {
	select {
	case <-l.sem:
	default:
	}
}
