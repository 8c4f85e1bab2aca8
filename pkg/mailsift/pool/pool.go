// Package pool implements the bounded connection pool that arbitrates
// inference-client handles. The internal channel is the sole arbiter of
// handle ownership: no two workers ever hold the same handle at once.
package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jamesainslie/mailsift/pkg/mailsift/inference"
	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
)

// Pool size bounds. The size is fixed at construction from the hardware
// profile recommendation or an explicit override; it never grows.
const (
	MinSize = 1
	MaxSize = 5
)

// Sentinel errors.
var (
	// ErrAcquireTimeout is returned when no handle becomes available
	// within the caller's deadline.
	ErrAcquireTimeout = errors.New("connection pool exhausted: acquire timed out")

	// ErrClosed is returned when acquiring from a closed pool.
	ErrClosed = errors.New("connection pool is closed")
)

// Handle wraps one inference-client handle. A handle is either idle
// (queued in the pool) or active (held by exactly one worker).
type Handle struct {
	ID     int
	Client inference.Caller
}

// Stats is a point-in-time view of pool utilization.
type Stats struct {
	Size     int   `json:"size"`
	InUse    int   `json:"in_use"`
	Idle     int   `json:"idle"`
	Acquires int64 `json:"acquires"`
	Timeouts int64 `json:"timeouts"`
}

// Pool is a fixed-size, queue-based handout of inference handles.
// Acquire blocks until a handle is free or the context expires; Release
// always returns the handle regardless of how the borrowing call ended.
type Pool struct {
	size    int
	handles chan *Handle
	closed  atomic.Bool
	logger  *logging.Logger

	inUse    atomic.Int64
	acquires atomic.Int64
	timeouts atomic.Int64
}

// New creates a pool of the given size, clamped to [MinSize, MaxSize].
// The factory is called once per slot to create its client handle.
func New(size int, factory func(slot int) inference.Caller) *Pool {
	if size < MinSize {
		size = MinSize
	}
	if size > MaxSize {
		size = MaxSize
	}

	p := &Pool{
		size:    size,
		handles: make(chan *Handle, size),
		logger:  logging.Get("pool"),
	}

	for i := 0; i < size; i++ {
		p.handles <- &Handle{ID: i, Client: factory(i)}
	}

	p.logger.Info("connection pool ready", "size", size)
	return p
}

// Size returns the fixed pool size.
func (p *Pool) Size() int {
	return p.size
}

// Acquire blocks until a handle is available, the context expires, or
// the pool closes. On deadline expiry it returns ErrAcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	select {
	case h := <-p.handles:
		if p.closed.Load() {
			// Closed while we were waiting; do not hand the slot out.
			return nil, ErrClosed
		}
		p.inUse.Add(1)
		p.acquires.Add(1)
		return h, nil

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.timeouts.Add(1)
			return nil, ErrAcquireTimeout
		}
		return nil, ctx.Err()
	}
}

// Release returns a handle to the pool. Callers release via defer so
// every exit path, including panics, hands the slot back.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}

	p.inUse.Add(-1)

	if p.closed.Load() {
		return
	}

	select {
	case p.handles <- h:
	default:
		// A handle returned twice would overflow the queue; drop it
		// rather than corrupt slot accounting.
		p.logger.Warn("discarding handle released to full pool", "handle", h.ID)
	}
}

// Stats returns current pool utilization.
func (p *Pool) Stats() Stats {
	inUse := int(p.inUse.Load())
	return Stats{
		Size:     p.size,
		InUse:    inUse,
		Idle:     p.size - inUse,
		Acquires: p.acquires.Load(),
		Timeouts: p.timeouts.Load(),
	}
}

// Close marks the pool closed. Outstanding handles may still be
// released; subsequent acquires fail with ErrClosed.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.logger.Info("connection pool closed")
	}
}
