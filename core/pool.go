package core

import (
	"fmt"
	"sync/atomic"
)

// Pool is a bounded pool of reusable items. Unlike sync.Pool its contents
// are never reclaimed by the garbage collector and its capacity is fixed at
// creation, which bounds the memory pinned by large scratch objects
// (codec workspaces, bounce buffers). Get blocks until an item is returned;
// TryGet never blocks. Pools guarantee no two concurrent borrowers receive
// the same item.
type Pool[T any] struct {
	items chan T

	// Metrics
	hits  atomic.Uint64 // items handed out without waiting
	waits atomic.Uint64 // Get calls that had to block
}

// NewPool creates a pool prefilled with capacity items built by newItem.
// Construction failures are reported immediately so activation can abort
// before any durable state changes.
func NewPool[T any](capacity int, newItem func() (T, error)) (*Pool[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: pool capacity %d", ErrPoolExhausted, capacity)
	}
	p := &Pool[T]{items: make(chan T, capacity)}
	for i := 0; i < capacity; i++ {
		item, err := newItem()
		if err != nil {
			return nil, fmt.Errorf("%w: populating item %d: %v", ErrPoolExhausted, i, err)
		}
		p.items <- item
	}
	return p, nil
}

// Get borrows an item, blocking until one is available.
func (p *Pool[T]) Get() T {
	select {
	case item := <-p.items:
		p.hits.Add(1)
		return item
	default:
	}
	p.waits.Add(1)
	return <-p.items
}

// TryGet borrows an item without blocking.
func (p *Pool[T]) TryGet() (T, bool) {
	select {
	case item := <-p.items:
		p.hits.Add(1)
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Put returns a borrowed item. Returning an item that was not borrowed from
// this pool is a caller defect.
func (p *Pool[T]) Put(item T) {
	select {
	case p.items <- item:
	default:
		panic("core: pool overfilled, item returned twice or to the wrong pool")
	}
}

// Cap returns the pool's fixed capacity.
func (p *Pool[T]) Cap() int { return cap(p.items) }

// Metrics returns the hit and wait counters.
func (p *Pool[T]) Metrics() (hits, waits uint64) {
	return p.hits.Load(), p.waits.Load()
}

// BytePool is a bounded pool of fixed-size byte buffers, used for bounce
// buffers sized to the maximum encoded extent.
type BytePool struct {
	pool    *Pool[[]byte]
	bufSize int
}

// NewBytePool creates a pool of capacity buffers of bufSize bytes each.
func NewBytePool(capacity, bufSize int) (*BytePool, error) {
	p, err := NewPool(capacity, func() ([]byte, error) {
		return make([]byte, bufSize), nil
	})
	if err != nil {
		return nil, err
	}
	return &BytePool{pool: p, bufSize: bufSize}, nil
}

// Get borrows a buffer, blocking until one is available.
func (p *BytePool) Get() []byte { return p.pool.Get() }

// TryGet borrows a buffer without blocking.
func (p *BytePool) TryGet() ([]byte, bool) { return p.pool.TryGet() }

// Put returns a borrowed buffer.
func (p *BytePool) Put(b []byte) {
	Assertf(len(b) == p.bufSize, "core: returned buffer size %d, pool buffer size %d", len(b), p.bufSize)
	p.pool.Put(b)
}

// BufSize returns the size of each pooled buffer.
func (p *BytePool) BufSize() int { return p.bufSize }

// Metrics returns the hit and wait counters.
func (p *BytePool) Metrics() (hits, waits uint64) { return p.pool.Metrics() }
