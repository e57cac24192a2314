package sandbox

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("sandbox pool is closed")

// Pool keeps pre-built runtimes ready. A runtime runs exactly one document;
// Release closes it and a replacement is built in the background.
type Pool struct {
	config Config
	warm   chan *Runtime
	size   int
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a sandbox pool
func NewPool(config Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}

	pool := &Pool{
		config: config,
		warm:   make(chan *Runtime, size),
		size:   size,
	}

	// Pre-create sandboxes
	for i := 0; i < size; i++ {
		rt, err := New(config)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.warm <- rt
	}

	return pool, nil
}

// Acquire returns a fresh runtime, building one if none is ready.
func (p *Pool) Acquire(ctx context.Context) (*Runtime, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	select {
	case rt := <-p.warm:
		return rt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return New(p.config)
	}
}

// Release retires rt and schedules a replacement.
func (p *Pool) Release(rt *Runtime) error {
	err := rt.Close()

	p.mu.RLock()
	closed := p.closed
	if !closed {
		p.wg.Add(1)
	}
	p.mu.RUnlock()

	if !closed {
		go p.refill()
	}
	return err
}

func (p *Pool) refill() {
	defer p.wg.Done()

	rt, err := New(p.config)
	if err != nil {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		rt.Close()
		return
	}
	select {
	case p.warm <- rt:
	default:
		// Pool full, close sandbox
		rt.Close()
	}
}

// Run executes document on a fresh runtime
func (p *Pool) Run(ctx context.Context, document string, post PostFunc) (*Result, error) {
	rt, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(rt)

	return rt.Run(ctx, document, post)
}

// Close closes pool and all sandboxes
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.warm)

	for rt := range p.warm {
		rt.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"size":      p.size,
		"available": len(p.warm),
		"closed":    p.closed,
	}
}
