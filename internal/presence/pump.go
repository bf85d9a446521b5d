package presence

import (
	"sync"
)

// Pump queues continuations posted from I/O goroutines and runs them on the
// goroutine that calls Pump. It is the only path by which asynchronous results
// reach connection and presence state.
type Pump struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
}

// NewPump creates an empty pump.
func NewPump() *Pump {
	return &Pump{}
}

// Post enqueues fn. It is safe to call from any goroutine and never blocks on
// the tick goroutine. Posts after Close are dropped and reported as false.
func (p *Pump) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, fn)
	return true
}

// Pump runs every continuation queued before the call in FIFO order and returns
// how many ran. Continuations posted while draining run on the next call.
func (p *Pump) Pump() int {
	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Len returns the number of queued continuations.
func (p *Pump) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close drops queued continuations and rejects further posts.
func (p *Pump) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
}
