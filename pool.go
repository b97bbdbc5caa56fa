package jsbridge

import (
	"sync"

	"go.uber.org/zap"
)

// Pool keeps idle Runtimes for callers that want one Runtime per goroutine.
// A Runtime taken with Get belongs to the caller until it is handed back
// with Put. Put resets it, so the next borrower never sees the previous
// one's preamble fragments or globals.
type Pool struct {
	cfg    Config
	opts   []Option
	m      sync.Mutex
	saved  []*Runtime
	closed bool
	log    *zap.Logger
}

func NewPool(cfg Config, opts ...Option) *Pool {
	size := cfg.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &Pool{
		cfg:   cfg,
		opts:  opts,
		saved: make([]*Runtime, 0, size),
		log:   buildOptions(opts).log,
	}
	return p
}

// Get returns an idle Runtime, creating one when none is saved.
func (p *Pool) Get() (*Runtime, error) {
	p.m.Lock()
	if p.closed {
		p.m.Unlock()
		return nil, ErrClosed
	}
	n := len(p.saved)
	if n > 0 {
		x := p.saved[n-1]
		p.saved = p.saved[0 : n-1]
		p.m.Unlock()
		return x, nil
	}
	p.m.Unlock()
	return p.New()
}

// Put resets a Runtime and hands it back. Closed runtimes are dropped, and
// runtimes that fail to reset, exceed the pool size or are returned after
// Shutdown are closed.
func (p *Pool) Put(r *Runtime) {
	if r == nil || r.closed {
		return
	}
	if err := r.Reset(); err != nil {
		p.log.Warn("runtime reset failed, closing runtime", zap.Error(err))
		r.Close()
		return
	}
	p.m.Lock()
	defer p.m.Unlock()
	if p.closed || len(p.saved) >= cap(p.saved) {
		if !p.closed {
			p.log.Warn("runtime pool full, closing runtime", zap.Int("size", cap(p.saved)))
		}
		r.Close()
		return
	}
	p.saved = append(p.saved, r)
}

// Shutdown closes every idle Runtime. Runtimes still checked out are closed
// when they are Put back.
func (p *Pool) Shutdown() {
	p.m.Lock()
	defer p.m.Unlock()
	p.closed = true
	for _, r := range p.saved {
		r.Close()
	}
	p.saved = nil
}

// Idle reports how many Runtimes are waiting in the pool.
func (p *Pool) Idle() int {
	p.m.Lock()
	defer p.m.Unlock()
	return len(p.saved)
}

func (p *Pool) New() (*Runtime, error) {
	return New(p.cfg, p.opts...)
}
