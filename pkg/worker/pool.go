package worker

import (
	"context"
	"fmt"
	"sync"
)

// Pool runs several independent consumers in one process. They share
// nothing but the queue's group semantics.
type Pool struct {
	workers []*Worker
}

// NewPool creates n workers named "<base.Consumer>-<i>". newWorker builds
// each one from its config.
func NewPool(n int, base Config, newWorker func(cfg Config) *Worker) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{}
	for i := range n {
		cfg := base
		cfg.Consumer = fmt.Sprintf("%s-%d", base.Consumer, i)
		p.workers = append(p.workers, newWorker(cfg))
	}
	return p
}

// Workers returns the pool members.
func (p *Pool) Workers() []*Worker { return p.workers }

// Run starts every worker and waits for all of them to return. Cancelling
// ctx stops polling; jobs in flight finish first.
func (p *Pool) Run(ctx context.Context) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("worker %s: %w", w.Consumer(), err)
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return firstErr
}
