// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package taskrunner

import (
	"sync"
)

// Runner executes its tasks one at a time, in the order they were
// scheduled, on a shared Pool. At most one pool worker serves a Runner at
// any moment.
type Runner struct {
	pool *Pool

	mu      sync.Mutex
	idle    *sync.Cond
	queue   []Task
	running bool
}

// NewRunner returns a Runner backed by pool.
func NewRunner(pool *Pool) *Runner {
	r := &Runner{pool: pool}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// Schedule appends task to the Runner's queue.
func (r *Runner) Schedule(task Task) error {
	r.mu.Lock()
	r.queue = append(r.queue, task)
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	if err := r.pool.Schedule(r.runQueue); err != nil {
		r.mu.Lock()
		r.queue = nil
		r.running = false
		r.idle.Broadcast()
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Runner) runQueue() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.running = false
			r.idle.Broadcast()
			r.mu.Unlock()
			return
		}
		task := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mu.Unlock()

		task()
	}
}

// Join blocks until every task scheduled before the call has finished.
func (r *Runner) Join() {
	r.mu.Lock()
	for r.running {
		r.idle.Wait()
	}
	r.mu.Unlock()
}
