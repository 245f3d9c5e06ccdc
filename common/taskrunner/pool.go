// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package taskrunner provides the worker pool that document inserts are
// handed to, and a Runner that keeps one caller's tasks in order on top of
// that pool.
package taskrunner

import (
	"sync"

	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"
)

// ErrPoolShutdown is returned when scheduling on a pool that is shut down.
var ErrPoolShutdown = errors.New("task pool is shut down")

// Task is a unit of work run by a pool worker.
type Task func()

// Pool runs tasks on a fixed number of workers fed from a bounded queue.
// Tasks submitted to a Pool may run in any order; use a Runner when order
// matters.
type Pool struct {
	tasks chan Task
	t     tomb.Tomb

	mu     sync.RWMutex
	closed bool
}

// NewPool starts numWorkers workers reading from a queue that holds up to
// queueDepth tasks. Both values are raised to 1 if smaller.
func NewPool(numWorkers, queueDepth int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{tasks: make(chan Task, queueDepth)}
	for i := 0; i < numWorkers; i++ {
		p.t.Go(p.work)
	}
	log.Logvf(log.DebugHigh, "started task pool with %v workers", numWorkers)
	return p
}

func (p *Pool) work() error {
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return nil
			}
			task()
		case <-p.t.Dying():
			return nil
		}
	}
}

// Schedule queues task, blocking while the queue is full.
func (p *Pool) Schedule(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolShutdown
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.t.Dying():
		return ErrPoolShutdown
	}
}

// Shutdown stops accepting tasks, lets the workers finish everything
// already queued, and waits for them to exit.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	return p.t.Wait()
}
