// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"
	"sync"

	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/mongodb/mongo-tenant-tools/common/taskrunner"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// BatchInsertPipeline hands batches received from the donor to insert
// tasks that run on a worker pool, one at a time and in submission order.
//
// Submit only appends to the pending buffer and schedules a task; each task
// swaps the whole buffer out under the lock and inserts it without holding
// the lock. A task that finds the buffer empty, because an earlier task
// already took its documents, does nothing.
type BatchInsertPipeline struct {
	sourceNs  string
	recipient RecipientStorage
	runner    *taskrunner.Runner
	tracker   *ProgressTracker
	shared    *SharedData

	// target is set by the cloning flow before the first Submit.
	target options.Namespace

	mu      sync.Mutex
	pending []bson.Raw

	// written only by insert tasks, read after Drain
	failure *util.DataGuard[error]
	lastID  bson.RawValue
}

// NewBatchInsertPipeline returns a pipeline whose tasks run on pool.
func NewBatchInsertPipeline(
	sourceNs string,
	recipient RecipientStorage,
	pool *taskrunner.Pool,
	tracker *ProgressTracker,
	shared *SharedData,
) *BatchInsertPipeline {
	return &BatchInsertPipeline{
		sourceNs:  sourceNs,
		recipient: recipient,
		runner:    taskrunner.NewRunner(pool),
		tracker:   tracker,
		shared:    shared,
		failure:   util.NewDataGuard[error](nil),
	}
}

// SetTarget sets the recipient collection that batches are inserted into.
func (p *BatchInsertPipeline) SetTarget(ns options.Namespace) {
	p.target = ns
}

// Submit takes ownership of batch and schedules its insertion.
func (p *BatchInsertPipeline) Submit(ctx context.Context, batch []bson.Raw) error {
	p.tracker.BatchReceived()

	p.mu.Lock()
	p.pending = append(p.pending, batch...)
	p.mu.Unlock()

	if err := p.runner.Schedule(func() { p.insertPending(ctx) }); err != nil {
		return errors.Wrapf(err, "error cloning collection '%v'", p.sourceNs)
	}
	return nil
}

func (p *BatchInsertPipeline) insertPending(ctx context.Context) {
	var docs []bson.Raw
	p.mu.Lock()
	docs, p.pending = p.pending, nil
	p.mu.Unlock()

	if len(docs) == 0 {
		log.Logvf(log.DebugLow, "insert task for %v found no documents to insert", p.sourceNs)
		return
	}
	if p.Err() != nil {
		// ordered: nothing after a failed batch may be applied
		return
	}

	res, err := p.recipient.InsertDocuments(ctx, p.target, docs)
	if err == nil && res.Last() == nil {
		p.lastID = docs[len(docs)-1].Lookup("_id")
		p.tracker.BatchInserted(len(docs))
		return
	}

	applied := res.Applied()
	if applied > 0 {
		p.lastID = docs[applied-1].Lookup("_id")
	}
	p.tracker.AddCopied(int64(applied))

	cause := err
	if cause == nil {
		cause = res.Errors[res.FirstFailure()]
	}
	cerr := newCloneError(WriteFailed, p.sourceNs,
		errors.Wrapf(cause, "Tenant collection cloner: insert documents: %v of %v applied", applied, len(docs)))
	p.failure.Store(func(prev error) error {
		if prev != nil {
			return prev
		}
		return cerr
	})
	p.shared.SetFailure(cerr)
}

// Drain blocks until every scheduled insert task has finished.
func (p *BatchInsertPipeline) Drain() {
	p.runner.Join()
}

// Err returns the first insert failure, if any.
func (p *BatchInsertPipeline) Err() error {
	return p.failure.GetValue()
}

// LastInsertedID returns the _id of the last document known to be applied.
// It is only meaningful after Drain.
func (p *BatchInsertPipeline) LastInsertedID() (bson.RawValue, bool) {
	return p.lastID, p.lastID.Type != 0
}
