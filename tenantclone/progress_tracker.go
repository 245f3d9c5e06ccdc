// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/progress"
)

const (
	progressMeterTimeBetween   = 60 * time.Second
	progressMeterCheckInterval = 128
)

// progressMeter logs "documents copied" progress at most once per
// progressMeterTimeBetween, and only looks at the clock every
// progressMeterCheckInterval hits. It is not safe for concurrent use; the
// ProgressTracker serializes access.
type progressMeter struct {
	name    string
	clock   func() time.Time
	counter *progress.CountProgressor

	total   int64
	done    int64
	hits    int
	lastLog time.Time
}

func newProgressMeter(name string, clock func() time.Time) *progressMeter {
	return &progressMeter{
		name:    name,
		clock:   clock,
		counter: progress.NewCounter(1),
		total:   1,
		lastLog: clock(),
	}
}

func (pm *progressMeter) setTotal(total int64) {
	pm.total = total
	pm.counter.SetMax(total)
}

// hit records n more documents and reports whether a progress line was
// logged.
func (pm *progressMeter) hit(n int64) bool {
	pm.done += n
	pm.counter.Set(pm.done)
	pm.hits++
	if pm.hits%progressMeterCheckInterval != 0 {
		return false
	}
	now := pm.clock()
	if now.Sub(pm.lastLog) < progressMeterTimeBetween {
		return false
	}
	pm.lastLog = now

	percent := 0
	if pm.total > 0 {
		percent = int(pm.done * 100 / pm.total)
	}
	log.Logvf(log.Info, "%v: %v/%v documents copied %d%%",
		pm.name, humanize.Comma(pm.done), humanize.Comma(pm.total), percent)
	return true
}

// ProgressTracker holds a collection clone's counters. It is written by the
// cloning flow and by insert workers, and read by Stats at any time.
type ProgressTracker struct {
	mu    sync.Mutex
	clock func() time.Time
	stats Stats
	meter *progressMeter
}

// NewProgressTracker returns a tracker for the clone of ns.
func NewProgressTracker(ns string, clock func() time.Time) *ProgressTracker {
	if clock == nil {
		clock = time.Now
	}
	return &ProgressTracker{
		clock: clock,
		stats: Stats{Namespace: ns},
		meter: newProgressMeter(ns+" tenant collection clone progress", clock),
	}
}

// Counter returns a progress counter that follows documents copied, for
// attaching to a progress bar.
func (pt *ProgressTracker) Counter() progress.Progressor {
	return pt.meter.counter
}

// MarkStart records the start of the run.
func (pt *ProgressTracker) MarkStart() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.stats.Start = pt.clock()
}

// MarkEnd records the end of the run.
func (pt *ProgressTracker) MarkEnd() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.stats.End = pt.clock()
}

// SetDocumentsToCopy sets the expected document count. Negative counts are
// stored as zero.
func (pt *ProgressTracker) SetDocumentsToCopy(count int64) {
	if count < 0 {
		count = 0
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.stats.DocumentsToCopy = count
	pt.meter.setTotal(count)
}

// SetIndexes sets the number of indexes found on the donor.
func (pt *ProgressTracker) SetIndexes(n int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.stats.Indexes = n
}

// BatchReceived counts a batch read from the donor.
func (pt *ProgressTracker) BatchReceived() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.stats.ReceivedBatches++
}

// BatchInserted counts a batch of docs that was committed on the
// recipient.
func (pt *ProgressTracker) BatchInserted(docs int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.stats.DocumentsCopied += int64(docs)
	pt.stats.InsertedBatches++
	pt.meter.hit(int64(docs))
}

// AddCopied counts documents that are on the recipient without a full
// batch having been inserted: documents found when resuming, or the
// applied prefix of a failed batch.
func (pt *ProgressTracker) AddCopied(docs int64) {
	if docs <= 0 {
		return
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.stats.DocumentsCopied += docs
	pt.meter.hit(docs)
}

// Stats returns a snapshot of the counters.
func (pt *ProgressTracker) Stats() Stats {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.stats
}
