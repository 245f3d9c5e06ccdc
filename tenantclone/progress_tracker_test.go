// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"sync"
	"testing"
	"time"

	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestProgressTracker(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	Convey("With a progress tracker on a fake clock", t, func() {
		clock := newFakeClock()
		pt := NewProgressTracker("tenant1_db.orders", clock.Now)

		Convey("start and end come from the clock", func() {
			pt.MarkStart()
			clock.Advance(1500 * time.Millisecond)
			pt.MarkEnd()

			stats := pt.Stats()
			So(stats.Namespace, ShouldEqual, "tenant1_db.orders")
			So(stats.Elapsed(), ShouldEqual, 1500*time.Millisecond)
		})

		Convey("a negative document count is stored as zero", func() {
			pt.SetDocumentsToCopy(-3)
			So(pt.Stats().DocumentsToCopy, ShouldEqual, 0)
		})

		Convey("batches are counted separately from documents", func() {
			pt.SetDocumentsToCopy(10)
			pt.BatchReceived()
			pt.BatchReceived()
			pt.BatchInserted(7)
			pt.AddCopied(2)
			pt.AddCopied(-1)

			stats := pt.Stats()
			So(stats.ReceivedBatches, ShouldEqual, 2)
			So(stats.InsertedBatches, ShouldEqual, 1)
			So(stats.DocumentsCopied, ShouldEqual, 9)

			current, max := pt.Counter().Progress()
			So(current, ShouldEqual, 9)
			So(max, ShouldEqual, 10)
		})

		Convey("snapshots are copies", func() {
			before := pt.Stats()
			pt.BatchInserted(1)
			So(before.DocumentsCopied, ShouldEqual, 0)
		})
	})
}

func TestProgressMeterThrottling(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	Convey("The progress meter logs at most once a minute, checked every 128 hits", t, func() {
		clock := newFakeClock()
		pm := newProgressMeter("clone", clock.Now)
		pm.setTotal(1000)

		hits := func(n int) (logged int) {
			for i := 0; i < n; i++ {
				if pm.hit(1) {
					logged++
				}
			}
			return logged
		}

		So(hits(progressMeterCheckInterval), ShouldEqual, 0)

		clock.Advance(progressMeterTimeBetween)
		So(hits(progressMeterCheckInterval-1), ShouldEqual, 0)
		So(hits(1), ShouldEqual, 1)

		// the minute restarts at the last log line
		So(hits(progressMeterCheckInterval), ShouldEqual, 0)
		clock.Advance(progressMeterTimeBetween + time.Second)
		So(hits(progressMeterCheckInterval), ShouldEqual, 1)
		So(pm.done, ShouldEqual, 4*progressMeterCheckInterval)
	})
}
