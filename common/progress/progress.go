// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package progress

import "sync/atomic"

// Progressor can be implemented to allow an object to hook up to a
// progress.Bar.
type Progressor interface {
	// Progress returns a pair of integers: the amount completed and the
	// total amount to reach 100%. This method is called by progress.Bar
	// to determine what percentage to display.
	Progress() (int64, int64)
}

// Updateable is a Progressor which also exposes the ability for the
// progressing value to be updated.
type Updateable interface {
	Progressor

	// Inc increments the current progress counter by the given amount.
	Inc(amount int64)

	// Set sets the progress counter to the given amount.
	Set(amount int64)

	// SetMax sets the amount that represents completion.
	SetMax(amount int64)
}

// CountProgressor is an implementation of Progressor that uses atomics so
// that it can be shared between the goroutine doing the work and the one
// rendering the bar.
type CountProgressor struct {
	max     int64
	current int64
}

func (c *CountProgressor) Progress() (int64, int64) {
	return atomic.LoadInt64(&c.current), atomic.LoadInt64(&c.max)
}

func (c *CountProgressor) Inc(amount int64) {
	atomic.AddInt64(&c.current, amount)
}

func (c *CountProgressor) Set(amount int64) {
	atomic.StoreInt64(&c.current, amount)
}

func (c *CountProgressor) SetMax(amount int64) {
	atomic.StoreInt64(&c.max, amount)
}

// NewCounter constructs a CountProgressor with the given maximum.
func NewCounter(max int64) *CountProgressor {
	return &CountProgressor{max: max}
}
