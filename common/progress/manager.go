// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package progress

import (
	"bytes"
	"io"
	"sync"
	"text/tabwriter"
	"time"
)

// Manager is an interface which tools can use to register progressors
// which track units of work.
type Manager interface {
	// Attach registers the progressor with the manager under the given name.
	// Any call to Attach must have a matching call to Detach.
	Attach(name string, progressor Progressor)

	// Detach removes the progressor with the given name from the manager.
	Detach(name string)
}

const GridPadding = 2

// BarWriter implements Manager. It periodically prints the status of all of
// its progressors in the form of pretty progress bars. It handles thread-safe
// synchronized progress bar writing, so that its progressors are written in
// a group at a given interval. It maintains insertion order when printing,
// such that new bars appear at the bottom of the group.
type BarWriter struct {
	sync.Mutex

	waitTime  time.Duration
	writer    io.Writer
	bars      []*Bar
	stopChan  chan struct{}
	doneChan  chan struct{}
	barLength int
	isBytes   bool
}

// NewBarWriter returns an initialized BarWriter with the given bar length
// and byte-formatting toggle, waiting the given duration between writes.
func NewBarWriter(w io.Writer, waitTime time.Duration, barLength int, isBytes bool) *BarWriter {
	return &BarWriter{
		waitTime:  waitTime,
		writer:    w,
		barLength: barLength,
		isBytes:   isBytes,
	}
}

// Attach registers the given progressor with the manager.
func (manager *BarWriter) Attach(name string, progressor Progressor) {
	pb := &Bar{
		Name:      name,
		Watching:  progressor,
		BarLength: manager.barLength,
		IsBytes:   manager.isBytes,
	}
	pb.validate()

	manager.Lock()
	defer manager.Unlock()

	// make sure we are not adding the same bar again
	for _, bar := range manager.bars {
		if bar.Name == name {
			panic("progress bar with name '" + name + "' already exists in manager")
		}
	}

	manager.bars = append(manager.bars, pb)
}

// Detach removes the progressor with the given name from the manager. Insert
// order is maintained for consistent ordering of the printed bars.
func (manager *BarWriter) Detach(name string) {
	manager.Lock()
	defer manager.Unlock()

	var pb *Bar
	for _, bar := range manager.bars {
		if bar.Name == name {
			pb = bar
			break
		}
	}
	if pb == nil {
		panic("could not find progressor")
	}

	grid := &bytes.Buffer{}
	if pb.hasRendered {
		// if we've rendered this bar at least once, render it one last time
		pb.renderToGridRow(grid)
	}
	manager.writeGrid(grid)

	updatedBars := make([]*Bar, 0, len(manager.bars)-1)
	for _, bar := range manager.bars {
		// move all bars to the updated list except for the bar we want to detach
		if bar.Name != pb.Name {
			updatedBars = append(updatedBars, bar)
		}
	}

	manager.bars = updatedBars
}

// helper to render all bars in order
func (manager *BarWriter) renderAllBars() {
	manager.Lock()
	defer manager.Unlock()

	if len(manager.bars) > 1 {
		// separate groups of bars so they are easy to tell apart
		_, _ = manager.writer.Write([]byte("\n"))
	}
	for _, bar := range manager.bars {
		grid := &bytes.Buffer{}
		bar.renderToGridRow(grid)
		manager.writeGrid(grid)
	}
}

func (manager *BarWriter) writeGrid(grid *bytes.Buffer) {
	if grid.Len() == 0 {
		return
	}
	out := &bytes.Buffer{}
	tw := tabwriter.NewWriter(out, 0, 0, GridPadding, ' ', 0)
	_, _ = tw.Write(grid.Bytes())
	_ = tw.Flush()
	_, _ = manager.writer.Write(bytes.TrimRight(out.Bytes(), "\n"))
}

// Start kicks off the timed batch writing of progress bars.
func (manager *BarWriter) Start() {
	if manager.writer == nil {
		panic("Cannot use a progress.BarWriter with an unset Writer")
	}
	if manager.waitTime <= 0 {
		manager.waitTime = DefaultWaitTime
	}
	manager.stopChan = make(chan struct{})
	manager.doneChan = make(chan struct{})
	go manager.start(manager.waitTime, manager.stopChan, manager.doneChan)
}

// start owns only its arguments, so a Start after Stop never shares state
// with the previous rendering goroutine.
func (manager *BarWriter) start(waitTime time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(waitTime)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			manager.renderAllBars()
		}
	}
}

// Stop ends the main manager goroutine, stopping the manager's bars
// from being rendered. It returns once the goroutine has exited.
func (manager *BarWriter) Stop() {
	close(manager.stopChan)
	<-manager.doneChan
}
