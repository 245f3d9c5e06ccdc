// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package signals

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWithInterrupt(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	exited := make(chan int, 1)
	exit = func(code int) { exited <- code }
	defer func() { exit = os.Exit }()

	finalized := make(chan struct{})
	finished := HandleWithInterrupt(func() { close(finalized) })
	defer close(finished)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))
	select {
	case <-finalized:
	case <-time.After(5 * time.Second):
		t.Fatal("finalizer was not called after the first signal")
	}

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case code := <-exited:
		assert.Equal(t, util.ExitKill, code)
	case <-time.After(5 * time.Second):
		t.Fatal("second signal did not exit")
	}
}

func TestHandleStopsWhenFinished(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	called := make(chan struct{}, 1)
	finished := HandleWithInterrupt(func() { called <- struct{}{} })
	close(finished)

	// Give the listener time to return before asserting nothing ran.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-called:
		t.Fatal("finalizer ran without a signal")
	default:
	}
}
