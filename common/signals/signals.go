// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package signals turns SIGINT and SIGTERM into a cooperative shutdown.
package signals

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/util"
)

// exit is replaced in tests.
var exit = os.Exit

// HandleWithInterrupt starts a goroutine which listens for SIGTERM and
// SIGINT. The first signal runs finalizer, which should ask the running
// operation to stop; a second signal kills the process with util.ExitKill.
// If finalizer is nil the first signal exits the process. Closing the
// returned channel stops the listener.
func HandleWithInterrupt(finalizer func()) chan struct{} {
	finishedChan := make(chan struct{})
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go handleSignals(finalizer, sigChan, finishedChan)
	return finishedChan
}

func handleSignals(finalizer func(), sigChan chan os.Signal, finishedChan chan struct{}) {
	defer signal.Stop(sigChan)
	log.Logv(log.DebugLow, "will listen for SIGTERM and SIGINT")

	if finalizer != nil {
		select {
		case sig := <-sigChan:
			log.Logvf(log.Always, "signal '%s' received; attempting to shut down", sig)
			finalizer()
		case <-finishedChan:
			return
		}
	}

	select {
	case sig := <-sigChan:
		log.Logvf(log.Always, "signal '%s' received; forcefully terminating", sig)
		exit(util.ExitKill)
	case <-finishedChan:
		return
	}
}
