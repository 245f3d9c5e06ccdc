// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Main package for the mongotenantclone tool.
package main

import (
	"context"
	"os"
	"time"

	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/progress"
	"github.com/mongodb/mongo-tenant-tools/common/signals"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/mongodb/mongo-tenant-tools/tenantclone"
	"golang.org/x/term"
)

const (
	progressBarLength   = 24
	progressBarWaitTime = time.Second * 3
)

var (
	VersionStr = "built-without-version-string"
	GitCommit  = "build-without-git-commit"
)

func main() {
	opts, err := tenantclone.ParseOptions(os.Args[1:], VersionStr, GitCommit)
	if err != nil {
		log.Logvf(log.Always, "error parsing command line options: %s", err.Error())
		log.Logvf(log.Always, util.ShortUsage("mongotenantclone"))
		os.Exit(util.ExitBadOptions)
	}

	// print help, if specified
	if opts.PrintHelp(false) {
		return
	}

	// print version, if specified
	if opts.PrintVersion() {
		return
	}

	log.SetVerbosity(opts.Verbosity)
	opts.URI.LogUnsupportedOptions()

	clone, err := tenantclone.New(opts)
	if err != nil {
		log.Logvf(log.Always, "Failed: %v", err)
		os.Exit(util.ExitError)
	}
	defer clone.Close()

	if !opts.NoProgressBar && term.IsTerminal(int(os.Stderr.Fd())) {
		progressManager := progress.NewBarWriter(log.Writer(0), progressBarWaitTime, progressBarLength, false)
		progressManager.Start()
		defer progressManager.Stop()
		clone.ProgressManager = progressManager
	}

	finishedChan := signals.HandleWithInterrupt(clone.HandleInterrupt)
	defer close(finishedChan)

	if _, err := clone.Run(context.Background()); err != nil {
		log.Logvf(log.Always, "Failed: %v", err)
		os.Exit(util.ExitError)
	}
}
