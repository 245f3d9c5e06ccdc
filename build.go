// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/craiggwilson/goke/task"
	"github.com/mongodb/mongo-tenant-tools/buildscript"
)

var taskRegistry = task.NewRegistry(task.WithAutoNamespaces(true))

func init() {
	taskRegistry.Declare("build").Description("build the tools").OptionalArgs("pkgs", "tags").Do(buildscript.BuildTools)
	taskRegistry.Declare("test:unit").Description("runs unit tests").OptionalArgs("pkgs").Do(buildscript.TestUnit)
	taskRegistry.Declare("test:integration").Description("runs integration tests").OptionalArgs("pkgs").Do(buildscript.TestIntegration)
}

func main() {
	err := task.Run(taskRegistry, os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
