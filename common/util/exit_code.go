// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package util

const (
	ExitClean      int = 0
	ExitError      int = 1
	ExitFailure    int = 1
	ExitBadOptions int = 3
	ExitKill       int = 4
)
