// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package testtype gates tests on the kind of environment they need.
package testtype

import (
	"os"
	"testing"
)

const (
	// Integration tests require a mongod running on localhost:33333, or the
	// server named by TOOLS_TESTING_MONGOD.
	IntegrationTestType = "TOOLS_TESTING_INTEGRATION"

	// Unit tests don't require a real mongod. They may still do file I/O.
	UnitTestType = "TOOLS_TESTING_UNIT"
)

// HasTestType returns true if the test type's environment variable is set.
func HasTestType(testType string) bool {
	envVal := os.Getenv(testType)
	return envVal == "true"
}

// SkipUnlessTestType skips the test unless the given test type's
// environment variable is set.
func SkipUnlessTestType(t *testing.T, testType string) {
	if !HasTestType(testType) {
		t.SkipNow()
	}
}
