// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package failpoint implements triggers for custom debugging behavior. A
// failpoint is enabled with the hidden --failpoints option, given as a
// comma-separated list of name[=value] pairs.
package failpoint

import (
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	values = map[string]string{}
)

// ParseFailpoints registers a comma-separated list of failpoint=value pairs.
// A failpoint without a value is enabled with the empty string.
func ParseFailpoints(arg string) {
	mu.Lock()
	defer mu.Unlock()

	for _, fp := range strings.Split(arg, ",") {
		if fp == "" {
			continue
		}
		name, value, _ := strings.Cut(fp, "=")
		values[name] = value
	}
}

// Set enables a single failpoint with the given value.
func Set(name, value string) {
	mu.Lock()
	defer mu.Unlock()
	values[name] = value
}

// Clear disables a single failpoint.
func Clear(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(values, name)
}

// Reset disables every failpoint.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	values = map[string]string{}
}

// Get returns the value of the given failpoint and true, if it exists, and
// false otherwise.
func Get(fp string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()

	val, ok := values[fp]
	return val, ok
}

// Enabled returns true iff the given failpoint has been turned on.
func Enabled(fp string) bool {
	_, ok := Get(fp)
	return ok
}
