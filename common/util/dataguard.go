// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package util provides commonly used utility functions.
package util

import "sync"

// DataGuard encapsulates a value with a mutex to ensure that anything that
// accesses it does so in a race-safe way.
type DataGuard[T any] struct {
	mutex sync.RWMutex
	value T
}

// NewDataGuard returns a new DataGuard that wraps the given value.
func NewDataGuard[T any](val T) *DataGuard[T] {
	return &DataGuard[T]{
		value: val,
	}
}

// Load runs the given callback, passing it the DataGuard's stored value.
func (l *DataGuard[T]) Load(cb func(T)) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	cb(l.value)
}

// GetValue is like Load, but returns the value directly.
func (l *DataGuard[T]) GetValue() T {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.value
}

// Store replaces the stored value with the callback's return.
func (l *DataGuard[T]) Store(cb func(T) T) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.value = cb(l.value)
}

// Update runs the callback with exclusive access to a pointer to the stored
// value. Use this for in-place mutation of struct values where Store would
// force a copy.
func (l *DataGuard[T]) Update(cb func(*T)) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cb(&l.value)
}
