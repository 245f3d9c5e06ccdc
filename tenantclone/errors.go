// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNamespaceNotFound is wrapped by donor operations that fail because
// the collection no longer exists on the donor. A cloner that sees it stops
// without error.
var ErrNamespaceNotFound = errors.New("namespace not found on donor")

// ErrDuplicateCollectionUUID is returned by a recipient lookup that finds
// more than one collection with the same UUID.
var ErrDuplicateCollectionUUID = errors.New("more than one collection has the same uuid")

// ErrorKind classifies a failed clone.
type ErrorKind int

const (
	// IntegrityViolation means the donor or recipient catalog is in a state
	// the clone must not paper over.
	IntegrityViolation ErrorKind = iota + 1
	// RemoteOperationFailed means a command sent to the donor failed.
	RemoteOperationFailed
	// WriteFailed means an insert batch did not apply on the recipient.
	WriteFailed
	// LocalOperationFailed means a recipient catalog operation failed.
	LocalOperationFailed
	// Cancelled means the clone stopped because an abort was requested.
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case IntegrityViolation:
		return "integrity violation"
	case RemoteOperationFailed:
		return "remote operation failed"
	case WriteFailed:
		return "write failed"
	case LocalOperationFailed:
		return "local operation failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// CloneError is the error returned by a failed CollectionCloner run.
type CloneError struct {
	Kind      ErrorKind
	Stage     string
	Namespace string
	Err       error
}

func (e *CloneError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("tenant collection cloner for %s: %v: %v", e.Namespace, e.Kind, e.Err)
	}
	return fmt.Sprintf("tenant collection cloner for %s failed in stage %#q: %v: %v",
		e.Namespace, e.Stage, e.Kind, e.Err)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

func newCloneError(kind ErrorKind, ns string, err error) *CloneError {
	return &CloneError{Kind: kind, Namespace: ns, Err: err}
}

func integrityViolationf(ns string, format string, args ...interface{}) *CloneError {
	return newCloneError(IntegrityViolation, ns, errors.Errorf(format, args...))
}

func hasKind(err error, kind ErrorKind) bool {
	var cerr *CloneError
	return errors.As(err, &cerr) && cerr.Kind == kind
}

// IsIntegrityViolation reports whether err is a CloneError of kind
// IntegrityViolation.
func IsIntegrityViolation(err error) bool {
	return hasKind(err, IntegrityViolation)
}

// IsRemoteOperationFailed reports whether err is a CloneError of kind
// RemoteOperationFailed.
func IsRemoteOperationFailed(err error) bool {
	return hasKind(err, RemoteOperationFailed)
}

// IsWriteFailed reports whether err is a CloneError of kind WriteFailed.
func IsWriteFailed(err error) bool {
	return hasKind(err, WriteFailed)
}

// IsLocalOperationFailed reports whether err is a CloneError of kind
// LocalOperationFailed.
func IsLocalOperationFailed(err error) bool {
	return hasKind(err, LocalOperationFailed)
}

// IsCancelled reports whether err is a CloneError of kind Cancelled.
func IsCancelled(err error) bool {
	return hasKind(err, Cancelled)
}
