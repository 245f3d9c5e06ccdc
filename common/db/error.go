// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package db

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes the migration tools react to.
const (
	ErrCodeNamespaceNotFound       = 26
	ErrCodeNamespaceExists         = 48
	ErrCodeHostUnreachable         = 6
	ErrCodeHostNotFound            = 7
	ErrCodeNetworkTimeout          = 89
	ErrCodeShutdownInProgress      = 91
	ErrCodeInterruptedAtShutdown   = 11600
	ErrCodeInterruptedDueToRepl    = 11602
	ErrCodeNotWritablePrimary      = 10107
	ErrCodeNotPrimaryNoSecondaryOk = 13435
	ErrCodeNotPrimaryOrSecondary   = 13436
	ErrCodePrimarySteppedDown      = 189
	ErrCodeExceededTimeLimit       = 262
	ErrCodeSocketException         = 9001
	ErrCodeDuplicateKey            = 11000
)

var retryableCodes = map[int32]bool{
	ErrCodeHostUnreachable:         true,
	ErrCodeHostNotFound:            true,
	ErrCodeNetworkTimeout:          true,
	ErrCodeShutdownInProgress:      true,
	ErrCodeInterruptedAtShutdown:   true,
	ErrCodeInterruptedDueToRepl:    true,
	ErrCodeNotWritablePrimary:      true,
	ErrCodeNotPrimaryNoSecondaryOk: true,
	ErrCodeNotPrimaryOrSecondary:   true,
	ErrCodePrimarySteppedDown:      true,
	ErrCodeExceededTimeLimit:       true,
	ErrCodeSocketException:         true,
}

// IsNamespaceNotFound reports whether the server rejected an operation
// because its collection or database does not exist.
func IsNamespaceNotFound(err error) bool {
	var srvErr mongo.ServerError
	return errors.As(err, &srvErr) && srvErr.HasErrorCode(ErrCodeNamespaceNotFound)
}

// IsNamespaceExists reports whether the server rejected a create because the
// namespace is already taken.
func IsNamespaceExists(err error) bool {
	var srvErr mongo.ServerError
	return errors.As(err, &srvErr) && srvErr.HasErrorCode(ErrCodeNamespaceExists)
}

// IsRetryableError reports whether err is transient: a network failure, a
// timeout, or a replica set state change on the server side.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var srvErr mongo.ServerError
	if !errors.As(err, &srvErr) {
		return false
	}
	for code := range retryableCodes {
		if srvErr.HasErrorCode(int(code)) {
			return true
		}
	}
	return false
}
