// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type migrationStatus struct {
	failure           error
	lastVisibleOpTime primitive.Timestamp
}

// SharedData is the state one tenant migration shares between all of its
// collection cloners.
type SharedData struct {
	migrationID uuid.UUID
	resuming    bool
	clock       func() time.Time

	abort  atomic.Bool
	status *util.DataGuard[migrationStatus]
}

// NewSharedData returns the shared state for a migration. resuming is true
// when the migration was started before and the recipient may already hold
// some of its collections.
func NewSharedData(migrationID uuid.UUID, resuming bool) *SharedData {
	return &SharedData{
		migrationID: migrationID,
		resuming:    resuming,
		clock:       time.Now,
		status:      util.NewDataGuard(migrationStatus{}),
	}
}

// MigrationID returns the id of the migration.
func (sd *SharedData) MigrationID() uuid.UUID {
	return sd.migrationID
}

// Resuming reports whether the migration is being resumed.
func (sd *SharedData) Resuming() bool {
	return sd.resuming
}

// Now returns the current time from the migration's clock.
func (sd *SharedData) Now() time.Time {
	return sd.clock()
}

// RequestAbort asks every cloner of the migration to stop at its next
// check.
func (sd *SharedData) RequestAbort() {
	sd.abort.Store(true)
}

// AbortRequested reports whether RequestAbort was called.
func (sd *SharedData) AbortRequested() bool {
	return sd.abort.Load()
}

// SetFailure records err as the migration's failure. Only the first
// failure is kept.
func (sd *SharedData) SetFailure(err error) {
	if err == nil {
		return
	}
	sd.status.Update(func(s *migrationStatus) {
		if s.failure == nil {
			s.failure = err
		}
	})
}

// Failure returns the first recorded failure, if any.
func (sd *SharedData) Failure() error {
	return sd.status.GetValue().failure
}

// MustExit reports whether cloners should stop: either an abort was
// requested or some part of the migration has already failed.
func (sd *SharedData) MustExit() bool {
	return sd.AbortRequested() || sd.Failure() != nil
}

// SetLastVisibleOpTime advances the last donor operation time seen while
// cloning. Older times are ignored.
func (sd *SharedData) SetLastVisibleOpTime(ts primitive.Timestamp) {
	sd.status.Update(func(s *migrationStatus) {
		s.lastVisibleOpTime = util.MaxTimestamp(s.lastVisibleOpTime, ts)
	})
}

// LastVisibleOpTime returns the latest donor operation time seen.
func (sd *SharedData) LastVisibleOpTime() primitive.Timestamp {
	return sd.status.GetValue().lastVisibleOpTime
}
