// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Stats is a snapshot of a collection clone's progress.
type Stats struct {
	Namespace       string
	DocumentsToCopy int64
	DocumentsCopied int64
	Indexes         int
	InsertedBatches int64
	ReceivedBatches int64
	Start           time.Time
	End             time.Time
}

// Elapsed returns the time between Start and End, or zero if either is
// unset.
func (s Stats) Elapsed() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// ToBSON returns the stats in the shape the server reports them in.
func (s Stats) ToBSON() bson.D {
	doc := bson.D{
		{"ns", s.Namespace},
		{"documentsToCopy", s.DocumentsToCopy},
		{"documentsCopied", s.DocumentsCopied},
		{"indexes", int64(s.Indexes)},
		{"insertedBatches", s.InsertedBatches},
	}
	if !s.Start.IsZero() {
		doc = append(doc, bson.E{Key: "start", Value: s.Start})
		if !s.End.IsZero() {
			doc = append(doc,
				bson.E{Key: "end", Value: s.End},
				bson.E{Key: "elapsedMillis", Value: s.Elapsed().Milliseconds()},
			)
		}
	}
	return append(doc, bson.E{Key: "receivedBatches", Value: s.ReceivedBatches})
}

// String returns the stats as relaxed extended JSON.
func (s Stats) String() string {
	out, err := bson.MarshalExtJSON(s.ToBSON(), false, false)
	if err != nil {
		return fmt.Sprintf("%+v", s.ToBSON())
	}
	return string(out)
}
