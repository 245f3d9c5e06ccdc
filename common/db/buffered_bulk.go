// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package db

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// The default value of maxMessageSizeBytes
// See: https://docs.mongodb.com/manual/reference/command/hello/#mongodb-data-hello.maxMessageSizeBytes
const MAX_MESSAGE_SIZE_BYTES = 48000000

// BulkInsertError reports the position, counted from the first document
// added since the inserter was created or reset, of the first document
// that an ordered bulk insert failed to write. Every document before it was
// written.
type BulkInsertError struct {
	FirstFailure int
	Cause        error
}

func (e *BulkInsertError) Error() string {
	return fmt.Sprintf("bulk insert failed at document %d: %v", e.FirstFailure, e.Cause)
}

func (e *BulkInsertError) Unwrap() error {
	return e.Cause
}

// BufferedBulkInserter implements a bufio.Writer-like design for queuing up
// documents and inserting them in bulk when the given doc limit (or max
// message size) is reached. Must be flushed at the end to ensure that all
// documents are written.
type BufferedBulkInserter struct {
	collection    *mongo.Collection
	writeModels   []mongo.WriteModel
	docLimit      int
	docCount      int
	byteCount     int
	byteLimit     int
	bulkWriteOpts *options.BulkWriteOptions

	// documents written by earlier flushes since the last reset
	flushed int
}

func newBufferedBulkInserter(
	collection *mongo.Collection,
	docLimit int,
	ordered bool,
) *BufferedBulkInserter {
	bb := &BufferedBulkInserter{
		collection:    collection,
		bulkWriteOpts: options.BulkWrite().SetOrdered(ordered),
		docLimit:      docLimit,
		// We set the byte limit to be slightly lower than maxMessageSizeBytes so it can fit in one OP_MSG.
		byteLimit:   MAX_MESSAGE_SIZE_BYTES - 100,
		writeModels: make([]mongo.WriteModel, 0, docLimit),
	}
	return bb
}

// NewOrderedBufferedBulkInserter returns an initialized BufferedBulkInserter
// for performing ordered bulk writes. An ordered write stops at the first
// failing document.
func NewOrderedBufferedBulkInserter(collection *mongo.Collection, docLimit int) *BufferedBulkInserter {
	return newBufferedBulkInserter(collection, docLimit, true)
}

func (bb *BufferedBulkInserter) SetBypassDocumentValidation(bypass bool) *BufferedBulkInserter {
	bb.bulkWriteOpts.SetBypassDocumentValidation(bypass)
	return bb
}

func (bb *BufferedBulkInserter) resetBuffer() {
	bb.writeModels = bb.writeModels[:0]
	bb.docCount = 0
	bb.byteCount = 0
}

// InsertRaw adds a document, represented as raw bson bytes, to the buffer for
// bulk insertion. If the buffer becomes full, the bulk write is performed,
// returning any error that occurs.
func (bb *BufferedBulkInserter) InsertRaw(ctx context.Context, rawBytes []byte) (*mongo.BulkWriteResult, error) {
	bb.byteCount += len(rawBytes)
	bb.docCount++
	bb.writeModels = append(bb.writeModels, mongo.NewInsertOneModel().SetDocument(bson.Raw(rawBytes)))

	if bb.docCount >= bb.docLimit || bb.byteCount >= bb.byteLimit {
		return bb.Flush(ctx)
	}

	return nil, nil
}

// Flush writes all buffered documents in one bulk write and then resets the
// buffer. A failed ordered write is reported as a *BulkInsertError.
func (bb *BufferedBulkInserter) Flush(ctx context.Context) (*mongo.BulkWriteResult, error) {
	defer bb.resetBuffer()

	if bb.docCount == 0 {
		return nil, nil
	}

	result, err := bb.collection.BulkWrite(ctx, bb.writeModels, bb.bulkWriteOpts)
	if err != nil {
		return result, bb.wrapError(err)
	}
	bb.flushed += bb.docCount
	return result, nil
}

// wrapError translates a bulk write failure into the position of the first
// document that was not written.
func (bb *BufferedBulkInserter) wrapError(err error) error {
	firstFailure := 0
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		firstFailure = bwe.WriteErrors[0].Index
		for _, we := range bwe.WriteErrors[1:] {
			if we.Index < firstFailure {
				firstFailure = we.Index
			}
		}
	} else if errors.As(err, &bwe) && bwe.WriteConcernError != nil {
		// every document was applied, the write concern was not satisfied
		firstFailure = bb.docCount
	}
	return &BulkInsertError{FirstFailure: bb.flushed + firstFailure, Cause: errors.WithStack(err)}
}
