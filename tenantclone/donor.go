// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"

	"github.com/mongodb/mongo-tenant-tools/common/db"
	"github.com/mongodb/mongo-tenant-tools/common/idx"
	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
)

// QueryOptions shape a donor find.
type QueryOptions struct {
	Projection      bson.D
	Sort            bson.D
	Hint            bson.D
	Limit           int64
	BatchSize       int32
	NoCursorTimeout bool
}

// BatchHandler receives each batch of a streaming query in order. Returning
// an error stops the query and is returned from StreamingQuery.
type BatchHandler func(batch []bson.Raw) error

// DonorClient is the cloner's view of the donor. Reads are majority
// read-concern reads. Errors caused by the collection not existing wrap
// ErrNamespaceNotFound.
type DonorClient interface {
	Count(ctx context.Context, ns NamespaceOrUUID, filter bson.D) (int64, error)
	Query(ctx context.Context, ns NamespaceOrUUID, filter bson.D, opts QueryOptions) ([]bson.Raw, error)
	StreamingQuery(ctx context.Context, ns NamespaceOrUUID, filter bson.D, opts QueryOptions, handler BatchHandler) error
	ListIndexes(ctx context.Context, ns NamespaceOrUUID) ([]*idx.IndexDocument, error)
	// OperationTime returns the operation time of the most recent reply.
	OperationTime() primitive.Timestamp
	RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error)
}

var majorityReadConcern = bson.D{{"level", readconcern.Majority().Level}}

// MongoDonor implements DonorClient over a driver client. All commands run
// in one session so the session's operation time tracks the latest reply.
// It is meant to be used by a single goroutine.
type MongoDonor struct {
	client  *mongo.Client
	session mongo.Session
}

// NewMongoDonor starts the session used for every donor command.
func NewMongoDonor(client *mongo.Client) (*MongoDonor, error) {
	session, err := client.StartSession(mopt.Session().SetCausalConsistency(false))
	if err != nil {
		return nil, errors.Wrap(err, "error starting donor session")
	}
	return &MongoDonor{client: client, session: session}, nil
}

// Close ends the donor session.
func (d *MongoDonor) Close(ctx context.Context) {
	d.session.EndSession(ctx)
}

func (d *MongoDonor) sessionContext(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, d.session)
}

func wrapDonorError(err error, format string, args ...interface{}) error {
	if db.IsNamespaceNotFound(err) {
		return errors.Wrapf(ErrNamespaceNotFound, "%s: %v", errors.Errorf(format, args...), err)
	}
	return errors.Wrapf(err, format, args...)
}

func (d *MongoDonor) Count(ctx context.Context, ns NamespaceOrUUID, filter bson.D) (int64, error) {
	if filter == nil {
		filter = bson.D{}
	}
	cmd := bson.D{
		{"count", ns.CommandTarget()},
		{"query", filter},
		{"readConcern", majorityReadConcern},
	}
	raw, err := d.RunCommand(ctx, ns.DB, cmd)
	if err != nil {
		return 0, err
	}
	var reply struct {
		N int64 `bson:"n"`
	}
	if err := bson.Unmarshal(raw, &reply); err != nil {
		return 0, errors.Wrapf(err, "error decoding count reply for %v", ns)
	}
	return reply.N, nil
}

func findCommand(ns NamespaceOrUUID, filter bson.D, opts QueryOptions) bson.D {
	if filter == nil {
		filter = bson.D{}
	}
	cmd := bson.D{{"find", ns.CommandTarget()}, {"filter", filter}}
	if opts.Projection != nil {
		cmd = append(cmd, bson.E{Key: "projection", Value: opts.Projection})
	}
	if opts.Sort != nil {
		cmd = append(cmd, bson.E{Key: "sort", Value: opts.Sort})
	}
	if opts.Hint != nil {
		cmd = append(cmd, bson.E{Key: "hint", Value: opts.Hint})
	}
	if opts.Limit > 0 {
		cmd = append(cmd, bson.E{Key: "limit", Value: opts.Limit})
	}
	if opts.BatchSize > 0 {
		cmd = append(cmd, bson.E{Key: "batchSize", Value: opts.BatchSize})
	}
	if opts.NoCursorTimeout {
		cmd = append(cmd, bson.E{Key: "noCursorTimeout", Value: true})
	}
	return append(cmd, bson.E{Key: "readConcern", Value: majorityReadConcern})
}

func (d *MongoDonor) Query(ctx context.Context, ns NamespaceOrUUID, filter bson.D, opts QueryOptions) ([]bson.Raw, error) {
	var docs []bson.Raw
	err := d.StreamingQuery(ctx, ns, filter, opts, func(batch []bson.Raw) error {
		docs = append(docs, batch...)
		return nil
	})
	return docs, err
}

func (d *MongoDonor) StreamingQuery(
	ctx context.Context,
	ns NamespaceOrUUID,
	filter bson.D,
	opts QueryOptions,
	handler BatchHandler,
) error {
	sctx := d.sessionContext(ctx)
	cursor, err := d.client.Database(ns.DB).RunCommandCursor(sctx, findCommand(ns, filter, opts))
	if err != nil {
		return wrapDonorError(err, "error running find on %v", ns)
	}
	defer cursor.Close(sctx)

	var batch []bson.Raw
	for cursor.Next(sctx) {
		batch = append(batch, append(bson.Raw(nil), cursor.Current...))
		if cursor.RemainingBatchLength() == 0 {
			if err := handler(batch); err != nil {
				return err
			}
			batch = nil
		}
	}
	if err := cursor.Err(); err != nil {
		return wrapDonorError(err, "error reading documents from %v", ns)
	}
	if len(batch) > 0 {
		return handler(batch)
	}
	return nil
}

func (d *MongoDonor) ListIndexes(ctx context.Context, ns NamespaceOrUUID) ([]*idx.IndexDocument, error) {
	sctx := d.sessionContext(ctx)
	cursor, err := d.client.Database(ns.DB).RunCommandCursor(sctx, bson.D{{"listIndexes", ns.CommandTarget()}})
	if err != nil {
		return nil, wrapDonorError(err, "error listing indexes of %v", ns)
	}
	defer cursor.Close(sctx)

	var indexes []*idx.IndexDocument
	for cursor.Next(sctx) {
		index, err := idx.NewIndexDocumentFromRaw(cursor.Current)
		if err != nil {
			return nil, errors.Wrapf(err, "bad index spec from %v", ns)
		}
		indexes = append(indexes, index)
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapDonorError(err, "error listing indexes of %v", ns)
	}
	log.Logvf(log.DebugHigh, "donor reported %v indexes for %v", len(indexes), ns)
	return indexes, nil
}

func (d *MongoDonor) OperationTime() primitive.Timestamp {
	if ts := d.session.OperationTime(); ts != nil {
		return *ts
	}
	return primitive.Timestamp{}
}

func (d *MongoDonor) RunCommand(ctx context.Context, dbName string, cmd bson.D) (bson.Raw, error) {
	raw, err := d.client.Database(dbName).RunCommand(d.sessionContext(ctx), cmd).Raw()
	if err != nil {
		return nil, wrapDonorError(err, "error running %#q on donor database %#q", cmd[0].Key, dbName)
	}
	return raw, nil
}
