// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/db"
	"github.com/mongodb/mongo-tenant-tools/common/idx"
	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

// maximum number of databases searched at once for a collection uuid
const lookupConcurrency = 4

var errNotApplied = errors.New("not applied: an earlier document in the ordered insert failed")

// BatchResult is the outcome of an ordered insert, one slot per document.
// A nil slot means the document was applied.
type BatchResult struct {
	Errors []error
}

func newBatchResult(n, firstFailure int, cause error) BatchResult {
	res := BatchResult{Errors: make([]error, n)}
	for i := firstFailure; i < n; i++ {
		if i == firstFailure {
			res.Errors[i] = cause
		} else {
			res.Errors[i] = errNotApplied
		}
	}
	return res
}

// FirstFailure returns the position of the first document that was not
// applied, or -1 if every document was.
func (r BatchResult) FirstFailure() int {
	for i, err := range r.Errors {
		if err != nil {
			return i
		}
	}
	return -1
}

// Applied returns how many leading documents were applied.
func (r BatchResult) Applied() int {
	if first := r.FirstFailure(); first >= 0 {
		return first
	}
	return len(r.Errors)
}

// Last returns the result of the last document. For an ordered insert it
// is nil only if every document was applied.
func (r BatchResult) Last() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[len(r.Errors)-1]
}

// RecipientStorage is the cloner's view of the local deployment.
type RecipientStorage interface {
	// CreateCollection creates ns with opts. idIndex, when non-nil, is the
	// donor's _id index spec. A name already in use fails with the
	// server's NamespaceExists error.
	CreateCollection(ctx context.Context, ns options.Namespace, opts CollectionOptions, idIndex *idx.IndexDocument) error
	CreateIndexesOnEmptyCollection(ctx context.Context, ns options.Namespace, indexes []*idx.IndexDocument) error
	// InsertDocuments inserts docs in order without document validation.
	InsertDocuments(ctx context.Context, ns options.Namespace, docs []bson.Raw) (BatchResult, error)
	// LookupCollectionByUUID returns the namespace of the collection with
	// the given uuid, or nil if there is none.
	LookupCollectionByUUID(ctx context.Context, id uuid.UUID) (*options.Namespace, error)
	// FindLastID returns the largest _id in ns. The bool is false if ns is
	// empty.
	FindLastID(ctx context.Context, ns options.Namespace) (bson.RawValue, bool, error)
	Count(ctx context.Context, ns options.Namespace) (int64, error)
	ListIndexes(ctx context.Context, ns options.Namespace) ([]*idx.IndexDocument, error)
}

// MongoRecipient implements RecipientStorage over a driver client.
type MongoRecipient struct {
	client *mongo.Client
}

// NewMongoRecipient returns a recipient that writes through client.
func NewMongoRecipient(client *mongo.Client) *MongoRecipient {
	return &MongoRecipient{client: client}
}

func (r *MongoRecipient) collection(ns options.Namespace) *mongo.Collection {
	return r.client.Database(ns.DB).Collection(ns.Collection)
}

func createCommand(ns options.Namespace, opts CollectionOptions, idIndex *idx.IndexDocument) bson.D {
	cmd := bson.D{{"create", ns.Collection}}
	switch {
	case idIndex != nil:
		cmd = append(cmd, bson.E{Key: "idIndex", Value: idIndex.ToSpec()})
	case opts.AutoIndexID == AutoIndexIDNo:
		cmd = append(cmd, bson.E{Key: "autoIndexId", Value: false})
	}
	return append(cmd, opts.Other...)
}

// CreateCollection creates the collection with the donor's uuid by
// applying a create oplog entry, so later lookups by uuid find it.
func (r *MongoRecipient) CreateCollection(
	ctx context.Context,
	ns options.Namespace,
	opts CollectionOptions,
	idIndex *idx.IndexDocument,
) error {
	create := createCommand(ns, opts, idIndex)
	if opts.UUID == uuid.Nil {
		err := r.client.Database(ns.DB).RunCommand(ctx, create).Err()
		return errors.Wrapf(err, "error creating collection %v", ns)
	}

	applyOps := bson.D{{"applyOps", bson.A{
		bson.D{
			{"op", "c"},
			{"ns", ns.DB + ".$cmd"},
			{"ui", UUIDToBinary(opts.UUID)},
			{"o", create},
		},
	}}}
	err := r.client.Database("admin").RunCommand(ctx, applyOps).Err()
	return errors.Wrapf(err, "error creating collection %v with uuid %v", ns, opts.UUID)
}

func (r *MongoRecipient) CreateIndexesOnEmptyCollection(ctx context.Context, ns options.Namespace, indexes []*idx.IndexDocument) error {
	if len(indexes) == 0 {
		return nil
	}
	specs := lo.Map(indexes, func(index *idx.IndexDocument, _ int) bson.D {
		return index.ToSpec()
	})
	cmd := bson.D{{"createIndexes", ns.Collection}, {"indexes", specs}}
	err := r.client.Database(ns.DB).RunCommand(ctx, cmd).Err()
	return errors.Wrapf(err, "error creating %v indexes on %v", len(indexes), ns)
}

func (r *MongoRecipient) InsertDocuments(ctx context.Context, ns options.Namespace, docs []bson.Raw) (BatchResult, error) {
	if len(docs) == 0 {
		return BatchResult{}, nil
	}
	inserter := db.NewOrderedBufferedBulkInserter(r.collection(ns), len(docs)).
		SetBypassDocumentValidation(true)

	var err error
	for _, doc := range docs {
		if _, err = inserter.InsertRaw(ctx, doc); err != nil {
			break
		}
	}
	if err == nil {
		_, err = inserter.Flush(ctx)
	}
	if err == nil {
		return BatchResult{Errors: make([]error, len(docs))}, nil
	}

	var bulkErr *db.BulkInsertError
	if !errors.As(err, &bulkErr) {
		return newBatchResult(len(docs), 0, err), err
	}
	if bulkErr.FirstFailure >= len(docs) {
		// every document was written but the write concern failed
		return BatchResult{Errors: make([]error, len(docs))}, err
	}
	return newBatchResult(len(docs), bulkErr.FirstFailure, bulkErr.Cause), nil
}

func (r *MongoRecipient) LookupCollectionByUUID(ctx context.Context, id uuid.UUID) (*options.Namespace, error) {
	dbNames, err := r.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "error listing recipient databases")
	}

	var mu sync.Mutex
	var found []options.Namespace
	filter := bson.D{{"info.uuid", UUIDToBinary(id)}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for _, dbName := range dbNames {
		g.Go(func() error {
			cursor, err := r.client.Database(dbName).ListCollections(gctx, filter, mopt.ListCollections().SetNameOnly(false))
			if err != nil {
				return errors.Wrapf(err, "error listing collections of %#q", dbName)
			}
			var infos []struct {
				Name string `bson:"name"`
			}
			if err := cursor.All(gctx, &infos); err != nil {
				return errors.Wrapf(err, "error reading collections of %#q", dbName)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, info := range infos {
				found = append(found, options.Namespace{DB: dbName, Collection: info.Name})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		log.Logvf(log.DebugLow, "collection uuid %v is %v on the recipient", id, found[0])
		return &found[0], nil
	}
	return nil, errors.Wrapf(ErrDuplicateCollectionUUID, "uuid %v is used by %v", id, found)
}

func (r *MongoRecipient) FindLastID(ctx context.Context, ns options.Namespace) (bson.RawValue, bool, error) {
	opts := mopt.FindOne().SetSort(bson.D{{"_id", -1}}).SetProjection(bson.D{{"_id", 1}})
	raw, err := r.collection(ns).FindOne(ctx, bson.D{}, opts).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return bson.RawValue{}, false, nil
	}
	if err != nil {
		return bson.RawValue{}, false, errors.Wrapf(err, "error finding the last _id in %v", ns)
	}
	id, err := raw.LookupErr("_id")
	if err != nil {
		return bson.RawValue{}, false, errors.Wrapf(err, "last document in %v has no _id", ns)
	}
	return id, true, nil
}

func (r *MongoRecipient) Count(ctx context.Context, ns options.Namespace) (int64, error) {
	n, err := r.collection(ns).CountDocuments(ctx, bson.D{})
	return n, errors.Wrapf(err, "error counting documents in %v", ns)
}

func (r *MongoRecipient) ListIndexes(ctx context.Context, ns options.Namespace) ([]*idx.IndexDocument, error) {
	cursor, err := r.collection(ns).Indexes().List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "error listing indexes of %v", ns)
	}
	defer cursor.Close(ctx)

	var indexes []*idx.IndexDocument
	for cursor.Next(ctx) {
		index, err := idx.NewIndexDocumentFromRaw(cursor.Current)
		if err != nil {
			return nil, errors.Wrapf(err, "bad index spec on %v", ns)
		}
		indexes = append(indexes, index)
	}
	return indexes, errors.Wrapf(cursor.Err(), "error listing indexes of %v", ns)
}
