// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/db"
	"github.com/mongodb/mongo-tenant-tools/common/idx"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func makeDocs(from, to int) []bson.Raw {
	var docs []bson.Raw
	for i := from; i <= to; i++ {
		raw, err := bson.Marshal(bson.D{{"_id", int32(i)}, {"payload", "doc"}})
		if err != nil {
			panic(err)
		}
		docs = append(docs, raw)
	}
	return docs
}

func docID(doc bson.Raw) int32 {
	return doc.Lookup("_id").Int32()
}

func docIDs(docs []bson.Raw) []int32 {
	ids := make([]int32, len(docs))
	for i, doc := range docs {
		ids[i] = docID(doc)
	}
	return ids
}

func idIndexDoc() *idx.IndexDocument {
	return &idx.IndexDocument{Options: bson.M{"name": "_id_", "v": int32(2)}, Key: bson.D{{"_id", int32(1)}}}
}

func indexDoc(field string) *idx.IndexDocument {
	return &idx.IndexDocument{Options: bson.M{"name": field + "_1", "v": int32(2)}, Key: bson.D{{field, int32(1)}}}
}

func notFound() error {
	return errors.Wrap(ErrNamespaceNotFound, "collection dropped")
}

// fakeDonor serves a fixed set of documents in _id order.
type fakeDonor struct {
	mu sync.Mutex

	docs      []bson.Raw
	indexes   []*idx.IndexDocument
	count     *int64
	batchSize int
	opTime    primitive.Timestamp

	countErr       error
	emptyCheckErr  error
	listIndexesErr error
	// returned by successive majority waits, nil once exhausted
	majorityWaitErrs []error
	// queryErr is returned after queryErrAfter batches have been handled
	queryErr      error
	queryErrAfter int

	queryFilters []bson.D
	queryHints   []bson.D
	commands     []bson.D
	batchesSent  int
}

func (d *fakeDonor) Count(_ context.Context, _ NamespaceOrUUID, _ bson.D) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.countErr != nil {
		return 0, d.countErr
	}
	if d.count != nil {
		return *d.count, nil
	}
	return int64(len(d.docs)), nil
}

func (d *fakeDonor) Query(_ context.Context, _ NamespaceOrUUID, _ bson.D, opts QueryOptions) ([]bson.Raw, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emptyCheckErr != nil {
		return nil, d.emptyCheckErr
	}
	docs := d.docs
	if opts.Limit > 0 && int64(len(docs)) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs, nil
}

func filterAnchor(filter bson.D) (int32, bool) {
	if len(filter) == 0 {
		return 0, false
	}
	gt := filter[0].Value.(bson.D)[0].Value.(bson.A)
	return gt[1].(bson.RawValue).Int32(), true
}

func (d *fakeDonor) StreamingQuery(
	_ context.Context,
	_ NamespaceOrUUID,
	filter bson.D,
	opts QueryOptions,
	handler BatchHandler,
) error {
	d.mu.Lock()
	d.queryFilters = append(d.queryFilters, filter)
	d.queryHints = append(d.queryHints, opts.Hint)
	var docs []bson.Raw
	anchor, hasAnchor := filterAnchor(filter)
	for _, doc := range d.docs {
		if !hasAnchor || docID(doc) > anchor {
			docs = append(docs, doc)
		}
	}
	batchSize := d.batchSize
	d.mu.Unlock()

	if batchSize <= 0 {
		batchSize = 101
	}
	for sent := 0; len(docs) > 0; sent++ {
		d.mu.Lock()
		queryErr, after := d.queryErr, d.queryErrAfter
		d.mu.Unlock()
		if queryErr != nil && sent >= after {
			return queryErr
		}

		n := min(batchSize, len(docs))
		batch := append([]bson.Raw(nil), docs[:n]...)
		docs = docs[n:]
		if err := handler(batch); err != nil {
			return err
		}
		d.mu.Lock()
		d.batchesSent++
		d.mu.Unlock()
	}
	return nil
}

func (d *fakeDonor) ListIndexes(_ context.Context, _ NamespaceOrUUID) ([]*idx.IndexDocument, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listIndexesErr != nil {
		return nil, d.listIndexesErr
	}
	return d.indexes, nil
}

func (d *fakeDonor) OperationTime() primitive.Timestamp {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opTime
}

func (d *fakeDonor) RunCommand(_ context.Context, _ string, cmd bson.D) (bson.Raw, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)
	if len(d.majorityWaitErrs) > 0 {
		err := d.majorityWaitErrs[0]
		d.majorityWaitErrs = d.majorityWaitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return bson.Raw(okReply), nil
}

var okReply = func() []byte {
	raw, err := bson.Marshal(bson.D{{"ok", 1.0}})
	if err != nil {
		panic(err)
	}
	return raw
}()

type fakeCollection struct {
	ns      options.Namespace
	uuid    uuid.UUID
	opts    CollectionOptions
	idIndex *idx.IndexDocument
	docs    []bson.Raw
	indexes []*idx.IndexDocument
}

// fakeRecipient keeps collections in memory and enforces unique _id.
type fakeRecipient struct {
	mu sync.Mutex

	collections []*fakeCollection

	insertDelay     time.Duration
	insertErr       error
	lookupErr       error
	createdWith     []CollectionOptions
	createIdxCalls  [][]*idx.IndexDocument
	insertCalls     int
	insertBatchSize []int
}

func (r *fakeRecipient) find(ns options.Namespace) *fakeCollection {
	for _, c := range r.collections {
		if c.ns == ns {
			return c
		}
	}
	return nil
}

// addCollection creates a collection directly, as an earlier run would
// have left it.
func (r *fakeRecipient) addCollection(ns options.Namespace, id uuid.UUID, docs []bson.Raw, indexes ...*idx.IndexDocument) *fakeCollection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &fakeCollection{ns: ns, uuid: id, docs: docs, indexes: indexes}
	r.collections = append(r.collections, c)
	return c
}

func (r *fakeRecipient) docs(ns options.Namespace) []bson.Raw {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(ns); c != nil {
		return append([]bson.Raw(nil), c.docs...)
	}
	return nil
}

func (r *fakeRecipient) CreateCollection(_ context.Context, ns options.Namespace, opts CollectionOptions, idIndex *idx.IndexDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.find(ns) != nil {
		return mongo.CommandError{Code: db.ErrCodeNamespaceExists, Name: "NamespaceExists", Message: "collection already exists"}
	}
	r.createdWith = append(r.createdWith, opts)
	c := &fakeCollection{ns: ns, uuid: opts.UUID, opts: opts, idIndex: idIndex}
	if idIndex != nil {
		c.indexes = append(c.indexes, idIndex)
	}
	r.collections = append(r.collections, c)
	return nil
}

func (r *fakeRecipient) CreateIndexesOnEmptyCollection(_ context.Context, ns options.Namespace, indexes []*idx.IndexDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createIdxCalls = append(r.createIdxCalls, indexes)
	c := r.find(ns)
	if c == nil {
		return errors.Errorf("no collection %v", ns)
	}
	c.indexes = append(c.indexes, indexes...)
	return nil
}

func (r *fakeRecipient) InsertDocuments(_ context.Context, ns options.Namespace, docs []bson.Raw) (BatchResult, error) {
	if r.insertDelay > 0 {
		time.Sleep(r.insertDelay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertCalls++
	r.insertBatchSize = append(r.insertBatchSize, len(docs))
	if r.insertErr != nil {
		return newBatchResult(len(docs), 0, r.insertErr), r.insertErr
	}
	c := r.find(ns)
	if c == nil {
		return BatchResult{}, errors.Errorf("no collection %v", ns)
	}
	seen := map[int32]bool{}
	for _, doc := range c.docs {
		seen[docID(doc)] = true
	}
	for i, doc := range docs {
		if seen[docID(doc)] {
			dup := mongo.WriteError{Index: i, Code: db.ErrCodeDuplicateKey, Message: "E11000 duplicate key error"}
			return newBatchResult(len(docs), i, dup), nil
		}
		seen[docID(doc)] = true
		c.docs = append(c.docs, doc)
	}
	return BatchResult{Errors: make([]error, len(docs))}, nil
}

func (r *fakeRecipient) LookupCollectionByUUID(_ context.Context, id uuid.UUID) (*options.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	var found []options.Namespace
	for _, c := range r.collections {
		if c.uuid == id {
			found = append(found, c.ns)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	}
	return nil, errors.Wrapf(ErrDuplicateCollectionUUID, "uuid %v", id)
}

func (r *fakeRecipient) FindLastID(_ context.Context, ns options.Namespace) (bson.RawValue, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.find(ns)
	if c == nil || len(c.docs) == 0 {
		return bson.RawValue{}, false, nil
	}
	docs := append([]bson.Raw(nil), c.docs...)
	sort.Slice(docs, func(i, j int) bool { return docID(docs[i]) < docID(docs[j]) })
	return docs[len(docs)-1].Lookup("_id"), true, nil
}

func (r *fakeRecipient) Count(_ context.Context, ns options.Namespace) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(ns); c != nil {
		return int64(len(c.docs)), nil
	}
	return 0, nil
}

func (r *fakeRecipient) ListIndexes(_ context.Context, ns options.Namespace) ([]*idx.IndexDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.find(ns); c != nil {
		return append([]*idx.IndexDocument(nil), c.indexes...), nil
	}
	return nil, nil
}
