// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/db"
	"github.com/mongodb/mongo-tenant-tools/common/failpoint"
	"github.com/mongodb/mongo-tenant-tools/common/idx"
	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/mongodb/mongo-tenant-tools/common/progress"
	"github.com/mongodb/mongo-tenant-tools/common/taskrunner"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Failpoints checked by the collection cloner. The value, if not empty,
// limits the failpoint to one source namespace.
const (
	HangAfterGettingOperationTime = "tenantCollectionClonerHangAfterGettingOperationTime"
	HangAfterCreateCollection     = "tenantCollectionClonerHangAfterCreateCollection"
	HangAfterHandlingBatch        = "tenantMigrationHangCollectionClonerAfterHandlingBatchResponse"
)

// Stage names, in run order.
const (
	StageCount                 = "count"
	StageCheckIfDonorIsEmpty   = "checkIfDonorCollectionIsEmpty"
	StageListIndexes           = "listIndexes"
	StageCreateCollection      = "createCollection"
	StageQuery                 = "query"
	clonerName                 = "TenantCollectionCloner"
	defaultMaxStageRetries     = 3
	defaultStageRetryInterval  = time.Second
	majorityWaitCollectionName = "system.version"
)

// CloneRequest describes one collection to clone.
type CloneRequest struct {
	Namespace options.Namespace
	Options   CollectionOptions
	TenantID  string
	// Source names the donor in log lines.
	Source string
	// BatchSize is the donor find batch size; zero uses the server's.
	BatchSize int32

	// MaxStageRetries and StageRetryInterval use the defaults when zero.
	MaxStageRetries    int
	StageRetryInterval time.Duration
}

// CollectionCloner copies one collection's metadata, indexes and documents
// from the donor to the recipient. Its stages run on the goroutine that
// calls Run; document inserts run on the worker pool.
type CollectionCloner struct {
	req       CloneRequest
	sourceNs  string
	sourceID  NamespaceOrUUID
	donor     DonorClient
	recipient RecipientStorage
	shared    *SharedData

	tracker  *ProgressTracker
	pipeline *BatchInsertPipeline
	runner   StageRunner

	// Owned by the goroutine running the stages.
	operationTime primitive.Timestamp
	donorWasEmpty bool
	idIndex       *idx.IndexDocument
	readyIndexes  []*idx.IndexDocument
	existingNs    *options.Namespace
	lastDocID     bson.RawValue
}

// NewCollectionCloner validates req and returns a cloner for it. Inserts
// are run on pool.
func NewCollectionCloner(
	req CloneRequest,
	donor DonorClient,
	recipient RecipientStorage,
	pool *taskrunner.Pool,
	shared *SharedData,
) (*CollectionCloner, error) {
	if err := util.ValidateDBName(req.Namespace.DB); err != nil {
		return nil, errors.Wrapf(err, "invalid namespace %v", req.Namespace)
	}
	if err := util.ValidateCollectionName(req.Namespace.Collection); err != nil {
		return nil, errors.Wrapf(err, "invalid namespace %v", req.Namespace)
	}
	if !IsNamespaceForTenant(req.Namespace, req.TenantID) {
		return nil, errors.Errorf("namespace %v does not belong to tenant %#q", req.Namespace, req.TenantID)
	}
	if req.Options.UUID == uuid.Nil {
		return nil, errors.Errorf("collection %v has no uuid", req.Namespace)
	}
	if req.MaxStageRetries <= 0 {
		req.MaxStageRetries = defaultMaxStageRetries
	}
	if req.StageRetryInterval <= 0 {
		req.StageRetryInterval = defaultStageRetryInterval
	}

	ns := req.Namespace.String()
	c := &CollectionCloner{
		req:       req,
		sourceNs:  ns,
		sourceID:  NamespaceOrUUID{DB: req.Namespace.DB, UUID: req.Options.UUID},
		donor:     donor,
		recipient: recipient,
		shared:    shared,
		tracker:   NewProgressTracker(ns, shared.Now),
	}
	c.pipeline = NewBatchInsertPipeline(ns, recipient, pool, c.tracker, shared)
	c.pipeline.SetTarget(req.Namespace)
	c.runner = StageRunner{
		Cloner:    clonerName,
		Namespace: ns,
		Stages: []Stage{
			{StageCount, c.countStage},
			{StageCheckIfDonorIsEmpty, c.checkIfDonorCollectionIsEmptyStage},
			{StageListIndexes, c.listIndexesStage},
			{StageCreateCollection, c.createCollectionStage},
			{StageQuery, c.queryStage},
		},
		PreStage:      c.tracker.MarkStart,
		PostStage:     c.tracker.MarkEnd,
		Drain:         c.pipeline.Drain,
		MustExit:      shared.MustExit,
		MaxRetries:    req.MaxStageRetries,
		RetryInterval: req.StageRetryInterval,
	}
	return c, nil
}

// Run executes every stage. A collection dropped on the donor during the
// clone is not an error.
func (c *CollectionCloner) Run(ctx context.Context) error {
	err := c.runner.Run(ctx)
	if err != nil {
		log.Logvf(log.DebugLow, "tenant collection cloner for %v failed: %v", c.sourceNs, err)
	}
	return err
}

// Stats returns a snapshot of the clone's progress. It is safe to call at
// any time.
func (c *CollectionCloner) Stats() Stats {
	return c.tracker.Stats()
}

// Progress follows documents copied, for a progress bar.
func (c *CollectionCloner) Progress() progress.Progressor {
	return c.tracker.Counter()
}

// SourceNamespace returns the namespace being cloned.
func (c *CollectionCloner) SourceNamespace() options.Namespace {
	return c.req.Namespace
}

// OperationTime returns the donor operation time captured after listing
// indexes.
func (c *CollectionCloner) OperationTime() primitive.Timestamp {
	return c.operationTime
}

func (c *CollectionCloner) failpointMatches(name string) bool {
	value, ok := failpoint.Get(name)
	return ok && (value == "" || value == c.sourceNs)
}

// hangWhile blocks while the named failpoint is enabled for this
// namespace. It returns early once the migration must exit or ctx ends.
func (c *CollectionCloner) hangWhile(ctx context.Context, name string) {
	for c.failpointMatches(name) && ctx.Err() == nil {
		if c.shared.MustExit() {
			return
		}
		log.Logvf(log.Always, "%v fail point enabled for %v. Blocking until fail point is disabled", name, c.sourceNs)
		time.Sleep(failpointPollInterval)
	}
}

func (c *CollectionCloner) countStage(ctx context.Context) (AfterStage, error) {
	count, err := c.donor.Count(ctx, c.sourceID, bson.D{})
	if err != nil {
		return ContinueNormally, err
	}
	if count < 0 {
		// Only used for reporting, so a bad count after an unclean donor
		// shutdown must not stop the clone.
		log.Logvf(log.Always,
			"warning: count command returned negative value %v for %v. Updating to 0 to allow progress meter to function properly",
			count, c.sourceNs)
		count = 0
	}
	c.tracker.SetDocumentsToCopy(count)
	return ContinueNormally, nil
}

// The emptiness check runs before listIndexes so that an index built and
// a document inserted on the donor between listIndexes and the query
// cannot leave the recipient with data but without the index. The count
// above is not enough because it reads metadata that may be stale.
func (c *CollectionCloner) checkIfDonorCollectionIsEmptyStage(ctx context.Context) (AfterStage, error) {
	docs, err := c.donor.Query(ctx, c.sourceID, bson.D{}, QueryOptions{
		Projection: bson.D{{"_id", 1}},
		Limit:      1,
	})
	if err != nil {
		return ContinueNormally, err
	}
	c.donorWasEmpty = len(docs) == 0
	log.Logvf(log.DebugLow, "checked if donor collection %v was empty: %v", c.sourceNs, c.donorWasEmpty)
	return ContinueNormally, nil
}

func majorityWaitCommand(opTime primitive.Timestamp) bson.D {
	readConcern := bson.D{{"level", "majority"}}
	if opTime != (primitive.Timestamp{}) {
		readConcern = append(readConcern, bson.E{Key: "afterClusterTime", Value: opTime})
	}
	return bson.D{
		{"find", majorityWaitCollectionName},
		{"filter", bson.D{}},
		{"limit", int64(1)},
		{"readConcern", readConcern},
	}
}

func (c *CollectionCloner) listIndexesStage(ctx context.Context) (AfterStage, error) {
	c.operationTime = primitive.Timestamp{}
	c.idIndex = nil
	c.readyIndexes = nil

	indexes, err := c.donor.ListIndexes(ctx, c.sourceID)
	if err != nil {
		return ContinueNormally, err
	}

	// A majority read after this time proves the listed indexes exist on a
	// majority of the donor's nodes.
	c.operationTime = c.donor.OperationTime()

	c.hangWhile(ctx, HangAfterGettingOperationTime)

	if _, err := c.donor.RunCommand(ctx, "admin", majorityWaitCommand(c.operationTime)); err != nil {
		if errors.Is(err, ErrNamespaceNotFound) {
			return ContinueNormally, err
		}
		if db.IsRetryableError(err) {
			log.Logvf(log.Info, "waiting for listIndexes result on %v to be majority committed failed, will retry: %v",
				c.sourceNs, err)
			return RetryStage, nil
		}
		return ContinueNormally, newCloneError(RemoteOperationFailed, c.sourceNs,
			errors.Wrap(err, "TenantCollectionCloner failed to get listIndexes result majority-committed"))
	}

	if len(indexes) == 0 {
		log.Logvf(log.Always, "warning: no indexes found for collection %v on %v while cloning", c.sourceNs, c.req.Source)
	}
	c.idIndex, c.readyIndexes = idx.SplitIDIndex(indexes)
	for _, index := range c.readyIndexes {
		if err := index.FindInconsistency(); err != nil {
			log.Logvf(log.Always, "warning: index on %v may not be rebuilt exactly: %v", c.sourceNs, err)
		}
	}
	c.tracker.SetIndexes(len(indexes))

	// Tenant collections are replicated, so a missing _id index is only
	// possible with autoIndexId: false.
	if c.idIndex == nil && c.req.Options.AutoIndexID != AutoIndexIDNo {
		return ContinueNormally, integrityViolationf(c.sourceNs,
			"Found empty '_id' index spec but the collection is not specified with 'autoIndexId' as false, tenantId: %v, namespace: %v",
			c.req.TenantID, c.sourceNs)
	}
	if c.idIndex != nil && c.req.Options.AutoIndexID == AutoIndexIDNo {
		log.Logvf(log.Always, "warning: found the _id index spec but collection %v specified autoIndexId of false", c.sourceNs)
	}
	return ContinueNormally, nil
}

func (c *CollectionCloner) createCollectionStage(ctx context.Context) (AfterStage, error) {
	skipCreateIndexes := false

	existing, err := c.recipient.LookupCollectionByUUID(ctx, c.req.Options.UUID)
	if err != nil {
		if errors.Is(err, ErrDuplicateCollectionUUID) {
			return ContinueNormally, newCloneError(IntegrityViolation, c.sourceNs, err)
		}
		return ContinueNormally, newCloneError(LocalOperationFailed, c.sourceNs, err)
	}

	if existing != nil {
		if !IsNamespaceForTenant(*existing, c.req.TenantID) {
			return ContinueNormally, integrityViolationf(c.sourceNs,
				"Collection uuid %v already exists but does not belong to tenant", c.req.Options.UUID)
		}
		if existing.DB != c.req.Namespace.DB {
			return ContinueNormally, integrityViolationf(c.sourceNs,
				"Collection uuid %v already exists but does not belong to the same database", c.req.Options.UUID)
		}
		if !c.shared.Resuming() {
			return ContinueNormally, integrityViolationf(c.sourceNs,
				"Tenant '%v': collection '%v' already exists prior to data sync", c.req.TenantID, existing)
		}

		c.existingNs = existing
		log.Logvf(log.Info, "tenant collection cloner found collection %v with the same uuid %v as %v (migration %v)",
			existing, c.req.Options.UUID, c.sourceNs, c.shared.MigrationID())

		lastID, found, err := c.recipient.FindLastID(ctx, *existing)
		if err != nil {
			return ContinueNormally, newCloneError(LocalOperationFailed, c.sourceNs, err)
		}
		if found {
			// Resume after the last document instead of building indexes
			// on a collection that already has data.
			skipCreateIndexes = true
			c.readyIndexes = nil
			c.lastDocID = lastID
			count, err := c.recipient.Count(ctx, *existing)
			if err != nil {
				return ContinueNormally, newCloneError(LocalOperationFailed, c.sourceNs, err)
			}
			c.tracker.AddCopied(count)
		} else {
			// Indexes that exist here but not on the donor are left alone;
			// their drops reach the recipient with the oplog.
			existingIndexes, err := c.recipient.ListIndexes(ctx, *existing)
			if err != nil {
				return ContinueNormally, newCloneError(LocalOperationFailed, c.sourceNs, err)
			}
			c.readyIndexes = idx.Missing(c.readyIndexes, idx.Names(existingIndexes))
		}
	} else {
		// NamespaceExists here means a collection with the same name but a
		// different uuid.
		err := c.recipient.CreateCollection(ctx, c.req.Namespace, c.req.Options, c.idIndex)
		if err != nil {
			kind := LocalOperationFailed
			if db.IsNamespaceExists(err) {
				kind = IntegrityViolation
			}
			return ContinueNormally, newCloneError(kind, c.sourceNs,
				errors.Wrap(err, "Tenant collection cloner: create collection"))
		}
	}

	target := c.targetNamespace()
	c.pipeline.SetTarget(target)

	if !skipCreateIndexes && len(c.readyIndexes) > 0 {
		if err := c.recipient.CreateIndexesOnEmptyCollection(ctx, target, c.readyIndexes); err != nil {
			return ContinueNormally, newCloneError(LocalOperationFailed, c.sourceNs,
				errors.Wrap(err, "Tenant collection cloner: create indexes"))
		}
	}

	c.hangWhile(ctx, HangAfterCreateCollection)
	return ContinueNormally, nil
}

func (c *CollectionCloner) targetNamespace() options.Namespace {
	if c.existingNs != nil {
		return *c.existingNs
	}
	return c.req.Namespace
}

func (c *CollectionCloner) queryStage(ctx context.Context) (AfterStage, error) {
	if c.donorWasEmpty {
		log.Logvf(log.Always, "warning: collection %v was empty at clone time", c.sourceNs)
		return ContinueNormally, nil
	}

	err := c.runQuery(ctx)
	c.pipeline.Drain()
	if lastID, ok := c.pipeline.LastInsertedID(); ok {
		log.Logvf(log.DebugLow, "last document inserted into %v has _id %v", c.targetNamespace(), lastID)
	}
	if perr := c.pipeline.Err(); perr != nil {
		return ContinueNormally, perr
	}
	if err != nil {
		return ContinueNormally, err
	}
	return ContinueNormally, nil
}

func (c *CollectionCloner) queryFilter() bson.D {
	if c.lastDocID.Type == 0 {
		return bson.D{}
	}
	// $expr compares with aggregation semantics, which avoids type
	// bracketing of _id values.
	return bson.D{{"$expr", bson.D{{"$gt", bson.A{"$_id", c.lastDocID}}}}}
}

func (c *CollectionCloner) runQuery(ctx context.Context) error {
	opts := QueryOptions{
		BatchSize:       c.req.BatchSize,
		NoCursorTimeout: true,
	}
	if c.idIndex != nil {
		opts.Hint = bson.D{{"_id", 1}}
	}
	return c.donor.StreamingQuery(ctx, c.sourceID, c.queryFilter(), opts, func(batch []bson.Raw) error {
		return c.handleNextBatch(ctx, batch)
	})
}

func (c *CollectionCloner) handleNextBatch(ctx context.Context, batch []bson.Raw) error {
	if err := c.pipeline.Submit(ctx, batch); err != nil {
		return newCloneError(LocalOperationFailed, c.sourceNs, err)
	}
	c.shared.SetLastVisibleOpTime(c.donor.OperationTime())

	c.hangWhile(ctx, HangAfterHandlingBatch)

	if c.shared.MustExit() {
		return newCloneError(Cancelled, c.sourceNs, errors.New("clone was asked to exit while reading documents"))
	}
	return nil
}
