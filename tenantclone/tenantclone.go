// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package tenantclone copies a tenant's collection from a donor deployment
// to a recipient deployment in resumable stages.
package tenantclone

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/db"
	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/mongodb/mongo-tenant-tools/common/progress"
	"github.com/mongodb/mongo-tenant-tools/common/taskrunner"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// TenantClone is a container for the user-specified options and the
// connections used by one run of the tool.
type TenantClone struct {
	ToolOptions  *options.ToolOptions
	DonorOptions *DonorOptions
	CloneOptions *CloneOptions

	// ProgressManager, if set, shows the documents copied.
	ProgressManager progress.Manager

	recipientProvider *db.SessionProvider
	donorProvider     *db.SessionProvider
	shared            *SharedData
}

// New validates opts and connects to both deployments.
func New(opts Options) (*TenantClone, error) {
	migrationID, err := opts.Validate()
	if err != nil {
		return nil, err
	}

	tc := &TenantClone{
		ToolOptions:  opts.ToolOptions,
		DonorOptions: opts.DonorOptions,
		CloneOptions: opts.CloneOptions,
		shared:       NewSharedData(migrationID, opts.Resume),
	}

	tc.recipientProvider, err = db.NewSessionProvider(*opts.ToolOptions)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to recipient")
	}

	donorOpts, err := donorToolOptions(opts)
	if err != nil {
		tc.Close()
		return nil, err
	}
	tc.donorProvider, err = db.NewSessionProvider(*donorOpts)
	if err != nil {
		tc.Close()
		return nil, errors.Wrap(err, "error connecting to donor")
	}

	log.Logvf(log.DebugLow, "migration %v: cloning %v from %v", migrationID,
		opts.Namespace, util.SanitizeURI(opts.DonorURI))
	return tc, nil
}

// donorToolOptions builds connection options for the donor from its uri.
// TLS and auth settings for the donor must be given in that uri.
func donorToolOptions(opts Options) (*options.ToolOptions, error) {
	donorOpts := options.New(opts.AppName, opts.VersionStr, opts.GitCommit, "", true,
		options.EnabledOptions{Auth: true, Connection: true, URI: true})
	if _, err := donorOpts.ParseArgs([]string{"--uri=" + opts.DonorURI}); err != nil {
		return nil, errors.Wrapf(err, "error parsing --donorURI %v", util.SanitizeURI(opts.DonorURI))
	}
	return donorOpts, nil
}

// MigrationID returns the migration's id.
func (tc *TenantClone) MigrationID() uuid.UUID {
	return tc.shared.MigrationID()
}

// HandleInterrupt asks the clone to stop at its next check. Work already
// handed to insert workers finishes first.
func (tc *TenantClone) HandleInterrupt() {
	log.Logv(log.Always, "interrupt received: stopping the collection clone")
	tc.shared.RequestAbort()
}

// Close disconnects from both deployments.
func (tc *TenantClone) Close() {
	if tc.donorProvider != nil {
		tc.donorProvider.Close()
	}
	if tc.recipientProvider != nil {
		tc.recipientProvider.Close()
	}
}

func checkVersion(ctx context.Context, client *mongo.Client, which string) error {
	version, err := db.GetServerVersion(ctx, client)
	if err != nil {
		return errors.Wrapf(err, "error getting %v server version", which)
	}
	log.Logvf(log.DebugLow, "%v server version: %v", which, version)
	return errors.Wrapf(db.CheckTenantMigrationSupport(version), "%v", which)
}

// Run clones the collection and returns its final stats. A collection that
// does not exist on the donor is reported and is not an error.
func (tc *TenantClone) Run(ctx context.Context) (Stats, error) {
	ns := *tc.ToolOptions.Namespace

	donorClient, err := tc.donorProvider.GetSession()
	if err != nil {
		return Stats{}, err
	}
	recipientClient, err := tc.recipientProvider.GetSession()
	if err != nil {
		return Stats{}, err
	}
	if err := checkVersion(ctx, donorClient, "donor"); err != nil {
		return Stats{}, err
	}
	if err := checkVersion(ctx, recipientClient, "recipient"); err != nil {
		return Stats{}, err
	}

	collOpts, found, err := FetchCollectionOptions(ctx, donorClient, ns)
	if err != nil {
		return Stats{}, err
	}
	if !found {
		log.Logvf(log.Always, "collection %v does not exist on the donor; nothing to clone", ns)
		return Stats{Namespace: ns.String()}, nil
	}

	donor, err := NewMongoDonor(donorClient)
	if err != nil {
		return Stats{}, err
	}
	defer donor.Close(ctx)

	pool := taskrunner.NewPool(tc.CloneOptions.NumInsertionWorkers, tc.CloneOptions.InsertQueueDepth)
	defer func() {
		if err := pool.Shutdown(); err != nil {
			log.Logvf(log.Always, "error stopping insert workers: %v", err)
		}
	}()

	cloner, err := NewCollectionCloner(CloneRequest{
		Namespace:          ns,
		Options:            collOpts,
		TenantID:           tc.CloneOptions.TenantID,
		Source:             util.SanitizeURI(tc.DonorOptions.DonorURI),
		BatchSize:          tc.CloneOptions.BatchSize,
		MaxStageRetries:    tc.CloneOptions.MaxStageRetries,
		StageRetryInterval: tc.CloneOptions.StageRetryInterval,
	}, donor, NewMongoRecipient(recipientClient), pool, tc.shared)
	if err != nil {
		return Stats{}, err
	}

	if tc.ProgressManager != nil {
		tc.ProgressManager.Attach(ns.String(), cloner.Progress())
		defer tc.ProgressManager.Detach(ns.String())
	}

	err = cloner.Run(ctx)
	stats := cloner.Stats()
	log.Logvf(log.Always, "%v: copied %v of %v %v in %v",
		ns,
		humanize.Comma(stats.DocumentsCopied),
		humanize.Comma(stats.DocumentsToCopy),
		util.Pluralize(int(stats.DocumentsToCopy), "document", "documents"),
		stats.Elapsed(),
	)
	log.Logvf(log.Info, "tenant collection clone stats: %v", stats)
	log.Logvf(log.DebugLow, "last visible donor optime: %v", tc.shared.LastVisibleOpTime())
	return stats, err
}
