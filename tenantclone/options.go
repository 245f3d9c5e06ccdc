// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/go-wordwrap"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const usageWidth = 79

var Usage = `<options> --donorURI=<uri> --tenantId=<id> -d <database> -c <collection> <connection-string>

` + wordwrap.WrapString(
	"Copy one collection of a tenant from a donor deployment into the deployment "+
		"named by the connection string. The collection keeps its uuid, options and indexes. "+
		"A clone that was interrupted can be continued with --resume; documents already "+
		"on the recipient are not copied again.",
	usageWidth,
) + `

Connection strings must begin with mongodb:// or mongodb+srv://.`

// DonorOptions locate the deployment the collection is copied from.
type DonorOptions struct {
	DonorURI string `long:"donorURI" value-name:"<uri>" description:"mongodb uri connection string of the donor deployment"`
}

// Name returns a human-readable group name for donor options.
func (*DonorOptions) Name() string {
	return "donor"
}

// SetFromConfigFile takes the donor uri from the --config file.
func (d *DonorOptions) SetFromConfigFile(cfg options.ConfigFile) {
	if cfg.DonorURI != "" {
		d.DonorURI = cfg.DonorURI
	}
}

// CloneOptions control how the collection is copied.
type CloneOptions struct {
	TenantID            string        `long:"tenantId" value-name:"<id>" description:"id of the tenant that owns the collection"`
	MigrationID         string        `long:"migrationId" value-name:"<uuid>" description:"id of the migration; a new one is generated if not given"`
	Resume              bool          `long:"resume" description:"continue a migration that was interrupted, reusing the collection already on the recipient"`
	BatchSize           int32         `long:"batchSize" value-name:"<size>" default:"0" default-mask:"-" description:"number of documents per donor batch (0 uses the server default)"`
	NumInsertionWorkers int           `long:"numInsertionWorkers" value-name:"<number>" default:"1" description:"number of insert workers"`
	InsertQueueDepth    int           `long:"insertQueueDepth" value-name:"<number>" default:"16" description:"number of insert tasks that may wait for a worker"`
	MaxStageRetries     int           `long:"maxStageRetries" value-name:"<number>" default:"3" description:"number of times a stage waiting on the donor is retried"`
	StageRetryInterval  time.Duration `long:"stageRetryInterval" value-name:"<duration>" default:"1s" description:"time to wait before retrying a stage"`
	NoProgressBar       bool          `long:"noProgressBar" description:"do not show the progress bar"`
}

// Name returns a human-readable group name for clone options.
func (*CloneOptions) Name() string {
	return "clone"
}

// SetFromConfigFile takes the tenant id from the --config file.
func (c *CloneOptions) SetFromConfigFile(cfg options.ConfigFile) {
	if cfg.TenantID != "" {
		c.TenantID = cfg.TenantID
	}
}

// Options are all of the tool's options. The ToolOptions describe the
// recipient.
type Options struct {
	*options.ToolOptions
	*DonorOptions
	*CloneOptions
}

// ParseOptions reads the command line and any --config file.
func ParseOptions(rawArgs []string, versionStr, gitCommit string) (Options, error) {
	opts := options.New("mongotenantclone", versionStr, gitCommit, Usage, true,
		options.EnabledOptions{Auth: true, Connection: true, Namespace: true, URI: true})

	donorOpts := &DonorOptions{}
	opts.AddOptions(donorOpts)
	cloneOpts := &CloneOptions{}
	opts.AddOptions(cloneOpts)

	extraArgs, err := opts.ParseArgs(rawArgs)
	if err != nil {
		return Options{}, err
	}
	if len(extraArgs) > 0 {
		return Options{}, errors.Errorf("error parsing positional arguments: " +
			"provide only one MongoDB connection string. " +
			"Connection strings must begin with mongodb:// or mongodb+srv:// schemes",
		)
	}

	return Options{opts, donorOpts, cloneOpts}, nil
}

// Validate checks the options that are required to run a clone and fills
// in a generated migration id if none was given.
func (opts Options) Validate() (uuid.UUID, error) {
	if opts.DonorURI == "" {
		return uuid.Nil, errors.New("--donorURI is required")
	}
	if _, err := connstring.ParseAndValidate(opts.DonorURI); err != nil {
		return uuid.Nil, errors.Wrapf(err, "invalid --donorURI %v", util.SanitizeURI(opts.DonorURI))
	}
	if opts.TenantID == "" {
		return uuid.Nil, errors.New("--tenantId is required")
	}
	if opts.Namespace.DB == "" || opts.Namespace.Collection == "" {
		return uuid.Nil, errors.New("both --db and --collection are required")
	}
	if err := util.ValidateFullNamespace(opts.Namespace.String()); err != nil {
		return uuid.Nil, err
	}
	if !IsNamespaceForTenant(*opts.Namespace, opts.TenantID) {
		return uuid.Nil, errors.Errorf("database %#q does not belong to tenant %#q", opts.Namespace.DB, opts.TenantID)
	}
	if opts.NumInsertionWorkers < 1 {
		return uuid.Nil, errors.New("--numInsertionWorkers must be at least 1")
	}
	if opts.InsertQueueDepth < 1 {
		return uuid.Nil, errors.New("--insertQueueDepth must be at least 1")
	}
	if opts.BatchSize < 0 {
		return uuid.Nil, errors.New("--batchSize must not be negative")
	}
	if opts.MaxStageRetries < 1 {
		return uuid.Nil, errors.New("--maxStageRetries must be at least 1")
	}

	if opts.MigrationID == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(opts.MigrationID)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "invalid --migrationId %#q", opts.MigrationID)
	}
	return id, nil
}
