// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	. "github.com/smartystreets/goconvey/convey"
)

func validArgs(extra ...string) []string {
	return append([]string{
		"--donorURI", "mongodb://donor.example.net:27017",
		"--tenantId", "tenant1",
		"-d", "tenant1_db",
		"-c", "orders",
		"mongodb://localhost:27017",
	}, extra...)
}

func TestParseOptions(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	Convey("With a full command line", t, func() {
		opts, err := ParseOptions(validArgs(), "", "")
		So(err, ShouldBeNil)

		Convey("every group is filled in", func() {
			So(opts.DonorURI, ShouldEqual, "mongodb://donor.example.net:27017")
			So(opts.TenantID, ShouldEqual, "tenant1")
			So(opts.Namespace.String(), ShouldEqual, "tenant1_db.orders")
			So(opts.URI.ConnectionString, ShouldContainSubstring, "localhost:27017")
		})

		Convey("defaults are applied", func() {
			So(opts.BatchSize, ShouldEqual, 0)
			So(opts.NumInsertionWorkers, ShouldEqual, 1)
			So(opts.InsertQueueDepth, ShouldEqual, 16)
			So(opts.MaxStageRetries, ShouldEqual, 3)
			So(opts.StageRetryInterval, ShouldEqual, time.Second)
			So(opts.Resume, ShouldBeFalse)
		})

		Convey("a migration id is generated", func() {
			id, err := opts.Validate()
			So(err, ShouldBeNil)
			So(id, ShouldNotEqual, uuid.Nil)
		})
	})

	Convey("A given migration id is kept", t, func() {
		want := uuid.New()
		opts, err := ParseOptions(validArgs("--migrationId", want.String(), "--resume"), "", "")
		So(err, ShouldBeNil)
		So(opts.Resume, ShouldBeTrue)

		id, err := opts.Validate()
		So(err, ShouldBeNil)
		So(id, ShouldEqual, want)
	})

	Convey("Durations and sizes are parsed", t, func() {
		opts, err := ParseOptions(validArgs(
			"--stageRetryInterval", "250ms",
			"--batchSize", "500",
			"--numInsertionWorkers", "4",
		), "", "")
		So(err, ShouldBeNil)
		So(opts.StageRetryInterval, ShouldEqual, 250*time.Millisecond)
		So(opts.BatchSize, ShouldEqual, 500)
		So(opts.NumInsertionWorkers, ShouldEqual, 4)
	})

	Convey("A second connection string is rejected", t, func() {
		_, err := ParseOptions(validArgs("mongodb://other:27017"), "", "")
		So(err, ShouldNotBeNil)
	})
}

func TestValidateOptions(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	cases := []struct {
		name string
		args []string
		err  string
	}{
		{"no donor", []string{"--tenantId", "tenant1", "-d", "tenant1_db", "-c", "orders"}, "--donorURI is required"},
		{"bad donor", []string{"--donorURI", "localhost", "--tenantId", "tenant1", "-d", "tenant1_db", "-c", "orders"}, "invalid --donorURI"},
		{"no tenant", []string{"--donorURI", "mongodb://d", "-d", "tenant1_db", "-c", "orders"}, "--tenantId is required"},
		{"no collection", []string{"--donorURI", "mongodb://d", "--tenantId", "tenant1", "-d", "tenant1_db"}, "--collection are required"},
		{"other tenant", []string{"--donorURI", "mongodb://d", "--tenantId", "tenant2", "-d", "tenant1_db", "-c", "orders"}, "does not belong to tenant"},
		{"bad migration id", append(validArgs(), "--migrationId", "nope"), "invalid --migrationId"},
		{"no workers", append(validArgs(), "--numInsertionWorkers", "0"), "--numInsertionWorkers"},
		{"no queue", append(validArgs(), "--insertQueueDepth", "0"), "--insertQueueDepth"},
		{"negative batch", append(validArgs(), "--batchSize", "-1"), "--batchSize"},
		{"no retries", append(validArgs(), "--maxStageRetries", "0"), "--maxStageRetries must be at least 1"},
	}

	Convey("Invalid options are reported", t, func() {
		for _, tc := range cases {
			Convey(tc.name, func() {
				opts, err := ParseOptions(tc.args, "", "")
				So(err, ShouldBeNil)
				_, err = opts.Validate()
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, tc.err)
			})
		}
	})
}

func TestOptionsFromConfigFile(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	Convey("The donor uri and tenant id can come from --config", t, func() {
		path := filepath.Join(t.TempDir(), "clone.yaml")
		config := "donorURI: mongodb://donor.example.net\ntenantId: tenant1\n"
		So(os.WriteFile(path, []byte(config), 0o600), ShouldBeNil)

		opts, err := ParseOptions([]string{"--config", path, "-d", "tenant1_db", "-c", "orders"}, "", "")
		So(err, ShouldBeNil)
		So(opts.DonorURI, ShouldEqual, "mongodb://donor.example.net")
		So(opts.TenantID, ShouldEqual, "tenant1")

		_, err = opts.Validate()
		So(err, ShouldBeNil)
	})
}
