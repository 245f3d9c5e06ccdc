// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package db

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MinTenantMigrationVersion is the first server release that can donate or
// receive a tenant's collections by UUID.
var MinTenantMigrationVersion = Version{4, 9, 0}

// Version is a server version as major, minor, patch.
type Version [3]int

func (v1 Version) Cmp(v2 Version) int {
	for i := range v1 {
		if v1[i] < v2[i] {
			return -1
		}
		if v1[i] > v2[i] {
			return 1
		}
	}
	return 0
}

// CmpMinor is like Cmp but ignores the patch release.
func (v1 Version) CmpMinor(v2 Version) int {
	return cmp.Or(
		cmp.Compare(v1[0], v2[0]),
		cmp.Compare(v1[1], v2[1]),
	)
}

func (v1 Version) LT(v2 Version) bool {
	return v1.Cmp(v2) == -1
}

func (v1 Version) GTE(v2 Version) bool {
	return v1.Cmp(v2) != -1
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

func StrToVersion(v string) (Version, error) {
	// get rid of build strings
	v = strings.SplitN(v, "-", 2)[0]
	v = strings.SplitN(v, "+", 2)[0]

	parts := strings.SplitN(v, ".", 3)

	if len(parts) != 3 {
		return Version{}, errors.New("invalid version string")
	}

	result := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, errors.New(
				"failed to parse version number part, invalid version string",
			)
		}
		result[i] = n
	}
	return Version{result[0], result[1], result[2]}, nil
}

// GetServerVersion asks the server for its version through buildInfo.
func GetServerVersion(ctx context.Context, client *mongo.Client) (Version, error) {
	var result struct {
		Version string `bson:"version"`
	}
	err := client.Database("admin").RunCommand(ctx, bson.D{{"buildInfo", 1}}).Decode(&result)
	if err != nil {
		return Version{}, fmt.Errorf("error running buildInfo: %w", err)
	}
	return StrToVersion(result.Version)
}

// CheckTenantMigrationSupport returns an error when the server is too old to
// take part in a tenant migration.
func CheckTenantMigrationSupport(v Version) error {
	if v.LT(MinTenantMigrationVersion) {
		return fmt.Errorf("server version %v does not support tenant migrations; %v or later is required",
			v, MinTenantMigrationVersion)
	}
	return nil
}
