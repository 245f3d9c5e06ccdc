// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package testutil implements functions for filtering and configuring tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/mongodb/mongo-tenant-tools/common/db"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const (
	uriEnvVar      = "TOOLS_TESTING_MONGOD"
	donorURIEnvVar = "TOOLS_TESTING_DONOR"
)

// GetBareSession returns a client for the recipient test server.
func GetBareSession() (*mongo.Client, error) {
	sessionProvider, _, err := GetBareSessionProvider()
	if err != nil {
		return nil, err
	}
	session, err := sessionProvider.GetSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetBareSessionProvider returns a session provider from the environment or
// from a default host and port.
func GetBareSessionProvider() (*db.SessionProvider, *options.ToolOptions, error) {
	toolOptions, err := GetToolOptions()
	if err != nil {
		return nil, nil, fmt.Errorf(
			"error getting tool options to create a bare session provider: %w",
			err,
		)
	}

	sessionProvider, err := db.NewSessionProvider(*toolOptions)
	if err != nil {
		return nil, nil, err
	}

	return sessionProvider, toolOptions, nil
}

// GetToolOptions returns recipient tool options built from the
// TOOLS_TESTING_MONGOD env var, or localhost on the test port.
func GetToolOptions() (*options.ToolOptions, error) {
	enabled := options.EnabledOptions{Connection: true, Namespace: true, URI: true}
	uri := os.Getenv(uriEnvVar)
	if uri != "" {
		parse, err := connstring.ParseAndValidate(uri)
		if err != nil {
			return nil, fmt.Errorf(
				"%#q from the %#q env var is not a valid connection string: %w",
				uri,
				uriEnvVar,
				err,
			)
		}
		enabled.Auth = parse.UsernameSet
	}

	toolOptions := options.New("tenantclone-test", "", "", "", true, enabled)
	if uri != "" {
		if _, err := toolOptions.ParseArgs([]string{"--uri=" + uri}); err != nil {
			return nil, fmt.Errorf(
				"could not create toolOptions with %#q from the %#q env var: %w",
				uri,
				uriEnvVar,
				err,
			)
		}
		return toolOptions, nil
	}

	toolOptions.Host = "localhost"
	toolOptions.Port = db.DefaultTestPort
	if err := toolOptions.NormalizeOptionsAndURI(); err != nil {
		return nil, err
	}
	return toolOptions, nil
}

// GetDonorURI returns the donor connection string for tests that need two
// deployments. The test is skipped when none is configured.
func GetDonorURI(t *testing.T) string {
	uri := os.Getenv(donorURIEnvVar)
	if uri == "" {
		t.Skipf("the %#q env var is not set", donorURIEnvVar)
	}
	return uri
}

// GetFCV returns the featureCompatibilityVersion string for a client
// or the empty string if it can't be found.
func GetFCV(s *mongo.Client) string {
	coll := s.Database("admin").Collection("system.version")
	var result struct {
		Version string
	}
	res := coll.FindOne(context.TODO(), bson.M{"_id": "featureCompatibilityVersion"})
	//nolint:errcheck
	res.Decode(&result)
	return result.Version
}

// CompareFCV compares two strings as dot-delimited tuples of integers.
func CompareFCV(x, y string) (int, error) {
	left, err := dottedStringToSlice(x)
	if err != nil {
		return 0, err
	}
	right, err := dottedStringToSlice(y)
	if err != nil {
		return 0, err
	}

	// Ensure left is the shorter one, flip logic if necessary.
	inverter := 1
	if len(right) < len(left) {
		inverter = -1
		left, right = right, left
	}

	for i := range left {
		switch {
		case left[i] < right[i]:
			return -1 * inverter, nil
		case left[i] > right[i]:
			return 1 * inverter, nil
		}
	}

	if len(left) < len(right) {
		return -1 * inverter, nil
	}

	return 0, nil
}

func dottedStringToSlice(s string) ([]int, error) {
	parts := make([]int, 0, 2)
	for _, v := range strings.Split(s, ".") {
		i, err := strconv.Atoi(v)
		if err != nil {
			return parts, err
		}
		parts = append(parts, i)
	}
	return parts, nil
}

// SkipUnlessFCVAtLeast skips the test when the server's feature
// compatibility version is older than min.
func SkipUnlessFCVAtLeast(t *testing.T, client *mongo.Client, min string) {
	fcv := GetFCV(client)
	cmp, err := CompareFCV(fcv, min)
	require.NoError(t, err, "can compare FCV %#q", fcv)
	if cmp < 0 {
		t.Skipf("requires FCV %s, server has %s", min, fcv)
	}
}

// DropDatabase drops name on the client and registers the same drop as a
// test cleanup.
func DropDatabase(t *testing.T, client *mongo.Client, name string) {
	ctx := context.Background()
	require.NoError(t, client.Database(name).Drop(ctx), "can drop %#q", name)
	t.Cleanup(func() {
		if os.Getenv("TOOLS_TESTING_NO_CLEANUP") == "" {
			_ = client.Database(name).Drop(ctx)
		}
	})
}

var atlasDomains = []string{
	".mongo.com",
	".mongodb.net",
	".mongodb-qa.net",
	".mongodb-dev.net",
	".mmscloudteam.com",
	".mmscloudtest.com",
	".mongodbgov.net",
	".mongodbgov-local.net",
	".mongodbgov-dev.net",
	".mongodbgov-qa.net",
}

// SkipForAtlasCluster will skip the test if `TOOLS_TESTING_MONGOD` is an Atlas URI.
func SkipForAtlasCluster(t *testing.T, reason string) {
	uri := os.Getenv(uriEnvVar)
	if uri == "" {
		return
	}

	for _, d := range atlasDomains {
		if strings.Contains(uri, d) {
			t.Skipf(
				"The %#q env var is for an Atlas cluster: %s",
				uriEnvVar,
				reason,
			)
		}
	}
}
