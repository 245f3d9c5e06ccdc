// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package idx

import (
	"testing"

	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestFindInconsistency_OK(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	docs := []IndexDocument{
		{
			Options: bson.M{
				"name": "myindex",
			},
			Key: bson.D{
				{"_id", 1},
			},
		},
		{
			Options: bson.M{
				"name":                 "myindex",
				"2dsphereIndexVersion": 2,
			},
			Key: bson.D{
				{"_id", 1},
				{"someField", "2dsphere"},
			},
		},
		{
			Options: bson.M{
				"name":             "myindex",
				"textIndexVersion": 2,
			},
			Key: bson.D{
				{"_id", 1},
				{"someField", "text"},
			},
		},
	}

	for _, idx := range docs {
		assert.NoError(t, idx.FindInconsistency(), "should be OK: %+v", idx)
	}
}

func TestFindInconsistency_UnversionedTextIndex(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	idx := IndexDocument{
		Options: bson.M{
			"name": "myindex",
		},
		Key: bson.D{
			{"oneField", 1},
			{"someField", "text"},
		},
	}

	err := idx.FindInconsistency()
	require.Error(t, err)
	assert.ErrorContains(t, err, "myindex")
	assert.ErrorContains(t, err, "textIndexVersion")
	assert.ErrorContains(t, err, "someField")
}

func TestFindInconsistency_MultipleProblems(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	idx := IndexDocument{
		Options: bson.M{},
		Key: bson.D{
			{"loc", "2dsphere"},
		},
	}

	err := idx.FindInconsistency()
	require.Error(t, err)
	assert.ErrorContains(t, err, "has no name")
	assert.ErrorContains(t, err, "2dsphereIndexVersion")
}
