// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package idx

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestIsDefaultIdIndex(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	cases := []struct {
		Document  IndexDocument
		IsDefault bool
	}{
		{
			Document:  IndexDocument{Key: bson.D{{"_id", int32(1)}}},
			IsDefault: true,
		},
		{
			Document:  IndexDocument{Key: bson.D{{"_id", 1}}},
			IsDefault: true,
		},
		{
			Document:  IndexDocument{Key: bson.D{{"_id", ""}}}, // legacy
			IsDefault: true,
		},
		{
			Document:  IndexDocument{Key: bson.D{{"_id", "hashed"}}},
			IsDefault: false,
		},
	}

	for _, curCase := range cases {
		assert.Equal(
			t,
			curCase.IsDefault,
			curCase.Document.IsDefaultIdIndex(),
			"%+v", curCase.Document,
		)
	}
}

func TestNewIndexDocumentFromRaw(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	raw, err := bson.Marshal(bson.D{
		{"v", int32(2)},
		{"key", bson.D{{"a", int32(1)}, {"b", int32(-1)}}},
		{"name", "a_1_b_-1"},
		{"unique", true},
		{"partialFilterExpression", bson.D{{"a", bson.D{{"$gt", int32(5)}}}}},
	})
	require.NoError(t, err)

	doc, err := NewIndexDocumentFromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "a_1_b_-1", doc.Name())
	assert.False(t, doc.IsIDIndex())

	want := bson.D{
		{"key", bson.D{{"a", int32(1)}, {"b", int32(-1)}}},
		{"name", "a_1_b_-1"},
		{"partialFilterExpression", bson.D{{"a", bson.D{{"$gt", int32(5)}}}}},
		{"unique", true},
		{"v", int32(2)},
	}
	if diff := cmp.Diff(want, doc.ToSpec()); diff != "" {
		t.Errorf("ToSpec mismatch (-want +got):\n%s", diff)
	}
}

func TestNewIndexDocumentFromDRequiresKey(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	_, err := NewIndexDocumentFromD(bson.D{{"name", "nokey"}})
	assert.Error(t, err)

	_, err = NewIndexDocumentFromD(bson.D{{"key", "a"}})
	assert.Error(t, err)
}

func TestSplitIDIndex(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	id := &IndexDocument{Options: bson.M{"name": "_id_"}, Key: bson.D{{"_id", int32(1)}}}
	a := &IndexDocument{Options: bson.M{"name": "a_1"}, Key: bson.D{{"a", int32(1)}}}
	hashed := &IndexDocument{Options: bson.M{"name": "_id_hashed"}, Key: bson.D{{"_id", "hashed"}}}

	got, rest := SplitIDIndex([]*IndexDocument{a, id, hashed})
	assert.Same(t, id, got)
	assert.Equal(t, []*IndexDocument{a, hashed}, rest)

	got, rest = SplitIDIndex([]*IndexDocument{a})
	assert.Nil(t, got)
	assert.Equal(t, []*IndexDocument{a}, rest)
}

func TestMissing(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	a := &IndexDocument{Options: bson.M{"name": "a_1"}, Key: bson.D{{"a", int32(1)}}}
	b := &IndexDocument{Options: bson.M{"name": "b_1"}, Key: bson.D{{"b", int32(1)}}}
	c := &IndexDocument{Options: bson.M{"name": "c_1"}, Key: bson.D{{"c", int32(1)}}}

	existing := Names([]*IndexDocument{b})
	assert.True(t, existing.Equal(mapset.NewSet("b_1")))

	assert.Equal(t, []*IndexDocument{a, c}, Missing([]*IndexDocument{a, b, c}, existing))
	assert.Empty(t, Missing([]*IndexDocument{b}, existing))
}
