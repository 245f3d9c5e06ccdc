// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIsNamespaceForTenant(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	cases := []struct {
		db     string
		tenant string
		want   bool
	}{
		{"tenant1_db", "tenant1", true},
		{"tenant1_", "tenant1", true},
		{"tenant10_db", "tenant1", false},
		{"tenant1db", "tenant1", false},
		{"admin", "tenant1", false},
		{"_db", "", false},
	}
	for _, tc := range cases {
		ns := options.Namespace{DB: tc.db, Collection: "c"}
		assert.Equal(t, tc.want, IsNamespaceForTenant(ns, tc.tenant), "%v for %#q", ns, tc.tenant)
	}
}

func TestUUIDBinary(t *testing.T) {
	testtype.SkipUnlessTestType(t, testtype.UnitTestType)

	id := uuid.New()
	bin := UUIDToBinary(id)
	assert.Equal(t, bson.TypeBinaryUUID, bin.Subtype)

	back, err := UUIDFromBinary(bin)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	old, err := UUIDFromBinary(primitive.Binary{Subtype: bson.TypeBinaryUUIDOld, Data: id[:]})
	require.NoError(t, err)
	assert.Equal(t, id, old)

	_, err = UUIDFromBinary(primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: id[:]})
	assert.Error(t, err)

	target := NamespaceOrUUID{DB: "tenant1_db", UUID: id}
	assert.Equal(t, bin, target.CommandTarget())
	assert.Equal(t, "tenant1_db."+id.String(), target.String())
}
