// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"strings"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NamespaceOrUUID addresses a donor collection by database and UUID, so a
// collection that was dropped and recreated under the same name is not
// mistaken for the one being cloned.
type NamespaceOrUUID struct {
	DB   string
	UUID uuid.UUID
}

func (n NamespaceOrUUID) String() string {
	return n.DB + "." + n.UUID.String()
}

// CommandTarget is the value to put in the collection slot of a command
// such as find or count.
func (n NamespaceOrUUID) CommandTarget() primitive.Binary {
	return UUIDToBinary(n.UUID)
}

// UUIDToBinary converts id to the BSON binary form the server stores.
func UUIDToBinary(id uuid.UUID) primitive.Binary {
	return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: id[:]}
}

// UUIDFromBinary converts a BSON binary UUID into a uuid.UUID.
func UUIDFromBinary(bin primitive.Binary) (uuid.UUID, error) {
	if bin.Subtype != bson.TypeBinaryUUID && bin.Subtype != bson.TypeBinaryUUIDOld {
		return uuid.Nil, errors.Errorf("binary subtype %#x is not a uuid", bin.Subtype)
	}
	return uuid.FromBytes(bin.Data)
}

// IsNamespaceForTenant reports whether ns lives in a database owned by
// tenantID. Tenant databases are named "<tenantId>_<dbName>".
func IsNamespaceForTenant(ns options.Namespace, tenantID string) bool {
	return tenantID != "" && strings.HasPrefix(ns.DB, tenantID+"_")
}
