// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tenantclone

import (
	"context"

	"github.com/google/uuid"
	"github.com/mongodb/mongo-tenant-tools/common/options"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// AutoIndexID is the collection's autoIndexId creation option.
type AutoIndexID int

const (
	AutoIndexIDDefault AutoIndexID = iota
	AutoIndexIDYes
	AutoIndexIDNo
)

// CollectionOptions are the donor collection's creation options.
type CollectionOptions struct {
	UUID        uuid.UUID
	AutoIndexID AutoIndexID
	// Other holds every create option besides autoIndexId, in donor order.
	Other bson.D
}

// ParseCollectionOptions splits the options document of a listCollections
// entry into CollectionOptions.
func ParseCollectionOptions(opts bson.D, id uuid.UUID) CollectionOptions {
	parsed := CollectionOptions{UUID: id}
	for _, elem := range opts {
		if elem.Key != "autoIndexId" {
			parsed.Other = append(parsed.Other, elem)
			continue
		}
		if b, ok := elem.Value.(bool); ok {
			if b {
				parsed.AutoIndexID = AutoIndexIDYes
			} else {
				parsed.AutoIndexID = AutoIndexIDNo
			}
		}
	}
	return parsed
}

type collectionInfo struct {
	Name    string `bson:"name"`
	Type    string `bson:"type"`
	Options bson.D `bson:"options"`
	Info    struct {
		UUID primitive.Binary `bson:"uuid"`
	} `bson:"info"`
}

// FetchCollectionOptions reads the options and UUID of ns from the donor's
// listCollections. The bool is false when the collection does not exist.
func FetchCollectionOptions(ctx context.Context, client *mongo.Client, ns options.Namespace) (CollectionOptions, bool, error) {
	cursor, err := client.Database(ns.DB).ListCollections(ctx, bson.D{{"name", ns.Collection}})
	if err != nil {
		return CollectionOptions{}, false, errors.Wrapf(err, "error listing collections on donor database %#q", ns.DB)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		return CollectionOptions{}, false, errors.Wrapf(cursor.Err(), "error listing collections on donor database %#q", ns.DB)
	}
	var info collectionInfo
	if err := cursor.Decode(&info); err != nil {
		return CollectionOptions{}, false, errors.Wrapf(err, "error decoding collection info for %v", ns)
	}
	if info.Type != "" && info.Type != "collection" {
		return CollectionOptions{}, false, errors.Errorf("%v is a %v, not a collection", ns, info.Type)
	}
	id, err := UUIDFromBinary(info.Info.UUID)
	if err != nil {
		return CollectionOptions{}, false, errors.Wrapf(err, "collection %v has no usable uuid", ns)
	}
	return ParseCollectionOptions(info.Options, id), true, nil
}
