// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package idx holds the index specification type exchanged between the donor
// and the recipient during a tenant collection clone.
package idx

import (
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
)

// IDIndexName is the name the server gives the primary-key index.
const IDIndexName = "_id_"

// IndexDocument holds information about a collection's index.
type IndexDocument struct {
	Options                 bson.M `bson:",inline"`
	Key                     bson.D `bson:"key"`
	PartialFilterExpression bson.D `bson:"partialFilterExpression,omitempty"`
}

// NewIndexDocumentFromD converts a bson.D index spec into an IndexDocument
func NewIndexDocumentFromD(doc bson.D) (*IndexDocument, error) {
	indexDoc := IndexDocument{Options: bson.M{}}

	for _, elem := range doc {
		switch elem.Key {
		case "key":
			if val, ok := elem.Value.(bson.D); ok {
				indexDoc.Key = val
				continue
			} else {
				return nil, fmt.Errorf("index key could not type assert to bson.D")
			}
		case "partialFilterExpression":
			if val, ok := elem.Value.(bson.D); ok {
				indexDoc.PartialFilterExpression = val
				continue
			} else {
				return nil, fmt.Errorf("index partialFilterExpression could not type assert to bson.D")
			}
		default:
			indexDoc.Options[elem.Key] = elem.Value
		}
	}

	if len(indexDoc.Key) == 0 {
		return nil, fmt.Errorf("index spec %v has no key", doc)
	}

	return &indexDoc, nil
}

// NewIndexDocumentFromRaw decodes one document of a listIndexes reply.
func NewIndexDocumentFromRaw(raw bson.Raw) (*IndexDocument, error) {
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "error decoding index spec")
	}
	return NewIndexDocumentFromD(doc)
}

// Name returns the index's name, or the empty string if the spec has none.
func (idx IndexDocument) Name() string {
	name, _ := idx.Options["name"].(string)
	return name
}

// IsIDIndex reports whether this is the primary-key index, whatever its
// key direction or collation.
func (idx IndexDocument) IsIDIndex() bool {
	if idx.Name() == IDIndexName {
		return true
	}
	return len(idx.Key) == 1 && idx.Key[0].Key == "_id" && idx.PartialFilterExpression == nil &&
		idx.Key[0].Value != "hashed"
}

// IsDefaultIdIndex reports whether the key is the plain ascending _id key.
func (idx IndexDocument) IsDefaultIdIndex() bool {
	if len(idx.Key) != 1 || idx.Key[0].Key != "_id" {
		return false
	}
	switch v := idx.Key[0].Value.(type) {
	case int32:
		return v == 1
	case int64:
		return v == 1
	case int:
		return v == 1
	case float64:
		return v == 1
	case string:
		// Very old servers stored the _id key as "".
		return v == ""
	}
	return false
}

// ToSpec returns the index as the bson.D a createIndexes command expects,
// with key and name first.
func (idx IndexDocument) ToSpec() bson.D {
	spec := bson.D{{"key", idx.Key}}
	if name := idx.Name(); name != "" {
		spec = append(spec, bson.E{Key: "name", Value: name})
	}
	if idx.PartialFilterExpression != nil {
		spec = append(spec, bson.E{Key: "partialFilterExpression", Value: idx.PartialFilterExpression})
	}
	keys := lo.Keys(idx.Options)
	slices.Sort(keys)
	for _, k := range keys {
		if k == "name" || k == "ns" {
			continue
		}
		spec = append(spec, bson.E{Key: k, Value: idx.Options[k]})
	}
	return spec
}

// SplitIDIndex separates the primary-key index from the rest of the
// indexes. The order of the remaining indexes is preserved.
func SplitIDIndex(indexes []*IndexDocument) (*IndexDocument, []*IndexDocument) {
	var idIndex *IndexDocument
	rest := lo.Filter(indexes, func(index *IndexDocument, _ int) bool {
		if idIndex == nil && index.IsIDIndex() {
			idIndex = index
			return false
		}
		return true
	})
	return idIndex, rest
}

// Names returns the set of index names in indexes.
func Names(indexes []*IndexDocument) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet(lo.Map(indexes, func(index *IndexDocument, _ int) string {
		return index.Name()
	})...)
}

// Missing returns the indexes in planned whose names are not in existing,
// preserving the order of planned.
func Missing(planned []*IndexDocument, existing mapset.Set[string]) []*IndexDocument {
	return lo.Reject(planned, func(index *IndexDocument, _ int) bool {
		return existing.Contains(index.Name())
	})
}
