// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package db

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mongodb/mongo-tenant-tools/common/log"
	"github.com/mongodb/mongo-tenant-tools/common/util"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// write concern fields.
const (
	j         = "j"
	w         = "w"
	wTimeout  = "wtimeout"
	majString = "majority"
)

// NewMongoWriteConcern takes a string (from the command line writeConcern
// option) and a ConnString object (from the command line uri option) and
// returns a WriteConcern. If both are provided, preference is given to the
// command line writeConcern option. If neither is provided, the default
// 'majority' write concern is constructed.
func NewMongoWriteConcern(
	writeConcern string,
	cs *connstring.ConnString,
) (wc *writeconcern.WriteConcern, err error) {
	defer func() {
		if wc != nil {
			log.Logvf(log.Info, "using write concern: w=%v, j=%v, wtimeout=%v",
				wc.W, lo.FromPtr(wc.Journal), wc.WTimeout)
		}
	}()

	if writeConcern == "" && cs != nil {
		return constructWCFromConnString(cs)
	}

	return constructWCFromString(writeConcern)
}

// constructWCFromConnString extracts the write concern from a parsed
// connection string, defaulting to 'majority'.
func constructWCFromConnString(cs *connstring.ConnString) (*writeconcern.WriteConcern, error) {
	wc := &writeconcern.WriteConcern{}

	switch {
	case cs.WNumberSet:
		if cs.WNumber < 0 {
			return nil, fmt.Errorf("invalid 'w' argument: %v", cs.WNumber)
		}
		wc.W = cs.WNumber
	case cs.WString != "":
		wc.W = cs.WString
	default:
		wc.W = majString
	}

	if cs.JSet {
		wc.Journal = lo.ToPtr(cs.J)
	}
	if cs.WTimeoutSet {
		wc.WTimeout = cs.WTimeout
	}

	return wc, nil
}

// constructWCFromString parses either an extended JSON document such as
// '{w: 2, j: true, wtimeout: 500}' or a bare 'w' value.
func constructWCFromString(writeConcern string) (*writeconcern.WriteConcern, error) {
	if writeConcern == "" {
		return writeconcern.Majority(), nil
	}

	var doc bson.M
	if err := bson.UnmarshalExtJSON([]byte(writeConcern), false, &doc); err == nil {
		return parseDocumentWriteConcern(doc)
	}

	wOpt, err := parseModeString(writeConcern)
	if err != nil {
		return nil, err
	}
	return &writeconcern.WriteConcern{W: wOpt}, nil
}

func parseDocumentWriteConcern(doc bson.M) (*writeconcern.WriteConcern, error) {
	wc := &writeconcern.WriteConcern{W: majString}

	if wVal, ok := doc[w]; ok {
		rawW, err := parseWField(wVal)
		if err != nil {
			return nil, err
		}
		wc.W = rawW
	}

	if jVal, ok := doc[j]; ok {
		journal, isBool := jVal.(bool)
		if !isBool {
			return nil, fmt.Errorf("invalid '%v' argument: %v", j, jVal)
		}
		wc.Journal = lo.ToPtr(journal)
	}

	if wtimeout, ok := doc[wTimeout]; ok {
		timeoutVal, err := util.ToInt64(wtimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid '%v' argument: %v", wTimeout, wtimeout)
		}
		wc.WTimeout = time.Duration(timeoutVal) * time.Millisecond
	}

	return wc, nil
}

func parseWField(wValue interface{}) (interface{}, error) {
	if wNumber, err := util.ToInt64(wValue); err == nil {
		return parseModeNumber(int(wNumber))
	}
	if wStrVal, ok := wValue.(string); ok {
		return parseModeString(wStrVal)
	}
	return nil, fmt.Errorf("invalid 'w' argument type: %v has type %T", wValue, wValue)
}

func parseModeNumber(wNumber int) (interface{}, error) {
	if wNumber < 0 {
		return nil, fmt.Errorf("invalid 'w' argument: %v", wNumber)
	}
	return wNumber, nil
}

func parseModeString(wString string) (interface{}, error) {
	if wString == "" {
		return majString, nil
	}
	if wNumber, err := strconv.Atoi(wString); err == nil {
		return parseModeNumber(wNumber)
	}
	return wString, nil
}
