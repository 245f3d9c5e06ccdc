// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package util

import (
	"fmt"
	"strings"
)

const (
	InvalidDBChars         = "/\\. \"\x00$"
	InvalidCollectionChars = "$\x00"
	DefaultHost            = "localhost"
	DefaultPort            = "27017"

	maxDBNameLength = 64
)

// SplitHostArg extracts the host and replica set name from a string of the
// form "setName/host1,host2".
func SplitHostArg(connString string) ([]string, string) {
	slashIndex := strings.Index(connString, "/")
	setName := ""
	if slashIndex != -1 {
		setName = connString[:slashIndex]
		if slashIndex == len(connString)-1 {
			return []string{""}, setName
		}
		connString = connString[slashIndex+1:]
	}
	return strings.Split(connString, ","), setName
}

// CreateConnectionAddrs takes in a host string and a port and returns the
// address of each host with the port appended when one is given.
func CreateConnectionAddrs(host, port string) []string {
	addrs, _ := SplitHostArg(host)
	if port != "" {
		for i, addr := range addrs {
			addrs[i] = fmt.Sprintf("%v:%v", addr, port)
		}
	}
	return addrs
}

// BuildURI assembles a connection string out of the legacy --host and
// --port values. Hosts that already carry a port keep it.
func BuildURI(host, port string) string {
	hosts, setName := SplitHostArg(strings.TrimSpace(host))
	port = strings.TrimSpace(port)

	for i, h := range hosts {
		if h == "" {
			h = DefaultHost
		}
		if port != "" && !strings.Contains(h, ":") {
			h = h + ":" + port
		}
		hosts[i] = h
	}

	uri := "mongodb://" + strings.Join(hosts, ",") + "/"
	if setName != "" {
		uri += "?replicaSet=" + setName
	}
	return uri
}

// SplitNamespace splits a namespace into its database and collection parts
// at the first dot.
func SplitNamespace(namespace string) (string, string) {
	dot := strings.Index(namespace, ".")
	if dot == -1 {
		return namespace, ""
	}
	return namespace[:dot], namespace[dot+1:]
}

// ValidateDBName validates that a string is a valid name for a mongodb database.
func ValidateDBName(database string) error {
	if len(database) == 0 {
		return fmt.Errorf("database name cannot be an empty string")
	}
	if len(database) >= maxDBNameLength {
		return fmt.Errorf("db name '%v' is longer than %v characters", database, maxDBNameLength-1)
	}
	if strings.ContainsAny(database, InvalidDBChars) {
		return fmt.Errorf("db name '%v' contains an invalid character", database)
	}
	return nil
}

// ValidateCollectionName validates that a string is a valid name for a
// mongodb collection.
func ValidateCollectionName(collection string) error {
	if len(collection) == 0 {
		return fmt.Errorf("collection name cannot be an empty string")
	}
	if strings.ContainsAny(collection, InvalidCollectionChars) {
		return fmt.Errorf("collection name '%v' contains an invalid character", collection)
	}
	return nil
}

// ValidateFullNamespace validates a "db.collection" namespace.
func ValidateFullNamespace(namespace string) error {
	if !strings.Contains(namespace, ".") {
		return fmt.Errorf("namespace '%v' must be of the form <db>.<collection>", namespace)
	}
	db, coll := SplitNamespace(namespace)
	if err := ValidateDBName(db); err != nil {
		return err
	}
	return ValidateCollectionName(coll)
}
