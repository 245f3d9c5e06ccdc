// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package idx

import (
	"fmt"
	"strings"
)

var fieldTypeRequiredOpts = []struct {
	fieldType string
	option    string
}{
	{"2dsphere", "2dsphereIndexVersion"},
	{"text", "textIndexVersion"},
}

// FindInconsistency returns an error describing every reason the recipient
// would build this index differently from the donor. A spec that passes is
// safe to hand to createIndexes verbatim.
func (idx IndexDocument) FindInconsistency() error {
	// []any is for easier inclusion into fmt.Errorf below.
	var errors []any

	if idx.Name() == "" {
		errors = append(errors, fmt.Errorf("index with key %v has no name", idx.Key))
	}

	for _, keySpec := range idx.Key {
		for _, ftro := range fieldTypeRequiredOpts {
			if keySpec.Value == ftro.fieldType {
				if _, hasOpt := idx.Options[ftro.option]; !hasOpt {
					errors = append(errors, fmt.Errorf("index %#q includes a %#q field (%#q) but lacks a %#q", idx.Name(), ftro.fieldType, keySpec.Key, ftro.option))
				}
			}
		}
	}

	if len(errors) == 0 {
		return nil
	}

	return fmt.Errorf(
		strings.Join(repeat(len(errors), "%w"), "; "),
		errors...,
	)
}

func repeat[T any](count int, prototype T) []T {
	retval := make([]T, count)
	for i := range count {
		retval[i] = prototype
	}

	return retval
}
