// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package util

import (
	"fmt"
	"math"
)

// ToInt64 converts any numeric BSON value to an int64. Server replies carry
// counts as int32, int64 or double depending on magnitude and version.
func ToInt64(number interface{}) (int64, error) {
	switch n := number.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %v overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("cannot convert value of type %T to int64", number)
}

// ToUInt32 converts any numeric value to a uint32.
func ToUInt32(number interface{}) (uint32, error) {
	n, err := ToInt64(number)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("value %v does not fit in a uint32", number)
	}
	return uint32(n), nil
}
