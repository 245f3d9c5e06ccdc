// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package util

import "regexp"

var userInfoRegex = regexp.MustCompile(`^(mongodb(?:\+srv)?://)([^/?]*@)`)

// SanitizeURI redacts the user info portion of a connection string so that
// it can be logged.
func SanitizeURI(uri string) string {
	return userInfoRegex.ReplaceAllString(uri, "${1}[**REDACTED**]@")
}

// Pluralize returns the singular form when count is one and the plural form
// otherwise.
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

// ShortUsage returns the one-line hint printed after a bad command line.
func ShortUsage(tool string) string {
	return "try '" + tool + " --help' for more information"
}
