// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package password reads the donor or recipient password from the terminal
// or from standard input.
package password

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mongodb/mongo-tenant-tools/common/log"
	"golang.org/x/term"
)

// IsTerminal reports whether standard input is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Prompt displays a prompt asking for the password of the named connection
// and returns what the user enters.
func Prompt(what string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter password for %s:", what)
	defer fmt.Fprintln(os.Stderr)

	if IsTerminal() {
		log.Logv(log.DebugLow, "standard input is a terminal; reading password from terminal")
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", err
		}
		return string(pass), nil
	}

	log.Logv(log.Always, "reading password from standard input")
	return readPassNonInteractively(os.Stdin)
}

// readPassNonInteractively reads a single line from the reader, without the
// line terminator.
func readPassNonInteractively(reader io.Reader) (string, error) {
	line, err := bufio.NewReader(reader).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
