// Copyright (C) MongoDB, Inc. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package buildscript

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/craiggwilson/goke/pkg/git"
	"github.com/craiggwilson/goke/pkg/sh"
	"github.com/craiggwilson/goke/task"
	"github.com/mongodb/mongo-tenant-tools/common/testtype"
	"golang.org/x/mod/semver"
)

// pkgNames is a list of the names of all the packages to test or build.
var pkgNames = []string{
	"tenantclone",
	"common",
}

// tools are the packages with a main/<tool>.go binary.
var tools = map[string]string{
	"tenantclone": "mongotenantclone",
}

// minimumGoVersion must be prefixed with v to be parsed by golang.org/x/mod/semver
var minimumGoVersion = "v1.23.0"

func CheckMinimumGoVersion(ctx *task.Context) error {
	goVersionStr, err := runCmd(ctx, "go", "version")
	if err != nil {
		return fmt.Errorf("failed to get current go version: %w", err)
	}

	_, _ = ctx.Write([]byte(fmt.Sprintf("Found Go version \"%s\"\n", goVersionStr)))

	r := regexp.MustCompile(`go(\d+\.\d+\.*\d*)`)
	goVersionMatches := r.FindStringSubmatch(goVersionStr)
	if len(goVersionMatches) < 2 {
		return fmt.Errorf("could not find version string in the output of `go version`. Output: %s", goVersionStr)
	}

	goVersion := "v" + goVersionMatches[1]
	if semver.Compare(goVersion, minimumGoVersion) < 0 {
		return fmt.Errorf("found Go %s, wanted at least %s", goVersion, minimumGoVersion)
	}
	return nil
}

// BuildTools is an Executor that builds the tools.
func BuildTools(ctx *task.Context) error {
	if err := CheckMinimumGoVersion(ctx); err != nil {
		return err
	}
	for _, pkg := range selectedPkgs(ctx) {
		binary, ok := tools[pkg]
		if !ok {
			continue
		}
		if err := buildToolBinary(ctx, pkg, binary, "bin"); err != nil {
			return err
		}
	}
	return nil
}

// TestUnit is an Executor that runs all unit tests for the provided packages.
func TestUnit(ctx *task.Context) error {
	return runTests(ctx, selectedPkgs(ctx), testtype.UnitTestType)
}

// TestIntegration is an Executor that runs all integration tests for the provided packages.
func TestIntegration(ctx *task.Context) error {
	return runTests(ctx, selectedPkgs(ctx), testtype.IntegrationTestType)
}

// buildToolBinary builds the tool in pkg as binary, putting the result into
// outDir.
func buildToolBinary(ctx *task.Context, pkg, binary, outDir string) error {
	outPath := filepath.Join(outDir, binary)
	if runtime.GOOS == "windows" {
		outPath += ".exe"
	}
	_ = sh.Remove(ctx, outPath)

	mainFile := filepath.Join(pkg, "main", pkg+".go")

	buildFlags, err := getBuildFlags(ctx)
	if err != nil {
		return fmt.Errorf("failed to get build flags: %w", err)
	}

	args := append([]string{"build", "-o", outPath}, buildFlags...)
	args = append(args, mainFile)

	cmd := exec.CommandContext(ctx, "go", args...)
	sh.LogCmd(ctx, cmd)
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		_, _ = ctx.Write(output)
	}
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", binary, err)
	}
	return nil
}

// runTests runs the tests of the provided testType for the provided packages.
func runTests(ctx *task.Context, pkgs []string, testType string) error {
	for _, pkg := range pkgs {
		outFile, err := sh.CreateFileR(ctx, fmt.Sprintf("testing_output/%s.suite", pkg))
		if err != nil {
			return fmt.Errorf("failed to create testing output file: %w", err)
		}
		defer outFile.Close()

		args := []string{"test", "./" + pkg + "/..."}
		if ctx.Verbose {
			args = append(args, "-v")
		}

		env := append([]string{}, os.Environ()...)
		env = append(env, testType+"=true")

		out := io.MultiWriter(ctx, outFile)
		cmd := exec.CommandContext(ctx, "go", args...)
		cmd.Stdout = out
		cmd.Stderr = out
		cmd.Env = env

		if err := sh.RunCmd(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// getLdflags stamps the version and commit into the binary.
func getLdflags(ctx *task.Context) (string, error) {
	versionStr, err := runCmd(ctx, "git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		return "", fmt.Errorf("failed to get current version: %w", err)
	}

	gitCommit, err := git.SHA1(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get git commit hash: %w", err)
	}

	return fmt.Sprintf("-X main.VersionStr=%s -X main.GitCommit=%s", versionStr, gitCommit), nil
}

func getBuildFlags(ctx *task.Context) ([]string, error) {
	ldflags, err := getLdflags(ctx)
	if err != nil {
		return nil, err
	}

	flags := []string{"-ldflags", ldflags}
	if tags := ctx.Get("tags"); tags != "" {
		flags = append(flags, "-tags", tags)
	}
	switch runtime.GOOS {
	case "linux":
		flags = append(flags, "-buildmode=pie")
	case "windows":
		flags = append(flags, "-buildmode=exe")
	}
	return flags, nil
}

// selectedPkgs gets the list of packages selected via the -pkgs flag,
// defaulting to the list of all packages.
func selectedPkgs(ctx *task.Context) []string {
	if pkgs := ctx.Get("pkgs"); pkgs != "" {
		return strings.Split(pkgs, ",")
	}
	return pkgNames
}
