// Package aptdiff wires the dpkg index, traversal driver, and
// verification pipeline into the single operation the CLI exposes:
// build an index scoped to the requested packages/paths, walk it, drain
// the pipeline, and report a summary (§6).
package aptdiff

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/apt-diff/apt-diff/internal/archive"
	"github.com/apt-diff/apt-diff/internal/config"
	"github.com/apt-diff/apt-diff/internal/dpkg"
	"github.com/apt-diff/apt-diff/internal/pipeline"
	"github.com/apt-diff/apt-diff/internal/report"
	"github.com/apt-diff/apt-diff/internal/traverse"
)

// AptDiff accumulates the actions a run should perform, mirroring the
// original tool's object of the same name: a CLI invocation adds one
// CheckPath or CheckPackage action per --path/--package flag, then calls
// Execute once.
type AptDiff struct {
	Config config.Config

	packages []string
	paths    []string

	Stdout io.Writer
	Stderr io.Writer
}

// CheckPath schedules a whole-tree comparison rooted at path.
func (a *AptDiff) CheckPath(path string) {
	a.paths = append(a.paths, path)
}

// CheckPackage schedules a tree-isolated check of every path pkg owns.
func (a *AptDiff) CheckPackage(pkg string) {
	a.packages = append(a.packages, pkg)
}

// Summary is the final tally Execute returns, printed by the CLI as the
// closing report block.
type Summary struct {
	Discrepancies     int
	Errors            int
	IgnoredExtras     int
	IgnoredConffiles  int
	UnverifiableLinks int
	UnverifiableDirs  int
}

// Execute builds the index for whatever actions were scheduled, runs the
// traversal, drains the verification pipeline, and returns the summary.
// With no actions scheduled at all, it warns and returns a zero Summary
// rather than silently doing nothing (§6 "no actions specified").
func (a *AptDiff) Execute(ctx context.Context) (Summary, error) {
	logger := &report.Logger{Out: a.Stdout, Err: a.Stderr}

	if len(a.packages) == 0 && len(a.paths) == 0 {
		logger.Warning("no action specified; use --package or --path")
		return Summary{}, nil
	}

	idx := dpkg.NewIndex(a.Config.AdminDir)

	var pathFilter *dpkg.PathFilter
	if len(a.paths) > 0 {
		pathFilter = dpkg.NewPathFilter(a.paths)
		if err := idx.LoadPaths(pathFilter); err != nil {
			return Summary{}, fmt.Errorf("loading dpkg state: %w", err)
		}
	}
	for _, pkg := range a.packages {
		if err := idx.LoadPackage(pkg); err != nil {
			return Summary{}, fmt.Errorf("loading package %s: %w", pkg, err)
		}
	}

	// Conffile status is loaded even under --ignore-conffiles: it's the
	// only way to know which files the flag applies to.
	warn := func(format string, args ...any) { logger.Warning(format, args...) }
	if err := idx.LoadConffiles(ctx, pathFilter, warn); err != nil {
		logger.SystemError("loading conffile status: %v", err)
	}

	tempDir := a.Config.TempDir
	ownTempDir := tempDir == ""
	if ownTempDir {
		dir, err := defaultTempDir()
		if err != nil {
			return Summary{}, fmt.Errorf("creating temp directory: %w", err)
		}
		tempDir = dir
	}
	if strings.Contains(tempDir, " ") {
		// Space-delimited fields end up in apt-get/dpkg-query argument
		// construction; a tempdir containing one is rejected outright
		// rather than quoted around (§6).
		return Summary{}, fmt.Errorf("temp directory %q must not contain spaces", tempDir)
	}
	if !a.Config.KeepExtracted {
		if ownTempDir {
			defer removeAll(tempDir, logger)
		} else {
			defer removeAll(filepath.Join(tempDir, "extracted"), logger)
		}
	}

	sup := pipeline.NewSupervisor(ctx, pipeline.Config{
		Workers:  a.Config.Workers,
		Acquirer: archive.AptGetAcquirer{AptOptions: cacheOptions(a.Config.NoOverrideCache, tempDir, a.Config.AptOptions)},
		TempDir:  tempDir,
		Logger:   logger,
	})

	driver := &traverse.Driver{
		Index:              idx,
		Supervisor:         sup,
		Logger:             logger,
		IgnoreConffiles:    a.Config.IgnoreConffiles,
		NoIgnoreExtras:     a.Config.NoIgnoreExtras,
		ReportUnverifiable: a.Config.ReportUnverifiable,
	}

	for _, path := range a.paths {
		if err := driver.CheckPath(ctx, path); err != nil {
			return Summary{}, fmt.Errorf("checking %s: %w", path, err)
		}
	}
	for _, pkg := range a.packages {
		if err := driver.CheckPackage(ctx, pkg); err != nil {
			return Summary{}, fmt.Errorf("checking package %s: %w", pkg, err)
		}
	}

	sup.Close()
	discrepancies, err := sup.Wait()
	if err != nil {
		return Summary{}, fmt.Errorf("verification pipeline: %w", err)
	}
	logger.AddDiscrepancies(discrepancies)

	counts := logger.Snapshot()
	return Summary{
		Discrepancies:     counts.Discrepancies,
		Errors:            counts.Errors,
		IgnoredExtras:     counts.IgnoredExtras,
		IgnoredConffiles:  counts.IgnoredConffiles,
		UnverifiableLinks: counts.UnverifiableLinks,
		UnverifiableDirs:  counts.UnverifiableDirs,
	}, nil
}
