// Package common defines data structures and functions that are used by multiple
// application commands, e.g., collect, reset.
package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"perftrace/internal/progress"
	"perftrace/internal/target"

	"github.com/spf13/cobra"
)

var AppName = filepath.Base(os.Args[0])

// AppContext represents the application context that can be accessed from all commands.
type AppContext struct {
	Timestamp   string // Timestamp is the application start time, used to name output.
	OutputDir   string // OutputDir is the directory where the application will write output files.
	WorkDir     string // WorkDir overrides the default work directory on the targets when not empty.
	LogFilePath string // LogFilePath is the path of the log file, empty when not logging to a file.
	Version     string // Version is the version of the application.
	Debug       bool   // Debug is set when the application runs with --debug.
}

type Flag struct {
	Name string
	Help string
}
type FlagGroup struct {
	GroupName string
	Flags     []Flag
}

// TargetFunc is the per-target work of a command. It reports progress
// through statusUpdate.
type TargetFunc func(myTarget target.Target, statusUpdate progress.MultiSpinnerUpdateFunc) error

// TargetCommand is the common flow for commands that act on every selected
// target concurrently, i.e., 'collect' and 'reset'.
type TargetCommand struct {
	Cmd                     *cobra.Command
	NeedsElevatedPrivileges bool
	FailIfCantElevate       bool
	TargetFunc              TargetFunc
}

// TargetResult is the outcome of a TargetFunc on one target.
type TargetResult struct {
	Target target.Target
	Err    error
}

// Run selects the targets, runs the TargetFunc on each of them, and returns
// one result per target in target order. Targets that could not be used are
// included with their error. An error is returned when no target succeeded.
func (tc *TargetCommand) Run() ([]TargetResult, error) {
	appContext := tc.Cmd.Parent().Context().Value(AppContext{}).(AppContext)
	myTargets, targetErrs, err := GetTargets(tc.Cmd, tc.NeedsElevatedPrivileges, tc.FailIfCantElevate, appContext.WorkDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		tc.Cmd.SilenceUsage = true
		return nil, err
	}
	// setup and start the progress indicator
	multiSpinner := progress.NewMultiSpinner()
	for _, t := range myTargets {
		err := multiSpinner.AddSpinner(t.GetName())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			slog.Error(err.Error())
			tc.Cmd.SilenceUsage = true
			return nil, err
		}
	}
	multiSpinner.Start()
	results := make([]TargetResult, len(myTargets))
	var usable []int
	for i, t := range myTargets {
		results[i].Target = t
		if targetErrs[i] != nil {
			_ = multiSpinner.Status(t.GetName(), fmt.Sprintf("Error: %v", targetErrs[i]))
			results[i].Err = targetErrs[i]
			continue
		}
		usable = append(usable, i)
	}
	errs := RunOnTargets(selectTargets(myTargets, usable), tc.TargetFunc, multiSpinner.Status)
	for i, idx := range usable {
		results[idx].Err = errs[i]
	}
	// stop the progress indicator
	multiSpinner.Finish()
	fmt.Println()
	if !slices.ContainsFunc(results, func(r TargetResult) bool { return r.Err == nil }) {
		err := fmt.Errorf("no successful targets found")
		slog.Error(err.Error())
		tc.Cmd.SilenceUsage = true
		return results, err
	}
	return results, nil
}

func selectTargets(myTargets []target.Target, indices []int) []target.Target {
	selected := make([]target.Target, 0, len(indices))
	for _, i := range indices {
		selected = append(selected, myTargets[i])
	}
	return selected
}

type indexedError struct {
	idx int
	err error
}

// RunOnTargets runs fn on each target in its own goroutine and returns the
// errors in target order.
func RunOnTargets(myTargets []target.Target, fn TargetFunc, statusUpdate progress.MultiSpinnerUpdateFunc) []error {
	channelError := make(chan indexedError)
	for i, t := range myTargets {
		go func(myTarget target.Target, i int) {
			err := fn(myTarget, statusUpdate)
			if err != nil {
				slog.Error("target failed", slog.String("target", myTarget.GetName()), slog.String("error", err.Error()))
			}
			channelError <- indexedError{idx: i, err: err}
		}(t, i)
	}
	// results arrive in the order of completion
	errs := make([]error, len(myTargets))
	for range myTargets {
		result := <-channelError
		errs[result.idx] = result.err
	}
	return errs
}

// CreateOutputDir creates the output directory if it does not exist
func CreateOutputDir(outputDir string) error {
	err := os.MkdirAll(outputDir, 0755) // #nosec G301
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// FlagValidationError is used to report an error with a flag
func FlagValidationError(cmd *cobra.Command, msg string) error {
	err := errors.New(msg)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	fmt.Fprintf(os.Stderr, "See '%s --help' for usage details.\n", cmd.CommandPath())
	cmd.SilenceUsage = true
	return err
}
