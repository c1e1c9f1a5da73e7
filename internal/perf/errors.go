package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import "fmt"

// ConfigurationError reports a collector setting that failed validation.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s '%s': %s", e.Field, e.Value, e.Reason)
}

// DeploymentError reports that the tool binary could not be made available on
// the target, typically because no host binary matches the target architecture.
type DeploymentError struct {
	Tool Tool
	Arch string
	Path string
	Err  error
}

func (e *DeploymentError) Error() string {
	msg := fmt.Sprintf("cannot deploy %s for architecture '%s'", e.Tool, e.Arch)
	if e.Path != "" {
		msg += fmt.Sprintf(" from %s", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// LifecycleError reports an operation that is not valid in the collector's
// current state.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("cannot %s: collector is %s", e.Op, e.State)
}

// ReportError reports a failed report generation step for one label.
type ReportError struct {
	Label   string
	Command string
	Err     error
}

func (e *ReportError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("report for %s failed: %v", e.Label, e.Err)
	}
	return fmt.Sprintf("report for %s failed (%s): %v", e.Label, e.Command, e.Err)
}

func (e *ReportError) Unwrap() error {
	return e.Err
}

// RetrievalError reports an artifact that could not be copied to the host.
type RetrievalError struct {
	Label string
	File  string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("failed to retrieve %s for %s: %v", e.File, e.Label, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}
