/*
Package perf drives perf and simpleperf collections on a target: it builds the
collection commands, starts and stops them, waits for record data to be
written, generates reports, and retrieves the resulting artifacts.
*/
package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Tool is the performance counter binary driven on the target.
type Tool string

const (
	ToolPerf       Tool = "perf"
	ToolSimpleperf Tool = "simpleperf"
)

// Mode is the collection sub-command.
type Mode string

const (
	ModeStat   Mode = "stat"
	ModeRecord Mode = "record"
)

var defaultEvents = map[Tool][]string{
	ToolPerf: {
		"cpu-migrations",
		"context-switches",
	},
	ToolSimpleperf: {
		"raw-cpu-cycles",
		"raw-l1-dcache",
		"raw-l1-dcache-refill",
		"raw-br-mis-pred",
		"raw-instruction-retired",
	},
}

// DefaultEvents returns the events collected by the tool when none are given.
func DefaultEvents(tool Tool) []string {
	return slices.Clone(defaultEvents[tool])
}

// Settings are the raw collector inputs as read from flags or a config file.
type Settings struct {
	Tool           string   `yaml:"tool"`
	Mode           string   `yaml:"mode"`
	Events         []string `yaml:"events"`
	Options        []string `yaml:"options"`
	Labels         []string `yaml:"labels"`
	ReportOptions  string   `yaml:"report_options"`
	ForceInstall   bool     `yaml:"force_install"`
	ValidateEvents bool     `yaml:"validate_events"`
}

// Config is a validated collector configuration. Options[i] is collected
// under Labels[i].
type Config struct {
	Tool           Tool
	Mode           Mode
	Events         []string
	Options        []string
	Labels         []string
	ReportOptions  string
	ForceInstall   bool
	ValidateEvents bool
}

// Resolve validates the settings and applies the tool defaults.
func Resolve(s Settings) (Config, error) {
	tool := Tool(strings.TrimSpace(s.Tool))
	if tool == "" {
		tool = ToolPerf
	}
	if _, ok := defaultEvents[tool]; !ok {
		return Config{}, &ConfigurationError{Field: "tool", Value: s.Tool, Reason: fmt.Sprintf("must be %s or %s", ToolPerf, ToolSimpleperf)}
	}
	mode := Mode(strings.TrimSpace(s.Mode))
	if mode == "" {
		mode = ModeStat
	}
	if mode != ModeStat && mode != ModeRecord {
		return Config{}, &ConfigurationError{Field: "mode", Value: s.Mode, Reason: fmt.Sprintf("must be %s or %s", ModeStat, ModeRecord)}
	}
	events := slices.Clone(s.Events)
	if len(events) == 0 {
		events = DefaultEvents(tool)
	}
	options := slices.Clone(s.Options)
	if len(options) == 0 {
		options = []string{""}
	}
	labels := slices.Clone(s.Labels)
	if len(labels) == 0 {
		for i := range options {
			labels = append(labels, fmt.Sprintf("%s_%d", tool, i))
		}
	}
	if len(labels) != len(options) {
		return Config{}, &ConfigurationError{
			Field:  "labels",
			Value:  strings.Join(labels, ","),
			Reason: fmt.Sprintf("%d labels given for %d option variants", len(labels), len(options)),
		}
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, label := range labels {
		if strings.TrimSpace(label) == "" || strings.ContainsAny(label, "/ \t") {
			return Config{}, &ConfigurationError{Field: "labels", Value: label, Reason: "labels must be non-empty file name components"}
		}
		if !seen.Add(label) {
			return Config{}, &ConfigurationError{Field: "labels", Value: label, Reason: "labels must be unique"}
		}
	}
	return Config{
		Tool:           tool,
		Mode:           mode,
		Events:         events,
		Options:        options,
		Labels:         labels,
		ReportOptions:  s.ReportOptions,
		ForceInstall:   s.ForceInstall,
		ValidateEvents: s.ValidateEvents,
	}, nil
}
