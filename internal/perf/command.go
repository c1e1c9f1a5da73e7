package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"strings"

	"github.com/alessio/shellescape"
)

// artifact file extensions, relative to the label
const (
	extOut     = "out"
	extData    = "data"
	extReport  = "rpt"
	extSamples = "rptsamples"
)

// MarkerSubstring appears in the names of the files the tool keeps open while
// it is still writing a record data file.
const MarkerSubstring = "TemporaryFile"

// per-sample report sub-command and options, by tool
var samplesCommand = map[Tool][]string{
	ToolSimpleperf: {"report-sample", "--show-callchain"},
	ToolPerf:       {"script"},
}

// joinParts joins the non-empty parts with single spaces. Option strings are
// passed through verbatim.
func joinParts(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

func eventFlags(events []string) string {
	flags := make([]string, 0, len(events))
	for _, e := range events {
		flags = append(flags, "-e "+e)
	}
	return strings.Join(flags, " ")
}

func artifactName(label string, ext string) string {
	return label + "." + ext
}

// BuildStatCommand renders a counting run whose output, including the
// tool's stderr summary, goes to outFile. Paths are shell quoted, options and
// events are not.
func BuildStatCommand(binary string, options string, events []string, outFile string) string {
	return joinParts(shellescape.Quote(binary), string(ModeStat), options, eventFlags(events), ">", shellescape.Quote(outFile), "2>&1")
}

// BuildRecordCommand renders a sampling run. The tool writes dataFile itself.
func BuildRecordCommand(binary string, options string, events []string, dataFile string) string {
	return joinParts(shellescape.Quote(binary), string(ModeRecord), options, eventFlags(events), "-o", shellescape.Quote(dataFile))
}

// BuildReportCommand renders the summary report of dataFile into reportFile.
func BuildReportCommand(binary string, reportOptions string, dataFile string, reportFile string) string {
	return joinParts(shellescape.Quote(binary), "report", reportOptions, "-i", shellescape.Quote(dataFile), ">", shellescape.Quote(reportFile), "2>&1")
}

// BuildReportSamplesCommand renders the per-sample report of dataFile into
// samplesFile.
func BuildReportSamplesCommand(tool Tool, binary string, dataFile string, samplesFile string) string {
	parts := []string{shellescape.Quote(binary)}
	parts = append(parts, samplesCommand[tool]...)
	parts = append(parts, "-i", shellescape.Quote(dataFile), ">", shellescape.Quote(samplesFile), "2>&1")
	return joinParts(parts...)
}

// BuildCommands renders one collection command per option variant. workPath
// maps an artifact file name to its path on the target.
func BuildCommands(cfg Config, binary string, workPath func(string) string) []string {
	commands := make([]string, 0, len(cfg.Options))
	for i, options := range cfg.Options {
		label := cfg.Labels[i]
		switch cfg.Mode {
		case ModeRecord:
			commands = append(commands, BuildRecordCommand(binary, options, cfg.Events, workPath(artifactName(label, extData))))
		default:
			commands = append(commands, BuildStatCommand(binary, options, cfg.Events, workPath(artifactName(label, extOut))))
		}
	}
	return commands
}

// artifactExtensions lists the files retrieved per label in the given mode.
func artifactExtensions(mode Mode) []string {
	if mode == ModeRecord {
		return []string{extData, extReport, extSamples}
	}
	return []string{extOut}
}

// isArtifactFile reports whether a work directory entry was produced by a
// collection and is removed on reset. Stat output is matched by its '.out'
// suffix only, so entries that merely contain "out" are left in place.
func isArtifactFile(name string) bool {
	return strings.Contains(name, "."+extReport) ||
		strings.Contains(name, "."+extData) ||
		strings.Contains(name, MarkerSubstring) ||
		strings.HasSuffix(name, "."+extOut)
}
