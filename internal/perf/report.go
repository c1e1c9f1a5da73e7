package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// generateReports runs the report and per-sample report against the label's
// data file. Both run even if the first fails.
func (c *Collector) generateReports(label string) error {
	dataFile := c.target.GetWorkPath(artifactName(label, extData))
	commands := []string{
		BuildReportCommand(c.binary, c.config.ReportOptions, dataFile, c.target.GetWorkPath(artifactName(label, extReport))),
		BuildReportSamplesCommand(c.config.Tool, c.binary, dataFile, c.target.GetWorkPath(artifactName(label, extSamples))),
	}
	var result *multierror.Error
	for _, command := range commands {
		slog.Debug("generating report", slog.String("target", c.target.GetName()), slog.String("label", label), slog.String("command", command))
		output, err := c.target.Execute(command, reportTimeout, c.asRoot)
		if err != nil {
			if output = strings.TrimSpace(output); output != "" {
				err = errors.Wrap(err, output)
			}
			result = multierror.Append(result, &ReportError{Label: label, Command: command, Err: err})
		}
	}
	return result.ErrorOrNil()
}
