package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

func containsMarker(files []string) bool {
	return slices.ContainsFunc(files, func(f string) bool {
		return strings.Contains(f, MarkerSubstring)
	})
}

// waitForDataFile blocks while marker files remain in the work directory,
// then generates the reports for the label. When the retry policy runs out
// the wait gives up with a warning and the reports are generated from
// whatever has been written.
func (c *Collector) waitForDataFile(label string) error {
	tool := string(c.config.Tool)
	start := c.clock.Now()
	attempts := 0
	for {
		files, err := c.listWorkDirectory()
		if err != nil {
			return &ReportError{Label: label, Err: errors.Wrap(err, "failed to poll for marker files")}
		}
		if !containsMarker(files) {
			break
		}
		if attempts >= c.retry.MaxAttempts {
			slog.Warn("data file took longer than expected to write and may be incomplete",
				slog.String("target", c.target.GetName()),
				slog.String("label", label),
				slog.Int("attempts", attempts),
				slog.Duration("waited", c.clock.Since(start)))
			completionTimeouts.WithLabelValues(tool).Inc()
			break
		}
		c.clock.Sleep(c.retry.Interval)
		attempts++
		completionPolls.WithLabelValues(tool).Inc()
	}
	completionWaitSeconds.WithLabelValues(tool).Observe(c.clock.Since(start).Seconds())
	slog.Debug("data file ready", slog.String("target", c.target.GetName()), slog.String("label", label), slog.Int("attempts", attempts))
	return c.generateReports(label)
}
