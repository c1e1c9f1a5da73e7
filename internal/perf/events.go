package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// raw PMU event codes are accepted even though 'list' does not show them
var rawEventCode = regexp.MustCompile(`^r(0x|0X)?[A-Fa-f0-9]+$`)

// parseEventList extracts event names from the output of '<tool> list'. Lines
// such as "cpu-cycles OR cycles  [Hardware event]" contribute both names.
func parseEventList(output string) mapset.Set[string] {
	available := mapset.NewThreadUnsafeSet[string]()
	for line := range strings.SplitSeq(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		available.Add(fields[0])
		if _, alternative, found := strings.Cut(line, " OR "); found {
			if alt := strings.Fields(alternative); len(alt) > 0 {
				available.Add(alt[0])
			}
		}
	}
	return available
}

func (c *Collector) validateEvents() error {
	output, err := c.target.Execute(c.binary+" list", 60, c.asRoot)
	if err != nil {
		return errors.Wrapf(err, "failed to list %s events", c.config.Tool)
	}
	available := parseEventList(output)
	for _, event := range c.config.Events {
		if available.Contains(event) || rawEventCode.MatchString(event) {
			continue
		}
		return &ConfigurationError{
			Field:  "events",
			Value:  event,
			Reason: fmt.Sprintf("not in the list of events available from %s", c.config.Tool),
		}
	}
	return nil
}
