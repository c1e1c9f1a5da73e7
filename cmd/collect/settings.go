package collect

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"os"

	"perftrace/internal/perf"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// collector setting flag names
const (
	flagToolName           = "tool"
	flagModeName           = "mode"
	flagEventsName         = "events"
	flagOptionsName        = "options"
	flagLabelsName         = "labels"
	flagReportOptionsName  = "report-options"
	flagForceInstallName   = "force-install"
	flagValidateEventsName = "validate-events"
)

// addSettingsFlags defines the flags that map onto perf.Settings.
func addSettingsFlags(flags *pflag.FlagSet) {
	flags.String(flagToolName, string(perf.ToolPerf), "")
	flags.String(flagModeName, string(perf.ModeStat), "")
	flags.StringSlice(flagEventsName, nil, "")
	// options often contain commas, so each --options is one variant
	flags.StringArray(flagOptionsName, nil, "")
	flags.StringSlice(flagLabelsName, nil, "")
	flags.String(flagReportOptionsName, "", "")
	flags.Bool(flagForceInstallName, false, "")
	flags.Bool(flagValidateEventsName, false, "")
}

// readSettingsFile reads collector settings from a YAML file. Unknown keys
// are an error.
func readSettingsFile(path string) (perf.Settings, error) {
	var settings perf.Settings
	content, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return settings, errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.UnmarshalStrict(content, &settings); err != nil {
		return settings, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return settings, nil
}

// mergeSettings overlays the flags on the settings read from a config file.
// A flag wins when it was set on the command line, or when the file left the
// setting empty and the flag has a default.
func mergeSettings(flags *pflag.FlagSet, base perf.Settings) (perf.Settings, error) {
	s := base
	var err error
	getString := func(name string, dst *string) {
		if err != nil || (!flags.Changed(name) && *dst != "") {
			return
		}
		*dst, err = flags.GetString(name)
	}
	getStrings := func(name string, dst *[]string, get func(string) ([]string, error)) {
		if err != nil || !flags.Changed(name) {
			return
		}
		*dst, err = get(name)
	}
	getBool := func(name string, dst *bool) {
		if err != nil || !flags.Changed(name) {
			return
		}
		*dst, err = flags.GetBool(name)
	}
	getString(flagToolName, &s.Tool)
	getString(flagModeName, &s.Mode)
	getString(flagReportOptionsName, &s.ReportOptions)
	getStrings(flagEventsName, &s.Events, flags.GetStringSlice)
	getStrings(flagOptionsName, &s.Options, flags.GetStringArray)
	getStrings(flagLabelsName, &s.Labels, flags.GetStringSlice)
	getBool(flagForceInstallName, &s.ForceInstall)
	getBool(flagValidateEventsName, &s.ValidateEvents)
	if err != nil {
		return s, fmt.Errorf("failed to read collector flags: %w", err)
	}
	return s, nil
}

// loadSettings returns the collector configuration from the optional config
// file and the command line.
func loadSettings(flags *pflag.FlagSet, configPath string) (perf.Config, error) {
	var base perf.Settings
	if configPath != "" {
		var err error
		base, err = readSettingsFile(configPath)
		if err != nil {
			return perf.Config{}, err
		}
	}
	settings, err := mergeSettings(flags, base)
	if err != nil {
		return perf.Config{}, err
	}
	return perf.Resolve(settings)
}
