package collect

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"perftrace/internal/perf"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("collect", pflag.ContinueOnError)
	addSettingsFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestMergeSettingsDefaults(t *testing.T) {
	s, err := mergeSettings(newFlags(t), perf.Settings{})
	require.NoError(t, err)
	assert.Equal(t, "perf", s.Tool)
	assert.Equal(t, "stat", s.Mode)
	assert.Empty(t, s.Events)
	assert.Empty(t, s.Options)
	assert.False(t, s.ForceInstall)
}

func TestMergeSettingsFlags(t *testing.T) {
	flags := newFlags(t,
		"--tool", "simpleperf",
		"--mode", "record",
		"--events", "raw-cpu-cycles,raw-l1-dcache",
		"--options", "-a --call-graph fp",
		"--options", "-C 0,1",
		"--labels", "all,cpus",
		"--report-options", "--sort comm",
		"--force-install",
	)
	s, err := mergeSettings(flags, perf.Settings{})
	require.NoError(t, err)
	assert.Equal(t, perf.Settings{
		Tool:          "simpleperf",
		Mode:          "record",
		Events:        []string{"raw-cpu-cycles", "raw-l1-dcache"},
		Options:       []string{"-a --call-graph fp", "-C 0,1"},
		Labels:        []string{"all", "cpus"},
		ReportOptions: "--sort comm",
		ForceInstall:  true,
	}, s)
}

func TestMergeSettingsFileThenFlags(t *testing.T) {
	base := perf.Settings{
		Tool:           "simpleperf",
		Mode:           "record",
		Events:         []string{"raw-cpu-cycles"},
		Labels:         []string{"a"},
		Options:        []string{"-a"},
		ValidateEvents: true,
	}
	// unset flags keep the file values, even though the flags have defaults
	s, err := mergeSettings(newFlags(t), base)
	require.NoError(t, err)
	assert.Equal(t, base, s)

	s, err = mergeSettings(newFlags(t, "--mode", "stat", "--validate-events=false"), base)
	require.NoError(t, err)
	assert.Equal(t, "simpleperf", s.Tool)
	assert.Equal(t, "stat", s.Mode)
	assert.False(t, s.ValidateEvents)
	assert.Equal(t, []string{"raw-cpu-cycles"}, s.Events)
}

func TestReadSettingsFile(t *testing.T) {
	path := writeConfig(t, `
tool: simpleperf
mode: record
events:
  - raw-cpu-cycles
options:
  - "-a -g"
labels:
  - everything
report_options: "--sort dso"
force_install: true
`)
	s, err := readSettingsFile(path)
	require.NoError(t, err)
	assert.Equal(t, "simpleperf", s.Tool)
	assert.Equal(t, []string{"-a -g"}, s.Options)
	assert.Equal(t, "--sort dso", s.ReportOptions)
	assert.True(t, s.ForceInstall)
}

func TestReadSettingsFileErrors(t *testing.T) {
	_, err := readSettingsFile(writeConfig(t, "tool: perf\nunknown_key: 1\n"))
	assert.Error(t, err)
	_, err = readSettingsFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadSettings(t *testing.T) {
	path := writeConfig(t, "mode: record\noptions: [\"-a\", \"-C 1\"]\n")
	cfg, err := loadSettings(newFlags(t, "--labels", "all,cpu1"), path)
	require.NoError(t, err)
	assert.Equal(t, perf.ToolPerf, cfg.Tool)
	assert.Equal(t, perf.ModeRecord, cfg.Mode)
	assert.Equal(t, []string{"all", "cpu1"}, cfg.Labels)
	assert.Equal(t, perf.DefaultEvents(perf.ToolPerf), cfg.Events)

	_, err = loadSettings(newFlags(t, "--labels", "one"), path)
	var configErr *perf.ConfigurationError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "labels", configErr.Field)

	_, err = loadSettings(newFlags(t, "--tool", "dtrace"), "")
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "tool", configErr.Field)
}
