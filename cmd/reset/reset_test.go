package reset

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"path"
	"strings"
	"testing"

	"perftrace/internal/perf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTarget serves a fixed work directory listing
type stubTarget struct {
	files       []string
	killed      []string
	removed     []string
	uninstalled []string
	failRemove  bool
}

func (s *stubTarget) GetName() string                  { return "stub" }
func (s *stubTarget) GetArchitecture() (string, error) { return "aarch64", nil }
func (s *stubTarget) CanElevatePrivileges() bool       { return false }
func (s *stubTarget) Execute(command string, timeout int, asRoot bool) (string, error) {
	if strings.HasPrefix(command, "ls -1 ") {
		return strings.Join(s.files, "\n"), nil
	}
	return "", nil
}
func (s *stubTarget) Background(command string, asRoot bool) error { return nil }
func (s *stubTarget) GetPids(name string) ([]int, error)          { return nil, nil }
func (s *stubTarget) Killall(name string, signal string, asRoot bool) error {
	s.killed = append(s.killed, name+":"+signal)
	return nil
}
func (s *stubTarget) GetInstalled(name string) (string, error) { return "", nil }
func (s *stubTarget) Install(hostPath string) (string, error)  { return "", nil }
func (s *stubTarget) Uninstall(name string) error {
	s.uninstalled = append(s.uninstalled, name)
	return nil
}
func (s *stubTarget) GetWorkPath(name string) string   { return path.Join("/tmp/perftrace", name) }
func (s *stubTarget) CreateDirectory(dir string) error { return nil }
func (s *stubTarget) PullFile(srcPath string, dstDir string, timeout int) error {
	return nil
}
func (s *stubTarget) RemoveFile(filePath string, asRoot bool) error {
	if s.failRemove {
		return fmt.Errorf("rm: cannot remove '%s': Permission denied", filePath)
	}
	s.removed = append(s.removed, filePath)
	return nil
}

func TestResetTarget(t *testing.T) {
	stub := &stubTarget{files: []string{"bin", "perf_0.data", "perf_0.rpt", "notes.txt"}}
	var statuses []string
	status := func(label string, s string) error {
		statuses = append(statuses, s)
		return nil
	}
	require.NoError(t, resetTarget(stub, perf.ToolPerf, false, status))
	assert.Equal(t, []string{"perf:SIGKILL"}, stub.killed)
	assert.Equal(t, []string{"/tmp/perftrace/perf_0.data", "/tmp/perftrace/perf_0.rpt"}, stub.removed)
	assert.Empty(t, stub.uninstalled)
	assert.Equal(t, []string{"resetting perf", "reset complete"}, statuses)

	require.NoError(t, resetTarget(stub, perf.ToolSimpleperf, true, status))
	assert.Equal(t, []string{"simpleperf"}, stub.uninstalled)
}

func TestResetTargetFailure(t *testing.T) {
	stub := &stubTarget{files: []string{"perf_0.out"}, failRemove: true}
	var last string
	err := resetTarget(stub, perf.ToolPerf, true, func(label string, s string) error {
		last = s
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")
	assert.True(t, strings.HasPrefix(last, "Error:"))
	assert.Empty(t, stub.uninstalled)
}
