package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// fakeTarget keeps the work directory in memory and records every call. Files
// named by a '>' redirect or an '-o' flag appear when a command runs.
type fakeTarget struct {
	name      string
	arch      string
	workDir   string
	hostFs    afero.Fs
	files     map[string]string
	installed map[string]string
	// listings that still show marker files, negative for all of them
	markerPolls int
	listOutput  string
	// elevated runs write '-o' files owned by root with mode 0600
	rootOwned  bool
	unreadable map[string]bool
	noElevate  bool

	executed    []string
	background  []string
	signals     []string
	removed     []string
	installs    []string
	uninstalled []string
	pullTimeout []int
	listCalls   int
	listed      []string
	shared      []string

	failList    bool
	failPull    map[string]bool
	failExecute func(command string) bool
}

func newFakeTarget(hostFs afero.Fs) *fakeTarget {
	return &fakeTarget{
		name:    "fake",
		arch:    "x86_64",
		workDir: "/tmp/perftrace",
		hostFs:  hostFs,
		files:   map[string]string{},
		installed: map[string]string{
			"perf":       "/usr/bin/perf",
			"simpleperf": "/system/bin/simpleperf",
		},
		failPull:   map[string]bool{},
		unreadable: map[string]bool{},
	}
}

func (f *fakeTarget) GetName() string { return f.name }

func (f *fakeTarget) GetArchitecture() (string, error) { return f.arch, nil }

func (f *fakeTarget) CanElevatePrivileges() bool { return !f.noElevate }

func (f *fakeTarget) GetWorkPath(name string) string { return path.Join(f.workDir, name) }

func (f *fakeTarget) CreateDirectory(dir string) error { return nil }

func (f *fakeTarget) Execute(command string, timeout int, asRoot bool) (string, error) {
	if dir, ok := strings.CutPrefix(command, "ls -1 "); ok {
		f.listed = append(f.listed, dir)
		return f.list()
	}
	if paths, ok := strings.CutPrefix(command, "chmod a+r "); ok {
		for _, p := range strings.Fields(paths) {
			name := path.Base(strings.Trim(p, "'"))
			f.shared = append(f.shared, name)
			delete(f.unreadable, name)
		}
		return "", nil
	}
	f.executed = append(f.executed, command)
	if f.failExecute != nil && f.failExecute(command) {
		return "cannot open data file", fmt.Errorf("exit status 1")
	}
	if strings.HasSuffix(command, " list") {
		return f.listOutput, nil
	}
	f.createOutputs(command)
	return "", nil
}

func (f *fakeTarget) list() (string, error) {
	f.listCalls++
	if f.failList {
		return "ls: cannot access", fmt.Errorf("exit status 2")
	}
	if f.markerPolls == 0 {
		for name := range f.files {
			if strings.Contains(name, MarkerSubstring) {
				delete(f.files, name)
			}
		}
	}
	var names []string
	for name := range f.files {
		names = append(names, name)
	}
	if f.markerPolls > 0 && slices.ContainsFunc(names, func(n string) bool { return strings.Contains(n, MarkerSubstring) }) {
		f.markerPolls--
	}
	slices.Sort(names)
	return strings.Join(names, "\n") + "\n", nil
}

func (f *fakeTarget) createOutputs(command string) {
	fields := strings.Fields(command)
	for i, field := range fields {
		if (field == ">" || field == "-o") && i+1 < len(fields) {
			name := path.Base(fields[i+1])
			f.files[name] = "output of " + fields[0]
			if field == "-o" && f.rootOwned {
				f.unreadable[name] = true
			}
		}
	}
}

func (f *fakeTarget) Background(command string, asRoot bool) error {
	f.background = append(f.background, command)
	f.createOutputs(command)
	return nil
}

func (f *fakeTarget) GetPids(name string) ([]int, error) {
	return []int{1000 + len(f.background)}, nil
}

func (f *fakeTarget) Killall(name string, signal string, asRoot bool) error {
	f.signals = append(f.signals, name+":"+signal)
	return nil
}

func (f *fakeTarget) GetInstalled(name string) (string, error) {
	return f.installed[name], nil
}

func (f *fakeTarget) Install(hostPath string) (string, error) {
	f.installs = append(f.installs, hostPath)
	installed := path.Join(f.workDir, "bin", filepath.Base(hostPath))
	f.installed[filepath.Base(hostPath)] = installed
	return installed, nil
}

func (f *fakeTarget) Uninstall(name string) error {
	f.uninstalled = append(f.uninstalled, name)
	delete(f.installed, name)
	return nil
}

func (f *fakeTarget) PullFile(srcPath string, dstDir string, timeout int) error {
	f.pullTimeout = append(f.pullTimeout, timeout)
	name := path.Base(srcPath)
	content, ok := f.files[name]
	if !ok || f.failPull[name] {
		return fmt.Errorf("remote object '%s' does not exist", srcPath)
	}
	if f.unreadable[name] {
		return fmt.Errorf("open %s: permission denied", srcPath)
	}
	return afero.WriteFile(f.hostFs, filepath.Join(dstDir, name), []byte(content), 0644)
}

func (f *fakeTarget) RemoveFile(filePath string, asRoot bool) error {
	f.removed = append(f.removed, filePath)
	delete(f.files, path.Base(filePath))
	return nil
}
