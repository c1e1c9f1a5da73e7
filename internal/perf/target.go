package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"perftrace/internal/target"
)

// Target is the subset of target capabilities used by the collector.
type Target interface {
	GetName() string
	GetArchitecture() (string, error)
	CanElevatePrivileges() bool
	Execute(command string, timeout int, asRoot bool) (string, error)
	Background(command string, asRoot bool) error
	GetPids(name string) ([]int, error)
	Killall(name string, signal string, asRoot bool) error
	GetInstalled(name string) (string, error)
	Install(hostPath string) (string, error)
	Uninstall(name string) error
	GetWorkPath(name string) string
	CreateDirectory(dir string) error
	PullFile(srcPath string, dstDir string, timeout int) error
	RemoveFile(path string, asRoot bool) error
}

var _ Target = (target.Target)(nil)
