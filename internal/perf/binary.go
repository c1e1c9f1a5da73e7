package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// resolveBinary returns the path of the tool on the target, deploying the
// host copy for the target's architecture when the tool is missing or a
// reinstall is needed.
func (c *Collector) resolveBinary() (string, error) {
	name := string(c.config.Tool)
	force := c.config.ForceInstall
	busy, err := c.isBinaryBusy()
	if err != nil {
		return "", err
	}
	if busy {
		slog.Warn("found a stale copy of the tool in the work directory, reinstalling", slog.String("target", c.target.GetName()), slog.String("tool", name))
		if err := c.target.Killall(name, "SIGKILL", c.asRoot); err != nil {
			return "", errors.Wrapf(err, "failed to kill %s", name)
		}
		if err := c.target.RemoveFile(c.target.GetWorkPath(name), c.asRoot); err != nil {
			return "", errors.Wrapf(err, "failed to remove stale %s", name)
		}
		if err := c.target.Uninstall(name); err != nil {
			return "", errors.Wrapf(err, "failed to uninstall %s", name)
		}
		force = true
	}
	if !force {
		installed, err := c.target.GetInstalled(name)
		if err != nil {
			return "", errors.Wrapf(err, "failed to look up %s on target", name)
		}
		if installed != "" {
			slog.Debug("using installed tool", slog.String("target", c.target.GetName()), slog.String("path", installed))
			return installed, nil
		}
	}
	return c.deploy()
}

// isBinaryBusy reports whether a file named after the tool sits in the work
// directory, which a previous run that did not finish leaves behind.
func (c *Collector) isBinaryBusy() (bool, error) {
	files, err := c.listWorkDirectory()
	if err != nil {
		return false, err
	}
	return slices.Contains(files, string(c.config.Tool)), nil
}

func (c *Collector) deploy() (string, error) {
	arch, err := c.target.GetArchitecture()
	if err != nil {
		return "", &DeploymentError{Tool: c.config.Tool, Err: err}
	}
	hostPath := filepath.Join(c.binDir, arch, string(c.config.Tool))
	exists, err := afero.Exists(c.fs, hostPath)
	if err != nil || !exists {
		if err == nil {
			err = errors.New("no such file")
		}
		return "", &DeploymentError{Tool: c.config.Tool, Arch: arch, Path: hostPath, Err: err}
	}
	binary, err := c.target.Install(hostPath)
	if err != nil {
		return "", &DeploymentError{Tool: c.config.Tool, Arch: arch, Path: hostPath, Err: err}
	}
	slog.Info("deployed tool", slog.String("target", c.target.GetName()), slog.String("path", binary))
	return binary, nil
}
