package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"strings"

	"github.com/alessio/shellescape"
)

// SetAdbPath sets the path to the adb binary (AndroidTarget only).
func (t *AndroidTarget) SetAdbPath(adbPath string) {
	t.adbPath = adbPath
}

// SetWorkDirectory overrides the default work directory.
func (t *AndroidTarget) SetWorkDirectory(dir string) {
	t.workDir = dir
}

// RunCommand runs the command in a device shell through 'adb shell'. The
// exit code of the device command is reported by adb.
func (t *AndroidTarget) RunCommand(cmd *exec.Cmd, timeout int, argNotUsed bool) (stdout string, stderr string, exitCode int, err error) {
	localCommand := t.prepareADBCommand("shell", shellescape.QuoteCommand(cmd.Args))
	return runLocalCommandWithInputWithTimeout(localCommand, "", timeout)
}

func (t *AndroidTarget) Execute(command string, timeout int, asRoot bool) (string, error) {
	return execute(t, command, timeout, asRoot)
}

func (t *AndroidTarget) Background(command string, asRoot bool) error {
	return background(t, command, asRoot)
}

func (t *AndroidTarget) GetPids(name string) ([]int, error) {
	return getPids(t, name)
}

func (t *AndroidTarget) Killall(name string, signal string, asRoot bool) error {
	return killall(t, name, signal, asRoot)
}

func (t *AndroidTarget) GetInstalled(name string) (string, error) {
	return getInstalled(t, name)
}

func (t *AndroidTarget) Install(hostPath string) (string, error) {
	return install(t, hostPath)
}

func (t *AndroidTarget) Uninstall(name string) error {
	return uninstall(t, name)
}

// GetArchitecture returns the primary ABI of the device, e.g., arm64-v8a.
func (t *AndroidTarget) GetArchitecture() (string, error) {
	if t.arch != "" {
		return t.arch, nil
	}
	stdout, _, _, err := t.RunCommand(exec.Command("getprop", "ro.product.cpu.abi"), 10, true)
	if err != nil {
		return "", err
	}
	t.arch = strings.TrimSpace(stdout)
	if t.arch == "" {
		return "", fmt.Errorf("device %s did not report its ABI", t.GetName())
	}
	return t.arch, nil
}

func (t *AndroidTarget) GetWorkDirectory() string {
	return t.workDir
}

func (t *AndroidTarget) GetWorkPath(name string) string {
	return path.Join(t.workDir, name)
}

func (t *AndroidTarget) PushFile(srcPath string, dstPath string) error {
	stdout, stderr, exitCode, err := runLocalCommandWithInputWithTimeout(t.prepareADBCommand("push", srcPath, dstPath), "", 0)
	slog.Debug("push file", slog.String("srcPath", srcPath), slog.String("dstPath", dstPath), slog.String("stdout", stdout), slog.String("stderr", stderr), slog.Int("exitCode", exitCode))
	if err != nil {
		return fmt.Errorf("adb push failed (%s): %w", strings.TrimSpace(stderr), err)
	}
	return nil
}

func (t *AndroidTarget) PullFile(srcPath string, dstDir string, timeout int) error {
	stdout, stderr, exitCode, err := runLocalCommandWithInputWithTimeout(t.prepareADBCommand("pull", srcPath, dstDir), "", timeout)
	slog.Debug("pull file", slog.String("srcPath", srcPath), slog.String("dstDir", dstDir), slog.String("stdout", stdout), slog.String("stderr", stderr), slog.Int("exitCode", exitCode))
	if err != nil {
		return fmt.Errorf("adb pull failed (%s): %w", strings.TrimSpace(stderr), err)
	}
	return nil
}

func (t *AndroidTarget) RemoveFile(filePath string, asRoot bool) error {
	return removeFile(t, filePath, asRoot)
}

func (t *AndroidTarget) CreateDirectory(dir string) error {
	return createDirectory(t, dir)
}

func (t *AndroidTarget) RemoveDirectory(targetDir string) (err error) {
	if targetDir != "" {
		err = removeDirectory(t, targetDir)
	}
	return
}

// CanConnect checks that adb reports the device as attached and online.
func (t *AndroidTarget) CanConnect() bool {
	stdout, _, _, err := runLocalCommandWithInputWithTimeout(t.prepareADBCommand("get-state"), "", 10)
	return err == nil && strings.TrimSpace(stdout) == "device"
}

// IsSuperUser reports whether adb shells run as root, e.g., after 'adb root'.
func (t *AndroidTarget) IsSuperUser() bool {
	if t.superUser == 0 {
		t.superUser = -1
		stdout, _, _, err := t.RunCommand(exec.Command("id", "-u"), 10, true)
		if err == nil && strings.TrimSpace(stdout) == "0" {
			t.superUser = 1
		}
	}
	return t.superUser == 1
}

// CanElevatePrivileges checks if the shell user is root or if 'su' is available.
func (t *AndroidTarget) CanElevatePrivileges() bool {
	if t.canElevate != 0 {
		return t.canElevate == 1
	}
	if t.IsSuperUser() {
		t.canElevate = 1
		return true
	}
	stdout, _, _, err := t.RunCommand(exec.Command("su", "-c", "id -u"), 10, true)
	if err == nil && strings.TrimSpace(stdout) == "0" {
		t.canElevate = 1
		return true
	}
	t.canElevate = -1
	return false
}

func (t *AndroidTarget) GetName() string {
	if t.name != "" {
		return t.name
	}
	if t.serial != "" {
		return t.serial
	}
	return "android"
}

func (t *AndroidTarget) prepareADBCommand(args ...string) *exec.Cmd {
	var adbArgs []string
	if t.serial != "" {
		adbArgs = append(adbArgs, "-s", t.serial)
	}
	adbArgs = append(adbArgs, args...)
	return exec.Command(t.adbPath, adbArgs...) // #nosec G204
}
