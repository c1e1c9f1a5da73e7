package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"

	"perftrace/internal/util"
)

// SetSudo (LocalTarget only) sets the sudo password for the target.
// Also sets the canElevate field to 0 to indicate that the sudo password has not been verified.
func (t *LocalTarget) SetSudo(sudo string) {
	t.sudo = sudo
	t.canElevate = 0
}

// SetWorkDirectory overrides the default work directory.
func (t *LocalTarget) SetWorkDirectory(dir string) {
	t.workDir = dir
}

// RunCommand executes the given command with a timeout and returns the standard output,
// standard error, exit code, and any error that occurred.
func (t *LocalTarget) RunCommand(cmd *exec.Cmd, timeout int, argNotUsed bool) (stdout string, stderr string, exitCode int, err error) {
	input := ""
	if t.sudo != "" && len(cmd.Args) > 2 && cmd.Args[0] == "sudo" && strings.HasPrefix(cmd.Args[1], "-") && strings.Contains(cmd.Args[1], "S") { // 'sudo -S' gets password from stdin
		input = t.sudo + "\n"
	}
	return runLocalCommandWithInputWithTimeout(cmd, input, timeout)
}

func (t *LocalTarget) Execute(command string, timeout int, asRoot bool) (string, error) {
	return execute(t, command, timeout, asRoot)
}

func (t *LocalTarget) Background(command string, asRoot bool) error {
	return background(t, command, asRoot)
}

func (t *LocalTarget) GetPids(name string) ([]int, error) {
	return getPids(t, name)
}

func (t *LocalTarget) Killall(name string, signal string, asRoot bool) error {
	return killall(t, name, signal, asRoot)
}

func (t *LocalTarget) GetInstalled(name string) (string, error) {
	return getInstalled(t, name)
}

func (t *LocalTarget) Install(hostPath string) (string, error) {
	return install(t, hostPath)
}

func (t *LocalTarget) Uninstall(name string) error {
	return uninstall(t, name)
}

func (t *LocalTarget) GetArchitecture() (string, error) {
	var err error
	if t.arch == "" {
		t.arch, err = getArchitecture(t)
	}
	return t.arch, err
}

func (t *LocalTarget) GetWorkDirectory() string {
	return t.workDir
}

func (t *LocalTarget) GetWorkPath(name string) string {
	return path.Join(t.workDir, name)
}

// PushFile copies a file from the source path to the destination path. If the
// destination is an existing directory, the file keeps its name inside it.
func (t *LocalTarget) PushFile(srcPath string, dstPath string) error {
	return util.CopyFile(srcPath, dstPath)
}

// PullFile copies a file from the local work area into the destination directory.
func (t *LocalTarget) PullFile(srcPath string, dstDir string, timeoutNotUsed int) error {
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("failed to pull %s: %w", srcPath, err)
	}
	return util.CopyFile(srcPath, dstDir)
}

func (t *LocalTarget) RemoveFile(filePath string, asRoot bool) error {
	if !asRoot {
		err := os.Remove(filePath)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return removeFile(t, filePath, asRoot)
}

// CreateDirectory creates the directory and any missing parents.
func (t *LocalTarget) CreateDirectory(dir string) error {
	return os.MkdirAll(dir, 0755) // #nosec G301
}

// RemoveDirectory removes the specified target directory.
// If the target directory is not empty, it will be deleted along with all its contents.
// The method returns an error if any error occurs during the removal process.
func (t *LocalTarget) RemoveDirectory(targetDir string) (err error) {
	if targetDir != "" {
		err = os.RemoveAll(targetDir)
	}
	return
}

// CanConnect checks if the local target can establish a connection (always true).
func (t *LocalTarget) CanConnect() bool {
	return true
}

// CanElevatePrivileges (on LocalTarget) checks if the user is root or sudo can be used to elevate privileges.
// It returns true if the user is root or if the sudo password works.
// If the `sudo` command is configured, it will attempt to run a command with sudo
// and check if the password works. If the passwordless sudo is configured,
// it will also check if passwordless sudo works.
// Returns true if the user can elevate privileges, false otherwise.
func (t *LocalTarget) CanElevatePrivileges() bool {
	if t.canElevate != 0 {
		return t.canElevate == 1
	}
	if t.IsSuperUser() {
		t.canElevate = 1
		return true // user is root
	}
	if t.sudo != "" {
		cmd := exec.Command("sudo", "-kS", "ls") // RunCommand writes the password to stdin
		_, _, _, err := t.RunCommand(cmd, 0, true)
		if err == nil {
			t.canElevate = 1
			return true // sudo password works
		}
	}
	cmd := exec.Command("sudo", "-kn", "ls")
	_, _, _, err := t.RunCommand(cmd, 0, true)
	if err == nil { // true - passwordless sudo works
		t.canElevate = 1
		return true
	}
	t.canElevate = -1
	return false
}

// IsSuperUser checks if the current user is a superuser.
// It returns true if the user is a superuser, false otherwise.
func (t *LocalTarget) IsSuperUser() bool {
	return os.Geteuid() == 0
}

// GetName returns the name of the Target.
func (t *LocalTarget) GetName() (host string) {
	return t.host
}
