package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
)

// SetSshPassPath sets the path to the sshpass binary (RemoteTarget only).
func (t *RemoteTarget) SetSshPassPath(sshpassPath string) {
	t.sshpassPath = sshpassPath
}

// SetSshPass sets the ssh password for the target (RemoteTarget only).
func (t *RemoteTarget) SetSshPass(sshPass string) {
	t.sshPass = sshPass
}

// RunCommand executes a command on the remote target using SSH. It prepares the
// local command to be executed, optionally reusing an existing SSH connection,
// and runs it with a specified timeout.
//
// Parameters:
//   - cmd: The command to be executed, represented as an *exec.Cmd.
//   - timeout: The maximum duration (in seconds) to wait for the command to complete.
//   - reuseSSHConnection: A boolean indicating whether to reuse an existing SSH connection.
//
// Returns:
//   - stdout: The standard output of the executed command.
//   - stderr: The standard error output of the executed command.
//   - exitCode: The exit code returned by the command.
//   - err: An error object if the command execution fails.
func (t *RemoteTarget) RunCommand(cmd *exec.Cmd, timeout int, reuseSSHConnection bool) (stdout string, stderr string, exitCode int, err error) {
	localCommand := t.prepareLocalCommand(cmd, reuseSSHConnection)
	return runLocalCommandWithInputWithTimeout(localCommand, "", timeout)
}

// Execute runs a shell command line on the remote target.
func (t *RemoteTarget) Execute(command string, timeout int, asRoot bool) (string, error) {
	return execute(t, command, timeout, asRoot)
}

func (t *RemoteTarget) Background(command string, asRoot bool) error {
	return background(t, command, asRoot)
}

func (t *RemoteTarget) GetPids(name string) ([]int, error) {
	return getPids(t, name)
}

func (t *RemoteTarget) Killall(name string, signal string, asRoot bool) error {
	return killall(t, name, signal, asRoot)
}

func (t *RemoteTarget) GetInstalled(name string) (string, error) {
	return getInstalled(t, name)
}

func (t *RemoteTarget) Install(hostPath string) (string, error) {
	return install(t, hostPath)
}

func (t *RemoteTarget) Uninstall(name string) error {
	return uninstall(t, name)
}

func (t *RemoteTarget) GetArchitecture() (string, error) {
	var err error
	if t.arch == "" {
		t.arch, err = getArchitecture(t)
	}
	return t.arch, err
}

// SetWorkDirectory overrides the default work directory.
func (t *RemoteTarget) SetWorkDirectory(dir string) {
	t.workDir = dir
}

func (t *RemoteTarget) GetWorkDirectory() string {
	return t.workDir
}

func (t *RemoteTarget) GetWorkPath(name string) string {
	return path.Join(t.workDir, name)
}

// PushFile transfers a file from the local system to the remote target.
// It uses SCP (Secure Copy Protocol) to perform the file transfer.
func (t *RemoteTarget) PushFile(srcPath string, dstPath string) error {
	stdout, stderr, exitCode, err := t.prepareAndRunSCPCommand(srcPath, dstPath, true, 0)
	slog.Debug("push file", slog.String("srcPath", srcPath), slog.String("dstPath", dstPath), slog.String("stdout", stdout), slog.String("stderr", stderr), slog.Int("exitCode", exitCode))
	if err != nil {
		return fmt.Errorf("scp push failed (%s): %w", strings.TrimSpace(stderr), err)
	}
	return nil
}

// PullFile copies a file from a remote source path to a local destination directory
// using SCP (Secure Copy Protocol). It logs the operation details including the
// source path, destination directory, standard output, standard error, and exit code.
func (t *RemoteTarget) PullFile(srcPath string, dstDir string, timeout int) error {
	stdout, stderr, exitCode, err := t.prepareAndRunSCPCommand(srcPath, dstDir, false, timeout)
	slog.Debug("pull file", slog.String("srcPath", srcPath), slog.String("dstDir", dstDir), slog.String("stdout", stdout), slog.String("stderr", stderr), slog.Int("exitCode", exitCode))
	if err != nil {
		return fmt.Errorf("scp pull failed (%s): %w", strings.TrimSpace(stderr), err)
	}
	return nil
}

func (t *RemoteTarget) RemoveFile(filePath string, asRoot bool) error {
	return removeFile(t, filePath, asRoot)
}

func (t *RemoteTarget) CreateDirectory(dir string) error {
	return createDirectory(t, dir)
}

func (t *RemoteTarget) RemoveDirectory(targetDir string) (err error) {
	if targetDir != "" {
		err = removeDirectory(t, targetDir)
	}
	return
}

// CanConnect checks if the target is reachable.
func (t *RemoteTarget) CanConnect() bool {
	cmd := exec.Command("exit", "0")
	_, _, _, err := t.RunCommand(cmd, 5, true)
	return err == nil
}

// CanElevatePrivileges (on RemoteTarget) checks if the user name is root or if sudo can be used to elevate privileges.
// Note that the sudo password is not used for this check. Password-less sudo is required.
func (t *RemoteTarget) CanElevatePrivileges() bool {
	if t.canElevate != 0 {
		return t.canElevate == 1
	}
	if t.IsSuperUser() {
		t.canElevate = 1
		return true
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

func (t *RemoteTarget) IsSuperUser() bool {
	return t.user == "root"
}

func (t *RemoteTarget) GetName() (host string) {
	if t.name == "" {
		return t.host
	}
	return t.name
}

func (t *RemoteTarget) prepareSSHFlags(scp bool, useControlMaster bool, prompt bool) (flags []string) {
	flags = []string{
		"-2",
		"-o",
		"UserKnownHostsFile=/dev/null",
		"-o",
		"StrictHostKeyChecking=no",
		"-o",
		"ConnectTimeout=10",       // This one exposes a bug in Windows' SSH client. Each connection takes
		"-o",                      // 10 seconds to establish. https://github.com/PowerShell/Win32-OpenSSH/issues/1352
		"GSSAPIAuthentication=no", // This one is not supported, but is ignored on Windows.
		"-o",
		"ServerAliveInterval=30",
		"-o",
		"ServerAliveCountMax=10", // 30 * 10 = maximum 300 seconds before disconnect on no data
		"-o",
		"LogLevel=ERROR",
	}
	// turn on batch mode to avoid prompts for passwords
	if !prompt {
		promptFlags := []string{
			"-o",
			"BatchMode=yes",
		}
		flags = append(flags, promptFlags...)
	}
	// when using a control master, a long-running remote program doesn't get terminated when the local ssh client is terminated
	if useControlMaster {
		controlPathFlags := []string{
			"-o",
			"ControlPath=" + filepath.Join(os.TempDir(), fmt.Sprintf("control-%%h-%%p-%%r-%d", os.Getpid())),
			"-o",
			"ControlMaster=auto",
			"-o",
			"ControlPersist=1m",
		}
		flags = append(flags, controlPathFlags...)
	}
	if t.key != "" {
		keyFlags := []string{
			"-o",
			"PreferredAuthentications=publickey",
			"-o",
			"PasswordAuthentication=no",
			"-i",
			t.key,
		}
		flags = append(flags, keyFlags...)
	}
	if t.port != "" {
		if scp {
			flags = append(flags, "-P")
		} else {
			flags = append(flags, "-p")
		}
		flags = append(flags, t.port)
	}
	return
}

func (t *RemoteTarget) prepareSSHCommand(command []string, useControlMaster bool, prompt bool) []string {
	var cmd []string
	cmd = append(cmd, "ssh")
	cmd = append(cmd, t.prepareSSHFlags(false, useControlMaster, prompt)...)
	if t.user != "" {
		cmd = append(cmd, t.user+"@"+t.host)
	} else {
		cmd = append(cmd, t.host)
	}
	cmd = append(cmd, "--")
	cmd = append(cmd, command...)
	return cmd
}

func (t *RemoteTarget) prepareSCPCommand(src string, dstDir string, push bool) []string {
	var cmd []string
	cmd = append(cmd, "scp")
	cmd = append(cmd, t.prepareSSHFlags(true, true, false)...)
	if push {
		fileInfo, err := os.Stat(src)
		if err != nil {
			slog.Error("error getting file info", slog.String("src", src), slog.String("error", err.Error()))
			return nil
		}
		if fileInfo.IsDir() {
			cmd = append(cmd, "-r")
		}
		cmd = append(cmd, src)
		dst := t.host + ":" + dstDir
		if t.user != "" {
			dst = t.user + "@" + dst
		}
		cmd = append(cmd, dst)
	} else { // pull
		s := t.host + ":" + src
		if t.user != "" {
			s = t.user + "@" + s
		}
		cmd = append(cmd, s)
		cmd = append(cmd, dstDir)
	}
	return cmd
}

func (t *RemoteTarget) prepareLocalCommand(cmd *exec.Cmd, useControlMaster bool) *exec.Cmd {
	var name string
	var args []string
	usePass := t.key == "" && t.sshPass != ""
	// the remote login shell re-parses the command line, so the arguments are quoted
	sshCommand := t.prepareSSHCommand([]string{shellescape.QuoteCommand(cmd.Args)}, useControlMaster, usePass)
	if usePass {
		name = t.sshpassPath
		args = []string{"-e", "--"}
		args = append(args, sshCommand...)
	} else {
		name = sshCommand[0]
		args = sshCommand[1:]
	}
	localCommand := exec.Command(name, args...) // #nosec G204 // nosemgrep
	if usePass {
		localCommand.Env = append(localCommand.Env, "SSHPASS="+t.sshPass)
	}
	return localCommand
}

func (t *RemoteTarget) prepareAndRunSCPCommand(srcPath string, dstDir string, isPush bool, timeout int) (stdout string, stderr string, exitCode int, err error) {
	scpCommand := t.prepareSCPCommand(srcPath, dstDir, isPush)
	if scpCommand == nil {
		err = fmt.Errorf("failed to prepare scp command for %s", srcPath)
		return
	}
	var name string
	var args []string
	usePass := t.key == "" && t.sshPass != ""
	if usePass {
		name = t.sshpassPath
		args = append(args, "-e", "--")
		args = append(args, scpCommand...)
	} else {
		name = scpCommand[0]
		args = scpCommand[1:]
	}
	localCommand := exec.Command(name, args...) // #nosec G204 // nosemgrep
	if usePass {
		localCommand.Env = append(localCommand.Env, "SSHPASS="+t.sshPass)
	}
	stdout, stderr, exitCode, err = runLocalCommandWithInputWithTimeout(localCommand, "", timeout)
	return
}
