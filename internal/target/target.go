/*
Package target provides a way to interact with local, remote (ssh), and Android (adb) systems.
*/
package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"os/exec"
)

// Target represents a machine or device where commands can be run and files
// can be exchanged. Implementations provide the primitives (RunCommand,
// PushFile, PullFile) and the process/file helpers built on top of them.
type Target interface {
	// CanConnect checks if a connection can be established with the target.
	CanConnect() bool

	// CanElevatePrivileges checks if the current user can elevate privileges.
	CanElevatePrivileges() bool

	// IsSuperUser checks if the current user is a superuser.
	IsSuperUser() bool

	// GetArchitecture returns the instruction set architecture identifier of the
	// target, e.g., x86_64, aarch64, arm64-v8a.
	GetArchitecture() (arch string, err error)

	// GetName returns the name of the target system.
	GetName() (name string)

	// GetWorkDirectory returns the directory on the target where tools write
	// their output files.
	GetWorkDirectory() string

	// GetWorkPath returns the path of the named file inside the work directory.
	GetWorkPath(name string) string

	// RunCommand runs the specified command on the target.
	// Arguments:
	// - cmd: the command to run
	// - timeout: the maximum time allowed for the command to run in seconds (zero means no timeout)
	// - reuseSSHConnection: whether to reuse the SSH connection for the command (only relevant for RemoteTarget)
	// It returns the standard output, standard error, exit code, and any error that occurred.
	RunCommand(cmd *exec.Cmd, timeout int, reuseSSHConnection bool) (stdout string, stderr string, exitCode int, err error)

	// Execute runs a shell command line on the target, optionally with elevated
	// privileges, and returns its combined output. A non-zero exit code is an error.
	Execute(command string, timeout int, asRoot bool) (output string, err error)

	// Background starts a shell command line on the target and returns without
	// waiting for it to finish.
	Background(command string, asRoot bool) error

	// GetPids returns the IDs of the processes whose name matches exactly.
	GetPids(name string) (pids []int, err error)

	// Killall sends the signal, e.g., SIGINT, to all processes with the given name.
	// It is not an error when no process matches.
	Killall(name string, signal string, asRoot bool) error

	// GetInstalled returns the path of the named binary on the target, or an
	// empty string if it is not installed.
	GetInstalled(name string) (path string, err error)

	// Install copies the host binary to the target's binary directory and
	// returns its path on the target.
	Install(hostPath string) (path string, err error)

	// Uninstall removes the named binary from the target's binary directory.
	Uninstall(name string) error

	// PushFile transfers a file from the local system to the target.
	PushFile(srcPath string, dstPath string) error

	// PullFile transfers a file from the target into a local directory.
	// The timeout is in seconds, zero means no timeout.
	PullFile(srcPath string, dstDir string, timeout int) error

	// RemoveFile removes a single file from the target.
	RemoveFile(path string, asRoot bool) error

	// CreateDirectory creates a directory, and any missing parents, on the target.
	CreateDirectory(dir string) error

	// RemoveDirectory removes a directory and its contents from the target.
	RemoveDirectory(dir string) error
}

const (
	// DefaultWorkDirectory is used on Linux targets when no work directory is specified.
	DefaultWorkDirectory = "/tmp/perftrace"
	// DefaultAndroidWorkDirectory is used on Android targets when no work directory is specified.
	DefaultAndroidWorkDirectory = "/data/local/tmp/perftrace"
	// binSubDirectory holds installed binaries, relative to the work directory
	binSubDirectory = "bin"
)

type LocalTarget struct {
	host       string
	sudo       string
	workDir    string
	arch       string
	canElevate int // zero indicates unknown, 1 indicates yes, -1 indicates no
}

type RemoteTarget struct {
	name        string
	host        string
	port        string
	user        string
	key         string
	sshPass     string
	sshpassPath string
	workDir     string
	arch        string
	canElevate  int
}

type AndroidTarget struct {
	name       string
	serial     string
	adbPath    string
	workDir    string
	arch       string
	superUser  int // zero indicates unknown, 1 indicates yes, -1 indicates no
	canElevate int
}

// NewLocalTarget creates a new LocalTarget
func NewLocalTarget() *LocalTarget {
	hostName, err := os.Hostname()
	if err != nil {
		hostName = "localhost"
	}
	t := &LocalTarget{
		host:    hostName,
		workDir: DefaultWorkDirectory,
	}
	return t
}

// NewRemoteTarget creates a new RemoteTarget instance with the provided parameters.
func NewRemoteTarget(name string, host string, port string, user string, key string) *RemoteTarget {
	t := &RemoteTarget{
		name:    name,
		host:    host,
		port:    port,
		user:    user,
		key:     key,
		workDir: DefaultWorkDirectory,
	}
	return t
}

// NewAndroidTarget creates a new AndroidTarget for the device with the given
// adb serial number. An empty serial selects the only attached device.
func NewAndroidTarget(name string, serial string) *AndroidTarget {
	t := &AndroidTarget{
		name:    name,
		serial:  serial,
		adbPath: "adb",
		workDir: DefaultAndroidWorkDirectory,
	}
	return t
}
