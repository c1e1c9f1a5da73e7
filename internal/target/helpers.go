package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"
)

// shellCommand wraps a command line in a shell. When asRoot is set and the
// target's user is not already the superuser, the shell runs with elevated
// privileges: 'su -c' on Android, 'sudo' elsewhere.
func shellCommand(t Target, command string, asRoot bool) *exec.Cmd {
	if asRoot && !t.IsSuperUser() {
		switch tt := t.(type) {
		case *AndroidTarget:
			return exec.Command("su", "-c", command)
		case *LocalTarget:
			if tt.sudo != "" {
				return exec.Command("sudo", "-S", "sh", "-c", command) // password is written to stdin by RunCommand
			}
		}
		return exec.Command("sudo", "-n", "sh", "-c", command)
	}
	return exec.Command("sh", "-c", command)
}

func execute(t Target, command string, timeout int, asRoot bool) (string, error) {
	stdout, stderr, exitCode, err := t.RunCommand(shellCommand(t, command, asRoot), timeout, true)
	output := stdout + stderr
	if err != nil {
		return output, fmt.Errorf("command '%s' failed with exit code %d: %w", command, exitCode, err)
	}
	return output, nil
}

// background starts the command detached from the session so that the call
// returns as soon as the shell has forked it
func background(t Target, command string, asRoot bool) error {
	detached := fmt.Sprintf("nohup sh -c %s >/dev/null 2>&1 &", shellescape.Quote(command))
	slog.Debug("starting background command", slog.String("target", t.GetName()), slog.String("command", command), slog.Bool("asRoot", asRoot))
	_, stderr, exitCode, err := t.RunCommand(shellCommand(t, detached, asRoot), 30, true)
	if err != nil {
		return fmt.Errorf("failed to start background command '%s' (exit code %d, stderr: %s): %w", command, exitCode, strings.TrimSpace(stderr), err)
	}
	return nil
}

func getPids(t Target, name string) ([]int, error) {
	cmd := exec.Command("pgrep", "-x", name)
	if _, ok := t.(*AndroidTarget); ok {
		cmd = exec.Command("pidof", name)
	}
	stdout, _, exitCode, err := t.RunCommand(cmd, 10, true)
	if err != nil {
		// both pgrep and pidof exit with 1 when nothing matches
		if exitCode == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parsePids(stdout)
}

func parsePids(output string) (pids []int, err error) {
	for field := range strings.FieldsSeq(output) {
		var pid int
		pid, err = strconv.Atoi(field)
		if err != nil {
			err = fmt.Errorf("unexpected process id '%s': %w", field, err)
			return
		}
		pids = append(pids, pid)
	}
	return
}

func killall(t Target, name string, signal string, asRoot bool) error {
	command := fmt.Sprintf("killall -s %s %s", shellescape.Quote(signal), shellescape.Quote(name))
	_, stderr, exitCode, err := t.RunCommand(shellCommand(t, command, asRoot), 15, true)
	if err != nil {
		if exitCode == 1 {
			slog.Debug("no process matched", slog.String("target", t.GetName()), slog.String("name", name), slog.String("signal", signal))
			return nil
		}
		return fmt.Errorf("failed to send %s to %s (exit code %d, stderr: %s): %w", signal, name, exitCode, strings.TrimSpace(stderr), err)
	}
	slog.Debug("signal sent", slog.String("target", t.GetName()), slog.String("name", name), slog.String("signal", signal))
	return nil
}

func binDirectory(t Target) string {
	return path.Join(t.GetWorkDirectory(), binSubDirectory)
}

// getInstalled prefers a copy installed by Install over one found on the PATH
func getInstalled(t Target, name string) (string, error) {
	installed := path.Join(binDirectory(t), name)
	_, _, exitCode, err := t.RunCommand(shellCommand(t, "test -x "+shellescape.Quote(installed), false), 10, true)
	if err == nil {
		return installed, nil
	}
	if exitCode != 1 {
		return "", err
	}
	stdout, _, exitCode, err := t.RunCommand(shellCommand(t, "command -v "+shellescape.Quote(name), false), 10, true)
	if err != nil {
		if exitCode == 1 || exitCode == 127 {
			return "", nil
		}
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	return strings.TrimSpace(lines[0]), nil
}

func install(t Target, hostPath string) (string, error) {
	dir := binDirectory(t)
	if err := t.CreateDirectory(dir); err != nil {
		return "", fmt.Errorf("failed to create binary directory on target: %w", err)
	}
	dst := path.Join(dir, filepath.Base(hostPath))
	if err := t.PushFile(hostPath, dst); err != nil {
		return "", fmt.Errorf("failed to push %s to target: %w", hostPath, err)
	}
	if _, err := execute(t, "chmod +x "+shellescape.Quote(dst), 10, false); err != nil {
		return "", err
	}
	slog.Info("installed binary", slog.String("target", t.GetName()), slog.String("path", dst))
	return dst, nil
}

func uninstall(t Target, name string) error {
	return removeFile(t, path.Join(binDirectory(t), name), false)
}

func removeFile(t Target, filePath string, asRoot bool) error {
	_, err := execute(t, "rm -f "+shellescape.Quote(filePath), 30, asRoot)
	return err
}

func createDirectory(t Target, dir string) error {
	_, err := execute(t, "mkdir -p "+shellescape.Quote(dir), 30, false)
	return err
}

func removeDirectory(t Target, dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("refusing to remove directory '%s'", dir)
	}
	_, err := execute(t, "rm -rf "+shellescape.Quote(dir), 60, false)
	return err
}

func getArchitecture(t Target) (arch string, err error) {
	cmd := exec.Command("uname", "-m")
	arch, _, _, err = t.RunCommand(cmd, 0, true)
	if err != nil {
		return
	}
	arch = strings.TrimSpace(arch)
	return
}

func runLocalCommandWithInputWithTimeout(cmd *exec.Cmd, input string, timeout int) (stdout string, stderr string, exitCode int, err error) {
	logInput := ""
	if input != "" {
		logInput = "******"
	}
	slog.Debug("running local command", slog.String("cmd", cmd.String()), slog.String("input", logInput), slog.Int("timeout", timeout))
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
		defer cancel()
		commandWithContext := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
		commandWithContext.Env = cmd.Env
		cmd = commandWithContext
	}
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	var outbuf, errbuf strings.Builder
	cmd.Stdout = &outbuf
	cmd.Stderr = &errbuf
	err = cmd.Run()
	stdout = outbuf.String()
	stderr = errbuf.String()
	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		}
	}
	return
}
