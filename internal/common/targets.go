package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"perftrace/internal/target"
	"perftrace/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v2"
)

// target flags
var (
	flagTargetHost    string
	flagTargetPort    string
	flagTargetUser    string
	flagTargetKeyFile string
	flagTargetsFile   string
	flagTargetAdb     string
)

// target flag names
const (
	flagTargetsFileName = "targets"
	flagTargetHostName  = "target"
	flagTargetPortName  = "port"
	flagTargetUserName  = "user"
	flagTargetKeyName   = "key"
	flagTargetAdbName   = "adb"
)

var targetFlags = []Flag{
	{Name: flagTargetHostName, Help: "host name or IP address of remote target"},
	{Name: flagTargetPortName, Help: "port for SSH to remote target"},
	{Name: flagTargetUserName, Help: "user name for SSH to remote target"},
	{Name: flagTargetKeyName, Help: "private key file for SSH to remote target"},
	{Name: flagTargetsFileName, Help: "file with remote target(s) connection details. See targets.yaml for format."},
	{Name: flagTargetAdbName, Help: "serial number of an Android device attached through adb, see 'adb devices'"},
}

// connection attempts before a target is reported as unreachable
var (
	connectRetries       uint64 = 2
	connectRetryInterval        = 3 * time.Second
)

func AddTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagTargetHost, flagTargetHostName, "", targetFlags[0].Help)
	cmd.Flags().StringVar(&flagTargetPort, flagTargetPortName, "", targetFlags[1].Help)
	cmd.Flags().StringVar(&flagTargetUser, flagTargetUserName, "", targetFlags[2].Help)
	cmd.Flags().StringVar(&flagTargetKeyFile, flagTargetKeyName, "", targetFlags[3].Help)
	cmd.Flags().StringVar(&flagTargetsFile, flagTargetsFileName, "", targetFlags[4].Help)
	cmd.Flags().StringVar(&flagTargetAdb, flagTargetAdbName, "", targetFlags[5].Help)

	cmd.MarkFlagsMutuallyExclusive(flagTargetHostName, flagTargetsFileName, flagTargetAdbName)
}

func GetTargetFlagGroup() FlagGroup {
	return FlagGroup{
		GroupName: "Target Options",
		Flags:     targetFlags,
	}
}

func ValidateTargetFlags(cmd *cobra.Command) error {
	if flagTargetsFile != "" && flagTargetHost != "" {
		return fmt.Errorf("only one of --%s or --%s can be specified", flagTargetsFileName, flagTargetHostName)
	}
	if flagTargetAdb != "" && (flagTargetHost != "" || flagTargetsFile != "") {
		return fmt.Errorf("--%s can not be combined with --%s or --%s", flagTargetAdbName, flagTargetHostName, flagTargetsFileName)
	}
	if flagTargetsFile != "" && (flagTargetPort != "" || flagTargetUser != "" || flagTargetKeyFile != "") {
		return fmt.Errorf("if --%s is specified, --%s, --%s, and --%s must not be specified", flagTargetsFileName, flagTargetPortName, flagTargetUserName, flagTargetKeyName)
	}
	if (flagTargetPort != "" || flagTargetUser != "" || flagTargetKeyFile != "") && flagTargetHost == "" {
		return fmt.Errorf("if --%s, --%s, or --%s is specified, --%s must also be specified", flagTargetPortName, flagTargetUserName, flagTargetKeyName, flagTargetHostName)
	}
	// confirm that the targets file exists
	if flagTargetsFile != "" {
		if _, err := os.Stat(flagTargetsFile); os.IsNotExist(err) {
			return fmt.Errorf("targets file %s does not exist", flagTargetsFile)
		}
	}
	// confirm that port is a positive integer
	if flagTargetPort != "" {
		var port int
		var err error
		if port, err = strconv.Atoi(flagTargetPort); err != nil || port <= 0 {
			return fmt.Errorf("port %s is not a positive integer", flagTargetPort)
		}
	}
	// confirm that the key file exists
	if flagTargetKeyFile != "" {
		if _, err := os.Stat(flagTargetKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("key file %s does not exist", flagTargetKeyFile)
		}
	}
	// confirm that user is a valid user name
	if flagTargetUser != "" {
		re := regexp.MustCompile(`^([a-zA-Z0-9_-]+)$`)
		if !re.MatchString(flagTargetUser) {
			return fmt.Errorf("user name %s contains invalid characters", flagTargetUser)
		}
	}
	// confirm that host is a valid host name or IP address
	if flagTargetHost != "" {
		re := regexp.MustCompile(`^([a-zA-Z0-9.-]+)$`)
		if !re.MatchString(flagTargetHost) {
			return fmt.Errorf("host name %s is not a valid host name or IP address", flagTargetHost)
		}
	}
	if flagTargetAdb != "" {
		re := regexp.MustCompile(`^([a-zA-Z0-9._:-]+)$`)
		if !re.MatchString(flagTargetAdb) {
			return fmt.Errorf("adb serial %s contains invalid characters", flagTargetAdb)
		}
	}
	return nil
}

// workDirectorySetter is implemented by all target types
type workDirectorySetter interface {
	SetWorkDirectory(string)
}

// GetTargets returns the targets selected by the target flags. When workDir is
// not empty it replaces each target's default work directory. A target that
// can not be used has a non-nil entry in targetErrs.
func GetTargets(cmd *cobra.Command, needsElevatedPrivileges bool, failIfCantElevate bool, workDir string) (targets []target.Target, targetErrs []error, err error) {
	flagTargetsFile, _ := cmd.Flags().GetString(flagTargetsFileName)
	if flagTargetsFile != "" {
		targets, targetErrs, err = getTargetsFromFile(flagTargetsFile)
	} else {
		myTarget, targetErr, functionErr := getSingleTarget(cmd, needsElevatedPrivileges, failIfCantElevate)
		targets = []target.Target{myTarget}
		targetErrs = []error{targetErr}
		err = functionErr
	}
	if err != nil {
		slog.Error("failed to get targets", slog.String("error", err.Error()))
		return
	}
	for targetIdx, myTarget := range targets {
		if workDir != "" {
			if s, ok := myTarget.(workDirectorySetter); ok {
				s.SetWorkDirectory(workDir)
			}
		}
		// if we already have an error for this target, skip it
		if targetErrs[targetIdx] != nil {
			continue
		}
		err := myTarget.CreateDirectory(myTarget.GetWorkDirectory())
		if err != nil {
			targetErrs[targetIdx] = fmt.Errorf("failed to create work directory on target: %v", err)
			slog.Error(targetErrs[targetIdx].Error(), slog.String("target", myTarget.GetName()), slog.String("error", err.Error()))
			continue
		}
		// binaries are installed into the work directory, so it must allow execution
		if _, ok := myTarget.(*target.AndroidTarget); ok {
			continue
		}
		noExec, err := isDirNoExec(myTarget, myTarget.GetWorkDirectory())
		if err != nil {
			// log the error but don't reject the target just in case our check is wrong
			slog.Warn("failed to check if work directory is mounted on 'noexec' file system", slog.String("target", myTarget.GetName()), slog.String("error", err.Error()))
		} else if noExec {
			targetErrs[targetIdx] = fmt.Errorf("target's work directory must not be on a file system mounted with the 'noexec' option, override the default with --workdir")
			slog.Error(targetErrs[targetIdx].Error(), slog.String("target", myTarget.GetName()))
		}
	}
	return
}

func getSingleTarget(cmd *cobra.Command, needsElevatedPrivileges bool, failIfCantElevate bool) (target.Target, error, error) {
	targetHost, _ := cmd.Flags().GetString(flagTargetHostName)
	targetPort, _ := cmd.Flags().GetString(flagTargetPortName)
	targetUser, _ := cmd.Flags().GetString(flagTargetUserName)
	targetKey, _ := cmd.Flags().GetString(flagTargetKeyName)
	adbSerial, _ := cmd.Flags().GetString(flagTargetAdbName)
	switch {
	case adbSerial != "":
		return getAndroidTarget(adbSerial, adbSerial, needsElevatedPrivileges, failIfCantElevate)
	case targetHost != "":
		return getRemoteTarget(targetHost, targetPort, targetUser, targetKey, needsElevatedPrivileges, failIfCantElevate)
	default:
		return getLocalTarget(needsElevatedPrivileges, failIfCantElevate)
	}
}

// getLocalTarget creates a new local target object.
func getLocalTarget(needsElevatedPrivileges bool, failIfCantElevate bool) (target.Target, error, error) {
	myTarget := target.NewLocalTarget()
	if needsElevatedPrivileges && !myTarget.CanElevatePrivileges() {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			slog.Warn("can not prompt for sudo password because STDIN isn't coming from a terminal")
			if failIfCantElevate {
				err := fmt.Errorf("failed to elevate privileges on local target")
				return myTarget, err, nil
			} else {
				slog.Warn("continuing without elevated privileges")
			}
		} else {
			fmt.Fprintf(os.Stderr, "WARNING: collecting system-wide counters requires elevated privileges.\n")
			currentUser, err := user.Current()
			if err != nil {
				return myTarget, nil, err
			}
			fmt.Fprintf(os.Stderr, "For complete functionality, please provide your password at the prompt.\n")
			slog.Info("prompting for sudo password")
			prompt := fmt.Sprintf("[sudo] password for %s", currentUser.Username)
			var sudoPwd string
			sudoPwd, err = getPassword(prompt)
			if err != nil {
				return myTarget, nil, err
			}
			myTarget.SetSudo(sudoPwd)
			if !myTarget.CanElevatePrivileges() {
				if failIfCantElevate {
					err := fmt.Errorf("failed to elevate privileges on local target")
					return myTarget, nil, err
				} else {
					slog.Warn("failed to elevate privileges on local target, continuing without elevated privileges")
					fmt.Fprintf(os.Stderr, "WARNING: Not able to establish elevated privileges with provided password.\n")
					fmt.Fprintf(os.Stderr, "Continuing with regular user privileges. Some events may not be available.\n")
				}
			}
		}
	}
	return myTarget, nil, nil
}

// getRemoteTarget creates a new remote target object based on the provided parameters.
func getRemoteTarget(targetHost string, targetPort string, targetUser string, targetKey string, needsElevatedPrivileges bool, failIfCantElevate bool) (target.Target, error, error) {
	// if targetPort is empty, default to 22
	if targetPort == "" {
		targetPort = "22"
	}
	slog.Info("Creating remote target", slog.String("targetHost", targetHost), slog.String("targetPort", targetPort), slog.String("targetUser", targetUser))
	myTarget := target.NewRemoteTarget(targetHost, targetHost, targetPort, targetUser, targetKey)
	if err := connectWithRetry(myTarget); err != nil {
		if targetKey == "" && targetUser != "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				err := fmt.Errorf("can not prompt for SSH password because STDIN isn't coming from a terminal")
				slog.Error(err.Error())
				return myTarget, nil, err
			} else {
				slog.Info("Prompting for SSH password.", slog.String("targetHost", targetHost), slog.String("targetPort", targetPort), slog.String("targetUser", targetUser))
				sshPwd, err := getPassword(fmt.Sprintf("%s@%s's password", targetUser, targetHost))
				if err != nil {
					return myTarget, nil, err
				}
				sshPassPath, err := exec.LookPath("sshpass")
				if err != nil {
					return myTarget, nil, fmt.Errorf("password authentication requires sshpass on the local host: %w", err)
				}
				myTarget.SetSshPassPath(sshPassPath)
				myTarget.SetSshPass(sshPwd)
				// if still can't connect, return target error
				if err := connectWithRetry(myTarget); err != nil {
					return myTarget, err, nil
				}
			}
		} else {
			return myTarget, nil, err
		}
	}
	if needsElevatedPrivileges && !myTarget.CanElevatePrivileges() {
		if failIfCantElevate {
			err := fmt.Errorf("failed to elevate privileges on remote target")
			return myTarget, err, nil
		} else {
			slog.Warn("failed to elevate privileges on remote target, continuing without elevated privileges", slog.String("targetHost", targetHost))
		}
	}
	return myTarget, nil, nil
}

// getAndroidTarget creates a target for a device attached through adb.
func getAndroidTarget(name string, serial string, needsElevatedPrivileges bool, failIfCantElevate bool) (target.Target, error, error) {
	slog.Info("Creating Android target", slog.String("serial", serial))
	myTarget := target.NewAndroidTarget(name, serial)
	if err := connectWithRetry(myTarget); err != nil {
		return myTarget, err, nil
	}
	if needsElevatedPrivileges && !myTarget.CanElevatePrivileges() {
		if failIfCantElevate {
			return myTarget, fmt.Errorf("failed to elevate privileges on device, 'su' is not available"), nil
		}
		slog.Warn("device is not rooted, continuing without elevated privileges", slog.String("serial", serial))
	}
	return myTarget, nil, nil
}

// connectWithRetry checks the connection to the target, retrying a few times
// with a constant interval before giving up.
func connectWithRetry(t target.Target) error {
	operation := func() error {
		if t.CanConnect() {
			return nil
		}
		return fmt.Errorf("failed to connect to target (%s)", t.GetName())
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(connectRetryInterval), connectRetries)
	return backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		slog.Warn("target not reachable, retrying", slog.String("target", t.GetName()), slog.Duration("retryIn", next), slog.String("error", err.Error()))
	})
}

type targetFromYAML struct {
	Name    string `yaml:"name"`
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	User    string `yaml:"user"`
	Key     string `yaml:"key"`
	Pwd     string `yaml:"pwd"`
	Adb     string `yaml:"adb"`
	WorkDir string `yaml:"workdir"`
}

type targetsFile struct {
	Targets []targetFromYAML `yaml:"targets"`
}

// sanitizeTargetName sanitizes the target name by removing any invalid characters.
func sanitizeTargetName(targetName string) string {
	// the target name names the local output directory
	// we only allow alphanumeric characters, underscores, periods, and dashes
	// everything else is replaced with an underscore
	sanitizedTargetName := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '.' {
			return r
		}
		if r >= 'a' && r <= 'z' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r
		}
		if r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, targetName)
	return sanitizedTargetName
}

// parseTargetsFile reads the targets file into its YAML structure and checks
// that each entry names exactly one of a host or an adb serial.
func parseTargetsFile(targetsFilePath string) (targetsFile, error) {
	var tf targetsFile
	yamlFile, err := os.ReadFile(targetsFilePath)
	if err != nil {
		return tf, err
	}
	if err = yaml.Unmarshal(yamlFile, &tf); err != nil {
		return tf, err
	}
	targetNameUsed := make(map[string]bool)
	for i, t := range tf.Targets {
		if (t.Host == "") == (t.Adb == "") {
			return tf, fmt.Errorf("target %d in %s must specify exactly one of 'host' or 'adb'", i+1, targetsFilePath)
		}
		if t.WorkDir != "" && (!path.IsAbs(t.WorkDir) || !util.IsValidDirectoryName(t.WorkDir)) {
			return tf, fmt.Errorf("target %d in %s: workdir must be an absolute path without special characters: %s", i+1, targetsFilePath, t.WorkDir)
		}
		// target name is not required, but if it is provided there must not be duplicate names
		if t.Name != "" {
			targetName := sanitizeTargetName(t.Name)
			if targetNameUsed[targetName] {
				return tf, fmt.Errorf("duplicate target name (after sanitized) found in targets file: original: %s, sanitized: %s", t.Name, targetName)
			}
			targetNameUsed[targetName] = true
			tf.Targets[i].Name = targetName
		}
	}
	return tf, nil
}

// getTargetsFromFile reads a targets file and returns a list of target objects.
func getTargetsFromFile(targetsFilePath string) (targets []target.Target, targetErrs []error, err error) {
	tf, err := parseTargetsFile(targetsFilePath)
	if err != nil {
		return
	}
	var sshPassPath string
	for _, t := range tf.Targets {
		var newTarget target.Target
		if t.Adb != "" {
			androidTarget := target.NewAndroidTarget(t.Name, t.Adb)
			if t.WorkDir != "" {
				androidTarget.SetWorkDirectory(t.WorkDir)
			}
			newTarget = androidTarget
		} else {
			remoteTarget := target.NewRemoteTarget(t.Name, t.Host, t.Port, t.User, t.Key)
			remoteTarget.SetSshPass(t.Pwd)
			if t.Pwd != "" {
				if sshPassPath == "" {
					sshPassPath, err = exec.LookPath("sshpass")
					if err != nil {
						err = fmt.Errorf("password authentication requires sshpass on the local host: %w", err)
						return
					}
				}
				remoteTarget.SetSshPassPath(sshPassPath)
			}
			if t.WorkDir != "" {
				remoteTarget.SetWorkDirectory(t.WorkDir)
			}
			newTarget = remoteTarget
		}
		// try to connect to the target
		targetErrs = append(targetErrs, connectWithRetry(newTarget))
		targets = append(targets, newTarget)
	}
	return
}

// getPassword prompts the user for a password and returns it as a string.
// It takes a prompt string as input and displays the prompt to the user.
// The user's input is hidden as they type, and the entered password is returned as a string.
// If an error occurs while reading the password, it is returned along with an empty string.
func getPassword(prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "\n%s: ", prompt)
	pwd, err := term.ReadPassword(0)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "\n") // newline after password
	return string(pwd), nil
}

// fieldFromDfpOutput parses the output of the `df -P <dir>` command and returns the specified field value.
// example output:
//
//	Filesystem     1024-blocks     Used  Available Capacity Mounted on
//	/dev/sda2       1858388360 17247372 1747419536       1% /
//
// Returns the value of the specified field from the second line of the output.
func fieldFromDfpOutput(dfOutput string, fieldName string) (string, error) {
	lines := strings.Split(dfOutput, "\n")
	if len(lines) < 2 {
		return "", fmt.Errorf("unexpected output from df command: %s", dfOutput)
	}
	// find the field index from the header
	headerFields := strings.Fields(lines[0])
	fieldIndex := -1
	for i, field := range headerFields {
		if field == fieldName {
			fieldIndex = i
			break
		}
	}
	if fieldIndex == -1 {
		return "", fmt.Errorf("field %s not found in df output", fieldName)
	}
	// get the value from the second line (the actual data)
	dfFields := strings.Fields(lines[1])
	if len(dfFields) <= fieldIndex {
		return "", fmt.Errorf("unexpected output format from df command: %s", dfOutput)
	}
	return dfFields[fieldIndex], nil
}

type mountRecord struct {
	fileSystem string
	mountPoint string
	typeName   string
	options    []string
}

var mountLineRegex = regexp.MustCompile(`^([^ ]+) on ([^ ]+) type ([^ ]+) \((.*)\)$`)

// parseMountOutput parses the output of the `mount` command and returns a slice of mountRecord structs.
// e.g., "sysfs on /sys type sysfs (rw,nosuid,nodev,noexec,relatime)"
func parseMountOutput(mountOutput string) ([]mountRecord, error) {
	var mounts []mountRecord
	for line := range strings.SplitSeq(mountOutput, "\n") {
		if line == "" {
			continue
		}
		matches := mountLineRegex.FindStringSubmatch(line)
		if len(matches) != 5 {
			return nil, fmt.Errorf("unexpected output format from mount command: %s", line)
		}
		mount := mountRecord{
			fileSystem: matches[1],
			mountPoint: matches[2],
			typeName:   matches[3],
			options:    strings.Split(matches[4], ","),
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}

// isDirNoExec checks if the target directory is on a file system that is mounted with noexec.
func isDirNoExec(t target.Target, dir string) (bool, error) {
	dfOutput, err := t.Execute("df -P "+dir, 30, false)
	if err != nil {
		err = fmt.Errorf("failed to run df command: %w", err)
		return false, err
	}
	mountOutput, err := t.Execute("mount", 30, false)
	if err != nil {
		err = fmt.Errorf("failed to run mount command: %w", err)
		return false, err
	}
	return noExecFromOutputs(dfOutput, mountOutput)
}

func noExecFromOutputs(dfOutput string, mountOutput string) (bool, error) {
	filesystem, err := fieldFromDfpOutput(dfOutput, "Filesystem")
	if err != nil {
		return false, err
	}
	mountedOn, err := fieldFromDfpOutput(dfOutput, "Mounted")
	if err != nil {
		return false, err
	}
	mounts, err := parseMountOutput(mountOutput)
	if err != nil {
		return false, err
	}
	if len(mounts) == 0 {
		return false, fmt.Errorf("no mount records found")
	}
	// Check if the filesystem is mounted with noexec
	foundFilesystem := false
	foundMountPoint := false
	for _, mount := range mounts {
		if mount.fileSystem == filesystem {
			foundFilesystem = true
		}
		if mount.mountPoint == mountedOn {
			foundMountPoint = true
		}
		if mount.fileSystem == filesystem && mount.mountPoint == mountedOn {
			return slices.Contains(mount.options, "noexec"), nil
		}
	}
	if foundMountPoint {
		return false, fmt.Errorf("mount point %s is found but filesystem %s is not found in mount records", mountedOn, filesystem)
	}
	if foundFilesystem {
		return false, fmt.Errorf("filesystem %s is found but mount point %s is not found in mount records", filesystem, mountedOn)
	}
	return false, fmt.Errorf("filesystem %s and mount point %s are not found in mount records", filesystem, mountedOn)
}
