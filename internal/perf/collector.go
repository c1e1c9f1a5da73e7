package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"perftrace/internal/util"

	"github.com/alessio/shellescape"
	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// State is the collector lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// DefaultPullTimeout is the transfer timeout, in seconds, for one artifact.
const DefaultPullTimeout = 1800

// timeouts, in seconds, for commands run on the target
const (
	listTimeout   = 30
	reportTimeout = 1800
)

// RetryPolicy bounds the wait for record data files.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy polls every 250ms for up to about 40 minutes.
var DefaultRetryPolicy = RetryPolicy{
	Interval:    250 * time.Millisecond,
	MaxAttempts: 10000,
}

// Collector runs one configured collection on one target. Its methods must
// not be called concurrently.
type Collector struct {
	target      Target
	config      Config
	binary      string
	commands    []string
	state       State
	asRoot      bool
	clock       clock.Clock
	retry       RetryPolicy
	fs          afero.Fs
	binDir      string
	pullTimeout int
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the clock used while waiting for data files.
func WithClock(c clock.Clock) Option {
	return func(col *Collector) {
		col.clock = c
	}
}

// WithRetryPolicy sets how often and how long to poll for record data files.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(col *Collector) {
		col.retry = p
	}
}

// WithFs sets the host filesystem that artifacts are retrieved into.
func WithFs(fs afero.Fs) Option {
	return func(col *Collector) {
		col.fs = fs
	}
}

// WithBinDir sets the host directory holding the tool binaries, laid out as
// <dir>/<architecture>/<tool>.
func WithBinDir(dir string) Option {
	return func(col *Collector) {
		col.binDir = dir
	}
}

// WithPullTimeout sets the transfer timeout, in seconds, for one artifact.
func WithPullTimeout(seconds int) Option {
	return func(col *Collector) {
		col.pullTimeout = seconds
	}
}

// NewCollector resolves the tool binary on the target and renders the
// collection commands. The collector starts out Idle.
func NewCollector(t Target, cfg Config, opts ...Option) (*Collector, error) {
	c := &Collector{
		target:      t,
		config:      cfg,
		state:       Idle,
		clock:       clock.New(),
		retry:       DefaultRetryPolicy,
		fs:          afero.NewOsFs(),
		binDir:      filepath.Join(util.GetAppDir(), "tools"),
		pullTimeout: DefaultPullTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.asRoot = t.CanElevatePrivileges()
	if err := t.CreateDirectory(t.GetWorkPath("")); err != nil {
		return nil, errors.Wrap(err, "failed to create work directory on target")
	}
	var err error
	c.binary, err = c.resolveBinary()
	if err != nil {
		return nil, err
	}
	if cfg.ValidateEvents {
		if err := c.validateEvents(); err != nil {
			return nil, err
		}
	}
	c.commands = BuildCommands(cfg, c.binary, t.GetWorkPath)
	slog.Debug("collector ready", slog.String("target", t.GetName()), slog.String("binary", c.binary), slog.Any("commands", c.commands))
	return c, nil
}

// State returns the lifecycle state.
func (c *Collector) State() State {
	return c.state
}

// Binary returns the path of the tool binary on the target.
func (c *Collector) Binary() string {
	return c.binary
}

// Commands returns the rendered collection commands, one per label.
func (c *Collector) Commands() []string {
	return c.commands
}

// Config returns the resolved collection configuration.
func (c *Collector) Config() Config {
	return c.config
}

// Start launches every collection command in the background on the target.
func (c *Collector) Start() error {
	if c.state != Idle {
		return &LifecycleError{Op: "start", State: c.state}
	}
	c.state = Running
	tool := string(c.config.Tool)
	for i, command := range c.commands {
		slog.Info("starting collection", slog.String("target", c.target.GetName()), slog.String("label", c.config.Labels[i]))
		if err := c.target.Background(command, c.asRoot); err != nil {
			return errors.Wrapf(err, "failed to start collection %s", c.config.Labels[i])
		}
		collectionsStarted.WithLabelValues(tool, string(c.config.Mode)).Inc()
	}
	pids, err := c.target.GetPids(tool)
	if err != nil {
		slog.Debug("failed to list tool processes", slog.String("target", c.target.GetName()), slog.String("error", err.Error()))
	} else {
		slog.Debug("tool processes", slog.String("target", c.target.GetName()), slog.Any("pids", pids))
	}
	return nil
}

// Stop interrupts the collection processes so that they flush their output.
func (c *Collector) Stop() error {
	if c.state != Running {
		return &LifecycleError{Op: "stop", State: c.state}
	}
	tool := string(c.config.Tool)
	if err := c.target.Killall(tool, "SIGINT", c.asRoot); err != nil {
		return errors.Wrapf(err, "failed to interrupt %s", tool)
	}
	c.interruptSleepHelpers()
	c.state = Stopped
	if pids, err := c.target.GetPids(tool); err == nil && len(pids) > 0 {
		slog.Debug("tool processes still running after interrupt", slog.String("target", c.target.GetName()), slog.Any("pids", pids))
	}
	return nil
}

// interruptSleepHelpers sends SIGINT to 'sleep' processes. The tool does not
// forward the interrupt to a sleep it runs as its workload, and the tool
// only exits once that sleep does. Unrelated sleep processes on the target
// are interrupted too.
func (c *Collector) interruptSleepHelpers() {
	if err := c.target.Killall("sleep", "SIGINT", c.asRoot); err != nil {
		slog.Warn("failed to interrupt sleep processes", slog.String("target", c.target.GetName()), slog.String("error", err.Error()))
	}
}

// Reset kills the tool and removes collection artifacts from the work
// directory. It can be called in any state and leaves the collector Idle.
func (c *Collector) Reset() error {
	err := clean(c.target, c.config.Tool, c.asRoot)
	c.state = Idle
	return err
}

// Clean kills any running instance of the tool on the target and removes
// collection artifacts from the target's work directory.
func Clean(t Target, tool Tool) error {
	return clean(t, tool, t.CanElevatePrivileges())
}

func clean(t Target, tool Tool, asRoot bool) error {
	var result *multierror.Error
	if err := t.Killall(string(tool), "SIGKILL", asRoot); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "failed to kill %s", tool))
	}
	files, err := listWorkDirectory(t)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, file := range files {
		if !isArtifactFile(file) {
			continue
		}
		slog.Debug("removing artifact", slog.String("target", t.GetName()), slog.String("file", file))
		if err := t.RemoveFile(t.GetWorkPath(file), asRoot); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to remove %s", file))
		}
	}
	return result.ErrorOrNil()
}

// GetTrace copies the artifacts of every label into outputDir. In record
// mode it first waits for each data file and generates its reports. Failures
// for one label do not stop the others, all of them are returned together.
func (c *Collector) GetTrace(outputDir string) ([]Artifact, error) {
	if c.state != Stopped {
		return nil, &LifecycleError{Op: "get trace", State: c.state}
	}
	if err := c.fs.MkdirAll(outputDir, 0755); err != nil { // #nosec G301
		return nil, errors.Wrapf(err, "failed to create output directory %s", outputDir)
	}
	var result *multierror.Error
	var artifacts []Artifact
	for _, label := range c.config.Labels {
		if c.config.Mode == ModeRecord {
			if err := c.waitForDataFile(label); err != nil {
				result = multierror.Append(result, err)
			}
		}
		retrieved, err := c.retrieve(label, outputDir)
		artifacts = append(artifacts, retrieved...)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return artifacts, result.ErrorOrNil()
}

// listWorkDirectory returns the names of the entries in the work directory.
func (c *Collector) listWorkDirectory() ([]string, error) {
	return listWorkDirectory(c.target)
}

func listWorkDirectory(t Target) ([]string, error) {
	dir := t.GetWorkPath("")
	output, err := t.Execute("ls -1 "+shellescape.Quote(dir), listTimeout, false)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}
	var files []string
	for line := range strings.SplitSeq(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}
