// Package collect is a subcommand of the root command. It runs perf or
// simpleperf on target(s) and retrieves the resulting trace files.
package collect

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"perftrace/internal/common"
	"perftrace/internal/manifest"
	"perftrace/internal/perf"
	"perftrace/internal/progress"
	"perftrace/internal/target"
	"perftrace/internal/util"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "collect"

var examples = []string{
	fmt.Sprintf("  Count default events on local host:        $ %s %s --duration 10", common.AppName, cmdName),
	fmt.Sprintf("  Two stat variants with custom labels:      $ %s %s --options \"-a\" --options \"-C 0\" --labels all,cpu0", common.AppName, cmdName),
	fmt.Sprintf("  Record until Ctrl+c on a remote target:    $ %s %s --mode record --options \"-g -a\" --target 192.168.1.1 --user fred --key fred_key", common.AppName, cmdName),
	fmt.Sprintf("  simpleperf on an Android device:           $ %s %s --tool simpleperf --mode record --adb emulator-5554 --duration 30", common.AppName, cmdName),
	fmt.Sprintf("  Settings from a file, multiple targets:    $ %s %s --config collector.yaml --targets targets.yaml", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Collect perf or simpleperf traces from target(s)",
	Long:          "",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var (
	flagDuration    int
	flagBinDir      string
	flagConfigFile  string
	flagFormat      []string
	flagMetricsFile string
	flagPullTimeout int
)

const (
	flagDurationName    = "duration"
	flagBinDirName      = "bin-dir"
	flagConfigFileName  = "config"
	flagFormatName      = "format"
	flagMetricsFileName = "metrics-file"
	flagPullTimeoutName = "pull-timeout"
)

func init() {
	addSettingsFlags(Cmd.Flags())
	Cmd.Flags().IntVar(&flagDuration, flagDurationName, 0, "")
	Cmd.Flags().StringVar(&flagBinDir, flagBinDirName, filepath.Join(util.GetAppDir(), "tools"), "")
	Cmd.Flags().StringVar(&flagConfigFile, flagConfigFileName, "", "")
	Cmd.Flags().StringSliceVar(&flagFormat, flagFormatName, []string{manifest.FormatAll}, "")
	Cmd.Flags().StringVar(&flagMetricsFile, flagMetricsFileName, "", "")
	Cmd.Flags().IntVar(&flagPullTimeout, flagPullTimeoutName, perf.DefaultPullTimeout, "")

	common.AddTargetFlags(Cmd)

	Cmd.SetUsageFunc(usageFunc)
}

func usageFunc(cmd *cobra.Command) error {
	cmd.Printf("Usage: %s [flags]\n\n", cmd.CommandPath())
	cmd.Printf("Examples:\n%s\n\n", cmd.Example)
	cmd.Println("Flags:")
	for _, group := range getFlagGroups() {
		cmd.Printf("  %s:\n", group.GroupName)
		for _, flag := range group.Flags {
			flagDefault := ""
			if cmd.Flags().Lookup(flag.Name).DefValue != "" {
				flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(flag.Name).DefValue)
			}
			cmd.Printf("    --%-20s %s%s\n", flag.Name, flag.Help, flagDefault)
		}
	}
	cmd.Println("\nGlobal Flags:")
	cmd.Parent().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
		flagDefault := ""
		if cmd.Parent().PersistentFlags().Lookup(pf.Name).DefValue != "" {
			flagDefault = fmt.Sprintf(" (default: %s)", cmd.Flags().Lookup(pf.Name).DefValue)
		}
		cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
	})
	return nil
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	flags := []common.Flag{
		{
			Name: flagToolName,
			Help: fmt.Sprintf("tool to run on the target, %s or %s", perf.ToolPerf, perf.ToolSimpleperf),
		},
		{
			Name: flagModeName,
			Help: fmt.Sprintf("%s counts events, %s samples them into a data file", perf.ModeStat, perf.ModeRecord),
		},
		{
			Name: flagEventsName,
			Help: fmt.Sprintf("comma separated events to collect, defaults per tool (%s: %s)", perf.ToolPerf, strings.Join(perf.DefaultEvents(perf.ToolPerf), ",")),
		},
		{
			Name: flagOptionsName,
			Help: "options passed to the tool, repeat to collect several variants in parallel",
		},
		{
			Name: flagLabelsName,
			Help: "comma separated labels naming the output of each --options variant, defaults to <tool>_<n>",
		},
		{
			Name: flagReportOptionsName,
			Help: "options passed to the report command in record mode",
		},
		{
			Name: flagDurationName,
			Help: "number of seconds to collect, 0 collects until Ctrl+c",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Collection Options",
		Flags:     flags,
	})
	flags = []common.Flag{
		{
			Name: flagFormatName,
			Help: fmt.Sprintf("choose manifest format(s) from: %s", strings.Join(append([]string{manifest.FormatAll}, manifest.FormatOptions...), ", ")),
		},
		{
			Name: flagMetricsFileName,
			Help: "write collection metrics in Prometheus text format to this file",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Output Options",
		Flags:     flags,
	})
	groups = append(groups, common.GetTargetFlagGroup())
	flags = []common.Flag{
		{
			Name: flagConfigFileName,
			Help: "YAML file with collector settings, flags given on the command line take precedence",
		},
		{
			Name: flagBinDirName,
			Help: "directory with tool binaries to deploy, laid out as <dir>/<architecture>/<tool>",
		},
		{
			Name: flagForceInstallName,
			Help: "always deploy the tool binary, even when the target has one",
		},
		{
			Name: flagValidateEventsName,
			Help: "check the events against the tool's event list before collecting",
		},
		{
			Name: flagPullTimeoutName,
			Help: "seconds allowed for copying each trace file from the target",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Advanced Options",
		Flags:     flags,
	})
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	// validate format options
	formatOptions := append([]string{manifest.FormatAll}, manifest.FormatOptions...)
	for _, format := range flagFormat {
		if !slices.Contains(formatOptions, format) {
			return common.FlagValidationError(cmd, fmt.Sprintf("format options are: %s", strings.Join(formatOptions, ", ")))
		}
	}
	if flagDuration < 0 {
		return common.FlagValidationError(cmd, "duration must be 0 or greater")
	}
	if flagPullTimeout <= 0 {
		return common.FlagValidationError(cmd, "pull timeout must be greater than 0")
	}
	if flagConfigFile != "" {
		if exists, err := util.FileExists(flagConfigFile); err != nil || !exists {
			return common.FlagValidationError(cmd, fmt.Sprintf("config file %s does not exist", flagConfigFile))
		}
	}
	// common target flags
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

func formats() []string {
	if slices.Contains(flagFormat, manifest.FormatAll) {
		return manifest.FormatOptions
	}
	return flagFormat
}

func runCmd(cmd *cobra.Command, args []string) error {
	appContext := cmd.Parent().Context().Value(common.AppContext{}).(common.AppContext)
	cfg, err := loadSettings(cmd.Flags(), flagConfigFile)
	if err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	slog.Info("collector configuration", slog.String("tool", string(cfg.Tool)), slog.String("mode", string(cfg.Mode)), slog.Any("events", cfg.Events), slog.Any("labels", cfg.Labels))
	// the first SIGINT/SIGTERM ends the collection window early
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	run := collectRun{
		config:     cfg,
		outputDir:  appContext.OutputDir,
		duration:   time.Duration(flagDuration) * time.Second,
		keepFiles:  appContext.Debug,
		clock:      clock.New(),
		options:    []perf.Option{perf.WithBinDir(flagBinDir), perf.WithPullTimeout(flagPullTimeout)},
		artifacts:  make(map[string][]perf.Artifact),
		collectCtx: ctx,
	}
	targetCommand := common.TargetCommand{
		Cmd:                     cmd,
		NeedsElevatedPrivileges: true,
		FailIfCantElevate:       false,
		TargetFunc:              run.collectOnTarget,
	}
	results, runErr := targetCommand.Run()
	if results == nil {
		return runErr
	}
	m := run.manifest(results)
	if err := common.CreateOutputDir(appContext.OutputDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	paths, err := manifest.Write(appContext.OutputDir, formats(), m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		slog.Error(err.Error())
		cmd.SilenceUsage = true
		return err
	}
	if flagMetricsFile != "" {
		if err := perf.WriteMetrics(flagMetricsFile); err != nil {
			slog.Error("failed to write metrics", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "Error: failed to write metrics: %v\n", err)
		} else {
			paths = append(paths, flagMetricsFile)
		}
	}
	if len(m.Artifacts) > 0 {
		fmt.Printf("Trace files: %s\n", appContext.OutputDir)
	}
	if len(paths) > 0 {
		fmt.Println("Manifest files:")
	}
	for _, path := range paths {
		fmt.Printf("  %s\n", path)
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "%d error(s) occurred, see the manifest for details\n", len(m.Errors))
	}
	return runErr
}

// collectRun holds what the per-target goroutines share.
type collectRun struct {
	config     perf.Config
	outputDir  string
	duration   time.Duration
	keepFiles  bool
	clock      clock.Clock
	options    []perf.Option
	collectCtx context.Context

	mu        sync.Mutex
	artifacts map[string][]perf.Artifact
}

// collectOnTarget runs one full collection on the target: clear leftovers,
// start, wait, stop, and retrieve the trace into <output>/<target>.
func (r *collectRun) collectOnTarget(myTarget target.Target, statusUpdate progress.MultiSpinnerUpdateFunc) error {
	name := myTarget.GetName()
	status := func(s string) {
		if statusUpdate != nil {
			_ = statusUpdate(name, s)
		}
	}
	status(fmt.Sprintf("preparing %s", r.config.Tool))
	collector, err := perf.NewCollector(myTarget, r.config, r.options...)
	if err != nil {
		status(fmt.Sprintf("Error: %v", err))
		return err
	}
	if err := collector.Reset(); err != nil {
		slog.Warn("failed to clear previous collection", slog.String("target", name), slog.String("error", err.Error()))
	}
	if err := collector.Start(); err != nil {
		status(fmt.Sprintf("Error: %v", err))
		r.cleanup(collector, name)
		return err
	}
	if r.duration > 0 {
		status(fmt.Sprintf("collecting for %d seconds", int(r.duration.Seconds())))
	} else {
		status("collecting, press Ctrl+c to stop")
	}
	waitForCollection(r.collectCtx, r.clock, r.duration)
	status("stopping")
	if err := collector.Stop(); err != nil {
		status(fmt.Sprintf("Error: %v", err))
		r.cleanup(collector, name)
		return err
	}
	if r.config.Mode == perf.ModeRecord {
		status("waiting for data and generating reports")
	} else {
		status("retrieving trace")
	}
	artifacts, err := collector.GetTrace(filepath.Join(r.outputDir, name))
	r.mu.Lock()
	r.artifacts[name] = artifacts
	r.mu.Unlock()
	r.cleanup(collector, name)
	if err != nil {
		status(fmt.Sprintf("retrieved %d file(s) with errors", len(artifacts)))
		return err
	}
	status(fmt.Sprintf("retrieved %d file(s)", len(artifacts)))
	return nil
}

// cleanup resets the collector unless the files are to be kept for debugging.
func (r *collectRun) cleanup(collector *perf.Collector, name string) {
	if r.keepFiles {
		slog.Info("keeping collection files on target", slog.String("target", name))
		return
	}
	if err := collector.Reset(); err != nil {
		slog.Warn("failed to reset collector", slog.String("target", name), slog.String("error", err.Error()))
	}
}

// manifest lists the artifacts and errors of all targets in target order.
func (r *collectRun) manifest(results []common.TargetResult) manifest.Manifest {
	m := manifest.Manifest{
		Tool:    string(r.config.Tool),
		Mode:    string(r.config.Mode),
		Created: r.clock.Now().Local().Format(time.DateTime),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, result := range results {
		name := result.Target.GetName()
		m.Artifacts = append(m.Artifacts, r.artifacts[name]...)
		if result.Err != nil {
			m.Errors = append(m.Errors, fmt.Sprintf("%s: %v", name, result.Err))
		}
	}
	return m
}

// waitForCollection returns after the duration, or when ctx is done. A zero
// duration waits for ctx only.
func waitForCollection(ctx context.Context, clk clock.Clock, duration time.Duration) {
	if duration <= 0 {
		<-ctx.Done()
		return
	}
	timer := clk.Timer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
