// Package reset is a subcommand of the root command. It stops leftover
// collections on target(s) and removes their files.
package reset

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"strings"

	"perftrace/internal/common"
	"perftrace/internal/perf"
	"perftrace/internal/progress"
	"perftrace/internal/target"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const cmdName = "reset"

var examples = []string{
	fmt.Sprintf("  Reset perf on local host:                $ %s %s", common.AppName, cmdName),
	fmt.Sprintf("  Reset simpleperf on an Android device:   $ %s %s --tool simpleperf --adb emulator-5554", common.AppName, cmdName),
	fmt.Sprintf("  Reset and remove deployed binaries:      $ %s %s --uninstall --targets targets.yaml", common.AppName, cmdName),
}

var Cmd = &cobra.Command{
	Use:           cmdName,
	Short:         "Stop collections and remove trace files from target(s)",
	Long:          "",
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "primary",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var (
	flagTool      string
	flagUninstall bool
)

const (
	flagToolName      = "tool"
	flagUninstallName = "uninstall"
)

func init() {
	Cmd.Flags().StringVar(&flagTool, flagToolName, string(perf.ToolPerf), "")
	Cmd.Flags().BoolVar(&flagUninstall, flagUninstallName, false, "")

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
			Help: fmt.Sprintf("tool to reset, %s or %s", perf.ToolPerf, perf.ToolSimpleperf),
		},
		{
			Name: flagUninstallName,
			Help: "also remove the tool binary deployed to the target's work directory",
		},
	}
	groups = append(groups, common.FlagGroup{
		GroupName: "Options",
		Flags:     flags,
	})
	groups = append(groups, common.GetTargetFlagGroup())
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if _, err := perf.Resolve(perf.Settings{Tool: flagTool}); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	// common target flags
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	targetCommand := common.TargetCommand{
		Cmd:                     cmd,
		NeedsElevatedPrivileges: true,
		FailIfCantElevate:       false,
		TargetFunc: func(myTarget target.Target, statusUpdate progress.MultiSpinnerUpdateFunc) error {
			return resetTarget(myTarget, perf.Tool(flagTool), flagUninstall, statusUpdate)
		},
	}
	_, err := targetCommand.Run()
	return err
}

// resetTarget kills the tool and removes its files from the target.
func resetTarget(myTarget perf.Target, tool perf.Tool, uninstall bool, statusUpdate progress.MultiSpinnerUpdateFunc) error {
	name := myTarget.GetName()
	_ = statusUpdate(name, fmt.Sprintf("resetting %s", tool))
	if err := perf.Clean(myTarget, tool); err != nil {
		_ = statusUpdate(name, fmt.Sprintf("Error: %v", err))
		return err
	}
	if uninstall {
		if err := myTarget.Uninstall(string(tool)); err != nil {
			_ = statusUpdate(name, fmt.Sprintf("Error: %v", err))
			return err
		}
		slog.Info("removed deployed binary", slog.String("target", name), slog.String("tool", string(tool)))
	}
	_ = statusUpdate(name, "reset complete")
	return nil
}
