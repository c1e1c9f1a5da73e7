package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T, settings Settings, opts ...Option) (*Collector, *fakeTarget, afero.Fs, *clock.Mock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	fake := newFakeTarget(fs)
	c, mock := newTestCollectorOn(t, fake, settings, opts...)
	return c, fake, fs, mock
}

func newTestCollectorOn(t *testing.T, fake *fakeTarget, settings Settings, opts ...Option) (*Collector, *clock.Mock) {
	t.Helper()
	cfg, err := Resolve(settings)
	require.NoError(t, err)
	mock := clock.NewMock()
	opts = append([]Option{WithClock(mock), WithFs(fake.hostFs), WithBinDir("/opt/perftrace/tools")}, opts...)
	c, err := NewCollector(fake, cfg, opts...)
	require.NoError(t, err)
	return c, mock
}

// drive runs fn while advancing the mock clock until fn returns
func drive(mock *clock.Mock, step time.Duration, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	for {
		select {
		case <-done:
			return
		default:
			mock.Add(step)
			time.Sleep(50 * time.Microsecond)
		}
	}
}

func fileNames(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}

func TestStatEndToEnd(t *testing.T) {
	c, fake, fs, _ := newTestCollector(t, Settings{Tool: "perf", Mode: "stat", Options: []string{""}, Labels: []string{"perf_0"}})
	assert.Equal(t, "/usr/bin/perf", c.Binary())
	assert.Equal(t, Idle, c.State())

	startedBefore := testutil.ToFloat64(collectionsStarted.WithLabelValues("perf", "stat"))
	require.NoError(t, c.Start())
	assert.Equal(t, Running, c.State())
	require.Len(t, fake.background, 1)
	assert.Equal(t, "/usr/bin/perf stat -e cpu-migrations -e context-switches > /tmp/perftrace/perf_0.out 2>&1", fake.background[0])
	assert.Equal(t, startedBefore+1, testutil.ToFloat64(collectionsStarted.WithLabelValues("perf", "stat")))

	require.NoError(t, c.Stop())
	assert.Equal(t, Stopped, c.State())
	assert.Equal(t, []string{"perf:SIGINT", "sleep:SIGINT"}, fake.signals)

	artifacts, err := c.GetTrace("/out/fake")
	require.NoError(t, err)
	assert.Equal(t, []string{"perf_0.out"}, fileNames(t, fs, "/out/fake"))
	require.Len(t, artifacts, 1)
	assert.Equal(t, Artifact{
		Target:     "fake",
		Label:      "perf_0",
		Kind:       "out",
		RemotePath: "/tmp/perftrace/perf_0.out",
		LocalPath:  "/out/fake/perf_0.out",
		Size:       int64(len("output of /usr/bin/perf")),
	}, artifacts[0])
	assert.Equal(t, []int{DefaultPullTimeout}, fake.pullTimeout)
}

func TestRecordEndToEnd(t *testing.T) {
	c, fake, fs, mock := newTestCollector(t, Settings{Tool: "perf", Mode: "record", Options: []string{"-a", "-a -i"}, Labels: []string{"perf_0", "perf_1"}})
	require.NoError(t, c.Start())
	require.Len(t, fake.background, 2)
	assert.Equal(t, "/usr/bin/perf record -a -e cpu-migrations -e context-switches -o /tmp/perftrace/perf_0.data", fake.background[0])
	assert.Equal(t, "/usr/bin/perf record -a -i -e cpu-migrations -e context-switches -o /tmp/perftrace/perf_1.data", fake.background[1])
	// the tool is still writing when stopped
	fake.files["perf-1.TemporaryFile"] = ""
	fake.markerPolls = 3
	require.NoError(t, c.Stop())

	var artifacts []Artifact
	var err error
	drive(mock, DefaultRetryPolicy.Interval, func() {
		artifacts, err = c.GetTrace("/out/fake")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"perf_0.data", "perf_0.rpt", "perf_0.rptsamples",
		"perf_1.data", "perf_1.rpt", "perf_1.rptsamples",
	}, fileNames(t, fs, "/out/fake"))
	assert.Len(t, artifacts, 6)
	assert.Equal(t, []string{
		"/usr/bin/perf report -i /tmp/perftrace/perf_0.data > /tmp/perftrace/perf_0.rpt 2>&1",
		"/usr/bin/perf script -i /tmp/perftrace/perf_0.data > /tmp/perftrace/perf_0.rptsamples 2>&1",
		"/usr/bin/perf report -i /tmp/perftrace/perf_1.data > /tmp/perftrace/perf_1.rpt 2>&1",
		"/usr/bin/perf script -i /tmp/perftrace/perf_1.data > /tmp/perftrace/perf_1.rptsamples 2>&1",
	}, fake.executed)
}

func TestLifecycleErrors(t *testing.T) {
	c, _, _, _ := newTestCollector(t, Settings{Tool: "perf", Mode: "stat"})
	var lifecycleErr *LifecycleError

	err := c.Stop()
	require.ErrorAs(t, err, &lifecycleErr)
	assert.Equal(t, "stop", lifecycleErr.Op)
	assert.Equal(t, Idle, lifecycleErr.State)

	_, err = c.GetTrace("/out")
	require.ErrorAs(t, err, &lifecycleErr)

	require.NoError(t, c.Start())
	err = c.Start()
	require.ErrorAs(t, err, &lifecycleErr)
	assert.Equal(t, Running, lifecycleErr.State)

	_, err = c.GetTrace("/out")
	require.ErrorAs(t, err, &lifecycleErr)

	require.NoError(t, c.Stop())
	err = c.Start()
	require.ErrorAs(t, err, &lifecycleErr)
	assert.Equal(t, Stopped, lifecycleErr.State)

	require.NoError(t, c.Reset())
	assert.Equal(t, Idle, c.State())
	require.NoError(t, c.Start())
}

func TestReset(t *testing.T) {
	c, fake, _, _ := newTestCollector(t, Settings{Tool: "perf", Mode: "record"})
	fake.markerPolls = -1
	for _, name := range []string{
		"perf_0.out", "perf_0.data", "perf_0.rpt", "perf_0.rptsamples", "perf-77.TemporaryFile",
		"bin", "notes.txt", "layout.outline", "config.yaml",
	} {
		fake.files[name] = ""
	}
	require.NoError(t, c.Reset())
	assert.Equal(t, []string{"perf:SIGKILL"}, fake.signals)
	var removed []string
	for _, r := range fake.removed {
		removed = append(removed, strings.TrimPrefix(r, "/tmp/perftrace/"))
	}
	assert.ElementsMatch(t, []string{"perf-77.TemporaryFile", "perf_0.data", "perf_0.out", "perf_0.rpt", "perf_0.rptsamples"}, removed)
	assert.Contains(t, fake.files, "notes.txt")
	assert.Contains(t, fake.files, "layout.outline")
	assert.Contains(t, fake.files, "bin")

	// nothing left to delete
	fake.removed = nil
	require.NoError(t, c.Reset())
	assert.Empty(t, fake.removed)
	assert.Equal(t, Idle, c.State())
}

func TestClean(t *testing.T) {
	fake := newFakeTarget(afero.NewMemMapFs())
	fake.files["simpleperf_0.data"] = ""
	fake.files["simpleperf_0.rpt"] = ""
	fake.files["trace.log"] = ""
	require.NoError(t, Clean(fake, ToolSimpleperf))
	assert.Equal(t, []string{"simpleperf:SIGKILL"}, fake.signals)
	assert.ElementsMatch(t, []string{"/tmp/perftrace/simpleperf_0.data", "/tmp/perftrace/simpleperf_0.rpt"}, fake.removed)
	assert.Contains(t, fake.files, "trace.log")

	fake.failList = true
	err := Clean(fake, ToolSimpleperf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list")
}

func TestWaitEndsWhenMarkersDisappear(t *testing.T) {
	c, fake, _, mock := newTestCollector(t, Settings{Tool: "perf", Mode: "record"}, WithRetryPolicy(RetryPolicy{Interval: time.Second, MaxAttempts: 10}))
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	fake.files["perf_0.dataTemporaryFile"] = ""
	fake.markerPolls = 2
	timeoutsBefore := testutil.ToFloat64(completionTimeouts.WithLabelValues("perf"))
	listsBefore := fake.listCalls

	var err error
	drive(mock, time.Second, func() {
		err = c.waitForDataFile("perf_0")
	})
	require.NoError(t, err)
	// two polls found markers, the third did not
	assert.Equal(t, 3, fake.listCalls-listsBefore)
	assert.Equal(t, timeoutsBefore, testutil.ToFloat64(completionTimeouts.WithLabelValues("perf")))
	assert.Len(t, fake.executed, 2)
}

func TestWaitGivesUpAtBound(t *testing.T) {
	c, fake, _, mock := newTestCollector(t, Settings{Tool: "perf", Mode: "record"}, WithRetryPolicy(RetryPolicy{Interval: time.Second, MaxAttempts: 5}))
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	fake.files["perf_0.dataTemporaryFile"] = ""
	fake.markerPolls = -1
	timeoutsBefore := testutil.ToFloat64(completionTimeouts.WithLabelValues("perf"))
	pollsBefore := testutil.ToFloat64(completionPolls.WithLabelValues("perf"))
	listsBefore := fake.listCalls

	var err error
	drive(mock, time.Second, func() {
		err = c.waitForDataFile("perf_0")
	})
	require.NoError(t, err)
	assert.Equal(t, 6, fake.listCalls-listsBefore)
	assert.Equal(t, pollsBefore+5, testutil.ToFloat64(completionPolls.WithLabelValues("perf")))
	assert.Equal(t, timeoutsBefore+1, testutil.ToFloat64(completionTimeouts.WithLabelValues("perf")))
	// reports are still generated
	require.Len(t, fake.executed, 2)
	assert.Contains(t, fake.executed[0], " report ")
}

func TestWaitListingFailure(t *testing.T) {
	c, fake, fs, _ := newTestCollector(t, Settings{Tool: "perf", Mode: "record"})
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	fake.failList = true

	artifacts, err := c.GetTrace("/out")
	require.Error(t, err)
	var reportErr *ReportError
	require.ErrorAs(t, err, &reportErr)
	assert.Equal(t, "perf_0", reportErr.Label)
	// the data file is still retrieved, the reports were never generated
	assert.Len(t, artifacts, 1)
	assert.Equal(t, []string{"perf_0.data"}, fileNames(t, fs, "/out"))
	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
}

func TestReportFailureDoesNotStopOtherLabels(t *testing.T) {
	c, fake, fs, _ := newTestCollector(t, Settings{Tool: "simpleperf", Mode: "record", Options: []string{"-a", "-a -i"}})
	fake.failExecute = func(command string) bool {
		return strings.Contains(command, "simpleperf_0.data") && strings.Contains(command, " report ")
	}
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())

	artifacts, err := c.GetTrace("/out")
	require.Error(t, err)
	var reportErr *ReportError
	require.ErrorAs(t, err, &reportErr)
	assert.Equal(t, "simpleperf_0", reportErr.Label)
	assert.Contains(t, reportErr.Error(), "cannot open data file")
	var retrievalErr *RetrievalError
	require.ErrorAs(t, err, &retrievalErr)
	assert.Equal(t, "simpleperf_0.rpt", retrievalErr.File)

	assert.Len(t, artifacts, 5)
	assert.Equal(t, []string{
		"simpleperf_0.data", "simpleperf_0.rptsamples",
		"simpleperf_1.data", "simpleperf_1.rpt", "simpleperf_1.rptsamples",
	}, fileNames(t, fs, "/out"))
}

func TestRetrievalPartialFailure(t *testing.T) {
	c, fake, fs, _ := newTestCollector(t, Settings{Tool: "perf", Mode: "stat", Options: []string{"-a", "-a -i"}}, WithPullTimeout(60))
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	fake.failPull["perf_0.out"] = true
	failedBefore := testutil.ToFloat64(artifactsFailed.WithLabelValues("out"))

	artifacts, err := c.GetTrace("/out/nested/dir")
	require.Error(t, err)
	var retrievalErr *RetrievalError
	require.True(t, errors.As(err, &retrievalErr))
	assert.Equal(t, "perf_0", retrievalErr.Label)
	assert.Equal(t, "perf_0.out", retrievalErr.File)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "perf_1", artifacts[0].Label)
	assert.Equal(t, []string{"perf_1.out"}, fileNames(t, fs, "/out/nested/dir"))
	assert.Equal(t, []int{60, 60}, fake.pullTimeout)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(artifactsFailed.WithLabelValues("out")))
}

func TestRecordDataFileReadableBeforePull(t *testing.T) {
	fs := afero.NewMemMapFs()
	fake := newFakeTarget(fs)
	fake.rootOwned = true
	c, _ := newTestCollectorOn(t, fake, Settings{Tool: "perf", Mode: "record"})
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	require.True(t, fake.unreadable["perf_0.data"])

	artifacts, err := c.GetTrace("/out")
	require.NoError(t, err)
	assert.Len(t, artifacts, 3)
	assert.Equal(t, []string{"perf_0.data", "perf_0.rpt", "perf_0.rptsamples"}, fake.shared)
	assert.Equal(t, []string{"perf_0.data", "perf_0.rpt", "perf_0.rptsamples"}, fileNames(t, fs, "/out"))
}

func TestNoChmodWithoutElevation(t *testing.T) {
	fake := newFakeTarget(afero.NewMemMapFs())
	fake.noElevate = true
	c, _ := newTestCollectorOn(t, fake, Settings{Tool: "perf", Mode: "stat"})
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())
	_, err := c.GetTrace("/out")
	require.NoError(t, err)
	assert.Empty(t, fake.shared)
}

func TestWorkDirectoryWithSpace(t *testing.T) {
	fake := newFakeTarget(afero.NewMemMapFs())
	fake.workDir = "/tmp/perf trace"
	fake.noElevate = true
	c, _ := newTestCollectorOn(t, fake, Settings{Tool: "perf", Mode: "stat"})
	require.NotEmpty(t, fake.listed)
	assert.Equal(t, "'/tmp/perf trace'", fake.listed[0])

	require.NoError(t, c.Start())
	require.Len(t, fake.background, 1)
	assert.True(t, strings.HasSuffix(fake.background[0], "> '/tmp/perf trace/perf_0.out' 2>&1"))
	require.NoError(t, c.Stop())
	fake.files["perf_0.out"] = ""
	require.NoError(t, c.Reset())
	assert.Equal(t, "'/tmp/perf trace'", fake.listed[len(fake.listed)-1])
	assert.Contains(t, fake.removed, "/tmp/perf trace/perf_0.out")
}

func TestResolveBinaryInstalled(t *testing.T) {
	_, fake, _, _ := newTestCollector(t, Settings{Tool: "perf"})
	assert.Empty(t, fake.installs)
}

func TestResolveBinaryDeploys(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/opt/perftrace/tools/x86_64/perf", []byte("ELF"), 0755))
	fake := newFakeTarget(fs)
	delete(fake.installed, "perf")

	c, _ := newTestCollectorOn(t, fake, Settings{Tool: "perf"})
	assert.Equal(t, []string{"/opt/perftrace/tools/x86_64/perf"}, fake.installs)
	assert.Equal(t, "/tmp/perftrace/bin/perf", c.Binary())
	assert.True(t, strings.HasPrefix(c.Commands()[0], "/tmp/perftrace/bin/perf stat "))
}

func TestResolveBinaryForceInstall(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/opt/perftrace/tools/x86_64/perf", []byte("ELF"), 0755))
	fake := newFakeTarget(fs)

	c, _ := newTestCollectorOn(t, fake, Settings{Tool: "perf", ForceInstall: true})
	assert.Len(t, fake.installs, 1)
	assert.Equal(t, "/tmp/perftrace/bin/perf", c.Binary())
}

func TestResolveBinaryBusyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/opt/perftrace/tools/arm64-v8a/simpleperf", []byte("ELF"), 0755))
	fake := newFakeTarget(fs)
	fake.arch = "arm64-v8a"
	fake.workDir = "/data/local/tmp/perftrace"
	fake.files["simpleperf"] = ""

	c, _ := newTestCollectorOn(t, fake, Settings{Tool: "simpleperf"})
	assert.Equal(t, []string{"simpleperf:SIGKILL"}, fake.signals)
	assert.Equal(t, []string{"/data/local/tmp/perftrace/simpleperf"}, fake.removed)
	assert.Equal(t, []string{"simpleperf"}, fake.uninstalled)
	assert.Equal(t, []string{"/opt/perftrace/tools/arm64-v8a/simpleperf"}, fake.installs)
	assert.Equal(t, "/data/local/tmp/perftrace/bin/simpleperf", c.Binary())
}

func TestResolveBinaryMissingHostBinary(t *testing.T) {
	fs := afero.NewMemMapFs()
	fake := newFakeTarget(fs)
	fake.arch = "riscv64"
	delete(fake.installed, "perf")
	cfg, err := Resolve(Settings{Tool: "perf"})
	require.NoError(t, err)

	_, err = NewCollector(fake, cfg, WithFs(fs), WithBinDir("/opt/perftrace/tools"))
	var deployErr *DeploymentError
	require.ErrorAs(t, err, &deployErr)
	assert.Equal(t, "riscv64", deployErr.Arch)
	assert.Equal(t, "/opt/perftrace/tools/riscv64/perf", deployErr.Path)
	assert.Empty(t, fake.installs)
}
