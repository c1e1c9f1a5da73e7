package collect

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"testing"
	"time"

	"perftrace/internal/common"
	"perftrace/internal/manifest"
	"perftrace/internal/perf"
	"perftrace/internal/target"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForCollectionDuration(t *testing.T) {
	mock := clock.NewMock()
	done := make(chan struct{})
	go func() {
		waitForCollection(context.Background(), mock, 10*time.Second)
		close(done)
	}()
	// let the goroutine create its timer before moving the clock
	for range 100 {
		mock.Add(time.Second)
		select {
		case <-done:
			return
		default:
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("wait did not end after the duration")
}

func TestWaitForCollectionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		waitForCollection(ctx, clock.NewMock(), 0)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not end when cancelled")
	}
}

func TestFormats(t *testing.T) {
	saved := flagFormat
	defer func() { flagFormat = saved }()
	flagFormat = []string{manifest.FormatAll}
	assert.Equal(t, manifest.FormatOptions, formats())
	flagFormat = []string{manifest.FormatJson}
	assert.Equal(t, []string{manifest.FormatJson}, formats())
}

type namedTarget struct {
	target.Target
	name string
}

func (n *namedTarget) GetName() string {
	return n.name
}

func TestManifestFollowsTargetOrder(t *testing.T) {
	mock := clock.NewMock()
	run := collectRun{
		config:    perf.Config{Tool: perf.ToolPerf, Mode: perf.ModeStat},
		clock:     mock,
		artifacts: map[string][]perf.Artifact{},
	}
	run.artifacts["b"] = []perf.Artifact{{Target: "b", Label: "perf_0", Kind: "out"}}
	run.artifacts["a"] = []perf.Artifact{{Target: "a", Label: "perf_0", Kind: "out"}}
	results := []common.TargetResult{
		{Target: &namedTarget{name: "a"}},
		{Target: &namedTarget{name: "unreachable"}, Err: errors.New("failed to connect to target (unreachable)")},
		{Target: &namedTarget{name: "b"}},
	}
	m := run.manifest(results)
	assert.Equal(t, "perf", m.Tool)
	assert.Equal(t, "stat", m.Mode)
	assert.Equal(t, mock.Now().Local().Format(time.DateTime), m.Created)
	require.Len(t, m.Artifacts, 2)
	assert.Equal(t, "a", m.Artifacts[0].Target)
	assert.Equal(t, "b", m.Artifacts[1].Target)
	assert.Equal(t, []string{"unreachable: failed to connect to target (unreachable)"}, m.Errors)
}
