package perf

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/hashicorp/go-multierror"
)

// timeout, in seconds, for making the label's files readable
const shareTimeout = 60

// Artifact is one file copied from the target.
type Artifact struct {
	Target     string `json:"target"`
	Label      string `json:"label"`
	Kind       string `json:"kind"`
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Size       int64  `json:"size"`
}

// retrieve copies the label's files into outputDir. A file that cannot be
// copied does not stop the remaining ones.
func (c *Collector) retrieve(label string, outputDir string) ([]Artifact, error) {
	c.shareArtifacts(label)
	var result *multierror.Error
	var artifacts []Artifact
	for _, ext := range artifactExtensions(c.config.Mode) {
		name := artifactName(label, ext)
		remotePath := c.target.GetWorkPath(name)
		localPath := filepath.Join(outputDir, name)
		err := c.target.PullFile(remotePath, outputDir, c.pullTimeout)
		var size int64
		if err == nil {
			size, err = c.localSize(localPath)
		}
		if err != nil {
			slog.Warn("failed to retrieve artifact", slog.String("target", c.target.GetName()), slog.String("file", remotePath), slog.String("error", err.Error()))
			artifactsFailed.WithLabelValues(ext).Inc()
			result = multierror.Append(result, &RetrievalError{Label: label, File: name, Err: err})
			continue
		}
		artifactsRetrieved.WithLabelValues(ext).Inc()
		retrievedBytes.Add(float64(size))
		artifacts = append(artifacts, Artifact{
			Target:     c.target.GetName(),
			Label:      label,
			Kind:       ext,
			RemotePath: remotePath,
			LocalPath:  localPath,
			Size:       size,
		})
	}
	return artifacts, result.ErrorOrNil()
}

// shareArtifacts makes the label's files readable by the connecting user.
// The tool creates its record data file owned by root with mode 0600 when it
// runs elevated, and pulls run without elevation. A failure here only warns,
// the pull of an unreadable file reports it.
func (c *Collector) shareArtifacts(label string) {
	if !c.asRoot {
		return
	}
	var paths []string
	for _, ext := range artifactExtensions(c.config.Mode) {
		paths = append(paths, shellescape.Quote(c.target.GetWorkPath(artifactName(label, ext))))
	}
	command := "chmod a+r " + strings.Join(paths, " ")
	if output, err := c.target.Execute(command, shareTimeout, true); err != nil {
		slog.Warn("failed to make artifacts readable", slog.String("target", c.target.GetName()), slog.String("label", label), slog.String("output", strings.TrimSpace(output)), slog.String("error", err.Error()))
	}
}

// localSize confirms that a pulled file arrived and returns its size.
func (c *Collector) localSize(localPath string) (int64, error) {
	info, err := c.fs.Stat(localPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
