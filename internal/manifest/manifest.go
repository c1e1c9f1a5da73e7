// Package manifest renders the list of retrieved trace artifacts as txt, json, or xlsx.
package manifest

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"perftrace/internal/perf"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	FormatTxt  = "txt"
	FormatJson = "json"
	FormatXlsx = "xlsx"
	FormatAll  = "all"
)

var FormatOptions = []string{FormatTxt, FormatJson, FormatXlsx}

// BaseName is the manifest file name without extension.
const BaseName = "manifest"

const noArtifacts = "No artifacts retrieved."

// Manifest describes one collect run across all targets.
type Manifest struct {
	Tool      string          `json:"tool"`
	Mode      string          `json:"mode"`
	Created   string          `json:"created"`
	Artifacts []perf.Artifact `json:"artifacts"`
	Errors    []string        `json:"errors,omitempty"`
}

// Create renders the manifest in the given format.
func Create(format string, m Manifest) (out []byte, err error) {
	switch format {
	case FormatTxt:
		return createText(m)
	case FormatJson:
		return json.MarshalIndent(m, "", " ")
	case FormatXlsx:
		return createXlsx(m)
	}
	return nil, fmt.Errorf("unsupported manifest format: %s", format)
}

// Write renders the manifest in each format into outputDir and returns the
// paths of the files written.
func Write(outputDir string, formats []string, m Manifest) (paths []string, err error) {
	for _, format := range formats {
		var out []byte
		out, err = Create(format, m)
		if err != nil {
			return
		}
		path := filepath.Join(outputDir, BaseName+"."+format)
		if err = os.WriteFile(path, out, 0644); err != nil { // #nosec G306
			return
		}
		paths = append(paths, path)
	}
	return
}

var textHeadings = []string{"Target", "Label", "Kind", "Size (bytes)", "Path"}

func textRows(m Manifest) [][]string {
	p := message.NewPrinter(language.English) // commas at thousands, e.g., 12,345,678
	var rows [][]string
	for _, a := range m.Artifacts {
		rows = append(rows, []string{a.Target, a.Label, a.Kind, p.Sprintf("%d", a.Size), a.LocalPath})
	}
	return rows
}

func createText(m Manifest) (out []byte, err error) {
	var sb strings.Builder
	title := fmt.Sprintf("%s %s artifacts", m.Tool, m.Mode)
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("=", len(title)) + "\n")
	if m.Created != "" {
		sb.WriteString(fmt.Sprintf("Created: %s\n", m.Created))
	}
	rows := textRows(m)
	if len(rows) == 0 {
		sb.WriteString(noArtifacts + "\n")
	} else {
		// find the longest item per column
		widths := make([]int, len(textHeadings))
		for i, h := range textHeadings {
			widths[i] = len(h)
		}
		for _, row := range rows {
			for i, v := range row {
				widths[i] = max(widths[i], len(v))
			}
		}
		writeRow := func(values []string) {
			for i, v := range values {
				if i == len(values)-1 {
					sb.WriteString(v) // the last column isn't padded
					break
				}
				sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], v))
			}
			sb.WriteString("\n")
		}
		writeRow(textHeadings)
		for _, row := range rows {
			writeRow(row)
		}
	}
	if len(m.Errors) > 0 {
		sb.WriteString("\nErrors\n------\n")
		for _, e := range m.Errors {
			sb.WriteString(e + "\n")
		}
	}
	out = []byte(sb.String())
	return
}

func cellName(col int, row int) (name string) {
	columnName, err := excelize.ColumnNumberToName(col)
	if err != nil {
		return
	}
	name, err = excelize.JoinCellName(columnName, row)
	if err != nil {
		return
	}
	return
}

func createXlsx(m Manifest) (out []byte, err error) {
	f := excelize.NewFile()
	sheetName := "Artifacts"
	_ = f.SetSheetName("Sheet1", sheetName)
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
	})
	row := 1
	_ = f.SetCellValue(sheetName, cellName(1, row), fmt.Sprintf("%s %s artifacts", m.Tool, m.Mode))
	_ = f.SetCellStyle(sheetName, cellName(1, row), cellName(1, row), boldStyle)
	row++
	if m.Created != "" {
		_ = f.SetCellValue(sheetName, cellName(1, row), "Created")
		_ = f.SetCellValue(sheetName, cellName(2, row), m.Created)
		row++
	}
	row++
	if len(m.Artifacts) == 0 {
		_ = f.SetCellValue(sheetName, cellName(1, row), noArtifacts)
	} else {
		for col, heading := range textHeadings {
			_ = f.SetCellValue(sheetName, cellName(col+1, row), heading)
		}
		_ = f.SetCellStyle(sheetName, cellName(1, row), cellName(len(textHeadings), row), boldStyle)
		row++
		for _, a := range m.Artifacts {
			_ = f.SetCellValue(sheetName, cellName(1, row), a.Target)
			_ = f.SetCellValue(sheetName, cellName(2, row), a.Label)
			_ = f.SetCellValue(sheetName, cellName(3, row), a.Kind)
			_ = f.SetCellValue(sheetName, cellName(4, row), a.Size)
			_ = f.SetCellValue(sheetName, cellName(5, row), a.LocalPath)
			row++
		}
	}
	if len(m.Errors) > 0 {
		errorSheet := "Errors"
		if _, err = f.NewSheet(errorSheet); err != nil {
			return
		}
		for i, e := range m.Errors {
			_ = f.SetCellValue(errorSheet, cellName(1, i+1), e)
		}
	}
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	_, err = f.WriteTo(w)
	if err != nil {
		return
	}
	if err = w.Flush(); err != nil {
		return
	}
	out = buf.Bytes()
	return
}
