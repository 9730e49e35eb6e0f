/*
Copyright 2024 Regents of the University of California

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package asciitable renders tabular values for terminal output.
package asciitable

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

// fallbackWidth is assumed when stdout is not a terminal.
const fallbackWidth = 80

// minTruncatedWidth is the narrowest a truncated column may get.
const minTruncatedWidth = 16

type column struct {
	title     string
	maxLength int
}

// Table accumulates rows and renders them aligned under a header
// line.
type Table struct {
	columns []column
	rows    [][]string
}

// New creates a table with the given column headers.
func New(headers ...string) *Table {
	t := &Table{columns: make([]column, len(headers))}
	for i, h := range headers {
		t.columns[i].title = h
	}
	return t
}

// NewTruncated creates a table where the named column is shortened so
// rows fit the terminal width.
func NewTruncated(headers []string, rows [][]string, truncated string) *Table {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = fallbackWidth
	}

	t := New(headers...)
	used := 0
	truncIndex := -1
	for i, col := range t.columns {
		if col.title == truncated {
			truncIndex = i
			continue
		}
		widest := len(col.title)
		for _, row := range rows {
			if i < len(row) && len(row[i]) > widest {
				widest = len(row[i])
			}
		}
		used += widest + 1
	}
	if truncIndex >= 0 {
		t.columns[truncIndex].maxLength = max(width-used-len("... "), minTruncatedWidth)
	}
	for _, row := range rows {
		t.AddRow(row)
	}
	return t
}

// AddRow appends one row; extra cells beyond the column count drop.
func (t *Table) AddRow(row []string) {
	if len(row) > len(t.columns) {
		row = row[:len(t.columns)]
	}
	t.rows = append(t.rows, row)
}

// SortRows orders rows by the given column, ascending. Show commands
// use it for diff-stable output.
func (t *Table) SortRows(col int) {
	if col < 0 || col >= len(t.columns) {
		return
	}
	sort.SliceStable(t.rows, func(i, j int) bool {
		return t.rows[i][col] < t.rows[j][col]
	})
}

func (t *Table) cell(col int, value string) string {
	limit := t.columns[col].maxLength
	if limit <= 0 || len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

// WriteTo renders the table.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	buf := &bytes.Buffer{}
	tw := tabwriter.NewWriter(buf, 5, 0, 1, ' ', 0)
	template := strings.Repeat("%v\t", len(t.columns))

	headers := make([]any, len(t.columns))
	rules := make([]any, len(t.columns))
	for i, col := range t.columns {
		headers[i] = col.title
		width := len(col.title)
		for _, row := range t.rows {
			if i < len(row) {
				width = max(width, len(t.cell(i, row[i])))
			}
		}
		rules[i] = strings.Repeat("-", width)
	}
	fmt.Fprintf(tw, template+"\n", headers...)
	fmt.Fprintf(tw, template+"\n", rules...)

	for _, row := range t.rows {
		cells := make([]any, len(t.columns))
		for i := range t.columns {
			if i < len(row) {
				cells[i] = t.cell(i, row[i])
			} else {
				cells[i] = ""
			}
		}
		fmt.Fprintf(tw, template+"\n", cells...)
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	return buf.WriteTo(w)
}

// String renders the table to a string.
func (t *Table) String() string {
	var sb strings.Builder
	//nolint:errcheck // strings.Builder does not fail.
	t.WriteTo(&sb)
	return sb.String()
}
