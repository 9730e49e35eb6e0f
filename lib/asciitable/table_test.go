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

package asciitable

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableRender(t *testing.T) {
	t.Parallel()

	table := New("Username", "UID", "Status")
	table.AddRow([]string{"bob", "1000002", "active"})
	table.AddRow([]string{"alice", "1000001", "inactive"})
	table.SortRows(0)

	out := table.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "Username")
	require.Contains(t, lines[1], "---")
	require.Contains(t, lines[2], "alice")
	require.Contains(t, lines[3], "bob")
}

func TestTableTruncation(t *testing.T) {
	t.Parallel()

	table := New("Name", "Key")
	table.columns[1].maxLength = 8
	table.AddRow([]string{"alice", "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5"})

	out := table.String()
	require.Contains(t, out, "ssh-ed25...")
	require.NotContains(t, out, "AAAAC3")
}

func TestTableRaggedRows(t *testing.T) {
	t.Parallel()

	table := New("A", "B")
	table.AddRow([]string{"only"})
	table.AddRow([]string{"x", "y", "dropped"})

	out := table.String()
	require.Contains(t, out, "only")
	require.NotContains(t, out, "dropped")
}
