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

package common

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ucdavis/cheeto"
)

func newTestApp(t *testing.T) *kingpin.Application {
	t.Helper()
	app := kingpin.New("cheeto", "test")
	app.Terminate(func(int) { t.Fatal("kingpin terminated") })
	env := &Env{}
	for _, command := range Commands() {
		command.Initialize(app, env)
	}
	return app
}

func TestCommandTreeParses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"config", "show"}, "config show"},
		{[]string{"database", "site", "new", "hive", "--fqdn", "hive.example.edu"}, "database site new"},
		{[]string{"database", "user", "show", "-u", "alice"}, "database user show"},
		{[]string{"database", "user", "new", "system", "svc-backup", "--email", "x@y.edu", "--fullname", "Backup"}, "database user new system"},
		{[]string{"database", "user", "set", "status", "inactive", "-u", "alice"}, "database user set status"},
		{[]string{"database", "group", "add", "member", "-s", "hive", "-g", "lab", "-u", "alice"}, "database group add member"},
		{[]string{"database", "slurm", "new", "qos", "lab-gpu-qos", "-s", "hive", "--group-limits", "cpus=16,mem=1G"}, "database slurm new qos"},
		{[]string{"database", "storage", "show", "-s", "hive"}, "database storage show"},
		{[]string{"database", "iam", "sync"}, "database iam sync"},
		{[]string{"hippo", "process", "--postback"}, "hippo process"},
		{[]string{"slurm", "sync", "-s", "hive", "--dump", "-"}, "slurm sync"},
		{[]string{"nocloud", "render", "-t", "u.tmpl", "-s", "hive", "--hostname", "gpu-07"}, "nocloud render"},
		{[]string{"monitor", "power", "--hosts", "bmc.yaml"}, "monitor power"},
		{[]string{"puppet", "validate", "--repo", "/srv/puppet"}, "puppet validate"},
	}
	for _, tc := range cases {
		app := newTestApp(t)
		selected, err := app.Parse(tc.args)
		require.NoError(t, err, "args %v", tc.args)
		require.Equal(t, tc.want, selected)
	}
}

func TestCommandTreeRejectsUnknown(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)
	_, err := app.Parse([]string{"database", "user", "frobnicate"})
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{trace.NotFound("missing"), cheeto.ExitDoesNotExist},
		{trace.AlreadyExists("duplicate"), cheeto.ExitNotUnique},
		{trace.BadParameter("bad"), cheeto.ExitValidationError},
		{trace.CompareFailed("metadata"), cheeto.ExitInvalidMetadata},
		{context.Canceled, cheeto.ExitOperationCancelled},
		{trace.Wrap(context.DeadlineExceeded), cheeto.ExitOperationCancelled},
		{WithExitCode(trace.AlreadyExists("file"), cheeto.ExitFileExists), cheeto.ExitFileExists},
		{trace.Wrap(WithExitCode(trace.BadParameter("merge"), cheeto.ExitBadMerge)), cheeto.ExitBadMerge},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ExitCode(tc.err), "error %v", tc.err)
	}
}

func TestWriteOutputRefusesOverwrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	err := writeOutput(path, []byte("new"), false)
	require.Error(t, err)
	require.Equal(t, cheeto.ExitFileExists, ExitCode(err))

	require.NoError(t, writeOutput(path, []byte("new"), true))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
}

func TestCollectRepoYAMLDepth(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	files := []string{
		"/repo/top.yaml",
		"/repo/a/one.yaml",
		"/repo/a/b/c/d/deep.yaml",
		"/repo/a/b/c/d/e/too-deep.yaml",
		"/repo/a/readme.md",
	}
	for _, path := range files {
		require.NoError(t, afero.WriteFile(fsys, path, []byte("user: {}\n"), 0o644))
	}

	paths, err := collectRepoYAML(fsys, "/repo", 4)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"/repo/top.yaml",
		"/repo/a/one.yaml",
		"/repo/a/b/c/d/deep.yaml",
	}, paths)
}
