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

package puppet

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func writeForest(t *testing.T, files map[string]string) (afero.Fs, []string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	var paths []string
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
		paths = append(paths, path)
	}
	return fs, paths
}

func TestParseForestNone(t *testing.T) {
	t.Parallel()

	fs, _ := writeForest(t, map[string]string{
		"a.yaml": "x: 1\n",
		"b.yaml": "y: 2\n",
	})
	entries, err := ParseForest(fs, []string{"a.yaml", "b.yaml"}, MergeNone)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.yaml", entries[0].Key)
	require.Equal(t, "b.yaml", entries[1].Key)
}

func TestParseForestPrefix(t *testing.T) {
	t.Parallel()

	fs, _ := writeForest(t, map[string]string{
		"site.users.yaml":  "user:\n  alice:\n    uid: 100\n",
		"site.groups.yaml": "group:\n  lab:\n    gid: 200\n",
		"other.yaml":       "meta:\n  sitename: other\n",
	})
	entries, err := ParseForest(fs,
		[]string{"site.users.yaml", "site.groups.yaml", "other.yaml"}, MergePrefix)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.Equal(t, "other", entries[0].Key)
	require.Equal(t, "site", entries[1].Key)

	site, ok := entries[1].Tree.(map[string]any)
	require.True(t, ok)
	require.Contains(t, site, "user")
	require.Contains(t, site, "group")
}

func TestParseForestAll(t *testing.T) {
	t.Parallel()

	fs, _ := writeForest(t, map[string]string{
		"a.yaml": "user:\n  alice:\n    uid: 100\n",
		"b.yaml": "user:\n  bob:\n    uid: 101\n",
	})
	entries, err := ParseForest(fs, []string{"a.yaml", "b.yaml"}, MergeAllFiles)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, MergedAllKey, entries[0].Key)

	tree, ok := entries[0].Tree.(map[string]any)
	require.True(t, ok)
	users, ok := tree["user"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, users, "alice")
	require.Contains(t, users, "bob")
}

func TestParseForestBadPolicy(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_, err := ParseForest(fs, nil, MergePolicy("bogus"))
	require.Error(t, err)
}
