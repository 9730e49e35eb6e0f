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
	"path/filepath"
	"slices"
	"strings"

	"github.com/gravitational/trace"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// MergePolicy controls how a forest of YAML files collapses into
// entries.
type MergePolicy string

const (
	// MergeNone keeps one entry per file.
	MergeNone MergePolicy = "none"
	// MergePrefix groups files by the first dot-delimited token of
	// their base name and merges each group.
	MergePrefix MergePolicy = "prefix"
	// MergeAllFiles merges every file into a single entry keyed
	// MergedAllKey.
	MergeAllFiles MergePolicy = "all"
)

// MergedAllKey names the single entry produced by MergeAllFiles.
const MergedAllKey = "merged-all"

// Check validates the merge policy value.
func (p MergePolicy) Check() error {
	switch p {
	case MergeNone, MergePrefix, MergeAllFiles:
		return nil
	}
	return trace.BadParameter("merge policy %q is not supported", string(p))
}

// ForestEntry is one merged tree with the key it merged under.
type ForestEntry struct {
	Key  string
	Tree any
}

// ParseForest reads the given YAML files and collapses them per the
// policy. File order decides merge precedence: later files override
// earlier ones within a group. Entries come back sorted by key.
func ParseForest(fs afero.Fs, paths []string, policy MergePolicy) ([]ForestEntry, error) {
	if err := policy.Check(); err != nil {
		return nil, trace.Wrap(err)
	}

	type parsed struct {
		path string
		tree any
	}
	trees := make([]parsed, 0, len(paths))
	for _, path := range paths {
		raw, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		var tree any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, trace.BadParameter("parsing %v: %v", path, err)
		}
		trees = append(trees, parsed{path: path, tree: tree})
	}

	var entries []ForestEntry
	switch policy {
	case MergeNone:
		for _, p := range trees {
			entries = append(entries, ForestEntry{Key: p.path, Tree: p.tree})
		}
	case MergePrefix:
		groups := map[string]any{}
		for _, p := range trees {
			prefix, _, _ := strings.Cut(filepath.Base(p.path), ".")
			if existing, ok := groups[prefix]; ok {
				groups[prefix] = Merge(existing, p.tree)
			} else {
				groups[prefix] = p.tree
			}
		}
		for key, tree := range groups {
			entries = append(entries, ForestEntry{Key: key, Tree: tree})
		}
	case MergeAllFiles:
		var merged any
		for i, p := range trees {
			if i == 0 {
				merged = p.tree
			} else {
				merged = Merge(merged, p.tree)
			}
		}
		entries = append(entries, ForestEntry{Key: MergedAllKey, Tree: merged})
	}
	slices.SortFunc(entries, func(a, b ForestEntry) int {
		return strings.Compare(a.Key, b.Key)
	})
	return entries, nil
}
