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
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/spf13/afero"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/puppet"
)

// PuppetCommand implements "cheeto puppet validate".
type PuppetCommand struct {
	env *Env

	validate *kingpin.CmdClause

	repoRoot string
	policy   string
}

// Initialize registers the puppet subtree.
func (c *PuppetCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	puppetCmd := app.Command("puppet", "Work with legacy account repositories.")
	c.validate = puppetCmd.Command("validate", "Parse, merge, and validate a repository without importing.")
	c.validate.Flag("repo", "Repository root.").Required().StringVar(&c.repoRoot)
	c.validate.Flag("merge", "Merge policy: none, prefix, or all.").
		Default(string(puppet.MergeAllFiles)).StringVar(&c.policy)
}

// TryRun executes the selected puppet command.
func (c *PuppetCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	if selectedCommand != c.validate.FullCommand() {
		return false, nil
	}
	return true, trace.Wrap(c.Validate(ctx))
}

// Validate runs the load pipeline in stages so each failure class
// surfaces its own exit code: merge failures, schema violations, and
// unknown sponsors are distinct conditions for the callers that script
// this command.
func (c *PuppetCommand) Validate(ctx context.Context) error {
	policy := puppet.MergePolicy(c.policy)
	if err := policy.Check(); err != nil {
		return trace.Wrap(err)
	}
	fsys := afero.NewOsFs()
	paths, err := collectRepoYAML(fsys, c.repoRoot, defaults.MaxRepoWalkDepth)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(paths) == 0 {
		return trace.NotFound("repository %v has no YAML files", c.repoRoot)
	}

	entries, err := puppet.ParseForest(fsys, paths, policy)
	if err != nil {
		return WithExitCode(trace.Wrap(err), cheeto.ExitBadMerge)
	}

	for _, entry := range entries {
		m, err := puppet.DecodeAccountMap(entry.Tree)
		if err != nil {
			return trace.Wrap(err, "entry %q", entry.Key)
		}
		if err := m.Validate(); err != nil {
			return trace.Wrap(err, "entry %q", entry.Key)
		}
		if err := m.ValidateSponsors(); err != nil {
			return WithExitCode(trace.Wrap(err, "entry %q", entry.Key), cheeto.ExitInvalidSponsor)
		}
		if err := m.ValidateUserGroups(); err != nil {
			return trace.Wrap(err, "entry %q", entry.Key)
		}
		fmt.Printf("%v: %v users, %v groups, %v shares\n",
			entry.Key, len(m.Users), len(m.Groups), len(m.Shares))
	}
	return nil
}

// collectRepoYAML gathers *.yaml files under root to a bounded depth.
func collectRepoYAML(fsys afero.Fs, root string, maxDepth int) ([]string, error) {
	var paths []string
	err := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return trace.ConvertSystemError(err)
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return trace.Wrap(relErr)
		}
		if info.IsDir() {
			if rel != "." && strings.Count(rel, string(filepath.Separator)) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return paths, nil
}
