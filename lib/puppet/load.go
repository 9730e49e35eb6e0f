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
	"cmp"
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/gravitational/trace"
	"github.com/spf13/afero"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
)

// Validator names an opt-in post-load check.
type Validator string

const (
	// ValidatorKnownSponsors checks that group sponsors are declared
	// users.
	ValidatorKnownSponsors Validator = "known-sponsors"
	// ValidatorKnownGroups checks that user group lists reference
	// declared groups.
	ValidatorKnownGroups Validator = "known-groups"
)

// Check validates the validator name.
func (v Validator) Check() error {
	switch v {
	case ValidatorKnownSponsors, ValidatorKnownGroups:
		return nil
	}
	return trace.BadParameter("validator %q is not supported", string(v))
}

// LoaderConfig configures a repository loader.
type LoaderConfig struct {
	// Fs abstracts the filesystem holding the repository. Defaults to
	// the OS filesystem; tests use a memory map.
	Fs afero.Fs
	// Root is the repository directory.
	Root string
	// MaxDepth bounds directory recursion below Root.
	MaxDepth int
	// Strict stops at the first validation error instead of logging
	// and continuing.
	Strict bool
	// Validators are the opt-in post-load checks to run.
	Validators []Validator
	// LockTimeout bounds the wait for the repository file lock. The
	// zero value takes the default.
	LockTimeout time.Duration
	// Logger emits loader diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *LoaderConfig) CheckAndSetDefaults() error {
	if c.Root == "" {
		return trace.BadParameter("loader config is missing Root")
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaults.MaxRepoWalkDepth
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = defaults.RepoLockTimeout
	}
	for _, v := range c.Validators {
		if err := v.Check(); err != nil {
			return trace.Wrap(err)
		}
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentPuppet))
	return nil
}

// Loader reads a legacy account repository from disk.
type Loader struct {
	cfg LoaderConfig
	log *slog.Logger
}

// NewLoader builds a loader for a repository root.
func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Loader{cfg: cfg, log: cfg.Logger}, nil
}

// lockPath is where the repository lock file lives.
func (l *Loader) lockPath() string {
	return filepath.Join(l.cfg.Root, ".cheeto.lock")
}

// WithLock runs fn while holding the repository file lock, failing
// with a timeout error when the lock cannot be acquired in time. Only
// the holder may read or write the repository.
func (l *Loader) WithLock(ctx context.Context, fn func() error) error {
	// Memory filesystems have no lockable files; skip the lock there.
	if _, ok := l.cfg.Fs.(*afero.OsFs); !ok {
		return fn()
	}
	lock := flock.New(l.lockPath())
	ctx, cancel := context.WithTimeout(ctx, l.cfg.LockTimeout)
	defer cancel()
	ok, err := lock.TryLockContext(ctx, defaults.RepoLockRetryInterval)
	if err != nil || !ok {
		return trace.LimitExceeded("could not lock repository %v within %v", l.cfg.Root, l.cfg.LockTimeout)
	}
	defer lock.Unlock()
	return fn()
}

// collectYAMLFiles walks the repository to the configured depth and
// returns every *.yaml path, sorted.
func (l *Loader) collectYAMLFiles() ([]string, error) {
	paths, err := l.walkDir(l.cfg.Root, 0)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	slices.Sort(paths)
	return paths, nil
}

func (l *Loader) walkDir(dir string, depth int) ([]string, error) {
	if depth > l.cfg.MaxDepth {
		return nil, nil
	}
	infos, err := afero.ReadDir(l.cfg.Fs, dir)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var paths []string
	for _, info := range infos {
		path := filepath.Join(dir, info.Name())
		if info.IsDir() {
			sub, err := l.walkDir(path, depth+1)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			paths = append(paths, sub...)
			continue
		}
		if strings.HasSuffix(info.Name(), ".yaml") || strings.HasSuffix(info.Name(), ".yml") {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Load reads the repository under its lock: every YAML file is parsed,
// deep-merged into one tree, decoded against the schema, and
// validated. In strict mode the first validation failure aborts; in
// lax mode failures are logged and the partially valid map returned.
func (l *Loader) Load(ctx context.Context) (*AccountMap, error) {
	var m *AccountMap
	err := l.WithLock(ctx, func() error {
		paths, err := l.collectYAMLFiles()
		if err != nil {
			return trace.Wrap(err)
		}
		if len(paths) == 0 {
			return trace.NotFound("repository %v has no YAML files", l.cfg.Root)
		}
		entries, err := ParseForest(l.cfg.Fs, paths, MergeAllFiles)
		if err != nil {
			return trace.Wrap(err)
		}
		m, err = DecodeAccountMap(entries[0].Tree)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := l.validate(ctx, m); err != nil {
			return trace.Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	l.log.InfoContext(ctx, "Loaded account repository",
		"root", l.cfg.Root,
		"users", len(m.Users), "groups", len(m.Groups), "shares", len(m.Shares))
	return m, nil
}

func (l *Loader) validate(ctx context.Context, m *AccountMap) error {
	checks := []func() error{m.Validate}
	for _, v := range l.cfg.Validators {
		switch v {
		case ValidatorKnownSponsors:
			checks = append(checks, m.ValidateSponsors)
		case ValidatorKnownGroups:
			checks = append(checks, m.ValidateUserGroups)
		}
	}
	for _, check := range checks {
		if err := check(); err != nil {
			if l.cfg.Strict {
				return trace.Wrap(err)
			}
			// Lax mode: the warning is the record.
			l.log.WarnContext(ctx, "Repository validation failure", "error", err)
		}
	}
	return nil
}
