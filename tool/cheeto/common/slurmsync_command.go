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
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/puppet"
	"github.com/ucdavis/cheeto/lib/slurm"
)

// SlurmSyncCommand implements "cheeto slurm sync": reconcile the
// scheduler against the store (or a legacy repository).
type SlurmSyncCommand struct {
	env *Env

	sync *kingpin.CmdClause

	sitename   string
	fromPuppet string
	dumpPath   string
	recordPath string
	sudo       bool
	sacctmgr   string
}

// Initialize registers the scheduler sync subtree.
func (c *SlurmSyncCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	slurmCmd := app.Command("slurm", "Reconcile the job scheduler.")
	c.sync = slurmCmd.Command("sync", "Plan and apply scheduler changes.")
	c.sync.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.sync.Flag("from-puppet", "Build desired state from a legacy repository instead of the store.").StringVar(&c.fromPuppet)
	c.sync.Flag("dump", "Write the plan to a file and apply nothing; - for stdout.").StringVar(&c.dumpPath)
	c.sync.Flag("record", "Apply the plan and record each command to a file.").StringVar(&c.recordPath)
	c.sync.Flag("sudo", "Prefix scheduler commands with sudo.").BoolVar(&c.sudo)
	c.sync.Flag("sacctmgr", "Scheduler CLI binary.").StringVar(&c.sacctmgr)
}

// TryRun executes the selected scheduler sync command.
func (c *SlurmSyncCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	if selectedCommand != c.sync.FullCommand() {
		return false, nil
	}
	return true, trace.Wrap(c.Sync(ctx))
}

// Sync builds the desired state, plans against the scheduler's actual
// state, and applies or dumps the plan.
func (c *SlurmSyncCommand) Sync(ctx context.Context) error {
	desired, err := c.desired(ctx)
	if err != nil {
		return trace.Wrap(err)
	}

	cfg := slurm.ExecutorConfig{
		Sacctmgr: c.sacctmgr,
		Sudo:     c.sudo,
		Logger:   c.env.componentLog(cheeto.ComponentSlurm),
	}
	var closeSink func() error
	switch {
	case c.dumpPath != "" && c.recordPath != "":
		return trace.BadParameter("--dump and --record are mutually exclusive")
	case c.dumpPath != "":
		cfg.Mode = slurm.ModeDump
		cfg.Sink, closeSink, err = openSink(c.dumpPath)
	case c.recordPath != "":
		cfg.Mode = slurm.ModeRecord
		cfg.Sink, closeSink, err = openSink(c.recordPath)
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if closeSink != nil {
		defer closeSink()
	}

	executor, err := slurm.NewExecutor(cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	report, err := executor.Reconcile(ctx, desired)
	if err != nil {
		return trace.Wrap(err)
	}
	out, err := report.MarshalIndent()
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Println(string(out))
	if report.Failed() {
		return trace.Errorf("scheduler sync completed with failures")
	}
	return nil
}

func (c *SlurmSyncCommand) desired(ctx context.Context) (*slurm.State, error) {
	if c.fromPuppet != "" {
		loader, err := puppet.NewLoader(puppet.LoaderConfig{Root: c.fromPuppet})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		m, err := loader.Load(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return slurm.DesiredFromAccountMap(m)
	}
	db, err := c.env.Store(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return slurm.DesiredFromStore(ctx, db, c.sitename)
}

func openSink(path string) (io.Writer, func() error, error) {
	if path == "-" {
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, trace.ConvertSystemError(err)
	}
	return f, f.Close, nil
}
