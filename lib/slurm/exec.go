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

package slurm

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
)

// commandRunner abstracts the scheduler CLI so tests and the dry-run
// modes can substitute a fake.
type commandRunner interface {
	run(ctx context.Context, args ...string) ([]byte, error)
}

// Mode selects what Apply does with the plan.
type Mode string

const (
	// ModeRun executes each step against the scheduler.
	ModeRun Mode = "run"
	// ModeDump prints the commands without executing anything.
	ModeDump Mode = "dump"
	// ModeRecord executes the plan and also writes each command to a
	// sink for audit.
	ModeRecord Mode = "record"
)

// Check validates the mode value.
func (m Mode) Check() error {
	switch m {
	case ModeRun, ModeDump, ModeRecord:
		return nil
	}
	return trace.BadParameter("mode %q is not supported", string(m))
}

// ExecutorConfig configures the plan executor.
type ExecutorConfig struct {
	// Sacctmgr is the scheduler CLI binary.
	Sacctmgr string
	// Sudo prefixes every invocation with sudo when set.
	Sudo bool
	// Mode selects run, dump, or record behavior.
	Mode Mode
	// Sink receives command lines in dump and record modes.
	Sink io.Writer
	// Runner overrides the real CLI; used by tests.
	Runner commandRunner
	// Logger receives per-step progress.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ExecutorConfig) CheckAndSetDefaults() error {
	if c.Sacctmgr == "" {
		c.Sacctmgr = defaults.SacctmgrBinary
	}
	if c.Mode == "" {
		c.Mode = ModeRun
	}
	if err := c.Mode.Check(); err != nil {
		return trace.Wrap(err)
	}
	if c.Mode != ModeRun && c.Sink == nil {
		return trace.BadParameter("mode %q needs a command sink", c.Mode)
	}
	if c.Runner == nil {
		c.Runner = &execRunner{binary: c.Sacctmgr, sudo: c.Sudo}
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentSlurm))
	return nil
}

// Executor applies reconciliation plans to the scheduler.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor returns an executor for the config.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Executor{cfg: cfg}, nil
}

// Fetch reads the scheduler's current state. In dump mode the
// scheduler is still queried; only mutations are suppressed.
func (e *Executor) Fetch(ctx context.Context) (*State, error) {
	state, err := FetchActual(ctx, e.cfg.Runner)
	return state, trace.Wrap(err)
}

// Apply runs the plan step by step. A failed step is recorded in the
// report and execution continues; the error return covers only setup
// problems, not step failures.
func (e *Executor) Apply(ctx context.Context, plan []Step) (*Report, error) {
	report := NewReport()
	for _, step := range plan {
		command := e.commandLine(step)
		report.Record(step.Op, command)

		if e.cfg.Mode != ModeRun {
			if _, err := fmt.Fprintln(e.cfg.Sink, command); err != nil {
				return report, trace.ConvertSystemError(err)
			}
			if e.cfg.Mode == ModeDump {
				report.Success(step.Op)
				continue
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, defaults.SacctmgrTimeout)
		out, err := e.cfg.Runner.run(stepCtx, step.Args...)
		cancel()
		if err != nil {
			report.Failure(step.Op)
			e.cfg.Logger.ErrorContext(ctx, "scheduler step failed",
				"step", step.String(), "output", strings.TrimSpace(string(out)), "error", err)
			continue
		}
		report.Success(step.Op)
		e.cfg.Logger.DebugContext(ctx, "scheduler step applied", "step", step.String())
	}
	return report, nil
}

// Reconcile fetches the actual state, plans against desired, and
// applies the plan.
func (e *Executor) Reconcile(ctx context.Context, desired *State) (*Report, error) {
	actual, err := e.Fetch(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	diff := Compute(actual, desired)
	report, err := e.Apply(ctx, BuildPlan(diff, desired))
	return report, trace.Wrap(err)
}

func (e *Executor) commandLine(step Step) string {
	parts := []string{e.cfg.Sacctmgr, "-i", "-Q"}
	if e.cfg.Sudo {
		parts = append([]string{"sudo"}, parts...)
	}
	return strings.Join(append(parts, step.Args...), " ")
}

// execRunner shells out to the real scheduler CLI. The -i flag skips
// the interactive confirmation, -Q keeps routine output quiet.
type execRunner struct {
	binary string
	sudo   bool
}

func (r *execRunner) run(ctx context.Context, args ...string) ([]byte, error) {
	argv := append([]string{r.binary, "-i", "-Q"}, args...)
	if r.sudo {
		argv = append([]string{"sudo"}, argv...)
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return out, trace.Wrap(err, "%s", strings.Join(argv, " "))
	}
	return out, nil
}
