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

// Package common implements the cheeto command line tool: a kingpin
// command tree over the canonical store and the directory, scheduler,
// event, and identity subsystems.
package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/logutils"
)

// CLICommand is one area of the cheeto command tree. Initialize
// registers subcommands and flags; TryRun executes the selected
// command if it belongs to this area.
type CLICommand interface {
	Initialize(app *kingpin.Application, env *Env)
	TryRun(ctx context.Context, selectedCommand string) (match bool, err error)
}

// Commands returns the full cheeto command set.
func Commands() []CLICommand {
	return []CLICommand{
		&ConfigCommand{},
		&SiteCommand{},
		&UserCommand{},
		&GroupCommand{},
		&SlurmDBCommand{},
		&StorageCommand{},
		&IAMCommand{},
		&HippoCommand{},
		&SlurmSyncCommand{},
		&NoCloudCommand{},
		&MonitorCommand{},
		&PuppetCommand{},
	}
}

// Run is the cheeto entrypoint.
func Run() {
	err := run(Commands())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v %v\n",
			color.New(color.FgRed).Sprint("ERROR:"), trace.UserMessage(err))
		os.Exit(ExitCode(err))
	}
}

func run(commands []CLICommand) error {
	app := kingpin.New("cheeto", "HPC account, group, storage, and scheduler management.")
	app.Version(cheeto.Version)
	app.HelpFlag.Short('h')

	env := &Env{}
	app.Flag("config", "Path to the cheeto config file.").
		Short('c').StringVar(&env.ConfigPath)
	app.Flag("profile", "Config profile to use.").
		Short('p').Default(config.DefaultProfileName).StringVar(&env.ProfileName)
	app.Flag("log", "Append logs to a file instead of stderr.").
		StringVar(&env.LogPath)
	app.Flag("quiet", "Only log errors.").
		Short('q').BoolVar(&env.Quiet)
	app.Flag("debug", "Enable verbose logging.").
		Short('d').BoolVar(&env.Debug)

	for _, command := range commands {
		command.Initialize(app, env)
	}

	selected, err := app.Parse(os.Args[1:])
	if err != nil {
		app.Usage(os.Args[1:])
		return WithExitCode(trace.BadParameter("%v", err), cheeto.ExitBadCmdlineArgs)
	}

	logger, err := logutils.Initialize(logutils.Config{
		Output: env.LogPath,
		Quiet:  env.Quiet,
		Debug:  env.Debug,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	env.Log = logger.With(cheeto.ComponentKey, cheeto.ComponentCLI)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer env.Close()

	for _, command := range commands {
		match, err := command.TryRun(ctx, selected)
		if err != nil {
			return trace.Wrap(err)
		}
		if match {
			return nil
		}
	}
	return WithExitCode(trace.BadParameter("unknown command %q", selected), cheeto.ExitBadCmdlineArgs)
}

// exitCodeError pins an exit code onto an error chain.
type exitCodeError struct {
	err  error
	code int
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// WithExitCode wraps err so that ExitCode returns code for it.
func WithExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{err: err, code: code}
}

// ExitCode maps an error to the tool's stable exit code enumeration.
// A pinned code wins; otherwise the trace error kind decides.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pinned *exitCodeError
	if errors.As(err, &pinned) {
		return pinned.code
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return cheeto.ExitOperationCancelled
	case trace.IsNotFound(err):
		return cheeto.ExitDoesNotExist
	case trace.IsAlreadyExists(err):
		return cheeto.ExitNotUnique
	case trace.IsCompareFailed(err):
		return cheeto.ExitInvalidMetadata
	default:
		return cheeto.ExitValidationError
	}
}
