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
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto"
)

// databaseCmds shares the "database" clause between the command areas
// that register under it.
var databaseCmds = map[*kingpin.Application]*kingpin.CmdClause{}

func databaseCommand(app *kingpin.Application) *kingpin.CmdClause {
	if cmd, ok := databaseCmds[app]; ok {
		return cmd
	}
	cmd := app.Command("database", "Operate on the canonical account database.").Alias("db")
	databaseCmds[app] = cmd
	return cmd
}

// writeOutput writes data to path, or stdout when path is empty. An
// existing file is never overwritten without force.
func writeOutput(path string, data []byte, force bool) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return trace.ConvertSystemError(err)
	}
	if _, err := os.Stat(path); err == nil && !force {
		return WithExitCode(
			trace.AlreadyExists("file %v already exists", path),
			cheeto.ExitFileExists)
	}
	return trace.ConvertSystemError(os.WriteFile(path, data, 0o644))
}

// dumpYAML prints a value as YAML on stdout.
func dumpYAML(v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Print(string(out))
	return nil
}
