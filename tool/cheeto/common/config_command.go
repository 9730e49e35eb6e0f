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
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/config"
)

// ConfigCommand implements "cheeto config show|write".
type ConfigCommand struct {
	env *Env

	show  *kingpin.CmdClause
	write *kingpin.CmdClause

	writePath  string
	writeForce bool
}

// Initialize registers the config subtree.
func (c *ConfigCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	cfg := app.Command("config", "Inspect and bootstrap the cheeto config file.")
	c.show = cfg.Command("show", "Print the selected profile with secrets redacted.")
	c.write = cfg.Command("write", "Write a starter config file.")
	c.write.Flag("path", "Destination; defaults to the standard location.").StringVar(&c.writePath)
	c.write.Flag("force", "Overwrite an existing file.").BoolVar(&c.writeForce)
}

// TryRun executes the selected config command.
func (c *ConfigCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	switch selectedCommand {
	case c.show.FullCommand():
		return true, trace.Wrap(c.Show())
	case c.write.FullCommand():
		return true, trace.Wrap(c.Write())
	}
	return false, nil
}

// Show prints the selected profile, secrets redacted.
func (c *ConfigCommand) Show() error {
	profile, err := c.env.Profile()
	if err != nil {
		return trace.Wrap(err)
	}
	out, err := yaml.Marshal(map[string]*config.Profile{
		c.env.ProfileName: profile.Redacted(),
	})
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Print(string(out))
	return nil
}

// Write writes a starter config with one default profile. An existing
// file is never overwritten without --force.
func (c *ConfigCommand) Write() error {
	path := c.writePath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return trace.Wrap(err)
		}
	}
	if _, err := os.Stat(path); err == nil && !c.writeForce {
		return WithExitCode(
			trace.AlreadyExists("config file %v already exists", path),
			cheeto.ExitFileExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return trace.ConvertSystemError(err)
	}
	file := &config.File{Profiles: map[string]*config.Profile{
		config.DefaultProfileName: starterProfile(),
	}}
	if err := file.Write(path); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("wrote %v\n", path)
	return nil
}

func starterProfile() *config.Profile {
	return &config.Profile{
		Mongo: &config.MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "cheeto",
		},
		LDAP: &config.LDAPConfig{
			URI:        "ldaps://ldap.example.edu",
			BindDN:     "cn=admin,dc=example,dc=edu",
			SearchBase: "dc=example,dc=edu",
		},
		HiPPO: &config.HippoConfig{
			BaseURL: "https://hippo.example.edu",
		},
		IAM: &config.IAMConfig{
			BaseURL: "https://iam.example.edu",
		},
	}
}
