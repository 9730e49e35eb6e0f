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
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"github.com/spf13/afero"

	"github.com/ucdavis/cheeto/lib/nocloud"
)

// NoCloudCommand implements "cheeto nocloud render".
type NoCloudCommand struct {
	env *Env

	render *kingpin.CmdClause

	template string
	sitename string
	hostname string
	extra    []string
	outPath  string
	force    bool
}

// Initialize registers the nocloud subtree.
func (c *NoCloudCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	nocloudCmd := app.Command("nocloud", "Render host provisioning data.")
	c.render = nocloudCmd.Command("render", "Render a cloud-init user-data template.")
	c.render.Flag("template", "Template file.").Short('t').Required().StringVar(&c.template)
	c.render.Flag("site", "Site the host provisions into.").Short('s').Required().StringVar(&c.sitename)
	c.render.Flag("hostname", "Short host name.").Required().StringVar(&c.hostname)
	c.render.Flag("set", "Extra key=value template values; repeatable.").StringsVar(&c.extra)
	c.render.Flag("out", "Output file; stdout when omitted.").Short('o').StringVar(&c.outPath)
	c.render.Flag("force", "Overwrite an existing output file.").BoolVar(&c.force)
}

// TryRun executes the selected nocloud command.
func (c *NoCloudCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	if selectedCommand != c.render.FullCommand() {
		return false, nil
	}
	return true, trace.Wrap(c.Render(ctx))
}

// Render renders one user-data template with site and host values.
func (c *NoCloudCommand) Render(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	site, err := db.GetSite(ctx, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	extra := map[string]string{}
	for _, pair := range c.extra {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return trace.BadParameter("malformed --set %q: want key=value", pair)
		}
		extra[key] = value
	}
	out, err := nocloud.RenderFile(afero.NewOsFs(), c.template, nocloud.Values{
		Site:     site,
		Hostname: c.hostname,
		Extra:    extra,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(writeOutput(c.outPath, out, c.force))
}
