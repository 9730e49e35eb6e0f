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
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/asciitable"
	"github.com/ucdavis/cheeto/lib/hippo"
	"github.com/ucdavis/cheeto/lib/types"
)

// HippoCommand implements "cheeto hippo events|process".
type HippoCommand struct {
	env *Env

	events  *kingpin.CmdClause
	process *kingpin.CmdClause

	eventID  int64
	action   string
	postback bool
}

// Initialize registers the event subtree.
func (c *HippoCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	hippoCmd := app.Command("hippo", "Work the upstream account event queue.")

	c.events = hippoCmd.Command("events", "List the pending event queue.")

	c.process = hippoCmd.Command("process", "Apply pending events to the store.")
	c.process.Flag("id", "Process only this event id.").Int64Var(&c.eventID)
	c.process.Flag("action", "Process only events with this action.").StringVar(&c.action)
	c.process.Flag("postback", "Report event status back upstream.").BoolVar(&c.postback)
}

// TryRun executes the selected event command.
func (c *HippoCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	var err error
	switch selectedCommand {
	case c.events.FullCommand():
		err = c.Events(ctx)
	case c.process.FullCommand():
		err = c.Process(ctx)
	default:
		return false, nil
	}
	return true, trace.Wrap(err)
}

// Events prints the upstream pending queue.
func (c *HippoCommand) Events(ctx context.Context) error {
	client, _, err := c.env.HippoClient()
	if err != nil {
		return trace.Wrap(err)
	}
	events, err := client.GetPendingEvents(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("ID", "Action", "Status", "Cluster", "Accounts", "Updated")
	for _, event := range events {
		var accounts []string
		for _, account := range event.Data.Accounts {
			accounts = append(accounts, account.Kerberos)
		}
		updated := ""
		if event.UpdatedOn != nil {
			updated = humanize.Time(*event.UpdatedOn)
		}
		table.AddRow([]string{
			strconv.FormatInt(event.ID, 10),
			string(event.Action),
			string(event.Status),
			event.Data.Cluster,
			strings.Join(accounts, ","),
			updated,
		})
	}
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// Process applies the pending queue to the store.
func (c *HippoCommand) Process(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	client, hippoCfg, err := c.env.HippoClient()
	if err != nil {
		return trace.Wrap(err)
	}
	var filter hippo.Filter
	filter.ID = c.eventID
	if c.action != "" {
		action := types.EventAction(c.action)
		if err := action.Check(); err != nil {
			return trace.Wrap(err)
		}
		filter.Action = action
	}
	processor, err := hippo.NewProcessor(hippo.ProcessorConfig{
		Store:       db,
		Client:      client,
		SiteAliases: hippoCfg.SiteAliases,
		MaxTries:    hippoCfg.MaxTries,
		Postback:    c.postback,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(processor.Process(ctx, filter))
}
