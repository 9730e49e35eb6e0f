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

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto/lib/asciitable"
	"github.com/ucdavis/cheeto/lib/power"
)

// MonitorCommand implements "cheeto monitor power".
type MonitorCommand struct {
	env *Env

	power *kingpin.CmdClause

	hostsFile   string
	parallelism int
	insecure    bool
}

// Initialize registers the monitor subtree.
func (c *MonitorCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	monitor := app.Command("monitor", "Read cluster telemetry.")
	c.power = monitor.Command("power", "Poll chassis power draw from BMC Redfish endpoints.")
	c.power.Flag("hosts", "YAML file listing BMC hosts.").Required().StringVar(&c.hostsFile)
	c.power.Flag("parallelism", "Concurrent BMC queries.").Default("0").IntVar(&c.parallelism)
	c.power.Flag("insecure", "Accept self-signed BMC certificates.").BoolVar(&c.insecure)
}

// TryRun executes the selected monitor command.
func (c *MonitorCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	if selectedCommand != c.power.FullCommand() {
		return false, nil
	}
	return true, trace.Wrap(c.Power(ctx))
}

// Power polls every configured BMC and prints a reading table.
func (c *MonitorCommand) Power(ctx context.Context) error {
	raw, err := os.ReadFile(c.hostsFile)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	var hosts []power.BMCHost
	if err := yaml.Unmarshal(raw, &hosts); err != nil {
		return trace.BadParameter("parsing %v: %v", c.hostsFile, err)
	}
	poller, err := power.NewPoller(power.PollerConfig{
		Hosts:              hosts,
		Parallelism:        c.parallelism,
		InsecureSkipVerify: c.insecure,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	readings, err := poller.Poll(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("Host", "Watts", "Error")
	for _, reading := range readings {
		errText := ""
		if reading.Err != nil {
			errText = reading.Err.Error()
		}
		table.AddRow([]string{
			reading.Host,
			strconv.FormatFloat(reading.Watts, 'f', 1, 64),
			errText,
		})
	}
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}
