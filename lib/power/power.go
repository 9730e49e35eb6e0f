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

// Package power polls chassis power readings from BMC Redfish
// endpoints. The telemetry surface stays thin; one reading per host
// per poll.
package power

import (
	"cmp"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
)

// BMCHost is one management controller to poll.
type BMCHost struct {
	// Name is the short host name used in output.
	Name string `yaml:"name"`
	// Addr is the controller address, scheme included.
	Addr string `yaml:"addr"`
	// ChassisID selects the chassis; most controllers expose "1".
	ChassisID string `yaml:"chassis_id,omitempty"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Reading is one host's power draw, or the error fetching it.
type Reading struct {
	Host  string
	Watts float64
	Err   error
}

// redfishPower is the slice of the Redfish Power resource we read.
type redfishPower struct {
	PowerControl []struct {
		PowerConsumedWatts float64 `json:"PowerConsumedWatts"`
	} `json:"PowerControl"`
}

// PollerConfig configures the power poller.
type PollerConfig struct {
	// Hosts are the controllers to poll.
	Hosts []BMCHost
	// Parallelism bounds concurrent BMC queries.
	Parallelism int
	// InsecureSkipVerify accepts self-signed BMC certificates, which
	// are the norm on management networks.
	InsecureSkipVerify bool
	// Logger receives per-host failures.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *PollerConfig) CheckAndSetDefaults() error {
	if len(c.Hosts) == 0 {
		return trace.BadParameter("poller config has no hosts")
	}
	for i := range c.Hosts {
		if c.Hosts[i].Name == "" || c.Hosts[i].Addr == "" {
			return trace.BadParameter("poller host %d is missing name or addr", i)
		}
		if c.Hosts[i].ChassisID == "" {
			c.Hosts[i].ChassisID = "1"
		}
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaults.PowerPollParallelism
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentPower))
	return nil
}

// Poller reads chassis power from a set of BMCs.
type Poller struct {
	cfg PollerConfig
}

// NewPoller returns a poller for the config.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Poller{cfg: cfg}, nil
}

// Poll queries every host with bounded parallelism. Per-host failures
// land in the reading rather than aborting the poll; readings come
// back sorted by host name.
func (p *Poller) Poll(ctx context.Context) ([]Reading, error) {
	readings := make([]Reading, len(p.cfg.Hosts))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Parallelism)
	for i, host := range p.cfg.Hosts {
		group.Go(func() error {
			watts, err := p.fetch(groupCtx, host)
			readings[i] = Reading{Host: host.Name, Watts: watts, Err: err}
			if err != nil {
				p.cfg.Logger.WarnContext(groupCtx, "power poll failed",
					"host", host.Name, "error", err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}
	slices.SortFunc(readings, func(a, b Reading) int {
		return cmp.Compare(a.Host, b.Host)
	})
	return readings, nil
}

func (p *Poller) fetch(ctx context.Context, host BMCHost) (float64, error) {
	rest := resty.New().
		SetBaseURL(host.Addr).
		SetBasicAuth(host.Username, host.Password).
		SetTimeout(defaults.HTTPRequestTimeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: p.cfg.InsecureSkipVerify})

	var power redfishPower
	resp, err := rest.R().
		SetContext(ctx).
		SetResult(&power).
		Get(fmt.Sprintf("/redfish/v1/Chassis/%s/Power", host.ChassisID))
	if err != nil {
		return 0, trace.ConnectionProblem(err, "querying bmc %s", host.Name)
	}
	if !resp.IsSuccess() {
		return 0, trace.ConnectionProblem(nil, "bmc %s returned %s", host.Name, resp.Status())
	}
	if len(power.PowerControl) == 0 {
		return 0, trace.BadParameter("bmc %s returned no power control data", host.Name)
	}
	return power.PowerControl[0].PowerConsumedWatts, nil
}
