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

// Package hippo consumes account lifecycle events from the upstream
// request portal and applies them to the canonical store.
package hippo

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// Client talks to the account event API.
type Client struct {
	rest *resty.Client
}

// NewClient builds a client from the event service config.
func NewClient(cfg *config.HippoConfig) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("X-API-Key", cfg.APIKey).
		SetTimeout(defaults.HTTPRequestTimeout)
	return &Client{rest: rest}, nil
}

// eventAPIError wraps any transport or non-2xx failure of the event
// API so callers can match it with trace.IsConnectionProblem.
func eventAPIError(resp *resty.Response, err error, msg string) error {
	if err != nil {
		return trace.ConnectionProblem(err, "%s", msg)
	}
	return trace.ConnectionProblem(nil, "%s: event api returned %s", msg, resp.Status())
}

// GetPendingEvents fetches the queue of unprocessed events, in
// upstream id order.
func (c *Client) GetPendingEvents(ctx context.Context) ([]types.HippoEvent, error) {
	var events []types.HippoEvent
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&events).
		Get("/api/events/queue")
	if err != nil || !resp.IsSuccess() {
		return nil, eventAPIError(resp, err, "fetching pending events")
	}
	return events, nil
}

// UpdateStatus posts an event's terminal status back upstream.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status types.EventStatus) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(map[string]string{"status": status.String()}).
		Post(fmt.Sprintf("/api/events/%d/status", id))
	if err != nil || !resp.IsSuccess() {
		return eventAPIError(resp, err, fmt.Sprintf("posting back event %d", id))
	}
	return nil
}
