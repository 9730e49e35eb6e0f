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

package types

import (
	"time"

	"github.com/gravitational/trace"
)

// EventAccount is one account inside an upstream event payload. Field
// names follow the upstream JSON contract.
type EventAccount struct {
	Kerberos    string   `json:"kerberos" bson:"kerberos" yaml:"kerberos"`
	Name        string   `json:"name" bson:"name" yaml:"name"`
	Email       string   `json:"email" bson:"email" yaml:"email"`
	IAM         string   `json:"iam" bson:"iam" yaml:"iam"`
	Mothra      string   `json:"mothra,omitempty" bson:"mothra,omitempty" yaml:"mothra,omitempty"`
	Key         string   `json:"key,omitempty" bson:"key,omitempty" yaml:"key,omitempty"`
	AccessTypes []string `json:"accessTypes,omitempty" bson:"accessTypes,omitempty" yaml:"accessTypes,omitempty"`
}

// AccessSet maps the upstream accessTypes of the account to canonical
// access values, dropping names with no local meaning.
func (a *EventAccount) AccessSet() []Access {
	var out []Access
	for _, kind := range a.AccessTypes {
		if access, ok := AccessFromAccountKind(kind); ok {
			out = append(out, access)
		}
	}
	return sortedAccess(out)
}

// EventData is the payload of an upstream event envelope.
type EventData struct {
	Cluster  string         `json:"cluster" bson:"cluster" yaml:"cluster"`
	Groups   []string       `json:"groups,omitempty" bson:"groups,omitempty" yaml:"groups,omitempty"`
	Accounts []EventAccount `json:"accounts" bson:"accounts" yaml:"accounts"`
}

// HippoEvent is the upstream event envelope as served by the account
// event API.
type HippoEvent struct {
	ID        int64       `json:"id" yaml:"id"`
	Action    EventAction `json:"action" yaml:"action"`
	Status    EventStatus `json:"status" yaml:"status"`
	Data      EventData   `json:"data" yaml:"data"`
	UpdatedOn *time.Time  `json:"updatedOn,omitempty" yaml:"updated_on,omitempty"`
}

// Check validates the envelope.
func (e *HippoEvent) Check() error {
	if e.ID <= 0 {
		return trace.BadParameter("event id %d is not positive", e.ID)
	}
	if err := e.Action.Check(); err != nil {
		return trace.Wrap(err, "event %d", e.ID)
	}
	if len(e.Data.Accounts) == 0 {
		return trace.BadParameter("event %d has no accounts", e.ID)
	}
	return nil
}

// Event is the persistent record of an upstream event: the raw payload
// plus local processing state.
type Event struct {
	HippoID int64       `yaml:"hippo_id" bson:"hippo_id" json:"hippo_id"`
	Action  EventAction `yaml:"action" bson:"action" json:"action"`
	Retries int         `yaml:"retries" bson:"retries" json:"retries"`
	Status  EventStatus `yaml:"status" bson:"status" json:"status"`
	Data    EventData   `yaml:"data" bson:"data" json:"data"`
}

// Check validates the record.
func (e *Event) Check() error {
	if e.HippoID <= 0 {
		return trace.BadParameter("event hippo_id %d is not positive", e.HippoID)
	}
	if err := e.Action.Check(); err != nil {
		return trace.Wrap(err, "event %d", e.HippoID)
	}
	if err := e.Status.Check(); err != nil {
		return trace.Wrap(err, "event %d", e.HippoID)
	}
	if e.Retries < 0 {
		return trace.BadParameter("event %d retries must not be negative", e.HippoID)
	}
	return nil
}
