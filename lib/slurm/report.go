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
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// OpReport counts outcomes for one operation kind and keeps the
// commands issued for it.
type OpReport struct {
	Commands  []string `json:"commands"`
	Successes int      `json:"successes"`
	Failures  int      `json:"failures"`
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Ops       map[Op]*OpReport `json:"ops"`
}

// NewReport returns an empty report with a fresh run ID.
func NewReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Ops:       map[Op]*OpReport{},
	}
}

func (r *Report) op(op Op) *OpReport {
	o, ok := r.Ops[op]
	if !ok {
		o = &OpReport{}
		r.Ops[op] = o
	}
	return o
}

// Record notes a command about to run.
func (r *Report) Record(op Op, command string) {
	o := r.op(op)
	o.Commands = append(o.Commands, command)
}

// Success counts a successful step.
func (r *Report) Success(op Op) { r.op(op).Successes++ }

// Failure counts a failed step.
func (r *Report) Failure(op Op) { r.op(op).Failures++ }

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	for _, o := range r.Ops {
		if o.Failures > 0 {
			return true
		}
	}
	return false
}

// MarshalIndent renders the report as indented JSON.
func (r *Report) MarshalIndent() ([]byte, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	return out, trace.Wrap(err)
}
