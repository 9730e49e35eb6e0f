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
	"fmt"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
)

// TRES is a trackable-resources tuple attached to scheduler limits.
// Nil fields mean "no limit set". Memory is kept in the canonical
// mebibyte form ("1024M") so that values read back from the scheduler
// compare equal to values written to it.
type TRES struct {
	CPUs   *int64 `yaml:"cpus,omitempty" bson:"cpus,omitempty" json:"cpus,omitempty"`
	GPUs   *int64 `yaml:"gpus,omitempty" bson:"gpus,omitempty" json:"gpus,omitempty"`
	Memory string `yaml:"mem,omitempty" bson:"mem,omitempty" json:"mem,omitempty"`
}

// ParseTRES parses a trackable-resources string in either the human
// form "cpus=16,mem=1G,gpus=2" or the scheduler form
// "cpu=16,mem=1024M,gres/gpu=2". Memory is normalized to mebibytes.
// Fields valued -1 are treated as unset.
func ParseTRES(s string) (*TRES, error) {
	t := &TRES{}
	s = strings.TrimSpace(s)
	if s == "" {
		return t, nil
	}
	for _, part := range strings.Split(s, ",") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, trace.BadParameter("tres component %q is not key=value", part)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "-1" {
			continue
		}
		switch key {
		case "cpu", "cpus":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, trace.BadParameter("tres cpus %q is not an integer", value)
			}
			t.CPUs = &n
		case "gpu", "gpus", "gres/gpu":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, trace.BadParameter("tres gpus %q is not an integer", value)
			}
			t.GPUs = &n
		case "mem", "memory":
			mem, err := SlurmMB(value)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			t.Memory = mem
		default:
			return nil, trace.BadParameter("tres component %q is not recognized", key)
		}
	}
	return t, nil
}

// Check validates the tuple; in particular the memory field must be a
// parseable quota.
func (t *TRES) Check() error {
	if t == nil {
		return nil
	}
	if t.CPUs != nil && *t.CPUs < 0 {
		return trace.BadParameter("tres cpus must not be negative")
	}
	if t.GPUs != nil && *t.GPUs < 0 {
		return trace.BadParameter("tres gpus must not be negative")
	}
	if t.Memory != "" {
		if err := CheckQuota(t.Memory); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Normalize rewrites the memory field to canonical mebibyte form.
func (t *TRES) Normalize() error {
	if t == nil || t.Memory == "" {
		return nil
	}
	mem, err := SlurmMB(t.Memory)
	if err != nil {
		return trace.Wrap(err)
	}
	t.Memory = mem
	return nil
}

// SlurmString serializes the tuple in the scheduler's canonical order.
// Unset fields serialize as -1 so a modify clears them.
func (t *TRES) SlurmString() string {
	cpu, mem, gpu := "-1", "-1", "-1"
	if t != nil {
		if t.CPUs != nil {
			cpu = strconv.FormatInt(*t.CPUs, 10)
		}
		if t.Memory != "" {
			mem = t.Memory
		}
		if t.GPUs != nil {
			gpu = strconv.FormatInt(*t.GPUs, 10)
		}
	}
	return fmt.Sprintf("cpu=%s,mem=%s,gres/gpu=%s", cpu, mem, gpu)
}

// IsZero reports whether no field is set.
func (t *TRES) IsZero() bool {
	return t == nil || (t.CPUs == nil && t.GPUs == nil && t.Memory == "")
}

// Equal reports whether two tuples carry the same limits.
func (t *TRES) Equal(other *TRES) bool {
	return t.SlurmString() == other.SlurmString()
}

// Ptr returns a pointer to v. It keeps literal TRES values readable.
func Ptr[T any](v T) *T { return &v }
