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
	"github.com/gravitational/trace"
)

// Site is a managed cluster. Global groups are groups every site user
// belongs to; global slurmer groups are groups every site user runs
// scheduler jobs under.
type Site struct {
	Sitename       string   `yaml:"sitename" bson:"sitename" json:"sitename"`
	FQDN           string   `yaml:"fqdn" bson:"fqdn" json:"fqdn"`
	GlobalGroups   []string `yaml:"global_groups,omitempty" bson:"global_groups,omitempty" json:"global_groups,omitempty"`
	GlobalSlurmers []string `yaml:"global_slurmers,omitempty" bson:"global_slurmers,omitempty" json:"global_slurmers,omitempty"`
	DefaultHome    string   `yaml:"default_home,omitempty" bson:"default_home,omitempty" json:"default_home,omitempty"`
}

// Check validates the record.
func (s *Site) Check() error {
	if err := CheckPosixName(s.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if err := CheckFQDN(s.FQDN); err != nil {
		return trace.Wrap(err, "site %q", s.Sitename)
	}
	for _, g := range s.GlobalGroups {
		if err := CheckPosixName(g); err != nil {
			return trace.Wrap(err, "site %q global group", s.Sitename)
		}
	}
	for _, g := range s.GlobalSlurmers {
		if err := CheckPosixName(g); err != nil {
			return trace.Wrap(err, "site %q global slurmer group", s.Sitename)
		}
	}
	return nil
}

// Normalize sorts and deduplicates set-valued fields.
func (s *Site) Normalize() {
	s.GlobalGroups = SortedSet(s.GlobalGroups)
	s.GlobalSlurmers = SortedSet(s.GlobalSlurmers)
}
