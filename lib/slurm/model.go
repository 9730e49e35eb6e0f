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

// Package slurm reconciles the canonical store against the scheduler's
// accounting database: it reads actual state through the scheduler
// CLI, builds desired state from the store or from a legacy account
// map, diffs the two, and applies an ordered mutation plan.
package slurm

import (
	"slices"
	"strings"

	"github.com/ucdavis/cheeto/lib/types"
)

// Names the reconciler never manages: the scheduler's built-in QOS and
// the root of the account tree.
const (
	builtinQOS  = "normal"
	rootAccount = "root"
)

// AssocKey identifies one user association in the scheduler.
type AssocKey struct {
	User      string `json:"user"`
	Account   string `json:"account"`
	Partition string `json:"partition"`
}

// String renders the key for logs and command output.
func (k AssocKey) String() string {
	return k.User + "/" + k.Account + "/" + k.Partition
}

// compare orders keys for deterministic plans.
func (k AssocKey) compare(other AssocKey) int {
	if c := strings.Compare(k.Account, other.Account); c != 0 {
		return c
	}
	if c := strings.Compare(k.Partition, other.Partition); c != 0 {
		return c
	}
	return strings.Compare(k.User, other.User)
}

// State is one side of the reconciliation: accounts with their limits,
// QOS definitions, and the QOS assigned to each user association.
type State struct {
	Accounts map[string]*types.SlurmAccountLimits
	QOS      map[string]*types.QOS
	Users    map[AssocKey]string
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		Accounts: map[string]*types.SlurmAccountLimits{},
		QOS:      map[string]*types.QOS{},
		Users:    map[AssocKey]string{},
	}
}

// AccountNames lists account names sorted.
func (s *State) AccountNames() []string {
	return sortedKeys(s.Accounts)
}

// QOSNames lists QOS names sorted.
func (s *State) QOSNames() []string {
	return sortedKeys(s.QOS)
}

// AssocKeys lists association keys in deterministic order.
func (s *State) AssocKeys() []AssocKey {
	keys := make([]AssocKey, 0, len(s.Users))
	for k := range s.Users {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, AssocKey.compare)
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
