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

// Diff is the delta between actual and desired scheduler state. Each
// concern splits three ways: names present only in actual (delete),
// present in both but different (modify), and present only in desired
// (add).
type Diff struct {
	QOSDelete []string
	QOSModify []string
	QOSAdd    []string

	AccountDelete []string
	AccountModify []string
	AccountAdd    []string

	AssocDelete []AssocKey
	AssocModify []AssocKey
	AssocAdd    []AssocKey
}

// IsZero reports whether the two states already agree.
func (d *Diff) IsZero() bool {
	return len(d.QOSDelete) == 0 && len(d.QOSModify) == 0 && len(d.QOSAdd) == 0 &&
		len(d.AccountDelete) == 0 && len(d.AccountModify) == 0 && len(d.AccountAdd) == 0 &&
		len(d.AssocDelete) == 0 && len(d.AssocModify) == 0 && len(d.AssocAdd) == 0
}

// Compute diffs desired against actual. All slices come out in
// deterministic order so plans are stable across runs.
func Compute(actual, desired *State) *Diff {
	d := &Diff{}

	for _, name := range actual.QOSNames() {
		want, ok := desired.QOS[name]
		switch {
		case !ok:
			d.QOSDelete = append(d.QOSDelete, name)
		case !actual.QOS[name].Equal(want):
			d.QOSModify = append(d.QOSModify, name)
		}
	}
	for _, name := range desired.QOSNames() {
		if _, ok := actual.QOS[name]; !ok {
			d.QOSAdd = append(d.QOSAdd, name)
		}
	}

	for _, name := range actual.AccountNames() {
		want, ok := desired.Accounts[name]
		switch {
		case !ok:
			d.AccountDelete = append(d.AccountDelete, name)
		case !actual.Accounts[name].Equal(want):
			d.AccountModify = append(d.AccountModify, name)
		}
	}
	for _, name := range desired.AccountNames() {
		if _, ok := actual.Accounts[name]; !ok {
			d.AccountAdd = append(d.AccountAdd, name)
		}
	}

	for _, key := range actual.AssocKeys() {
		want, ok := desired.Users[key]
		switch {
		case !ok:
			d.AssocDelete = append(d.AssocDelete, key)
		case actual.Users[key] != want:
			d.AssocModify = append(d.AssocModify, key)
		}
	}
	for _, key := range desired.AssocKeys() {
		if _, ok := actual.Users[key]; !ok {
			d.AssocAdd = append(d.AssocAdd, key)
		}
	}

	return d
}

// Apply replays the diff onto a state, simulating what the scheduler
// would hold after a successful run. Used by the dry-run modes and the
// idempotence tests.
func (d *Diff) Apply(state, desired *State) {
	for _, name := range d.QOSDelete {
		delete(state.QOS, name)
	}
	for _, name := range append(d.QOSModify, d.QOSAdd...) {
		qos := *desired.QOS[name]
		state.QOS[name] = &qos
	}
	for _, name := range d.AccountDelete {
		delete(state.Accounts, name)
	}
	for _, name := range append(d.AccountModify, d.AccountAdd...) {
		limits := *desired.Accounts[name]
		state.Accounts[name] = &limits
	}
	for _, key := range d.AssocDelete {
		delete(state.Users, key)
	}
	for _, key := range append(d.AssocModify, d.AssocAdd...) {
		state.Users[key] = desired.Users[key]
	}
}
