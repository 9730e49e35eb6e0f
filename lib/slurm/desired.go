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
	"context"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/puppet"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// DesiredFromStore builds the desired scheduler state for a site from
// the canonical store: one account per group holding at least one
// association, the QOSes those associations reference, and one user
// association per member-or-slurmer of each group on each partition
// the group is attached to.
func DesiredFromStore(ctx context.Context, s *store.Store, sitename string) (*State, error) {
	state := NewState()

	assocs, err := s.ListSlurmAssociations(ctx, sitename, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, a := range assocs {
		if _, ok := state.Accounts[a.GroupName]; !ok {
			sg, err := s.GetSiteGroup(ctx, sitename, a.GroupName)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			limits := sg.Slurm
			if limits == nil {
				limits = &types.SlurmAccountLimits{}
			}
			state.Accounts[a.GroupName] = limits

			for _, user := range sg.SlurmUsers() {
				for _, ga := range assocs {
					if ga.GroupName != a.GroupName {
						continue
					}
					key := AssocKey{User: user, Account: a.GroupName, Partition: ga.PartitionName}
					state.Users[key] = ga.QOSName
				}
			}
		}
		if _, ok := state.QOS[a.QOSName]; !ok {
			qos, err := s.GetSlurmQOS(ctx, sitename, a.QOSName)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			state.QOS[a.QOSName] = &qos.QOS
		}
	}
	return state, nil
}

// DesiredFromAccountMap builds the desired scheduler state from a
// merged legacy account map, without touching the store. Inline QOSes
// take the canonical {group}-{partition}-qos name; references must
// resolve to an inline definition elsewhere in the map.
func DesiredFromAccountMap(m *puppet.AccountMap) (*State, error) {
	state := NewState()

	type attachment struct {
		group     string
		partition string
		qosname   string
	}
	var attachments []attachment

	for _, groupname := range m.GroupNames() {
		g := m.Groups[groupname]
		if g.Slurm == nil || len(g.Slurm.Partitions) == 0 {
			continue
		}
		limits := g.Slurm.AccountLimits()
		if limits == nil {
			limits = &types.SlurmAccountLimits{}
		}
		state.Accounts[groupname] = limits

		for partition, rec := range g.Slurm.Partitions {
			qosname := rec.QOS.Ref
			if rec.QOS.Inline != nil {
				qosname = types.QOSName(groupname, partition)
				qos := *rec.QOS.Inline
				if err := qos.Normalize(); err != nil {
					return nil, trace.Wrap(err, "group %q partition %q", groupname, partition)
				}
				state.QOS[qosname] = &qos
			}
			attachments = append(attachments, attachment{
				group: groupname, partition: partition, qosname: qosname,
			})
		}
	}

	var errs []error
	for _, att := range attachments {
		if _, ok := state.QOS[att.qosname]; !ok {
			errs = append(errs, trace.BadParameter(
				"qos %q referenced by group %q is never declared", att.qosname, att.group))
		}
	}
	if err := trace.NewAggregate(errs...); err != nil {
		return nil, trace.Wrap(err)
	}

	// Membership: declared group members plus users listing the group
	// as a scheduler account.
	slurmUsers := map[string][]string{}
	for _, groupname := range m.GroupNames() {
		slurmUsers[groupname] = m.Groups[groupname].Members
	}
	for _, username := range m.UserNames() {
		u := m.Users[username]
		for _, groupname := range u.Groups {
			slurmUsers[groupname] = append(slurmUsers[groupname], username)
		}
		if u.Slurm != nil {
			for _, account := range u.Slurm.Account {
				slurmUsers[account] = append(slurmUsers[account], username)
			}
		}
	}
	for _, att := range attachments {
		for _, user := range types.SortedSet(slurmUsers[att.group]) {
			key := AssocKey{User: user, Account: att.group, Partition: att.partition}
			state.Users[key] = att.qosname
		}
	}
	return state, nil
}
