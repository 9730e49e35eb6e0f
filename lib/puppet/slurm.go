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

package puppet

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/types"
)

// ImportSlurm writes the scheduler data of an account map: partitions,
// QOSes, and group associations from group slurm blocks, then slurmer
// roles from user account lists. All QOS references are resolved
// before anything is written, so a dangling reference fails the import
// instead of leaving a partial scheduler state.
func (i *Importer) ImportSlurm(ctx context.Context, m *AccountMap) error {
	type pendingAssoc struct {
		group     string
		partition string
		qosname   string
	}

	partitions := map[string]struct{}{}
	inline := map[string]*types.QOS{}
	var assocs []pendingAssoc
	var refs []string

	for _, groupname := range m.GroupNames() {
		g := m.Groups[groupname]
		if g.Slurm == nil {
			continue
		}
		for _, partition := range sortedMapKeys(g.Slurm.Partitions) {
			rec := g.Slurm.Partitions[partition]
			partitions[partition] = struct{}{}
			qosname := qosRefName(groupname, partition, rec.QOS)
			if rec.QOS.Inline != nil {
				inline[qosname] = rec.QOS.Inline
			} else {
				refs = append(refs, qosname)
			}
			assocs = append(assocs, pendingAssoc{
				group: groupname, partition: partition, qosname: qosname,
			})
		}
	}

	// Every referenced QOS must resolve: to an inline definition
	// elsewhere in the map or to a QOS already in the store.
	var errs []error
	for _, qosname := range types.SortedSet(refs) {
		if _, ok := inline[qosname]; ok {
			continue
		}
		if _, err := i.cfg.Store.GetSlurmQOS(ctx, i.cfg.Sitename, qosname); err != nil {
			if trace.IsNotFound(err) {
				errs = append(errs, trace.BadParameter("qos %q is referenced but never declared", qosname))
				continue
			}
			return trace.Wrap(err)
		}
	}
	if err := trace.NewAggregate(errs...); err != nil {
		return trace.Wrap(err)
	}

	for _, partition := range sortedMapKeys(partitions) {
		if err := i.cfg.Store.CreateSlurmPartition(ctx, i.cfg.Sitename, partition); err != nil {
			if !trace.IsAlreadyExists(err) {
				return trace.Wrap(err)
			}
		}
	}
	for _, qosname := range sortedMapKeys(inline) {
		q := &types.SiteSlurmQOS{
			Sitename: i.cfg.Sitename,
			QOSName:  qosname,
			QOS:      *inline[qosname],
		}
		if err := i.cfg.Store.CreateSlurmQOS(ctx, q); err != nil {
			if !trace.IsAlreadyExists(err) {
				return trace.Wrap(err)
			}
		}
	}
	for _, a := range assocs {
		assoc := &types.SiteSlurmAssociation{
			Sitename:      i.cfg.Sitename,
			QOSName:       a.qosname,
			PartitionName: a.partition,
			GroupName:     a.group,
		}
		if err := i.cfg.Store.CreateSlurmAssociation(ctx, assoc); err != nil {
			if !trace.IsAlreadyExists(err) {
				return trace.Wrap(err)
			}
		}
	}

	for _, username := range m.UserNames() {
		u := m.Users[username]
		if u.Slurm == nil || len(u.Slurm.Account) == 0 {
			continue
		}
		if _, err := i.cfg.Store.GetSiteUser(ctx, i.cfg.Sitename, username); err != nil {
			if trace.IsNotFound(err) {
				continue
			}
			return trace.Wrap(err)
		}
		for _, account := range types.SortedSet(u.Slurm.Account) {
			err := i.cfg.Store.GroupAddUserElement(ctx, i.cfg.Sitename,
				[]string{account}, []string{username}, types.RoleSlurmers)
			if err != nil {
				return trace.Wrap(err, "adding %q as slurmer of %q", username, account)
			}
		}
	}
	return nil
}
