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
	"strings"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// exportFallbackShell replaces shells from the nologin set on active
// accounts; the legacy tooling only understands interactive shells
// there.
const exportFallbackShell = "/usr/bin/bash"

// Export re-materializes a site as a legacy account map: every site
// user and group, shells and tags rewritten to the legacy shapes, and
// storages reassembled as autofs/zfs blocks.
func Export(ctx context.Context, s *store.Store, sitename string) (*AccountMap, error) {
	site, err := s.GetSite(ctx, sitename)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m := &AccountMap{
		Users:  map[string]*UserRecord{},
		Groups: map[string]*GroupRecord{},
		Shares: map[string]*ShareRecord{},
		Meta:   &MetaRecord{Sitename: site.Sitename, FQDN: site.FQDN},
	}

	siteUsers, err := s.ListSiteUsers(ctx, sitename)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, su := range siteUsers {
		parent, err := s.GetGlobalUser(ctx, su.Username)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		rec, err := exportUser(ctx, s, sitename, su, parent)
		if err != nil {
			return nil, trace.Wrap(err, "exporting user %q", su.Username)
		}
		m.Users[su.Username] = rec
	}

	siteGroups, err := s.ListSiteGroups(ctx, sitename)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, sg := range siteGroups {
		// Per-user groups are implicit in the legacy schema.
		if _, ok := m.Users[sg.Groupname]; ok {
			continue
		}
		rec, err := exportGroup(ctx, s, sitename, sg)
		if err != nil {
			return nil, trace.Wrap(err, "exporting group %q", sg.Groupname)
		}
		m.Groups[sg.Groupname] = rec
	}

	if len(m.Shares) == 0 {
		m.Shares = nil
	}
	return m, nil
}

func exportUser(ctx context.Context, s *store.Store, sitename string, su *types.SiteUser, parent *types.GlobalUser) (*UserRecord, error) {
	uid, gid := parent.UID, parent.GID
	rec := &UserRecord{
		Fullname: parent.FullName,
		Email:    parent.Email,
		UID:      &uid,
		GID:      &gid,
		Shell:    exportShell(su, parent),
		Home:     parent.HomeDirectory,
		Password: exportPassword(parent.Password),
		SSHKeys:  parent.SSHKeys,
		Tag:      exportTags(su.EffectiveAccess(parent)),
	}

	groups, err := s.UserGroups(ctx, sitename, su.Username)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var memberOf, accounts []string
	for _, g := range groups {
		if g.Groupname == su.Username {
			continue
		}
		if types.SortedContains(g.Members, su.Username) {
			memberOf = append(memberOf, g.Groupname)
		}
		if types.SortedContains(g.Slurmers, su.Username) {
			accounts = append(accounts, g.Groupname)
		}
	}
	rec.Groups = types.SortedSet(memberOf)
	if len(accounts) > 0 {
		rec.Slurm = &UserSlurmRecord{Account: types.SortedSet(accounts)}
	}

	storage, err := exportStorage(ctx, s, sitename, su.Username, defaults.HomeAutomountTable)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rec.Storage = storage
	return rec, nil
}

// exportShell rewrites shells into the legacy vocabulary: accounts
// that are not active export with the disabled-account shell, and
// nologin shells on active accounts fall back to bash.
func exportShell(su *types.SiteUser, parent *types.GlobalUser) string {
	if su.EffectiveStatus(parent) != types.UserStatusActive {
		return defaults.DisabledUserShell
	}
	if types.IsNoLoginShell(parent.Shell) {
		return exportFallbackShell
	}
	return parent.Shell
}

// exportPassword restores the legacy "no password" placeholder.
func exportPassword(hash string) string {
	if hash == "" {
		return noPassword
	}
	return hash
}

// exportTags maps access grants back to legacy tags.
func exportTags(access []types.Access) []string {
	var tags []string
	for _, a := range access {
		switch a {
		case types.AccessComputeSSH:
			tags = append(tags, TagSSH)
		case types.AccessRootSSH:
			tags = append(tags, TagRootSSH)
		case types.AccessSudo:
			tags = append(tags, TagSudo)
		}
	}
	return types.SortedSet(tags)
}

// exportStorage reassembles one storage binding as a legacy block, or
// nil when the name has no storage in the given table.
func exportStorage(ctx context.Context, s *store.Store, sitename, name, maptable string) (*StorageRecord, error) {
	st, err := s.GetStorage(ctx, sitename, name)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	if st.MapTable != maptable {
		return nil, nil
	}
	src, err := s.GetMountSource(ctx, sitename, st.Source)
	if err != nil {
		if !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
		// Mount-source-site imports leave the source at another site;
		// find it by scanning the other sites.
		src, err = findMountSource(ctx, s, sitename, st.Source)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	mount, err := s.GetAutomount(ctx, sitename, st.MapTable, st.Mount)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	rec := &StorageRecord{
		Autofs: &AutofsRecord{
			NAS:     src.Host,
			Path:    parentExportPath(src.HostPath, name),
			Options: mount.Options,
		},
		Globus: st.Globus,
	}
	if src.Kind == types.MountKindZFS {
		rec.ZFS = &ZFSRecord{Quota: src.Quota}
	}
	return rec, nil
}

func findMountSource(ctx context.Context, s *store.Store, skipSite, name string) (*types.MountSource, error) {
	sites, err := s.ListSites(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, site := range sites {
		if site.Sitename == skipSite {
			continue
		}
		src, err := s.GetMountSource(ctx, site.Sitename, name)
		if err == nil {
			return src, nil
		}
		if !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
	}
	return nil, trace.NotFound("mount source %q does not exist at any site", name)
}

// parentExportPath strips the trailing name component so the block
// round-trips through joinExportPath.
func parentExportPath(hostPath, name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(hostPath, name), "/")
}

func exportGroup(ctx context.Context, s *store.Store, sitename string, sg *types.SiteGroup) (*GroupRecord, error) {
	global, err := s.GetGlobalGroup(ctx, sg.Groupname)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	gid := global.GID
	rec := &GroupRecord{
		GID:      &gid,
		Members:  sg.Members,
		Sponsors: sg.Sponsors,
		Sudoers:  sg.Sudoers,
	}

	assocs, err := s.ListSlurmAssociations(ctx, sitename, sg.Groupname)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if sg.Slurm != nil || len(assocs) > 0 {
		slurm := &GroupSlurmRecord{}
		if sg.Slurm != nil {
			slurm.MaxUserJobs = sg.Slurm.MaxUserJobs
			slurm.MaxGroupJobs = sg.Slurm.MaxGroupJobs
			slurm.MaxSubmitJobs = sg.Slurm.MaxSubmitJobs
			slurm.MaxJobLength = sg.Slurm.MaxJobLength
		}
		if len(assocs) > 0 {
			slurm.Partitions = map[string]*PartitionRecord{}
			for _, a := range assocs {
				spec := QOSSpec{Ref: a.QOSName}
				if a.QOSName == types.QOSName(sg.Groupname, a.PartitionName) {
					qos, err := s.GetSlurmQOS(ctx, sitename, a.QOSName)
					if err != nil {
						return nil, trace.Wrap(err)
					}
					spec = QOSSpec{Inline: &qos.QOS}
				}
				slurm.Partitions[a.PartitionName] = &PartitionRecord{QOS: spec}
			}
		}
		rec.Slurm = slurm
	}

	storage, err := exportStorage(ctx, s, sitename, sg.Groupname, defaults.GroupAutomountTable)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if storage != nil {
		rec.Storage = []*StorageRecord{storage}
	}
	return rec, nil
}
