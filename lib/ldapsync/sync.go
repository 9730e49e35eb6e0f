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

package ldapsync

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// directory is the slice of Client the syncer needs; tests substitute
// a fake.
type directory interface {
	UpsertUser(user *types.GlobalUser) error
	ReplaceUserKeys(username string, keys []string) error
	GetGroupMembers(groupname string) ([]string, error)
	CreateGroup(groupname string, gid int64, members []string) error
	EditGroupMembers(groupname string, add, remove []string) error
	DeleteAutomount(tablename, key string) error
	AddAutomount(tablename, key, host, hostPath string, options []string) error
}

// SyncerConfig configures the directory reconciler.
type SyncerConfig struct {
	// Store is the canonical account store.
	Store *store.Store
	// Directory is the bound directory client.
	Directory directory
	// LDAP supplies the status and access group maps.
	LDAP *config.LDAPConfig
	// Logger receives per-entry progress.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *SyncerConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("syncer config is missing store")
	}
	if c.Directory == nil {
		return trace.BadParameter("syncer config is missing directory client")
	}
	if c.LDAP == nil {
		return trace.BadParameter("syncer config is missing ldap settings")
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentLDAP))
	return nil
}

// Syncer reconciles one site of the canonical store to the directory.
type Syncer struct {
	cfg SyncerConfig
}

// NewSyncer returns a syncer for the config.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Syncer{cfg: cfg}, nil
}

// SyncSite pushes a site's users, groups, special-group membership,
// and automount tables to the directory. Individual entry failures are
// logged and leave the entry unsynced so the next pass retries them.
func (s *Syncer) SyncSite(ctx context.Context, sitename string, force bool) error {
	site, err := s.cfg.Store.GetSite(ctx, sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	siteUsers, err := s.cfg.Store.ListSiteUsers(ctx, sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	parents := make(map[string]*types.GlobalUser, len(siteUsers))
	for _, su := range siteUsers {
		parent, err := s.cfg.Store.GetGlobalUser(ctx, su.Username)
		if err != nil {
			return trace.Wrap(err)
		}
		parents[su.Username] = parent
	}

	s.syncUsers(ctx, siteUsers, parents, force)
	s.syncGroups(ctx, sitename, force)
	s.settleSpecialGroups(ctx, siteUsers, parents)
	s.syncAutomounts(ctx, site)
	return nil
}

func (s *Syncer) syncUsers(ctx context.Context, siteUsers []*types.SiteUser, parents map[string]*types.GlobalUser, force bool) {
	for _, su := range siteUsers {
		parent := parents[su.Username]
		if parent.LDAPSynced && !force {
			continue
		}
		if err := s.cfg.Directory.UpsertUser(parent); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "user entry upsert failed",
				"username", su.Username, "error", err)
			continue
		}
		if err := s.cfg.Store.SetUserLDAPSynced(ctx, su.Username, true); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "marking user synced failed",
				"username", su.Username, "error", err)
		}
	}
}

func (s *Syncer) syncGroups(ctx context.Context, sitename string, force bool) {
	groups, err := s.cfg.Store.ListSiteGroups(ctx, sitename)
	if err != nil {
		s.cfg.Logger.ErrorContext(ctx, "listing site groups failed", "error", err)
		return
	}
	for _, sg := range groups {
		if sg.LDAPSynced && !force {
			continue
		}
		if err := s.syncGroup(ctx, sg); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "group entry sync failed",
				"groupname", sg.Groupname, "error", err)
			continue
		}
		if err := s.cfg.Store.SetGroupLDAPSynced(ctx, sitename, sg.Groupname, true); err != nil {
			s.cfg.Logger.ErrorContext(ctx, "marking group synced failed",
				"groupname", sg.Groupname, "error", err)
		}
	}
}

// syncGroup creates the entry or applies the minimal membership edit.
// Special groups are created if missing but their membership belongs
// to the status and access settlement step.
func (s *Syncer) syncGroup(ctx context.Context, sg *types.SiteGroup) error {
	global, err := s.cfg.Store.GetGlobalGroup(ctx, sg.Groupname)
	if err != nil {
		return trace.Wrap(err)
	}
	special := isSpecialGroup(s.cfg.LDAP, sg.Groupname)

	current, err := s.cfg.Directory.GetGroupMembers(sg.Groupname)
	if trace.IsNotFound(err) {
		members := sg.Members
		if special {
			members = nil
		}
		return trace.Wrap(s.cfg.Directory.CreateGroup(sg.Groupname, global.GID, members))
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if special {
		return nil
	}
	add, remove := memberDiff(current, sg.Members)
	return trace.Wrap(s.cfg.Directory.EditGroupMembers(sg.Groupname, add, remove))
}

// settleSpecialGroups places every user in exactly the status group
// matching its effective status and the access groups matching its
// effective access set, and pushes merged key sets for system users.
func (s *Syncer) settleSpecialGroups(ctx context.Context, siteUsers []*types.SiteUser, parents map[string]*types.GlobalUser) {
	adminKeys := adminRootKeys(parents)
	for _, su := range siteUsers {
		parent := parents[su.Username]
		status := su.EffectiveStatus(parent)
		access := su.EffectiveAccess(parent)

		for _, statusName := range sortedMapKeys(s.cfg.LDAP.StatusGroups) {
			groupname := s.cfg.LDAP.StatusGroups[statusName]
			want := statusName == string(status)
			s.settleMembership(ctx, groupname, su.Username, want)
		}
		for _, accessName := range sortedMapKeys(s.cfg.LDAP.AccessGroups) {
			groupname := s.cfg.LDAP.AccessGroups[accessName]
			want := slices.Contains(access, types.Access(accessName))
			s.settleMembership(ctx, groupname, su.Username, want)
		}

		if parent.Type == types.UserTypeSystem {
			keys := types.SortedUnion(adminKeys, parent.SSHKeys)
			if err := s.cfg.Directory.ReplaceUserKeys(su.Username, keys); err != nil {
				s.cfg.Logger.ErrorContext(ctx, "system key push failed",
					"username", su.Username, "error", err)
			}
		}
	}
}

func (s *Syncer) settleMembership(ctx context.Context, groupname, username string, want bool) {
	current, err := s.cfg.Directory.GetGroupMembers(groupname)
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "special group lookup failed",
			"groupname", groupname, "error", err)
		return
	}
	isMember := slices.Contains(current, username)
	var add, remove []string
	switch {
	case want && !isMember:
		add = []string{username}
	case !want && isMember:
		remove = []string{username}
	default:
		return
	}
	if err := s.cfg.Directory.EditGroupMembers(groupname, add, remove); err != nil {
		s.cfg.Logger.ErrorContext(ctx, "special group edit failed",
			"groupname", groupname, "username", username, "error", err)
	}
}

// syncAutomounts rewrites every entry of the home and group tables:
// delete then re-add with current host, path, and options.
func (s *Syncer) syncAutomounts(ctx context.Context, site *types.Site) {
	for _, table := range []string{defaults.HomeAutomountTable, defaults.GroupAutomountTable} {
		am, err := s.cfg.Store.GetAutomountMap(ctx, site.Sitename, table)
		if trace.IsNotFound(err) {
			continue
		}
		if err != nil {
			s.cfg.Logger.ErrorContext(ctx, "automount map lookup failed",
				"table", table, "error", err)
			continue
		}
		storages, err := s.cfg.Store.ListStorages(ctx, site.Sitename, table)
		if err != nil {
			s.cfg.Logger.ErrorContext(ctx, "listing storages failed",
				"table", table, "error", err)
			continue
		}
		for _, st := range storages {
			if err := s.syncAutomount(ctx, site, am, st); err != nil {
				s.cfg.Logger.ErrorContext(ctx, "automount entry rewrite failed",
					"table", table, "name", st.Name, "error", err)
			}
		}
	}
}

func (s *Syncer) syncAutomount(ctx context.Context, site *types.Site, am *types.AutomountMap, st *types.Storage) error {
	src, err := s.resolveMountSource(ctx, site.Sitename, st.Source)
	if err != nil {
		return trace.Wrap(err)
	}
	mount, err := s.cfg.Store.GetAutomount(ctx, site.Sitename, st.MapTable, st.Mount)
	if err != nil {
		return trace.Wrap(err)
	}
	host := substituteHostSuffix(src.Host, site)
	options := mount.EffectiveOptions(am)

	if err := s.cfg.Directory.DeleteAutomount(am.Tablename, st.Name); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.cfg.Directory.AddAutomount(am.Tablename, st.Name, host, src.HostPath, options))
}

// resolveMountSource finds the storage's source at the site, falling
// back to the other sites for cross-site mounts.
func (s *Syncer) resolveMountSource(ctx context.Context, sitename, name string) (*types.MountSource, error) {
	src, err := s.cfg.Store.GetMountSource(ctx, sitename, name)
	if err == nil {
		return src, nil
	}
	if !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	sites, err := s.cfg.Store.ListSites(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, other := range sites {
		if other.Sitename == sitename {
			continue
		}
		src, err := s.cfg.Store.GetMountSource(ctx, other.Sitename, name)
		if err == nil {
			return src, nil
		}
		if !trace.IsNotFound(err) {
			return nil, trace.Wrap(err)
		}
	}
	return nil, trace.NotFound("mount source %q does not exist at any site", name)
}

// substituteHostSuffix expands the host suffix placeholder with the
// site domain.
func substituteHostSuffix(host string, site *types.Site) string {
	return strings.ReplaceAll(host, defaults.HostSuffixPlaceholder, "."+site.FQDN)
}

// isSpecialGroup reports whether a group's membership is owned by the
// status and access settlement step.
func isSpecialGroup(cfg *config.LDAPConfig, groupname string) bool {
	for _, g := range cfg.StatusGroups {
		if g == groupname {
			return true
		}
	}
	for _, g := range cfg.AccessGroups {
		if g == groupname {
			return true
		}
	}
	return false
}

// memberDiff computes the minimal add and remove sets turning current
// into desired.
func memberDiff(current, desired []string) (add, remove []string) {
	currentSet := make(map[string]struct{}, len(current))
	for _, m := range current {
		currentSet[m] = struct{}{}
	}
	desiredSet := make(map[string]struct{}, len(desired))
	for _, m := range desired {
		desiredSet[m] = struct{}{}
	}
	for _, m := range desired {
		if _, ok := currentSet[m]; !ok {
			add = append(add, m)
		}
	}
	for _, m := range current {
		if _, ok := desiredSet[m]; !ok {
			remove = append(remove, m)
		}
	}
	slices.Sort(add)
	slices.Sort(remove)
	return slices.Compact(add), slices.Compact(remove)
}

// adminRootKeys collects the SSH keys of every admin user. System
// accounts receive this set merged with their own keys.
func adminRootKeys(parents map[string]*types.GlobalUser) []string {
	var keys []string
	for _, parent := range parents {
		if parent.Type == types.UserTypeAdmin {
			keys = append(keys, parent.SSHKeys...)
		}
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
