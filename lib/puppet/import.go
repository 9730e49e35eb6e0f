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
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// ImporterConfig configures an account map import.
type ImporterConfig struct {
	// Store is the canonical database receiving the import.
	Store *store.Store
	// Sitename is the site users and groups attach to.
	Sitename string
	// MountSourceSite is where storage mount sources are looked up or
	// created. Set it to another site when importing a site that
	// mounts storage already defined elsewhere; only new automount
	// entries are created at Sitename then. Defaults to Sitename.
	MountSourceSite string
	// Logger emits import diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *ImporterConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("importer config is missing Store")
	}
	if err := types.CheckPosixName(c.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if c.MountSourceSite == "" {
		c.MountSourceSite = c.Sitename
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentPuppet))
	return nil
}

// Importer writes a parsed account map into the canonical store.
type Importer struct {
	cfg ImporterConfig
	log *slog.Logger
}

// NewImporter builds an importer.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Importer{cfg: cfg, log: cfg.Logger}, nil
}

// deriveUserType applies the legacy provenance rules: uids above the
// system floor are system accounts, members of the admin group are
// admins, everyone else is a regular user.
func deriveUserType(u *UserRecord) types.UserType {
	if u.UID != nil && *u.UID > defaults.MinSystemUID {
		return types.UserTypeSystem
	}
	for _, g := range u.Groups {
		if g == AdminGroupName {
			return types.UserTypeAdmin
		}
	}
	return types.UserTypeUser
}

// deriveUserStatus reads account status out of the legacy shell: a
// nologin shell on a non-system account means the account was turned
// off.
func deriveUserStatus(u *UserRecord, utype types.UserType) types.UserStatus {
	if utype == types.UserTypeSystem {
		return types.UserStatusActive
	}
	if u.Shell != "" && types.IsNoLoginShell(u.Shell) {
		return types.UserStatusInactive
	}
	return types.UserStatusActive
}

// deriveUserAccess maps legacy tags to access grants. Users without an
// SSH key default to portal-only access; admins get the full SSH set.
func deriveUserAccess(u *UserRecord, utype types.UserType) []types.Access {
	var access []types.Access
	if len(u.SSHKeys) == 0 {
		access = append(access, types.AccessOndemand)
	} else {
		access = append(access, types.AccessLoginSSH)
	}
	if u.HasTag(TagSSH) {
		access = append(access, types.AccessComputeSSH)
	}
	if u.HasTag(TagRootSSH) {
		access = append(access, types.AccessRootSSH)
	}
	if u.HasTag(TagSudo) {
		access = append(access, types.AccessSudo)
	}
	if utype == types.UserTypeAdmin {
		access = append(access,
			types.AccessComputeSSH, types.AccessRootSSH, types.AccessSudo)
	}
	return access
}

// Import writes the whole account map: users first (with their
// per-user groups, site rows, and storages), then declared groups,
// then the deferred bulk membership updates, then scheduler data.
func (i *Importer) Import(ctx context.Context, m *AccountMap) error {
	for _, username := range m.UserNames() {
		if err := i.importUser(ctx, username, m.Users[username]); err != nil {
			return trace.Wrap(err, "importing user %q", username)
		}
	}
	for _, groupname := range m.GroupNames() {
		if err := i.importGroup(ctx, groupname, m.Groups[groupname]); err != nil {
			return trace.Wrap(err, "importing group %q", groupname)
		}
	}
	if err := i.applyMemberships(ctx, m); err != nil {
		return trace.Wrap(err)
	}
	for _, name := range m.ShareNames() {
		if err := i.importShare(ctx, name, m.Shares[name]); err != nil {
			return trace.Wrap(err, "importing share %q", name)
		}
	}
	if err := i.ImportSlurm(ctx, m); err != nil {
		return trace.Wrap(err)
	}
	i.log.InfoContext(ctx, "Imported account map",
		"sitename", i.cfg.Sitename,
		"users", len(m.Users), "groups", len(m.Groups), "shares", len(m.Shares))
	return nil
}

func (i *Importer) importUser(ctx context.Context, username string, u *UserRecord) error {
	utype := deriveUserType(u)
	password := u.Password
	if password == noPassword {
		password = ""
	}
	shell := u.Shell
	if shell == "" {
		shell = defaults.DefaultShell
	}

	params := store.CreateUserParams{
		Username:       username,
		Email:          u.Email,
		UID:            *u.UID,
		FullName:       u.Fullname,
		GID:            u.GID,
		Type:           utype,
		Shell:          shell,
		Status:         deriveUserStatus(u, utype),
		HashedPassword: password,
		SSHKeys:        u.SSHKeys,
		Access:         deriveUserAccess(u, utype),
		Sitenames:      []string{i.cfg.Sitename},
	}
	if _, err := i.cfg.Store.CreateUser(ctx, params); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
		i.log.DebugContext(ctx, "User already imported", "username", username)
	}
	if u.Storage != nil {
		if err := i.importUserStorage(ctx, username, u.Storage); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// importUserStorage creates the user's home storage from a legacy
// storage block: a mount source at the source site, an automount entry
// in the home table, and the storage binding them.
func (i *Importer) importUserStorage(ctx context.Context, username string, rec *StorageRecord) error {
	src := &types.MountSource{
		Sitename: i.cfg.MountSourceSite,
		Name:     username,
		Kind:     rec.Kind(),
		Host:     rec.Autofs.NAS,
		HostPath: joinExportPath(rec.Autofs.Path, username),
		Owner:    username,
		Group:    username,
	}
	if rec.ZFS != nil {
		src.Quota = rec.ZFS.Quota
	}
	if err := i.cfg.Store.CreateMountSource(ctx, src); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}

	mount := &types.Automount{
		Sitename: i.cfg.Sitename,
		MapTable: defaults.HomeAutomountTable,
		Name:     username,
		Options:  rec.Autofs.Options,
	}
	if err := i.cfg.Store.CreateAutomount(ctx, mount); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}

	st := &types.Storage{
		Sitename: i.cfg.Sitename,
		Name:     username,
		Source:   username,
		MapTable: defaults.HomeAutomountTable,
		Mount:    username,
		Globus:   rec.Globus,
	}
	if err := i.cfg.Store.CreateStorage(ctx, st, i.cfg.MountSourceSite); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (i *Importer) importGroup(ctx context.Context, groupname string, g *GroupRecord) error {
	gtype := types.GroupTypeGroup
	if *g.GID > defaults.MinSystemUID {
		gtype = types.GroupTypeSystem
	}
	if _, err := i.cfg.Store.CreateGroup(ctx, groupname, *g.GID, gtype, i.cfg.Sitename); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
		// The global row may exist from a prior import of another
		// site; the site attachment still has to happen.
		if err := i.cfg.Store.AddSiteGroup(ctx, i.cfg.Sitename, groupname); err != nil {
			if !trace.IsAlreadyExists(err) {
				return trace.Wrap(err)
			}
		}
	}
	if g.Slurm != nil {
		if limits := g.Slurm.AccountLimits(); limits != nil {
			if err := i.cfg.Store.SetGroupSlurm(ctx, i.cfg.Sitename, groupname, limits); err != nil {
				return trace.Wrap(err)
			}
		}
	}
	for idx, rec := range g.Storage {
		if err := i.importGroupStorage(ctx, groupname, idx, rec); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// importGroupStorage creates one group share: source, automount in the
// group table, and the binding storage. Multiple blocks on a group get
// numbered names after the first.
func (i *Importer) importGroupStorage(ctx context.Context, groupname string, idx int, rec *StorageRecord) error {
	name := groupname
	if idx > 0 {
		name = shareName(groupname, idx)
	}
	return trace.Wrap(i.importNamedStorage(ctx, name, groupname, rec))
}

func (i *Importer) importShare(ctx context.Context, name string, share *ShareRecord) error {
	group := share.Group
	if group == "" {
		group = name
	}
	return trace.Wrap(i.importNamedStorage(ctx, name, group, share.Storage))
}

func (i *Importer) importNamedStorage(ctx context.Context, name, group string, rec *StorageRecord) error {
	src := &types.MountSource{
		Sitename: i.cfg.MountSourceSite,
		Name:     name,
		Kind:     rec.Kind(),
		Host:     rec.Autofs.NAS,
		HostPath: joinExportPath(rec.Autofs.Path, name),
		Owner:    "root",
		Group:    group,
	}
	if rec.ZFS != nil {
		src.Quota = rec.ZFS.Quota
	}
	if err := i.cfg.Store.CreateMountSource(ctx, src); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}
	mount := &types.Automount{
		Sitename: i.cfg.Sitename,
		MapTable: defaults.GroupAutomountTable,
		Name:     name,
		Options:  rec.Autofs.Options,
	}
	if err := i.cfg.Store.CreateAutomount(ctx, mount); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}
	st := &types.Storage{
		Sitename: i.cfg.Sitename,
		Name:     name,
		Source:   name,
		MapTable: defaults.GroupAutomountTable,
		Mount:    name,
		Globus:   rec.Globus,
	}
	if err := i.cfg.Store.CreateStorage(ctx, st, i.cfg.MountSourceSite); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}

// applyMemberships runs the deferred bulk updates: explicit group
// membership from user records and the role lists from group records.
// Deferring until every user exists keeps ordering out of the schema.
func (i *Importer) applyMemberships(ctx context.Context, m *AccountMap) error {
	byGroup := map[string][]string{}
	for _, username := range m.UserNames() {
		for _, groupname := range m.Users[username].Groups {
			byGroup[groupname] = append(byGroup[groupname], username)
		}
	}
	for _, groupname := range m.GroupNames() {
		g := m.Groups[groupname]
		byGroup[groupname] = append(byGroup[groupname], g.Members...)
		if len(g.Sponsors) > 0 {
			if err := i.addRole(ctx, groupname, g.Sponsors, types.RoleSponsors); err != nil {
				return trace.Wrap(err)
			}
		}
		if len(g.Sudoers) > 0 {
			if err := i.addRole(ctx, groupname, g.Sudoers, types.RoleSudoers); err != nil {
				return trace.Wrap(err)
			}
		}
	}
	for groupname, users := range byGroup {
		if err := i.addRole(ctx, groupname, users, types.RoleMembers); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (i *Importer) addRole(ctx context.Context, groupname string, users []string, role types.GroupRole) error {
	users = i.knownSiteUsers(ctx, users)
	if len(users) == 0 {
		return nil
	}
	return trace.Wrap(i.cfg.Store.GroupAddUserElement(
		ctx, i.cfg.Sitename, []string{groupname}, users, role))
}

// knownSiteUsers drops names with no site attachment. Legacy maps
// routinely list members that were deleted upstream; skipping them
// beats failing the import.
func (i *Importer) knownSiteUsers(ctx context.Context, users []string) []string {
	var known []string
	for _, username := range types.SortedSet(users) {
		if _, err := i.cfg.Store.GetSiteUser(ctx, i.cfg.Sitename, username); err != nil {
			i.log.WarnContext(ctx, "Skipping unknown member",
				"username", username, "sitename", i.cfg.Sitename)
			continue
		}
		known = append(known, username)
	}
	return known
}

func joinExportPath(base, name string) string {
	if base == "" {
		return ""
	}
	if base[len(base)-1] == '/' {
		return base + name
	}
	return base + "/" + name
}

func shareName(groupname string, idx int) string {
	return fmt.Sprintf("%s-%d", groupname, idx)
}
