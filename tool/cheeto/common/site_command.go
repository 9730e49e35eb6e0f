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

package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/asciitable"
	"github.com/ucdavis/cheeto/lib/ldapsync"
	"github.com/ucdavis/cheeto/lib/puppet"
	"github.com/ucdavis/cheeto/lib/types"
)

// SiteCommand implements "cheeto database site ...".
type SiteCommand struct {
	env *Env

	siteNew       *kingpin.CmdClause
	siteList      *kingpin.CmdClause
	addGlobal     *kingpin.CmdClause
	load          *kingpin.CmdClause
	toPuppet      *kingpin.CmdClause
	toLDAP        *kingpin.CmdClause
	toSympa       *kingpin.CmdClause
	rootKey       *kingpin.CmdClause
	syncOldPuppet *kingpin.CmdClause
	syncNewPuppet *kingpin.CmdClause

	sitename        string
	fqdn            string
	groupname       string
	loadFile        string
	outPath         string
	force           bool
	forceSync       bool
	repoRoot        string
	strict          bool
	mountSourceSite string
}

// Initialize registers the site subtree.
func (c *SiteCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	database := databaseCommand(app)
	site := database.Command("site", "Manage sites.")

	c.siteNew = site.Command("new", "Create a site.")
	c.siteNew.Arg("sitename", "Site name.").Required().StringVar(&c.sitename)
	c.siteNew.Flag("fqdn", "Site domain, e.g. hive.example.edu.").Required().StringVar(&c.fqdn)

	c.siteList = site.Command("list", "List sites.")

	c.addGlobal = site.Command("add-global-slurm", "Grant a group's members scheduler access on every site account.")
	c.addGlobal.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.addGlobal.Flag("group", "Group name.").Short('g').Required().StringVar(&c.groupname)

	c.load = site.Command("load", "Load a site definition YAML into the store.")
	c.load.Flag("file", "Site definition file.").Required().StringVar(&c.loadFile)

	c.toPuppet = site.Command("to-puppet", "Export a site as a legacy account map.")
	c.toPuppet.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.toPuppet.Flag("out", "Output file; stdout when omitted.").Short('o').StringVar(&c.outPath)
	c.toPuppet.Flag("force", "Overwrite an existing output file.").BoolVar(&c.force)

	c.toLDAP = site.Command("to-ldap", "Reconcile a site into the directory.")
	c.toLDAP.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.toLDAP.Flag("force", "Resync entries already marked synced.").BoolVar(&c.forceSync)

	c.toSympa = site.Command("to-sympa", "Dump site member email addresses, one per line.")
	c.toSympa.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)

	c.rootKey = site.Command("root-key", "Print the merged root authorized_keys for a site.")
	c.rootKey.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)

	c.syncOldPuppet = site.Command("sync-old-puppet", "Import a legacy account repository into the store.")
	c.syncOldPuppet.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.syncOldPuppet.Flag("repo", "Repository root.").Required().StringVar(&c.repoRoot)
	c.syncOldPuppet.Flag("strict", "Stop at the first validation error.").BoolVar(&c.strict)
	c.syncOldPuppet.Flag("mount-source-site", "Site owning the storage mount sources.").StringVar(&c.mountSourceSite)

	c.syncNewPuppet = site.Command("sync-new-puppet", "Export the store back into a legacy repository.")
	c.syncNewPuppet.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.syncNewPuppet.Flag("repo", "Repository root.").Required().StringVar(&c.repoRoot)
}

// TryRun executes the selected site command.
func (c *SiteCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	var err error
	switch selectedCommand {
	case c.siteNew.FullCommand():
		err = c.New(ctx)
	case c.siteList.FullCommand():
		err = c.List(ctx)
	case c.addGlobal.FullCommand():
		err = c.AddGlobalSlurm(ctx)
	case c.load.FullCommand():
		err = c.Load(ctx)
	case c.toPuppet.FullCommand():
		err = c.ToPuppet(ctx)
	case c.toLDAP.FullCommand():
		err = c.ToLDAP(ctx)
	case c.toSympa.FullCommand():
		err = c.ToSympa(ctx)
	case c.rootKey.FullCommand():
		err = c.RootKey(ctx)
	case c.syncOldPuppet.FullCommand():
		err = c.SyncOldPuppet(ctx)
	case c.syncNewPuppet.FullCommand():
		err = c.SyncNewPuppet(ctx)
	default:
		return false, nil
	}
	return true, trace.Wrap(err)
}

// New creates a site.
func (c *SiteCommand) New(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	site, err := db.CreateSite(ctx, c.sitename, c.fqdn)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("created site %v (%v)\n", site.Sitename, site.FQDN)
	return nil
}

// List prints every site.
func (c *SiteCommand) List(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	sites, err := db.ListSites(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("Site", "FQDN", "Default Home", "Global Groups")
	for _, site := range sites {
		table.AddRow([]string{
			site.Sitename, site.FQDN, site.DefaultHome,
			strconv.Itoa(len(site.GlobalGroups)),
		})
	}
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// AddGlobalSlurm marks a group as global slurmers on a site.
func (c *SiteCommand) AddGlobalSlurm(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.AddSiteGlobalSlurmers(ctx, c.sitename, c.groupname))
}

// Load applies a site definition file: the site itself plus its
// global groups, global slurmers, and default home collection.
// Replays are safe; existing rows are left alone.
func (c *SiteCommand) Load(ctx context.Context) error {
	raw, err := os.ReadFile(c.loadFile)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	var site types.Site
	if err := yaml.Unmarshal(raw, &site); err != nil {
		return trace.BadParameter("parsing %v: %v", c.loadFile, err)
	}
	if err := site.Check(); err != nil {
		return trace.Wrap(err)
	}
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, err := db.CreateSite(ctx, site.Sitename, site.FQDN); err != nil && !trace.IsAlreadyExists(err) {
		return trace.Wrap(err)
	}
	for _, groupname := range site.GlobalGroups {
		if err := db.AddSiteGlobalGroup(ctx, site.Sitename, groupname); err != nil {
			return trace.Wrap(err)
		}
	}
	for _, groupname := range site.GlobalSlurmers {
		if err := db.AddSiteGlobalSlurmers(ctx, site.Sitename, groupname); err != nil {
			return trace.Wrap(err)
		}
	}
	if site.DefaultHome != "" {
		if err := db.SetSiteDefaultHome(ctx, site.Sitename, site.DefaultHome); err != nil {
			return trace.Wrap(err)
		}
	}
	fmt.Printf("loaded site %v\n", site.Sitename)
	return nil
}

// ToPuppet exports a site as legacy YAML.
func (c *SiteCommand) ToPuppet(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	m, err := puppet.Export(ctx, db, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	out, err := m.Dump()
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(writeOutput(c.outPath, out, c.force))
}

// ToLDAP reconciles a site into the directory.
func (c *SiteCommand) ToLDAP(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	directory, err := c.env.Directory()
	if err != nil {
		return trace.Wrap(err)
	}
	ldapCfg, err := c.env.LDAPConfig()
	if err != nil {
		return trace.Wrap(err)
	}
	syncer, err := ldapsync.NewSyncer(ldapsync.SyncerConfig{
		Store:     db,
		Directory: directory,
		LDAP:      ldapCfg,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := syncer.SyncSite(ctx, c.sitename, c.forceSync); err != nil {
		return WithExitCode(trace.Wrap(err), cheeto.ExitBadLDAPQuery)
	}
	return nil
}

// ToSympa prints the email addresses of a site's users, the shape the
// mailing list manager imports.
func (c *SiteCommand) ToSympa(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	siteUsers, err := db.ListSiteUsers(ctx, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	var emails []string
	for _, su := range siteUsers {
		parent, err := db.GetGlobalUser(ctx, su.Username)
		if err != nil {
			return trace.Wrap(err)
		}
		if su.EffectiveStatus(parent) != types.UserStatusActive {
			continue
		}
		if parent.Type == types.UserTypeUser || parent.Type == types.UserTypeAdmin {
			emails = append(emails, parent.Email)
		}
	}
	for _, email := range types.SortedSet(emails) {
		fmt.Println(email)
	}
	return nil
}

// RootKey prints the merged authorized_keys for root on a site: every
// admin user's keys, deduplicated.
func (c *SiteCommand) RootKey(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	siteUsers, err := db.ListSiteUsers(ctx, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	var keys []string
	for _, su := range siteUsers {
		parent, err := db.GetGlobalUser(ctx, su.Username)
		if err != nil {
			return trace.Wrap(err)
		}
		if parent.Type == types.UserTypeAdmin {
			keys = append(keys, parent.SSHKeys...)
		}
	}
	for _, key := range types.SortedSet(keys) {
		fmt.Println(key)
	}
	return nil
}

// SyncOldPuppet loads a legacy repository and imports users, groups,
// storages, and scheduler records into the store.
func (c *SiteCommand) SyncOldPuppet(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	loader, err := puppet.NewLoader(puppet.LoaderConfig{
		Root:   c.repoRoot,
		Strict: c.strict,
		Validators: []puppet.Validator{
			puppet.ValidatorKnownSponsors,
			puppet.ValidatorKnownGroups,
		},
	})
	if err != nil {
		return trace.Wrap(err)
	}
	m, err := loader.Load(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	importer, err := puppet.NewImporter(puppet.ImporterConfig{
		Store:           db,
		Sitename:        c.sitename,
		MountSourceSite: c.mountSourceSite,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := importer.Import(ctx, m); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(importer.ImportSlurm(ctx, m))
}

// SyncNewPuppet exports the store into the repository, replacing the
// site's account map file under the repository lock.
func (c *SiteCommand) SyncNewPuppet(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	loader, err := puppet.NewLoader(puppet.LoaderConfig{Root: c.repoRoot})
	if err != nil {
		return trace.Wrap(err)
	}
	m, err := puppet.Export(ctx, db, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	out, err := m.Dump()
	if err != nil {
		return trace.Wrap(err)
	}
	path := filepath.Join(c.repoRoot, c.sitename+".yaml")
	return trace.Wrap(loader.WithLock(ctx, func() error {
		return trace.ConvertSystemError(os.WriteFile(path, out, 0o644))
	}))
}
