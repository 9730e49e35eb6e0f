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

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto/lib/asciitable"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// StorageCommand implements "cheeto database storage ...".
type StorageCommand struct {
	env *Env

	show          *kingpin.CmdClause
	newStorage    *kingpin.CmdClause
	newCollection *kingpin.CmdClause
	editSource    *kingpin.CmdClause
	toPuppet      *kingpin.CmdClause

	sitename   string
	name       string
	source     string
	sourceSite string
	maptable   string
	mount      string
	kind       string
	host       string
	hostPath   string
	prefix     string
	owner      string
	group      string
	quota      string
	exportOpts []string
	ranges     []string
	globus     bool
	outPath    string
	force      bool
}

// Initialize registers the storage subtree.
func (c *StorageCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	database := databaseCommand(app)
	storage := database.Command("storage", "Manage storage sources, collections, and mounts.")

	c.show = storage.Command("show", "Show storages on a site.")
	c.show.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.show.Flag("name", "Show one storage as YAML.").Short('n').StringVar(&c.name)
	c.show.Flag("maptable", "Restrict to one automount table.").StringVar(&c.maptable)

	storageNew := storage.Command("new", "Create storage records.")
	c.newStorage = storageNew.Command("storage", "Create a mount source plus its storage binding.")
	c.newStorage.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.newStorage.Flag("name", "Storage name.").Short('n').Required().StringVar(&c.name)
	c.newStorage.Flag("source", "Existing mount source to bind.").Required().StringVar(&c.source)
	c.newStorage.Flag("source-site", "Site owning the source; defaults to --site.").StringVar(&c.sourceSite)
	c.newStorage.Flag("maptable", "Automount table.").Default(defaults.GroupAutomountTable).StringVar(&c.maptable)
	c.newStorage.Flag("mount", "Automount entry name.").StringVar(&c.mount)
	c.newStorage.Flag("globus", "Expose through the transfer endpoint.").BoolVar(&c.globus)

	c.newCollection = storageNew.Command("collection", "Create a source collection.")
	c.newCollection.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.newCollection.Flag("name", "Collection name.").Short('n').Required().StringVar(&c.name)
	c.newCollection.Flag("kind", "Backend kind: nfs or zfs.").Default(string(types.MountKindZFS)).StringVar(&c.kind)
	c.newCollection.Flag("host", "Export host.").Required().StringVar(&c.host)
	c.newCollection.Flag("prefix", "Export path prefix.").Required().StringVar(&c.prefix)
	c.newCollection.Flag("quota", "Default dataset quota, e.g. 100G.").StringVar(&c.quota)
	c.newCollection.Flag("export-option", "NFS export option; repeatable.").StringsVar(&c.exportOpts)
	c.newCollection.Flag("export-range", "Export network range; repeatable.").StringsVar(&c.ranges)

	storageEdit := storage.Command("edit", "Edit storage records.")
	c.editSource = storageEdit.Command("source", "Patch fields of a mount source.")
	c.editSource.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.editSource.Flag("name", "Source name.").Short('n').Required().StringVar(&c.name)
	c.editSource.Flag("host", "New export host.").StringVar(&c.host)
	c.editSource.Flag("host-path", "New export path.").StringVar(&c.hostPath)
	c.editSource.Flag("owner", "New owning user.").StringVar(&c.owner)
	c.editSource.Flag("group", "New owning group.").StringVar(&c.group)
	c.editSource.Flag("quota", "New quota.").StringVar(&c.quota)
	c.editSource.Flag("export-option", "Replacement export option; repeatable.").StringsVar(&c.exportOpts)
	c.editSource.Flag("export-range", "Replacement export range; repeatable.").StringsVar(&c.ranges)

	c.toPuppet = storage.Command("to-puppet", "Dump a site's storages as YAML.")
	c.toPuppet.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.toPuppet.Flag("out", "Output file; stdout when omitted.").Short('o').StringVar(&c.outPath)
	c.toPuppet.Flag("force", "Overwrite an existing output file.").BoolVar(&c.force)
}

// TryRun executes the selected storage command.
func (c *StorageCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	var err error
	switch selectedCommand {
	case c.show.FullCommand():
		err = c.Show(ctx)
	case c.newStorage.FullCommand():
		err = c.NewStorage(ctx)
	case c.newCollection.FullCommand():
		err = c.NewCollection(ctx)
	case c.editSource.FullCommand():
		err = c.EditSource(ctx)
	case c.toPuppet.FullCommand():
		err = c.ToPuppet(ctx)
	default:
		return false, nil
	}
	return true, trace.Wrap(err)
}

// Show lists a site's storages, or prints one as YAML.
func (c *StorageCommand) Show(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if c.name != "" {
		st, err := db.GetStorage(ctx, c.sitename, c.name)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(dumpYAML(st))
	}
	storages, err := db.ListStorages(ctx, c.sitename, c.maptable)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("Name", "Source", "Table", "Mount")
	for _, st := range storages {
		table.AddRow([]string{st.Name, st.Source, st.MapTable, st.Mount})
	}
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// NewStorage binds an existing mount source into an automount table.
func (c *StorageCommand) NewStorage(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	mount := c.mount
	if mount == "" {
		mount = c.name
	}
	return trace.Wrap(db.CreateStorage(ctx, &types.Storage{
		Sitename: c.sitename,
		Name:     c.name,
		Source:   c.source,
		MapTable: c.maptable,
		Mount:    mount,
		Globus:   c.globus,
	}, c.sourceSite))
}

// NewCollection creates a source collection.
func (c *StorageCommand) NewCollection(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	collection := &types.SourceCollection{
		Sitename:      c.sitename,
		Name:          c.name,
		Kind:          types.MountKind(c.kind),
		Host:          c.host,
		Prefix:        c.prefix,
		Quota:         c.quota,
		ExportOptions: c.exportOpts,
		ExportRanges:  c.ranges,
	}
	if err := db.CreateSourceCollection(ctx, collection); err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("created collection %v at %v\n", collection.Name, collection.Sitename)
	return nil
}

// EditSource patches a mount source.
func (c *StorageCommand) EditSource(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.EditMountSource(ctx, c.sitename, c.name, &types.MountSource{
		Host:          c.host,
		HostPath:      c.hostPath,
		Owner:         c.owner,
		Group:         c.group,
		Quota:         c.quota,
		ExportOptions: c.exportOpts,
		ExportRanges:  c.ranges,
	}))
}

// ToPuppet dumps the site's storages and mount sources as YAML.
func (c *StorageCommand) ToPuppet(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	storages, err := db.ListStorages(ctx, c.sitename, "")
	if err != nil {
		return trace.Wrap(err)
	}
	dump := storageDump{Storages: storages, Sources: map[string]*types.MountSource{}}
	for _, st := range storages {
		if _, ok := dump.Sources[st.Source]; ok {
			continue
		}
		src, err := db.GetMountSource(ctx, c.sitename, st.Source)
		if trace.IsNotFound(err) {
			continue
		}
		if err != nil {
			return trace.Wrap(err)
		}
		dump.Sources[st.Source] = src
	}
	out, err := yaml.Marshal(dump)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(writeOutput(c.outPath, out, c.force))
}

// storageDump is the YAML shape of "storage to-puppet".
type storageDump struct {
	Storages []*types.Storage              `yaml:"storages"`
	Sources  map[string]*types.MountSource `yaml:"sources"`
}
