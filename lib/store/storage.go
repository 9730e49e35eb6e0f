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

package store

import (
	"context"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// CreateSourceCollection registers a named pool of mount source
// defaults on a site.
func (s *Store) CreateSourceCollection(ctx context.Context, c *types.SourceCollection) error {
	if err := c.Check(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetSite(ctx, c.Sitename); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.collection(collSourceCollections).InsertOne(ctx, c); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("source collection %q already exists at site %q", c.Name, c.Sitename)
		}
		return convertError(err)
	}
	s.log.InfoContext(ctx, "Created source collection",
		"name", c.Name, "sitename", c.Sitename, "kind", c.Kind)
	return nil
}

// GetSourceCollection fetches a collection by site and name.
func (s *Store) GetSourceCollection(ctx context.Context, sitename, name string) (*types.SourceCollection, error) {
	var c types.SourceCollection
	err := s.collection(collSourceCollections).FindOne(ctx, bson.M{
		"sitename": sitename, "name": name,
	}).Decode(&c)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("source collection %q does not exist at site %q", name, sitename)
		}
		return nil, convertError(err)
	}
	return &c, nil
}

// CreateMountSource registers an exported path, resolving defaults
// from its collection when one is named.
func (s *Store) CreateMountSource(ctx context.Context, src *types.MountSource) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.createMountSourceTx(ctx, src)
	})
	return trace.Wrap(err)
}

func (s *Store) createMountSourceTx(ctx context.Context, src *types.MountSource) error {
	if src.Collection != "" {
		c, err := s.GetSourceCollection(ctx, src.Sitename, src.Collection)
		if err != nil {
			return trace.Wrap(err)
		}
		src.Resolve(c)
	}
	if err := src.Check(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.collection(collMountSources).InsertOne(ctx, src); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("mount source %q already exists at site %q", src.Name, src.Sitename)
		}
		return convertError(err)
	}
	return nil
}

// GetMountSource fetches a mount source by site and name.
func (s *Store) GetMountSource(ctx context.Context, sitename, name string) (*types.MountSource, error) {
	var src types.MountSource
	err := s.collection(collMountSources).FindOne(ctx, bson.M{
		"sitename": sitename, "name": name,
	}).Decode(&src)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("mount source %q does not exist at site %q", name, sitename)
		}
		return nil, convertError(err)
	}
	return &src, nil
}

// EditMountSource applies field updates to a mount source. Only
// non-zero fields of patch are written.
func (s *Store) EditMountSource(ctx context.Context, sitename, name string, patch *types.MountSource) error {
	set := bson.M{}
	if patch.Host != "" {
		set["host"] = patch.Host
	}
	if patch.HostPath != "" {
		set["host_path"] = patch.HostPath
	}
	if patch.Owner != "" {
		set["owner"] = patch.Owner
	}
	if patch.Group != "" {
		set["group"] = patch.Group
	}
	if patch.Quota != "" {
		if err := types.CheckQuota(patch.Quota); err != nil {
			return trace.Wrap(err)
		}
		set["quota"] = patch.Quota
	}
	if len(patch.ExportOptions) > 0 {
		for _, o := range patch.ExportOptions {
			if err := types.CheckExportOption(o); err != nil {
				return trace.Wrap(err)
			}
		}
		set["export_options"] = types.SortedSet(patch.ExportOptions)
	}
	if len(patch.ExportRanges) > 0 {
		for _, r := range patch.ExportRanges {
			if err := types.CheckExportRange(r); err != nil {
				return trace.Wrap(err)
			}
		}
		set["export_ranges"] = types.SortedSet(patch.ExportRanges)
	}
	if len(set) == 0 {
		return trace.BadParameter("mount source edit has no fields to change")
	}
	res, err := s.collection(collMountSources).UpdateOne(ctx,
		bson.M{"sitename": sitename, "name": name}, bson.M{"$set": set})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("mount source %q does not exist at site %q", name, sitename)
	}
	return nil
}

// DeleteMountSource removes a source, cascading to the storages bound
// to it.
func (s *Store) DeleteMountSource(ctx context.Context, sitename, name string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.collection(collStorages).DeleteMany(ctx, bson.M{
			"sitename": sitename, "source": name,
		}); err != nil {
			return convertError(err)
		}
		res, err := s.collection(collMountSources).DeleteOne(ctx, bson.M{
			"sitename": sitename, "name": name,
		})
		if err != nil {
			return convertError(err)
		}
		if res.DeletedCount == 0 {
			return trace.NotFound("mount source %q does not exist at site %q", name, sitename)
		}
		return nil
	})
	return trace.Wrap(err)
}

// CreateAutomountMap registers an autofs table on a site.
func (s *Store) CreateAutomountMap(ctx context.Context, am *types.AutomountMap) error {
	if err := am.Check(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetSite(ctx, am.Sitename); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.collection(collAutomountMaps).InsertOne(ctx, am); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("automount map %q already exists at site %q", am.Tablename, am.Sitename)
		}
		return convertError(err)
	}
	return nil
}

// GetAutomountMap fetches an autofs table by site and table name.
func (s *Store) GetAutomountMap(ctx context.Context, sitename, tablename string) (*types.AutomountMap, error) {
	var am types.AutomountMap
	err := s.collection(collAutomountMaps).FindOne(ctx, bson.M{
		"sitename": sitename, "tablename": tablename,
	}).Decode(&am)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("automount map %q does not exist at site %q", tablename, sitename)
		}
		return nil, convertError(err)
	}
	return &am, nil
}

// ListAutomountMaps lists the site's autofs tables.
func (s *Store) ListAutomountMaps(ctx context.Context, sitename string) ([]*types.AutomountMap, error) {
	cursor, err := s.collection(collAutomountMaps).Find(ctx,
		bson.M{"sitename": sitename},
		options.Find().SetSort(bson.D{{Key: "tablename", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var maps []*types.AutomountMap
	if err := cursor.All(ctx, &maps); err != nil {
		return nil, convertError(err)
	}
	return maps, nil
}

// CreateAutomount registers a mount entry in an autofs table.
func (s *Store) CreateAutomount(ctx context.Context, a *types.Automount) error {
	if err := a.Check(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetAutomountMap(ctx, a.Sitename, a.MapTable); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.collection(collAutomounts).InsertOne(ctx, a); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("automount %q already exists in map %q at site %q",
				a.Name, a.MapTable, a.Sitename)
		}
		return convertError(err)
	}
	return nil
}

// GetAutomount fetches a mount entry by site, table, and name.
func (s *Store) GetAutomount(ctx context.Context, sitename, maptable, name string) (*types.Automount, error) {
	var a types.Automount
	err := s.collection(collAutomounts).FindOne(ctx, bson.M{
		"sitename": sitename, "maptable": maptable, "name": name,
	}).Decode(&a)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("automount %q does not exist in map %q at site %q",
				name, maptable, sitename)
		}
		return nil, convertError(err)
	}
	return &a, nil
}

// CreateStorage registers a storage binding. The referenced source and
// automount must exist; the source may live at another site when
// storage is shared across clusters.
func (s *Store) CreateStorage(ctx context.Context, st *types.Storage, sourceSite string) error {
	if err := st.Check(); err != nil {
		return trace.Wrap(err)
	}
	if sourceSite == "" {
		sourceSite = st.Sitename
	}
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.createStorageTx(ctx, st, sourceSite)
	})
	return trace.Wrap(err)
}

func (s *Store) createStorageTx(ctx context.Context, st *types.Storage, sourceSite string) error {
	if _, err := s.GetMountSource(ctx, sourceSite, st.Source); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetAutomount(ctx, st.Sitename, st.MapTable, st.Mount); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.collection(collStorages).InsertOne(ctx, st); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("storage %q already exists at site %q", st.Name, st.Sitename)
		}
		return convertError(err)
	}
	return nil
}

// GetStorage fetches a storage by site and name.
func (s *Store) GetStorage(ctx context.Context, sitename, name string) (*types.Storage, error) {
	var st types.Storage
	err := s.collection(collStorages).FindOne(ctx, bson.M{
		"sitename": sitename, "name": name,
	}).Decode(&st)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("storage %q does not exist at site %q", name, sitename)
		}
		return nil, convertError(err)
	}
	return &st, nil
}

// ListStorages lists the site's storages, optionally restricted to one
// automount table.
func (s *Store) ListStorages(ctx context.Context, sitename, maptable string) ([]*types.Storage, error) {
	q := bson.M{"sitename": sitename}
	if maptable != "" {
		q["maptable"] = maptable
	}
	cursor, err := s.collection(collStorages).Find(ctx, q,
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var storages []*types.Storage
	if err := cursor.All(ctx, &storages); err != nil {
		return nil, convertError(err)
	}
	return storages, nil
}

// CreateHomeStorageParams configures CreateHomeStorage.
type CreateHomeStorageParams struct {
	Sitename string
	Username string
	// Source names an existing mount source to bind instead of
	// creating one from the site's home collection.
	Source string
	// SourceSite is where the source lives when storage defined at
	// one site is mounted at another. Defaults to Sitename.
	SourceSite string
}

// CreateHomeStorage provisions a user's home: a ZFS source drawn from
// the site's home collection (unless an existing source is named), an
// automount entry in the home table, and the storage binding them.
// Rows that already exist are left alone, so replays are safe.
func (s *Store) CreateHomeStorage(ctx context.Context, p CreateHomeStorageParams) error {
	if p.SourceSite == "" {
		p.SourceSite = p.Sitename
	}
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		site, err := s.GetSite(ctx, p.Sitename)
		if err != nil {
			return trace.Wrap(err)
		}
		if _, err := s.GetSiteUser(ctx, p.Sitename, p.Username); err != nil {
			return trace.Wrap(err)
		}

		sourceName := p.Source
		if sourceName == "" {
			collectionName := site.DefaultHome
			if collectionName == "" {
				collectionName = defaults.HomeCollectionName
			}
			src := &types.MountSource{
				Sitename:   p.SourceSite,
				Name:       p.Username,
				Kind:       types.MountKindZFS,
				Owner:      p.Username,
				Group:      p.Username,
				Collection: collectionName,
			}
			if err := s.createMountSourceTx(ctx, src); err != nil {
				if !trace.IsAlreadyExists(err) {
					return trace.Wrap(err)
				}
			}
			sourceName = src.Name
		}

		mount := &types.Automount{
			Sitename: p.Sitename,
			MapTable: defaults.HomeAutomountTable,
			Name:     p.Username,
		}
		if err := s.CreateAutomount(ctx, mount); err != nil {
			if !trace.IsAlreadyExists(err) {
				return trace.Wrap(err)
			}
		}

		st := &types.Storage{
			Sitename: p.Sitename,
			Name:     p.Username,
			Source:   sourceName,
			MapTable: defaults.HomeAutomountTable,
			Mount:    p.Username,
		}
		if err := s.createStorageTx(ctx, st, p.SourceSite); err != nil {
			if !trace.IsAlreadyExists(err) {
				return trace.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Provisioned home storage",
		"username", p.Username, "sitename", p.Sitename)
	return nil
}
