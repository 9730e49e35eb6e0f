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

	"github.com/ucdavis/cheeto/lib/types"
)

// CreateSite registers a new site.
func (s *Store) CreateSite(ctx context.Context, sitename, fqdn string) (*types.Site, error) {
	site := &types.Site{Sitename: sitename, FQDN: fqdn}
	if err := site.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.collection(collSites).InsertOne(ctx, site); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return nil, trace.AlreadyExists("site %q already exists", sitename)
		}
		return nil, convertError(err)
	}
	s.log.InfoContext(ctx, "Created site", "sitename", sitename, "fqdn", fqdn)
	return site, nil
}

// GetSite fetches a site by name.
func (s *Store) GetSite(ctx context.Context, sitename string) (*types.Site, error) {
	var site types.Site
	err := s.collection(collSites).FindOne(ctx, bson.M{"sitename": sitename}).Decode(&site)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("site %q does not exist", sitename)
		}
		return nil, convertError(err)
	}
	return &site, nil
}

// ListSites lists all sites ordered by name.
func (s *Store) ListSites(ctx context.Context) ([]*types.Site, error) {
	cursor, err := s.collection(collSites).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "sitename", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var sites []*types.Site
	if err := cursor.All(ctx, &sites); err != nil {
		return nil, convertError(err)
	}
	return sites, nil
}

// AddSiteGlobalGroup adds a group every site user must belong to, then
// re-applies membership over the site's existing users.
func (s *Store) AddSiteGlobalGroup(ctx context.Context, sitename, groupname string) error {
	return trace.Wrap(s.addSiteGlobal(ctx, sitename, groupname, "global_groups"))
}

// AddSiteGlobalSlurmers adds a group every site user runs scheduler
// jobs under, then re-applies membership over the site's existing
// users.
func (s *Store) AddSiteGlobalSlurmers(ctx context.Context, sitename, groupname string) error {
	return trace.Wrap(s.addSiteGlobal(ctx, sitename, groupname, "global_slurmers"))
}

func (s *Store) addSiteGlobal(ctx context.Context, sitename, groupname, field string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.GetSiteGroup(ctx, sitename, groupname); err != nil {
			return trace.Wrap(err)
		}
		res, err := s.collection(collSites).UpdateOne(ctx,
			bson.M{"sitename": sitename},
			bson.M{"$addToSet": bson.M{field: groupname}})
		if err != nil {
			return convertError(err)
		}
		if res.MatchedCount == 0 {
			return trace.NotFound("site %q does not exist", sitename)
		}
		site, err := s.GetSite(ctx, sitename)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(s.reapplySiteGlobals(ctx, site))
	})
	return trace.Wrap(err)
}

// SetSiteDefaultHome points the site at the source collection that
// backs new home storages.
func (s *Store) SetSiteDefaultHome(ctx context.Context, sitename, collection string) error {
	res, err := s.collection(collSites).UpdateOne(ctx,
		bson.M{"sitename": sitename},
		bson.M{"$set": bson.M{"default_home": collection}})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("site %q does not exist", sitename)
	}
	return nil
}

// applySiteGlobals enforces the site-global membership invariant for
// the given users: each lands in every global group's member list and
// every global slurmer group's slurmer list.
func (s *Store) applySiteGlobals(ctx context.Context, site *types.Site, usernames []string) error {
	if len(usernames) == 0 {
		return nil
	}
	if err := s.addRoleMembers(ctx, site.Sitename, site.GlobalGroups, usernames, types.RoleMembers); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.addRoleMembers(ctx, site.Sitename, site.GlobalSlurmers, usernames, types.RoleSlurmers))
}

// reapplySiteGlobals runs the invariant over every existing user of
// the site; called when the site's global group lists change.
func (s *Store) reapplySiteGlobals(ctx context.Context, site *types.Site) error {
	siteUsers, err := s.ListSiteUsers(ctx, site.Sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	usernames := make([]string, 0, len(siteUsers))
	for _, su := range siteUsers {
		usernames = append(usernames, su.Username)
	}
	return trace.Wrap(s.applySiteGlobals(ctx, site, usernames))
}
