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
	"fmt"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// CreateGroup creates a GlobalGroup with an explicit gid, optionally
// attaching it to sites.
func (s *Store) CreateGroup(ctx context.Context, groupname string, gid int64, gtype types.GroupType, sitenames ...string) (*types.GlobalGroup, error) {
	group := &types.GlobalGroup{Groupname: groupname, GID: gid, Type: gtype}
	if err := group.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.createGroupTx(ctx, group); err != nil {
			return trace.Wrap(err)
		}
		for _, sitename := range sitenames {
			if err := s.addSiteGroup(ctx, sitename, groupname); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Created group",
		"groupname", groupname, "gid", gid, "type", gtype)
	return group, nil
}

func (s *Store) createGroupTx(ctx context.Context, group *types.GlobalGroup) error {
	if _, err := s.collection(collGroups).InsertOne(ctx, group); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("group %q already exists", group.Groupname)
		}
		return convertError(err)
	}
	return nil
}

// CreateSystemGroup allocates a system-range gid.
func (s *Store) CreateSystemGroup(ctx context.Context, groupname string, sitenames ...string) (*types.GlobalGroup, error) {
	return s.createRangedGroup(ctx, groupname, types.GroupTypeSystem,
		defaults.MinSystemUID, defaults.MinSystemUID+defaults.IDRangeWidth, sitenames)
}

// CreateLabGroup allocates a lab-range gid.
func (s *Store) CreateLabGroup(ctx context.Context, groupname string, sitenames ...string) (*types.GlobalGroup, error) {
	return s.createRangedGroup(ctx, groupname, types.GroupTypeGroup,
		defaults.MinLabGroupGID, defaults.MaxLabGroupGID, sitenames)
}

func (s *Store) createRangedGroup(ctx context.Context, groupname string, gtype types.GroupType, floor, ceil int64, sitenames []string) (*types.GlobalGroup, error) {
	var group *types.GlobalGroup
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		gid, err := s.nextIDInRange(ctx, collGroups, "gid", floor, ceil)
		if err != nil {
			return trace.Wrap(err)
		}
		group = &types.GlobalGroup{Groupname: groupname, GID: gid, Type: gtype}
		if err := group.Check(); err != nil {
			return trace.Wrap(err)
		}
		if err := s.createGroupTx(ctx, group); err != nil {
			return trace.Wrap(err)
		}
		for _, sitename := range sitenames {
			if err := s.addSiteGroup(ctx, sitename, groupname); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Created group",
		"groupname", group.Groupname, "gid", group.GID, "type", gtype)
	return group, nil
}

// CreateGroupFromSponsor derives the sponsor's personal group: name
// "<username>grp", gid pinned at the sponsor offset, membership and
// sponsorship seeded with the sponsor. Idempotent: an existing group
// is returned as-is.
func (s *Store) CreateGroupFromSponsor(ctx context.Context, sitename, username string) (*types.GlobalGroup, error) {
	groupname := types.SponsorGroupName(username)
	var group *types.GlobalGroup
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		user, err := s.GetGlobalUser(ctx, username)
		if err != nil {
			return trace.Wrap(err)
		}
		if _, err := s.GetSiteUser(ctx, sitename, username); err != nil {
			return trace.Wrap(err)
		}

		group = &types.GlobalGroup{
			Groupname: groupname,
			GID:       defaults.MinPIGroupGID + user.UID,
			Type:      types.GroupTypeGroup,
			Owner:     username,
		}
		if err := s.createGroupTx(ctx, group); err != nil {
			if !trace.IsAlreadyExists(err) {
				return trace.Wrap(err)
			}
			group, err = s.GetGlobalGroup(ctx, groupname)
			if err != nil {
				return trace.Wrap(err)
			}
		}

		siteGroup := &types.SiteGroup{
			Sitename:  sitename,
			Groupname: groupname,
			Members:   []string{username},
			Sponsors:  []string{username},
		}
		if _, err := s.collection(collSiteGroups).InsertOne(ctx, siteGroup); err != nil {
			if !trace.IsAlreadyExists(convertError(err)) {
				return convertError(err)
			}
			if err := s.addRoleMembers(ctx, sitename, []string{groupname}, []string{username}, types.RoleMembers); err != nil {
				return trace.Wrap(err)
			}
			if err := s.addRoleMembers(ctx, sitename, []string{groupname}, []string{username}, types.RoleSponsors); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return group, nil
}

// ClassAccount is one provisioned course account with its generated
// cleartext password. Cleartext is returned once and never stored.
type ClassAccount struct {
	Username string
	Password string
}

// CreateClassGroup creates a class group on a site plus the requested
// number of numbered class accounts, each a member of the group and
// sponsored by the first sponsor.
func (s *Store) CreateClassGroup(ctx context.Context, sitename, groupname string, sponsors []string, accounts int) ([]ClassAccount, error) {
	if len(sponsors) == 0 {
		return nil, trace.BadParameter("class group %q needs at least one sponsor", groupname)
	}
	if accounts < 0 {
		return nil, trace.BadParameter("class group %q: account count must not be negative", groupname)
	}
	owner := sponsors[0]

	var created []ClassAccount
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		for _, sponsor := range sponsors {
			if _, err := s.GetSiteUser(ctx, sitename, sponsor); err != nil {
				return trace.Wrap(err, "sponsor %q", sponsor)
			}
		}

		gid, err := s.nextIDInRange(ctx, collGroups, "gid",
			defaults.MinClassID, defaults.MinClassID+defaults.IDRangeWidth)
		if err != nil {
			return trace.Wrap(err)
		}
		group := &types.GlobalGroup{
			Groupname: groupname,
			GID:       gid,
			Type:      types.GroupTypeClass,
			Owner:     owner,
		}
		if err := s.createGroupTx(ctx, group); err != nil {
			return trace.Wrap(err)
		}
		siteGroup := &types.SiteGroup{
			Sitename:  sitename,
			Groupname: groupname,
			Sponsors:  types.SortedSet(sponsors),
		}
		if _, err := s.collection(collSiteGroups).InsertOne(ctx, siteGroup); err != nil {
			return convertError(err)
		}

		for i := 1; i <= accounts; i++ {
			username := fmt.Sprintf("%s-%02d", groupname, i)
			password, err := types.GeneratePassword(defaults.ClassUserPasswordBytes)
			if err != nil {
				return trace.Wrap(err)
			}
			uid, err := s.nextIDInRange(ctx, collUsers, "uid",
				defaults.MinClassID, defaults.MinClassID+defaults.IDRangeWidth)
			if err != nil {
				return trace.Wrap(err)
			}
			user, err := buildUser(CreateUserParams{
				Username: username,
				Email:    owner + "@" + sitename,
				UID:      uid,
				FullName: fmt.Sprintf("%s class account %d", groupname, i),
				Type:     types.UserTypeClass,
				Shell:    defaults.DefaultShell,
				Status:   types.UserStatusActive,
				Password: password,
				Access:   []types.Access{types.AccessLoginSSH, types.AccessComputeSSH},
			})
			if err != nil {
				return trace.Wrap(err)
			}
			if err := s.createUserTx(ctx, user, nil); err != nil {
				return trace.Wrap(err)
			}
			if err := s.addSiteUser(ctx, sitename, username); err != nil {
				return trace.Wrap(err)
			}
			if err := s.addRoleMembers(ctx, sitename, []string{groupname}, []string{username}, types.RoleMembers); err != nil {
				return trace.Wrap(err)
			}
			created = append(created, ClassAccount{Username: username, Password: password})
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Created class group",
		"groupname", groupname, "sitename", sitename, "accounts", len(created))
	return created, nil
}

// GetGlobalGroup fetches a group by name.
func (s *Store) GetGlobalGroup(ctx context.Context, groupname string) (*types.GlobalGroup, error) {
	var group types.GlobalGroup
	err := s.collection(collGroups).FindOne(ctx, bson.M{"groupname": groupname}).Decode(&group)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("group %q does not exist", groupname)
		}
		return nil, convertError(err)
	}
	return &group, nil
}

// GetGroupByGID fetches a group by gid.
func (s *Store) GetGroupByGID(ctx context.Context, gid int64) (*types.GlobalGroup, error) {
	var group types.GlobalGroup
	err := s.collection(collGroups).FindOne(ctx, bson.M{"gid": gid}).Decode(&group)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("no group has gid %d", gid)
		}
		return nil, convertError(err)
	}
	return &group, nil
}

// ListGlobalGroups lists groups, optionally restricted to one type.
func (s *Store) ListGlobalGroups(ctx context.Context, gtype types.GroupType) ([]*types.GlobalGroup, error) {
	q := bson.M{}
	if gtype != "" {
		q["type"] = gtype
	}
	cursor, err := s.collection(collGroups).Find(ctx, q,
		options.Find().SetSort(bson.D{{Key: "groupname", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var groups []*types.GlobalGroup
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, convertError(err)
	}
	return groups, nil
}

// AddSiteGroup attaches an existing global group to a site.
func (s *Store) AddSiteGroup(ctx context.Context, sitename, groupname string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.addSiteGroup(ctx, sitename, groupname)
	})
	return trace.Wrap(err)
}

func (s *Store) addSiteGroup(ctx context.Context, sitename, groupname string) error {
	if _, err := s.GetSite(ctx, sitename); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetGlobalGroup(ctx, groupname); err != nil {
		return trace.Wrap(err)
	}
	siteGroup := &types.SiteGroup{Sitename: sitename, Groupname: groupname}
	if _, err := s.collection(collSiteGroups).InsertOne(ctx, siteGroup); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("group %q is already attached to site %q", groupname, sitename)
		}
		return convertError(err)
	}
	return nil
}

// GetSiteGroup fetches one site attachment.
func (s *Store) GetSiteGroup(ctx context.Context, sitename, groupname string) (*types.SiteGroup, error) {
	var sg types.SiteGroup
	err := s.collection(collSiteGroups).FindOne(ctx, bson.M{
		"sitename": sitename, "groupname": groupname,
	}).Decode(&sg)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("group %q is not attached to site %q", groupname, sitename)
		}
		return nil, convertError(err)
	}
	return &sg, nil
}

// ListSiteGroups lists the site's groups ordered by name.
func (s *Store) ListSiteGroups(ctx context.Context, sitename string) ([]*types.SiteGroup, error) {
	cursor, err := s.collection(collSiteGroups).Find(ctx,
		bson.M{"sitename": sitename},
		options.Find().SetSort(bson.D{{Key: "groupname", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var groups []*types.SiteGroup
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, convertError(err)
	}
	return groups, nil
}

// GroupAddUserElement adds users to a role list across groups. Every
// user must already be attached to the site.
func (s *Store) GroupAddUserElement(ctx context.Context, sitename string, groups, users []string, role types.GroupRole) error {
	if err := role.Check(); err != nil {
		return trace.Wrap(err)
	}
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		for _, username := range users {
			if _, err := s.GetSiteUser(ctx, sitename, username); err != nil {
				return trace.Wrap(err)
			}
		}
		for _, groupname := range groups {
			if _, err := s.GetSiteGroup(ctx, sitename, groupname); err != nil {
				return trace.Wrap(err)
			}
		}
		return trace.Wrap(s.addRoleMembers(ctx, sitename, groups, users, role))
	})
	return trace.Wrap(err)
}

// GroupRemoveUserElement removes users from a role list across groups.
func (s *Store) GroupRemoveUserElement(ctx context.Context, sitename string, groups, users []string, role types.GroupRole) error {
	if err := role.Check(); err != nil {
		return trace.Wrap(err)
	}
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		for _, groupname := range groups {
			res, err := s.collection(collSiteGroups).UpdateOne(ctx,
				bson.M{"sitename": sitename, "groupname": groupname},
				bson.M{
					"$pull": bson.M{string(role): bson.M{"$in": users}},
					"$set":  bson.M{"ldap_synced": false},
				})
			if err != nil {
				return convertError(err)
			}
			if res.MatchedCount == 0 {
				return trace.NotFound("group %q is not attached to site %q", groupname, sitename)
			}
		}
		return nil
	})
	return trace.Wrap(err)
}

// addRoleMembers inserts users into one role list of each named group,
// creating the site group row if the site's configuration references a
// group not yet materialized there.
func (s *Store) addRoleMembers(ctx context.Context, sitename string, groups, users []string, role types.GroupRole) error {
	if len(groups) == 0 || len(users) == 0 {
		return nil
	}
	for _, groupname := range groups {
		_, err := s.collection(collSiteGroups).UpdateOne(ctx,
			bson.M{"sitename": sitename, "groupname": groupname},
			bson.M{
				"$addToSet":    bson.M{string(role): bson.M{"$each": users}},
				"$set":         bson.M{"ldap_synced": false},
				"$setOnInsert": bson.M{"sitename": sitename, "groupname": groupname},
			},
			options.Update().SetUpsert(true))
		if err != nil {
			return convertError(err)
		}
	}
	return nil
}

// SetGroupSlurm sets or clears the scheduler account limits of a site
// group.
func (s *Store) SetGroupSlurm(ctx context.Context, sitename, groupname string, limits *types.SlurmAccountLimits) error {
	update := bson.M{"$set": bson.M{"slurm": limits}}
	if limits == nil {
		update = bson.M{"$unset": bson.M{"slurm": ""}}
	}
	res, err := s.collection(collSiteGroups).UpdateOne(ctx,
		bson.M{"sitename": sitename, "groupname": groupname}, update)
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("group %q is not attached to site %q", groupname, sitename)
	}
	return nil
}

// SetGroupLDAPSynced flips a site group's directory sync flag.
func (s *Store) SetGroupLDAPSynced(ctx context.Context, sitename, groupname string, synced bool) error {
	res, err := s.collection(collSiteGroups).UpdateOne(ctx,
		bson.M{"sitename": sitename, "groupname": groupname},
		bson.M{"$set": bson.M{"ldap_synced": synced}})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("group %q is not attached to site %q", groupname, sitename)
	}
	return nil
}

// RemoveSiteGroup detaches a group from a site, removing the scheduler
// associations that reference it there.
func (s *Store) RemoveSiteGroup(ctx context.Context, sitename, groupname string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.collection(collSlurmAssocs).DeleteMany(ctx, bson.M{
			"sitename": sitename, "groupname": groupname,
		}); err != nil {
			return convertError(err)
		}
		res, err := s.collection(collSiteGroups).DeleteOne(ctx, bson.M{
			"sitename": sitename, "groupname": groupname,
		})
		if err != nil {
			return convertError(err)
		}
		if res.DeletedCount == 0 {
			return trace.NotFound("group %q is not attached to site %q", groupname, sitename)
		}
		return nil
	})
	return trace.Wrap(err)
}

// DeleteGlobalGroup removes a group everywhere: scheduler associations
// first, then site attachments, then the group itself.
func (s *Store) DeleteGlobalGroup(ctx context.Context, groupname string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.GetGlobalGroup(ctx, groupname); err != nil {
			return trace.Wrap(err)
		}
		if _, err := s.collection(collSlurmAssocs).DeleteMany(ctx, bson.M{"groupname": groupname}); err != nil {
			return convertError(err)
		}
		if _, err := s.collection(collSiteGroups).DeleteMany(ctx, bson.M{"groupname": groupname}); err != nil {
			return convertError(err)
		}
		if _, err := s.collection(collGroups).DeleteOne(ctx, bson.M{"groupname": groupname}); err != nil {
			return convertError(err)
		}
		return nil
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Deleted group", "groupname", groupname)
	return nil
}
