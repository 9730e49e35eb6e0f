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
	"time"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// CreateUserParams are the inputs to CreateUser. Zero-valued optional
// fields take defaults: gid=uid, type=user, shell=DefaultShell,
// status=active.
type CreateUserParams struct {
	Username string
	Email    string
	UID      int64
	FullName string

	GID    *int64
	Type   types.UserType
	Shell  string
	Status types.UserStatus
	// Password is hashed before storage. HashedPassword carries an
	// existing crypt hash through imports untouched; the two are
	// mutually exclusive.
	Password       string
	HashedPassword string
	SSHKeys        []string
	Access         []types.Access
	IAMID          string
	// Sitenames optionally attaches the new user to sites, with the
	// same semantics as AddSiteUser.
	Sitenames []string
}

// CheckAndSetDefaults validates parameters and fills defaults.
func (p *CreateUserParams) CheckAndSetDefaults() error {
	if err := types.CheckPosixName(p.Username); err != nil {
		return trace.Wrap(err)
	}
	if p.Type == "" {
		p.Type = types.UserTypeUser
	}
	if p.Shell == "" {
		p.Shell = defaults.DefaultShell
	}
	if p.Status == "" {
		p.Status = types.UserStatusActive
	}
	if p.Password != "" && p.HashedPassword != "" {
		return trace.BadParameter("user %q: both cleartext and hashed passwords given", p.Username)
	}
	for _, key := range p.SSHKeys {
		if err := types.CheckSSHKey(key); err != nil {
			return trace.Wrap(err, "user %q", p.Username)
		}
	}
	return nil
}

// buildUser materializes the record from parameters, hashing any
// cleartext password.
func buildUser(p CreateUserParams) (*types.GlobalUser, error) {
	gid := p.UID
	if p.GID != nil {
		gid = *p.GID
	}
	user := &types.GlobalUser{
		Username:      p.Username,
		UID:           p.UID,
		GID:           gid,
		Email:         p.Email,
		FullName:      p.FullName,
		Shell:         p.Shell,
		HomeDirectory: defaults.HomeBaseDir + "/" + p.Username,
		Type:          p.Type,
		Status:        p.Status,
		Password:      p.HashedPassword,
		SSHKeys:       p.SSHKeys,
		Access:        p.Access,
		IAMID:         p.IAMID,
	}
	if p.Password != "" {
		hash, err := types.HashPassword(p.Password)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		user.Password = hash
	}
	user.Normalize()
	if err := user.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// CreateUser creates a GlobalUser together with its per-user global
// group and search index row, optionally attaching it to sites. The
// whole operation is atomic.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (*types.GlobalUser, error) {
	if err := p.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := buildUser(p)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.createUserTx(ctx, user, p.Sitenames)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Created user",
		"username", user.Username, "uid", user.UID, "type", user.Type)
	return user, nil
}

// createUserTx is the transaction body of CreateUser, reusable inside
// larger transactions.
func (s *Store) createUserTx(ctx context.Context, user *types.GlobalUser, sitenames []string) error {
	if _, err := s.collection(collUsers).InsertOne(ctx, user); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("user %q already exists", user.Username)
		}
		return convertError(err)
	}
	group := &types.GlobalGroup{
		Groupname: user.Username,
		GID:       user.GID,
		Type:      types.GroupTypeUser,
		Owner:     user.Username,
	}
	if _, err := s.collection(collGroups).InsertOne(ctx, group); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("group %q already exists", group.Groupname)
		}
		return convertError(err)
	}
	if err := s.upsertUserSearch(ctx, user); err != nil {
		return trace.Wrap(err)
	}
	for _, sitename := range sitenames {
		if err := s.addSiteUser(ctx, sitename, user.Username); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// CreateSystemUser allocates a system-range UID and creates a system
// user with the default access grants.
func (s *Store) CreateSystemUser(ctx context.Context, username, email, fullname string) (*types.GlobalUser, error) {
	return s.createRangedUser(ctx, username, email, fullname, types.UserTypeSystem,
		defaults.MinSystemUID, defaults.MinSystemUID+defaults.IDRangeWidth)
}

// CreateClassUser allocates a class-range UID and creates a class
// user with the default access grants.
func (s *Store) CreateClassUser(ctx context.Context, username, email, fullname string) (*types.GlobalUser, error) {
	return s.createRangedUser(ctx, username, email, fullname, types.UserTypeClass,
		defaults.MinClassID, defaults.MinClassID+defaults.IDRangeWidth)
}

func (s *Store) createRangedUser(ctx context.Context, username, email, fullname string, utype types.UserType, floor, ceil int64) (*types.GlobalUser, error) {
	p := CreateUserParams{
		Username: username,
		Email:    email,
		FullName: fullname,
		Type:     utype,
		Access:   []types.Access{types.AccessLoginSSH, types.AccessComputeSSH},
	}
	if err := p.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	var user *types.GlobalUser
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		uid, err := s.nextIDInRange(ctx, collUsers, "uid", floor, ceil)
		if err != nil {
			return trace.Wrap(err)
		}
		p.UID = uid
		user, err = buildUser(p)
		if err != nil {
			return trace.Wrap(err)
		}
		return s.createUserTx(ctx, user, nil)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Created user",
		"username", user.Username, "uid", user.UID, "type", user.Type)
	return user, nil
}

// GetGlobalUser fetches a user by username.
func (s *Store) GetGlobalUser(ctx context.Context, username string) (*types.GlobalUser, error) {
	var user types.GlobalUser
	err := s.collection(collUsers).FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("user %q does not exist", username)
		}
		return nil, convertError(err)
	}
	return &user, nil
}

// GetGlobalUserByUID fetches a user by UID.
func (s *Store) GetGlobalUserByUID(ctx context.Context, uid int64) (*types.GlobalUser, error) {
	var user types.GlobalUser
	err := s.collection(collUsers).FindOne(ctx, bson.M{"uid": uid}).Decode(&user)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("no user has uid %d", uid)
		}
		return nil, convertError(err)
	}
	return &user, nil
}

// ListUsersFilter narrows ListGlobalUsers.
type ListUsersFilter struct {
	Type   types.UserType
	Status types.UserStatus
	// NotLDAPSynced selects users whose directory entry is stale.
	NotLDAPSynced bool
	// NeedsIAMSync selects users eligible for identity API sync:
	// iam_synced false and iam_has_entry not known-false.
	NeedsIAMSync bool
}

// ListGlobalUsers lists users matching the filter, ordered by
// username.
func (s *Store) ListGlobalUsers(ctx context.Context, filter ListUsersFilter) ([]*types.GlobalUser, error) {
	q := bson.M{}
	if filter.Type != "" {
		q["type"] = filter.Type
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.NotLDAPSynced {
		q["ldap_synced"] = false
	}
	if filter.NeedsIAMSync {
		q["iam_synced"] = false
		q["iam_has_entry"] = bson.M{"$ne": false}
	}
	cursor, err := s.collection(collUsers).Find(ctx, q,
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var users []*types.GlobalUser
	if err := cursor.All(ctx, &users); err != nil {
		return nil, convertError(err)
	}
	return users, nil
}

// AddSiteUser attaches a user to a site: a SiteUser row plus the
// per-user SiteGroup with the user as its only member, then the site's
// global-group memberships. Atomic.
func (s *Store) AddSiteUser(ctx context.Context, sitename, username string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.addSiteUser(ctx, sitename, username)
	})
	return trace.Wrap(err)
}

// addSiteUser is the transaction body of AddSiteUser, reusable inside
// larger transactions.
func (s *Store) addSiteUser(ctx context.Context, sitename, username string) error {
	site, err := s.GetSite(ctx, sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetGlobalUser(ctx, username); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetGlobalGroup(ctx, username); err != nil {
		return trace.Wrap(err)
	}

	siteUser := &types.SiteUser{
		Sitename:    sitename,
		Username:    username,
		LocalStatus: types.UserStatusActive,
	}
	if _, err := s.collection(collSiteUsers).InsertOne(ctx, siteUser); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("user %q is already attached to site %q", username, sitename)
		}
		return convertError(err)
	}

	siteGroup := &types.SiteGroup{
		Sitename:  sitename,
		Groupname: username,
		Members:   []string{username},
	}
	if _, err := s.collection(collSiteGroups).InsertOne(ctx, siteGroup); err != nil {
		// The per-user site group can predate the site user when a
		// user is re-attached; membership still must hold.
		if !trace.IsAlreadyExists(convertError(err)) {
			return convertError(err)
		}
		if err := s.addRoleMembers(ctx, sitename, []string{username}, []string{username}, types.RoleMembers); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := s.applySiteGlobals(ctx, site, []string{username}); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.clearUserSynced(ctx, username))
}

// RemoveSiteUser detaches a user from a site, pulling it from every
// role list there.
func (s *Store) RemoveSiteUser(ctx context.Context, sitename, username string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.pullUserFromSiteGroups(ctx, sitename, username); err != nil {
			return trace.Wrap(err)
		}
		res, err := s.collection(collSiteUsers).DeleteOne(ctx, bson.M{
			"sitename": sitename, "username": username,
		})
		if err != nil {
			return convertError(err)
		}
		if res.DeletedCount == 0 {
			return trace.NotFound("user %q is not attached to site %q", username, sitename)
		}
		return trace.Wrap(s.clearUserSynced(ctx, username))
	})
	return trace.Wrap(err)
}

// DeleteGlobalUser removes a user and cascades: site users are
// deleted, role-list references pulled, and the search row dropped.
func (s *Store) DeleteGlobalUser(ctx context.Context, username string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.GetGlobalUser(ctx, username); err != nil {
			return trace.Wrap(err)
		}
		if err := s.pullUserFromSiteGroups(ctx, "", username); err != nil {
			return trace.Wrap(err)
		}
		if _, err := s.collection(collSiteUsers).DeleteMany(ctx, bson.M{"username": username}); err != nil {
			return convertError(err)
		}
		if _, err := s.collection(collUserSearch).DeleteOne(ctx, bson.M{"username": username}); err != nil {
			return convertError(err)
		}
		if _, err := s.collection(collUsers).DeleteOne(ctx, bson.M{"username": username}); err != nil {
			return convertError(err)
		}
		return nil
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Deleted user", "username", username)
	return nil
}

// pullUserFromSiteGroups removes username from every role list,
// optionally limited to one site.
func (s *Store) pullUserFromSiteGroups(ctx context.Context, sitename, username string) error {
	filter := bson.M{"$or": []bson.M{
		{"members": username},
		{"sponsors": username},
		{"sudoers": username},
		{"slurmers": username},
	}}
	if sitename != "" {
		filter["sitename"] = sitename
	}
	update := bson.M{
		"$pull": bson.M{
			"members":  username,
			"sponsors": username,
			"sudoers":  username,
			"slurmers": username,
		},
		"$set": bson.M{"ldap_synced": false},
	}
	if _, err := s.collection(collSiteGroups).UpdateMany(ctx, filter, update); err != nil {
		return convertError(err)
	}
	return nil
}

// SetUserStatus updates the status at the global or, when sitename is
// given, site scope, and appends a timestamped comment recording the
// reason.
func (s *Store) SetUserStatus(ctx context.Context, username string, status types.UserStatus, reason, sitename string) error {
	if err := status.Check(); err != nil {
		return trace.Wrap(err)
	}
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if sitename == "" {
			if err := s.updateUser(ctx, username, bson.M{"status": status}); err != nil {
				return trace.Wrap(err)
			}
		} else {
			res, err := s.collection(collSiteUsers).UpdateOne(ctx,
				bson.M{"sitename": sitename, "username": username},
				bson.M{"$set": bson.M{"status": status}})
			if err != nil {
				return convertError(err)
			}
			if res.MatchedCount == 0 {
				return trace.NotFound("user %q is not attached to site %q", username, sitename)
			}
			if err := s.clearUserSynced(ctx, username); err != nil {
				return trace.Wrap(err)
			}
		}
		comment := fmt.Sprintf("[%s] status=%s: %s",
			s.clock.Now().UTC().Format(time.RFC3339), status, reason)
		return trace.Wrap(s.AddUserComment(ctx, username, comment))
	})
	return trace.Wrap(err)
}

// SetUserShell updates the login shell.
func (s *Store) SetUserShell(ctx context.Context, username, shell string) error {
	if err := types.CheckShell(shell); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.updateUser(ctx, username, bson.M{"shell": shell}))
}

// SetUserType updates the account type.
func (s *Store) SetUserType(ctx context.Context, username string, utype types.UserType) error {
	if err := utype.Check(); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.updateUser(ctx, username, bson.M{"type": utype}))
}

// SetUserPassword hashes and stores a new password. An empty password
// clears the stored hash.
func (s *Store) SetUserPassword(ctx context.Context, username, password string) error {
	if password == "" {
		return trace.Wrap(s.updateUser(ctx, username, bson.M{"password": ""}))
	}
	hash, err := types.HashPassword(password)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.updateUser(ctx, username, bson.M{"password": hash}))
}

// SetUserSSHKeys replaces the user's key list.
func (s *Store) SetUserSSHKeys(ctx context.Context, username string, keys []string) error {
	for _, key := range keys {
		if err := types.CheckSSHKey(key); err != nil {
			return trace.Wrap(err)
		}
	}
	return trace.Wrap(s.updateUser(ctx, username, bson.M{"ssh_keys": keys}))
}

// AddUserAccess grants an access at the global or site scope.
func (s *Store) AddUserAccess(ctx context.Context, username string, access types.Access, sitename string) error {
	return trace.Wrap(s.editUserAccess(ctx, username, access, sitename, "$addToSet"))
}

// RemoveUserAccess revokes an access at the global or site scope.
func (s *Store) RemoveUserAccess(ctx context.Context, username string, access types.Access, sitename string) error {
	return trace.Wrap(s.editUserAccess(ctx, username, access, sitename, "$pull"))
}

func (s *Store) editUserAccess(ctx context.Context, username string, access types.Access, sitename, op string) error {
	if err := access.Check(); err != nil {
		return trace.Wrap(err)
	}
	if sitename == "" {
		update := bson.M{
			op:     bson.M{"access": access},
			"$set": bson.M{"ldap_synced": false},
		}
		res, err := s.collection(collUsers).UpdateOne(ctx, bson.M{"username": username}, update)
		if err != nil {
			return convertError(err)
		}
		if res.MatchedCount == 0 {
			return trace.NotFound("user %q does not exist", username)
		}
		return nil
	}
	res, err := s.collection(collSiteUsers).UpdateOne(ctx,
		bson.M{"sitename": sitename, "username": username},
		bson.M{op: bson.M{"access": access}})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("user %q is not attached to site %q", username, sitename)
	}
	return trace.Wrap(s.clearUserSynced(ctx, username))
}

// AddUserComment appends to the user's comment trail. Comments do not
// reach the directory, so the sync flag stays put.
func (s *Store) AddUserComment(ctx context.Context, username, comment string) error {
	res, err := s.collection(collUsers).UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$push": bson.M{"comments": comment}})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("user %q does not exist", username)
	}
	return nil
}

// SetUserLDAPSynced flips the directory sync flag without touching
// anything else.
func (s *Store) SetUserLDAPSynced(ctx context.Context, username string, synced bool) error {
	res, err := s.collection(collUsers).UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"ldap_synced": synced}})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("user %q does not exist", username)
	}
	return nil
}

// UpdateUserIAM records the outcome of an identity API pass: fresh
// fullname and colleges when they differ, the resolved iam_id, and the
// sync flags. Atomic per user.
func (s *Store) UpdateUserIAM(ctx context.Context, username string, iamID string, hasEntry bool, fullname string, colleges []string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		user, err := s.GetGlobalUser(ctx, username)
		if err != nil {
			return trace.Wrap(err)
		}
		set := bson.M{
			"iam_has_entry": hasEntry,
			"iam_synced":    true,
		}
		if iamID != "" && iamID != user.IAMID {
			set["iam_id"] = iamID
		}
		changed := false
		if fullname != "" && fullname != user.FullName {
			set["fullname"] = fullname
			changed = true
		}
		if colleges != nil {
			set["colleges"] = types.SortedSet(colleges)
		}
		if changed {
			// A fullname change must reach the directory.
			set["ldap_synced"] = false
		}
		if _, err := s.collection(collUsers).UpdateOne(ctx,
			bson.M{"username": username}, bson.M{"$set": set}); err != nil {
			return convertError(err)
		}
		if changed {
			user.FullName = fullname
			if err := s.upsertUserSearch(ctx, user); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	})
	return trace.Wrap(err)
}

// updateUser applies a $set mutation to a user, clearing the directory
// sync flag in the same write.
func (s *Store) updateUser(ctx context.Context, username string, set bson.M) error {
	set["ldap_synced"] = false
	res, err := s.collection(collUsers).UpdateOne(ctx,
		bson.M{"username": username}, bson.M{"$set": set})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("user %q does not exist", username)
	}
	return nil
}

// clearUserSynced clears the parent user's directory sync flag after a
// site-scoped mutation.
func (s *Store) clearUserSynced(ctx context.Context, username string) error {
	_, err := s.collection(collUsers).UpdateOne(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"ldap_synced": false}})
	return convertError(err)
}

// GetSiteUser fetches one site attachment.
func (s *Store) GetSiteUser(ctx context.Context, sitename, username string) (*types.SiteUser, error) {
	var su types.SiteUser
	err := s.collection(collSiteUsers).FindOne(ctx, bson.M{
		"sitename": sitename, "username": username,
	}).Decode(&su)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("user %q is not attached to site %q", username, sitename)
		}
		return nil, convertError(err)
	}
	return &su, nil
}

// ListSiteUsers lists the site's users ordered by username.
func (s *Store) ListSiteUsers(ctx context.Context, sitename string) ([]*types.SiteUser, error) {
	cursor, err := s.collection(collSiteUsers).Find(ctx,
		bson.M{"sitename": sitename},
		options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var users []*types.SiteUser
	if err := cursor.All(ctx, &users); err != nil {
		return nil, convertError(err)
	}
	return users, nil
}

// UserGroups lists the site groups where the user holds any role.
func (s *Store) UserGroups(ctx context.Context, sitename, username string) ([]*types.SiteGroup, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"members": username},
			{"sponsors": username},
			{"sudoers": username},
			{"slurmers": username},
		},
	}
	if sitename != "" {
		filter["sitename"] = sitename
	}
	cursor, err := s.collection(collSiteGroups).Find(ctx, filter,
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

// GenerateUserPasswords rolls fresh passwords for the given users and
// returns (username, cleartext) pairs; hashes land in the store.
func (s *Store) GenerateUserPasswords(ctx context.Context, usernames []string) (map[string]string, error) {
	out := make(map[string]string, len(usernames))
	for _, username := range usernames {
		password, err := types.GeneratePassword(defaults.ClassUserPasswordBytes)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if err := s.SetUserPassword(ctx, username, password); err != nil {
			return nil, trace.Wrap(err)
		}
		out[username] = password
	}
	return out, nil
}
