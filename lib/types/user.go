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

package types

import (
	"slices"
	"time"

	"github.com/gravitational/trace"
)

// GlobalUser is the canonical account record. Site-independent fields
// live here; per-site state lives on SiteUser rows keyed by
// (sitename, username).
type GlobalUser struct {
	Username      string     `yaml:"username" bson:"username" json:"username"`
	UID           int64      `yaml:"uid" bson:"uid" json:"uid"`
	GID           int64      `yaml:"gid" bson:"gid" json:"gid"`
	Email         string     `yaml:"email" bson:"email" json:"email"`
	FullName      string     `yaml:"fullname" bson:"fullname" json:"fullname"`
	Shell         string     `yaml:"shell" bson:"shell" json:"shell"`
	HomeDirectory string     `yaml:"home_directory" bson:"home_directory" json:"home_directory"`
	Type          UserType   `yaml:"type" bson:"type" json:"type"`
	Status        UserStatus `yaml:"status" bson:"status" json:"status"`
	Password      string     `yaml:"password,omitempty" bson:"password,omitempty" json:"password,omitempty"`
	SSHKeys       []string   `yaml:"ssh_keys,omitempty" bson:"ssh_keys,omitempty" json:"ssh_keys,omitempty"`
	Access        []Access   `yaml:"access,omitempty" bson:"access,omitempty" json:"access,omitempty"`
	Comments      []string   `yaml:"comments,omitempty" bson:"comments,omitempty" json:"comments,omitempty"`
	IAMID         string     `yaml:"iam_id,omitempty" bson:"iam_id,omitempty" json:"iam_id,omitempty"`
	IAMHasEntry   *bool      `yaml:"iam_has_entry,omitempty" bson:"iam_has_entry,omitempty" json:"iam_has_entry,omitempty"`
	Colleges      []string   `yaml:"colleges,omitempty" bson:"colleges,omitempty" json:"colleges,omitempty"`
	LDAPSynced    bool       `yaml:"ldap_synced" bson:"ldap_synced" json:"ldap_synced"`
	IAMSynced     bool       `yaml:"iam_synced" bson:"iam_synced" json:"iam_synced"`
}

// Check validates the record.
func (u *GlobalUser) Check() error {
	if err := CheckPosixName(u.Username); err != nil {
		return trace.Wrap(err, "username")
	}
	if u.UID < 0 {
		return trace.BadParameter("user %q: uid must not be negative", u.Username)
	}
	if u.GID < 0 {
		return trace.BadParameter("user %q: gid must not be negative", u.Username)
	}
	if err := CheckEmail(u.Email); err != nil {
		return trace.Wrap(err, "user %q", u.Username)
	}
	if u.FullName == "" {
		return trace.BadParameter("user %q: fullname is empty", u.Username)
	}
	if err := CheckShell(u.Shell); err != nil {
		return trace.Wrap(err, "user %q", u.Username)
	}
	if u.HomeDirectory == "" {
		return trace.BadParameter("user %q: home_directory is empty", u.Username)
	}
	if err := u.Type.Check(); err != nil {
		return trace.Wrap(err, "user %q", u.Username)
	}
	if err := u.Status.Check(); err != nil {
		return trace.Wrap(err, "user %q", u.Username)
	}
	for _, a := range u.Access {
		if err := a.Check(); err != nil {
			return trace.Wrap(err, "user %q", u.Username)
		}
	}
	return nil
}

// Normalize sorts and deduplicates set-valued fields.
func (u *GlobalUser) Normalize() {
	u.Access = sortedAccess(u.Access)
	u.Colleges = SortedSet(u.Colleges)
}

// HasAccess reports whether the user carries the given global access.
func (u *GlobalUser) HasAccess(a Access) bool {
	return slices.Contains(u.Access, a)
}

// SiteUser is the per-site view of an account. Local status and access
// combine with the parent record: local access adds to global access,
// and a non-active global status overrides the local one.
type SiteUser struct {
	Sitename    string     `yaml:"sitename" bson:"sitename" json:"sitename"`
	Username    string     `yaml:"username" bson:"username" json:"username"`
	Expiry      *time.Time `yaml:"expiry,omitempty" bson:"expiry,omitempty" json:"expiry,omitempty"`
	LocalStatus UserStatus `yaml:"status" bson:"status" json:"status"`
	LocalAccess []Access   `yaml:"access,omitempty" bson:"access,omitempty" json:"access,omitempty"`
}

// Check validates the record.
func (su *SiteUser) Check() error {
	if err := CheckPosixName(su.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if err := CheckPosixName(su.Username); err != nil {
		return trace.Wrap(err, "username")
	}
	if err := su.LocalStatus.Check(); err != nil {
		return trace.Wrap(err, "site user %s@%s", su.Username, su.Sitename)
	}
	for _, a := range su.LocalAccess {
		if err := a.Check(); err != nil {
			return trace.Wrap(err, "site user %s@%s", su.Username, su.Sitename)
		}
	}
	return nil
}

// EffectiveStatus is the parent status unless the parent is active, in
// which case the site-local status decides.
func (su *SiteUser) EffectiveStatus(parent *GlobalUser) UserStatus {
	if parent.Status != UserStatusActive {
		return parent.Status
	}
	return su.LocalStatus
}

// EffectiveAccess is the union of the parent's access set and the
// site-local one, sorted.
func (su *SiteUser) EffectiveAccess(parent *GlobalUser) []Access {
	merged := make([]Access, 0, len(parent.Access)+len(su.LocalAccess))
	merged = append(merged, parent.Access...)
	merged = append(merged, su.LocalAccess...)
	return sortedAccess(merged)
}

func sortedAccess(in []Access) []Access {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
