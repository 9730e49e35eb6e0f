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
	"github.com/gravitational/trace"
)

// GroupRole names a membership role list on a site group.
type GroupRole string

const (
	// RoleMembers is plain POSIX membership.
	RoleMembers GroupRole = "members"
	// RoleSponsors marks users who may sponsor accounts into the group.
	RoleSponsors GroupRole = "sponsors"
	// RoleSudoers marks users granted sudo within the group's hosts.
	RoleSudoers GroupRole = "sudoers"
	// RoleSlurmers marks users who submit scheduler jobs under the
	// group's account.
	RoleSlurmers GroupRole = "slurmers"
)

// Check validates the role value.
func (r GroupRole) Check() error {
	switch r {
	case RoleMembers, RoleSponsors, RoleSudoers, RoleSlurmers:
		return nil
	}
	return trace.BadParameter("group role %q is not supported", string(r))
}

// Set sets the value from a CLI flag string.
func (r *GroupRole) Set(v string) error {
	val := GroupRole(v)
	if err := val.Check(); err != nil {
		return trace.Wrap(err)
	}
	*r = val
	return nil
}

// String returns the wire representation of the role.
func (r *GroupRole) String() string { return string(*r) }

// GroupRoles lists every role in a stable order.
func GroupRoles() []GroupRole {
	return []GroupRole{RoleMembers, RoleSponsors, RoleSudoers, RoleSlurmers}
}

// GlobalGroup is the canonical group record.
type GlobalGroup struct {
	Groupname string    `yaml:"groupname" bson:"groupname" json:"groupname"`
	GID       int64     `yaml:"gid" bson:"gid" json:"gid"`
	Type      GroupType `yaml:"type" bson:"type" json:"type"`
	Owner     string    `yaml:"owner,omitempty" bson:"owner,omitempty" json:"owner,omitempty"`
}

// Check validates the record.
func (g *GlobalGroup) Check() error {
	if err := CheckPosixName(g.Groupname); err != nil {
		return trace.Wrap(err, "groupname")
	}
	if g.GID < 0 {
		return trace.BadParameter("group %q: gid must not be negative", g.Groupname)
	}
	if err := g.Type.Check(); err != nil {
		return trace.Wrap(err, "group %q", g.Groupname)
	}
	if g.Owner != "" {
		if err := CheckPosixName(g.Owner); err != nil {
			return trace.Wrap(err, "group %q owner", g.Groupname)
		}
	}
	return nil
}

// SiteGroup is the per-site view of a group: membership role lists and
// the scheduler account limits attached to the group on that site.
// Role lists reference site users of the same site.
type SiteGroup struct {
	Sitename   string              `yaml:"sitename" bson:"sitename" json:"sitename"`
	Groupname  string              `yaml:"groupname" bson:"groupname" json:"groupname"`
	Members    []string            `yaml:"members,omitempty" bson:"members,omitempty" json:"members,omitempty"`
	Sponsors   []string            `yaml:"sponsors,omitempty" bson:"sponsors,omitempty" json:"sponsors,omitempty"`
	Sudoers    []string            `yaml:"sudoers,omitempty" bson:"sudoers,omitempty" json:"sudoers,omitempty"`
	Slurmers   []string            `yaml:"slurmers,omitempty" bson:"slurmers,omitempty" json:"slurmers,omitempty"`
	Slurm      *SlurmAccountLimits `yaml:"slurm,omitempty" bson:"slurm,omitempty" json:"slurm,omitempty"`
	LDAPSynced bool                `yaml:"ldap_synced" bson:"ldap_synced" json:"ldap_synced"`
}

// Check validates the record.
func (sg *SiteGroup) Check() error {
	if err := CheckPosixName(sg.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if err := CheckPosixName(sg.Groupname); err != nil {
		return trace.Wrap(err, "groupname")
	}
	for _, role := range GroupRoles() {
		for _, member := range sg.Role(role) {
			if err := CheckPosixName(member); err != nil {
				return trace.Wrap(err, "group %s@%s %s", sg.Groupname, sg.Sitename, role)
			}
		}
	}
	return nil
}

// Normalize sorts and deduplicates every role list.
func (sg *SiteGroup) Normalize() {
	sg.Members = SortedSet(sg.Members)
	sg.Sponsors = SortedSet(sg.Sponsors)
	sg.Sudoers = SortedSet(sg.Sudoers)
	sg.Slurmers = SortedSet(sg.Slurmers)
}

// Role returns the named role list.
func (sg *SiteGroup) Role(role GroupRole) []string {
	switch role {
	case RoleMembers:
		return sg.Members
	case RoleSponsors:
		return sg.Sponsors
	case RoleSudoers:
		return sg.Sudoers
	case RoleSlurmers:
		return sg.Slurmers
	}
	return nil
}

// SetRole replaces the named role list.
func (sg *SiteGroup) SetRole(role GroupRole, users []string) {
	switch role {
	case RoleMembers:
		sg.Members = SortedSet(users)
	case RoleSponsors:
		sg.Sponsors = SortedSet(users)
	case RoleSudoers:
		sg.Sudoers = SortedSet(users)
	case RoleSlurmers:
		sg.Slurmers = SortedSet(users)
	}
}

// SlurmUsers returns the users who run scheduler jobs under this
// group's account: the union of members and slurmers.
func (sg *SiteGroup) SlurmUsers() []string {
	return SortedUnion(sg.Members, sg.Slurmers)
}
