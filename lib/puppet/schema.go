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
	"bytes"
	"slices"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto/lib/types"
)

// Legacy tag names carried on user records. Tags translate to access
// grants on import.
const (
	TagSSH     = "ssh-tag"
	TagRootSSH = "root-ssh-tag"
	TagSudo    = "sudo-tag"
)

// AdminGroupName marks its members as admin accounts on import.
const AdminGroupName = "hpccfgrp"

// noPassword is the legacy placeholder for "no password set".
const noPassword = "x"

// AutofsRecord is the autofs half of a legacy storage block: where the
// share lives and how it mounts.
type AutofsRecord struct {
	NAS     string   `yaml:"nas"`
	Path    string   `yaml:"path,omitempty"`
	Options []string `yaml:"options,omitempty"`
}

// ZFSRecord is the zfs half of a legacy storage block.
type ZFSRecord struct {
	Quota string `yaml:"quota,omitempty"`
}

// StorageRecord is a legacy user or share storage block. A block with
// a zfs section imports as a ZFS mount source; otherwise plain NFS.
type StorageRecord struct {
	Autofs *AutofsRecord `yaml:"autofs,omitempty"`
	ZFS    *ZFSRecord    `yaml:"zfs,omitempty"`
	Globus bool          `yaml:"globus,omitempty"`
}

// Kind returns the mount source kind the block imports as.
func (s *StorageRecord) Kind() types.MountKind {
	if s.ZFS != nil {
		return types.MountKindZFS
	}
	return types.MountKindNFS
}

// UserSlurmRecord is a user's scheduler block: the account groups the
// user submits jobs under.
type UserSlurmRecord struct {
	Account []string `yaml:"account,omitempty"`
}

// UserRecord is one legacy user declaration.
type UserRecord struct {
	Fullname string           `yaml:"fullname"`
	Email    string           `yaml:"email"`
	UID      *int64           `yaml:"uid"`
	GID      *int64           `yaml:"gid,omitempty"`
	Groups   []string         `yaml:"groups,omitempty"`
	Shell    string           `yaml:"shell,omitempty"`
	Tag      []string         `yaml:"tag,omitempty"`
	Home     string           `yaml:"home,omitempty"`
	Password string           `yaml:"password,omitempty"`
	SSHKeys  []string         `yaml:"ssh_keys,omitempty"`
	Expiry   string           `yaml:"expiry,omitempty"`
	Storage  *StorageRecord   `yaml:"storage,omitempty"`
	Slurm    *UserSlurmRecord `yaml:"slurm,omitempty"`
}

// HasTag reports whether the record carries a legacy tag.
func (u *UserRecord) HasTag(tag string) bool {
	return slices.Contains(u.Tag, tag)
}

// QOSSpec is the QOS slot of a partition entry: either a reference to
// a QOS declared elsewhere (a bare string) or an inline definition (a
// mapping).
type QOSSpec struct {
	// Ref names an existing QOS; empty when Inline is set.
	Ref string
	// Inline is a full QOS definition; nil when Ref is set.
	Inline *types.QOS
}

// UnmarshalYAML accepts a scalar name or an inline mapping.
func (q *QOSSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&q.Ref)
	case yaml.MappingNode:
		q.Inline = &types.QOS{}
		return node.Decode(q.Inline)
	}
	return trace.BadParameter("qos must be a name or a mapping (line %d)", node.Line)
}

// MarshalYAML renders the reference or the inline definition.
func (q QOSSpec) MarshalYAML() (any, error) {
	if q.Ref != "" {
		return q.Ref, nil
	}
	return q.Inline, nil
}

// PartitionRecord attaches a group to a partition with a QOS.
type PartitionRecord struct {
	QOS QOSSpec `yaml:"qos"`
}

// GroupSlurmRecord is a group's scheduler block: the account limits
// and the partitions the group is attached to.
type GroupSlurmRecord struct {
	MaxUserJobs   *int64                      `yaml:"max_user_jobs,omitempty"`
	MaxGroupJobs  *int64                      `yaml:"max_group_jobs,omitempty"`
	MaxSubmitJobs *int64                      `yaml:"max_submit_jobs,omitempty"`
	MaxJobLength  string                      `yaml:"max_job_length,omitempty"`
	Partitions    map[string]*PartitionRecord `yaml:"partitions,omitempty"`
}

// AccountLimits converts the block to canonical account limits.
func (g *GroupSlurmRecord) AccountLimits() *types.SlurmAccountLimits {
	limits := &types.SlurmAccountLimits{
		MaxUserJobs:   g.MaxUserJobs,
		MaxGroupJobs:  g.MaxGroupJobs,
		MaxSubmitJobs: g.MaxSubmitJobs,
		MaxJobLength:  g.MaxJobLength,
	}
	if limits.IsZero() {
		return nil
	}
	return limits
}

// GroupRecord is one legacy group declaration.
type GroupRecord struct {
	GID      *int64            `yaml:"gid"`
	Members  []string          `yaml:"members,omitempty"`
	Sponsors []string          `yaml:"sponsors,omitempty"`
	Sudoers  []string          `yaml:"sudoers,omitempty"`
	Slurm    *GroupSlurmRecord `yaml:"slurm,omitempty"`
	Storage  []*StorageRecord  `yaml:"storage,omitempty"`
}

// ShareRecord is a standalone legacy share declaration.
type ShareRecord struct {
	Owner   string         `yaml:"owner,omitempty"`
	Group   string         `yaml:"group,omitempty"`
	Storage *StorageRecord `yaml:"storage"`
}

// MetaRecord carries repository-level settings.
type MetaRecord struct {
	Sitename string `yaml:"sitename,omitempty"`
	FQDN     string `yaml:"fqdn,omitempty"`
}

// AccountMap is a parsed legacy account repository: users, groups, and
// shares keyed by name, plus repository metadata.
type AccountMap struct {
	Users  map[string]*UserRecord  `yaml:"user,omitempty"`
	Groups map[string]*GroupRecord `yaml:"group,omitempty"`
	Shares map[string]*ShareRecord `yaml:"share,omitempty"`
	Meta   *MetaRecord             `yaml:"meta,omitempty"`
}

// DecodeAccountMap converts a merged YAML tree into an account map,
// rejecting unknown fields so schema drift surfaces as an error with
// the offending path.
func DecodeAccountMap(tree any) (*AccountMap, error) {
	raw, err := yaml.Marshal(tree)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	m := &AccountMap{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, trace.BadParameter("account map does not match schema: %v", err)
	}
	return m, nil
}

// Validate checks every record for schema-level problems: missing
// required fields, bad names, unknown enum values. Errors name the
// entity they belong to.
func (m *AccountMap) Validate() error {
	var errs []error
	for _, username := range m.UserNames() {
		u := m.Users[username]
		if err := types.CheckPosixName(username); err != nil {
			errs = append(errs, trace.Wrap(err, "user.%s", username))
			continue
		}
		if u.UID == nil {
			errs = append(errs, trace.BadParameter("user.%s: uid is required", username))
		}
		if u.Email == "" {
			errs = append(errs, trace.BadParameter("user.%s: email is required", username))
		} else if err := types.CheckEmail(u.Email); err != nil {
			errs = append(errs, trace.Wrap(err, "user.%s", username))
		}
		if u.Fullname == "" {
			errs = append(errs, trace.BadParameter("user.%s: fullname is required", username))
		}
		if u.Shell != "" && types.CheckShell(u.Shell) != nil {
			errs = append(errs, trace.BadParameter("user.%s: shell %q is not a known shell", username, u.Shell))
		}
		for _, tag := range u.Tag {
			switch tag {
			case TagSSH, TagRootSSH, TagSudo:
			default:
				errs = append(errs, trace.BadParameter("user.%s: tag %q is not recognized", username, tag))
			}
		}
		if u.Storage != nil {
			if err := validateStorageRecord(u.Storage); err != nil {
				errs = append(errs, trace.Wrap(err, "user.%s.storage", username))
			}
		}
	}
	for _, groupname := range m.GroupNames() {
		g := m.Groups[groupname]
		if err := types.CheckPosixName(groupname); err != nil {
			errs = append(errs, trace.Wrap(err, "group.%s", groupname))
			continue
		}
		if g.GID == nil {
			errs = append(errs, trace.BadParameter("group.%s: gid is required", groupname))
		}
		if g.Slurm != nil {
			for partition, rec := range g.Slurm.Partitions {
				if rec == nil {
					errs = append(errs, trace.BadParameter("group.%s.slurm.partitions.%s: entry is empty", groupname, partition))
					continue
				}
				if rec.QOS.Ref == "" && rec.QOS.Inline == nil {
					errs = append(errs, trace.BadParameter("group.%s.slurm.partitions.%s: qos is required", groupname, partition))
				}
				if rec.QOS.Inline != nil {
					if err := rec.QOS.Inline.Check(); err != nil {
						errs = append(errs, trace.Wrap(err, "group.%s.slurm.partitions.%s", groupname, partition))
					}
				}
			}
		}
	}
	for name, share := range m.Shares {
		if share.Storage == nil {
			errs = append(errs, trace.BadParameter("share.%s: storage is required", name))
			continue
		}
		if err := validateStorageRecord(share.Storage); err != nil {
			errs = append(errs, trace.Wrap(err, "share.%s.storage", name))
		}
	}
	return trace.NewAggregate(errs...)
}

func validateStorageRecord(s *StorageRecord) error {
	if s.Autofs == nil {
		return trace.BadParameter("autofs section is required")
	}
	if s.Autofs.NAS == "" {
		return trace.BadParameter("autofs.nas is required")
	}
	if s.ZFS != nil && s.ZFS.Quota != "" {
		if err := types.CheckQuota(s.ZFS.Quota); err != nil {
			return trace.Wrap(err, "zfs.quota")
		}
	}
	return nil
}

// ValidateSponsors checks that every group sponsor is a declared user.
// Opt-in: repositories that pull sponsors from another source skip it.
func (m *AccountMap) ValidateSponsors() error {
	var errs []error
	for _, groupname := range m.GroupNames() {
		for _, sponsor := range m.Groups[groupname].Sponsors {
			if _, ok := m.Users[sponsor]; !ok {
				errs = append(errs, trace.BadParameter("group.%s: sponsor %q is not a declared user", groupname, sponsor))
			}
		}
	}
	return trace.NewAggregate(errs...)
}

// ValidateUserGroups checks that every group a user lists is declared.
func (m *AccountMap) ValidateUserGroups() error {
	var errs []error
	for _, username := range m.UserNames() {
		for _, groupname := range m.Users[username].Groups {
			if _, ok := m.Groups[groupname]; !ok {
				errs = append(errs, trace.BadParameter("user.%s: group %q is not declared", username, groupname))
			}
		}
	}
	return trace.NewAggregate(errs...)
}

// UserNames lists declared users sorted by name.
func (m *AccountMap) UserNames() []string {
	return sortedMapKeys(m.Users)
}

// GroupNames lists declared groups sorted by name.
func (m *AccountMap) GroupNames() []string {
	return sortedMapKeys(m.Groups)
}

// ShareNames lists declared shares sorted by name.
func (m *AccountMap) ShareNames() []string {
	return sortedMapKeys(m.Shares)
}

// Dump renders the map as diff-stable YAML: mapping keys sorted,
// set-valued lists sorted, empty sections omitted.
func (m *AccountMap) Dump() ([]byte, error) {
	for _, u := range m.Users {
		u.Groups = types.SortedSet(u.Groups)
		u.Tag = types.SortedSet(u.Tag)
	}
	for _, g := range m.Groups {
		g.Members = types.SortedSet(g.Members)
		g.Sponsors = types.SortedSet(g.Sponsors)
		g.Sudoers = types.SortedSet(g.Sudoers)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf.Bytes(), nil
}

func sortedMapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// qosRefName resolves the name a partition entry's QOS imports under:
// the explicit reference, or the canonical inline name.
func qosRefName(groupname, partition string, spec QOSSpec) string {
	if spec.Ref != "" {
		return spec.Ref
	}
	return types.QOSName(groupname, partition)
}
