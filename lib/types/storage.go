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
	"net/netip"
	"strings"

	"github.com/gravitational/trace"
)

// MountKind distinguishes storage backends.
type MountKind string

const (
	// MountKindNFS is a plain NFS export.
	MountKindNFS MountKind = "nfs"
	// MountKindZFS is a ZFS dataset exported over NFS; it adds a
	// dataset quota to the NFS shape.
	MountKindZFS MountKind = "zfs"
)

// Check validates the mount kind.
func (k MountKind) Check() error {
	switch k {
	case MountKindNFS, MountKindZFS:
		return nil
	}
	return trace.BadParameter("mount kind %q is not supported", string(k))
}

// String returns the wire representation of the mount kind.
func (k MountKind) String() string { return string(k) }

// mountOptionFlags are the bare autofs/NFS mount options accepted on
// automount tables and instances.
var mountOptionFlags = map[string]struct{}{
	"rw": {}, "ro": {}, "hard": {}, "soft": {}, "intr": {}, "nointr": {},
	"bg": {}, "fg": {}, "async": {}, "sync": {}, "nosuid": {}, "suid": {},
	"nodev": {}, "dev": {}, "noexec": {}, "exec": {}, "noatime": {},
	"atime": {}, "nodiratime": {}, "relatime": {}, "tcp": {}, "udp": {},
	"noquota": {}, "quota": {}, "fstype=nfs": {},
}

// mountOptionPrefixes are the parameterized mount options; anything
// after the '=' is accepted.
var mountOptionPrefixes = []string{
	"vers=", "nfsvers=", "proto=", "rsize=", "wsize=", "timeo=",
	"retrans=", "retry=", "sec=", "port=", "fstype=",
}

// exportOptionFlags are the bare NFS export options accepted on mount
// sources and source collections.
var exportOptionFlags = map[string]struct{}{
	"rw": {}, "ro": {}, "sync": {}, "async": {}, "crossmnt": {},
	"no_subtree_check": {}, "subtree_check": {}, "no_root_squash": {},
	"root_squash": {}, "all_squash": {}, "secure": {}, "insecure": {},
	"wdelay": {}, "no_wdelay": {},
}

var exportOptionPrefixes = []string{
	"sec=", "anonuid=", "anongid=", "fsid=",
}

// CheckMountOption validates one autofs/NFS mount option.
func CheckMountOption(opt string) error {
	if _, ok := mountOptionFlags[opt]; ok {
		return nil
	}
	for _, prefix := range mountOptionPrefixes {
		if strings.HasPrefix(opt, prefix) && len(opt) > len(prefix) {
			return nil
		}
	}
	return trace.BadParameter("mount option %q is not supported", opt)
}

// CheckExportOption validates one NFS export option.
func CheckExportOption(opt string) error {
	if _, ok := exportOptionFlags[opt]; ok {
		return nil
	}
	for _, prefix := range exportOptionPrefixes {
		if strings.HasPrefix(opt, prefix) && len(opt) > len(prefix) {
			return nil
		}
	}
	return trace.BadParameter("export option %q is not supported", opt)
}

// CheckExportRange validates one export client range: a CIDR prefix, a
// single address, or a hostname glob.
func CheckExportRange(r string) error {
	if r == "" {
		return trace.BadParameter("export range is empty")
	}
	if _, err := netip.ParsePrefix(r); err == nil {
		return nil
	}
	if _, err := netip.ParseAddr(r); err == nil {
		return nil
	}
	for _, ch := range r {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9',
			ch == '.', ch == '-', ch == '*':
		default:
			return trace.BadParameter("export range %q is not a CIDR, address, or hostname glob", r)
		}
	}
	return nil
}

func checkMountOptions(opts []string) error {
	for _, o := range opts {
		if err := CheckMountOption(o); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// MountSource is the server side of a storage: an exported path on a
// host. ZFS sources additionally carry a dataset quota. Sources may
// inherit defaults from a named SourceCollection.
type MountSource struct {
	Sitename      string    `yaml:"sitename" bson:"sitename" json:"sitename"`
	Name          string    `yaml:"name" bson:"name" json:"name"`
	Kind          MountKind `yaml:"kind" bson:"kind" json:"kind"`
	Host          string    `yaml:"host,omitempty" bson:"host,omitempty" json:"host,omitempty"`
	HostPath      string    `yaml:"host_path,omitempty" bson:"host_path,omitempty" json:"host_path,omitempty"`
	Owner         string    `yaml:"owner,omitempty" bson:"owner,omitempty" json:"owner,omitempty"`
	Group         string    `yaml:"group,omitempty" bson:"group,omitempty" json:"group,omitempty"`
	Collection    string    `yaml:"collection,omitempty" bson:"collection,omitempty" json:"collection,omitempty"`
	Quota         string    `yaml:"quota,omitempty" bson:"quota,omitempty" json:"quota,omitempty"`
	ExportOptions []string  `yaml:"export_options,omitempty" bson:"export_options,omitempty" json:"export_options,omitempty"`
	ExportRanges  []string  `yaml:"export_ranges,omitempty" bson:"export_ranges,omitempty" json:"export_ranges,omitempty"`
}

// Check validates the record. A source must either name a collection
// that supplies its defaults or carry host and host_path itself.
func (m *MountSource) Check() error {
	if err := CheckPosixName(m.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if m.Name == "" {
		return trace.BadParameter("mount source name is empty")
	}
	if err := m.Kind.Check(); err != nil {
		return trace.Wrap(err, "mount source %q", m.Name)
	}
	if m.Collection == "" && (m.Host == "" || m.HostPath == "") {
		return trace.BadParameter("mount source %q needs a collection or a host and host_path", m.Name)
	}
	if m.Quota != "" {
		if m.Kind != MountKindZFS {
			return trace.BadParameter("mount source %q: quota requires the zfs kind", m.Name)
		}
		if err := CheckQuota(m.Quota); err != nil {
			return trace.Wrap(err, "mount source %q", m.Name)
		}
	}
	for _, o := range m.ExportOptions {
		if err := CheckExportOption(o); err != nil {
			return trace.Wrap(err, "mount source %q", m.Name)
		}
	}
	for _, r := range m.ExportRanges {
		if err := CheckExportRange(r); err != nil {
			return trace.Wrap(err, "mount source %q", m.Name)
		}
	}
	return nil
}

// SourceCollection is a named pool supplying defaults to its member
// mount sources: host, path prefix, quota, and export settings.
type SourceCollection struct {
	Sitename      string    `yaml:"sitename" bson:"sitename" json:"sitename"`
	Name          string    `yaml:"name" bson:"name" json:"name"`
	Kind          MountKind `yaml:"kind" bson:"kind" json:"kind"`
	Host          string    `yaml:"host,omitempty" bson:"host,omitempty" json:"host,omitempty"`
	Prefix        string    `yaml:"prefix,omitempty" bson:"prefix,omitempty" json:"prefix,omitempty"`
	Quota         string    `yaml:"quota,omitempty" bson:"quota,omitempty" json:"quota,omitempty"`
	ExportOptions []string  `yaml:"export_options,omitempty" bson:"export_options,omitempty" json:"export_options,omitempty"`
	ExportRanges  []string  `yaml:"export_ranges,omitempty" bson:"export_ranges,omitempty" json:"export_ranges,omitempty"`
}

// Check validates the record.
func (c *SourceCollection) Check() error {
	if err := CheckPosixName(c.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if c.Name == "" {
		return trace.BadParameter("source collection name is empty")
	}
	if err := c.Kind.Check(); err != nil {
		return trace.Wrap(err, "source collection %q", c.Name)
	}
	if c.Quota != "" {
		if err := CheckQuota(c.Quota); err != nil {
			return trace.Wrap(err, "source collection %q", c.Name)
		}
	}
	for _, o := range c.ExportOptions {
		if err := CheckExportOption(o); err != nil {
			return trace.Wrap(err, "source collection %q", c.Name)
		}
	}
	for _, r := range c.ExportRanges {
		if err := CheckExportRange(r); err != nil {
			return trace.Wrap(err, "source collection %q", c.Name)
		}
	}
	return nil
}

// Resolve fills unset source fields from the collection's defaults.
// The source's host path becomes {prefix}/{name} when the collection
// supplies a prefix and the source has no explicit path.
func (m *MountSource) Resolve(c *SourceCollection) {
	if c == nil {
		return
	}
	if m.Host == "" {
		m.Host = c.Host
	}
	if m.HostPath == "" && c.Prefix != "" {
		m.HostPath = strings.TrimRight(c.Prefix, "/") + "/" + m.Name
	}
	if m.Quota == "" {
		m.Quota = c.Quota
	}
	if len(m.ExportOptions) == 0 {
		m.ExportOptions = SortedSet(c.ExportOptions)
	}
	if len(m.ExportRanges) == 0 {
		m.ExportRanges = SortedSet(c.ExportRanges)
	}
}

// AutomountMap is a per-site autofs table: a mount prefix plus default
// mount options shared by its entries.
type AutomountMap struct {
	Sitename     string   `yaml:"sitename" bson:"sitename" json:"sitename"`
	Tablename    string   `yaml:"tablename" bson:"tablename" json:"tablename"`
	Prefix       string   `yaml:"prefix" bson:"prefix" json:"prefix"`
	MountOptions []string `yaml:"mount_options,omitempty" bson:"mount_options,omitempty" json:"mount_options,omitempty"`
}

// Check validates the record.
func (am *AutomountMap) Check() error {
	if err := CheckPosixName(am.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if am.Tablename == "" {
		return trace.BadParameter("automount map tablename is empty")
	}
	if !strings.HasPrefix(am.Prefix, "/") {
		return trace.BadParameter("automount map %q prefix %q must be absolute", am.Tablename, am.Prefix)
	}
	if err := checkMountOptions(am.MountOptions); err != nil {
		return trace.Wrap(err, "automount map %q", am.Tablename)
	}
	return nil
}

// Automount is one autofs entry in a map. Option overrides either
// replace the map defaults outright or adjust them additively.
type Automount struct {
	Sitename      string   `yaml:"sitename" bson:"sitename" json:"sitename"`
	MapTable      string   `yaml:"maptable" bson:"maptable" json:"maptable"`
	Name          string   `yaml:"name" bson:"name" json:"name"`
	Options       []string `yaml:"options,omitempty" bson:"options,omitempty" json:"options,omitempty"`
	AddOptions    []string `yaml:"add_options,omitempty" bson:"add_options,omitempty" json:"add_options,omitempty"`
	RemoveOptions []string `yaml:"remove_options,omitempty" bson:"remove_options,omitempty" json:"remove_options,omitempty"`
}

// Check validates the record.
func (a *Automount) Check() error {
	if err := CheckPosixName(a.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if a.MapTable == "" {
		return trace.BadParameter("automount %q maptable is empty", a.Name)
	}
	if a.Name == "" {
		return trace.BadParameter("automount name is empty")
	}
	for _, opts := range [][]string{a.Options, a.AddOptions} {
		if err := checkMountOptions(opts); err != nil {
			return trace.Wrap(err, "automount %q", a.Name)
		}
	}
	return nil
}

// EffectiveOptions computes the mount options for this entry: the
// explicit override when present, otherwise the map defaults minus
// remove_options plus add_options.
func (a *Automount) EffectiveOptions(am *AutomountMap) []string {
	if len(a.Options) > 0 {
		return SortedSet(a.Options)
	}
	base := am.MountOptions
	if len(a.RemoveOptions) > 0 {
		base = SortedRemove(SortedSet(base), a.RemoveOptions...)
	}
	return SortedUnion(base, a.AddOptions)
}

// Storage ties a mount source to an automount entry under one name,
// usually a user's home or a group's shared directory.
type Storage struct {
	Sitename string `yaml:"sitename" bson:"sitename" json:"sitename"`
	Name     string `yaml:"name" bson:"name" json:"name"`
	Source   string `yaml:"source" bson:"source" json:"source"`
	MapTable string `yaml:"maptable" bson:"maptable" json:"maptable"`
	Mount    string `yaml:"mount" bson:"mount" json:"mount"`
	Globus   bool   `yaml:"globus,omitempty" bson:"globus,omitempty" json:"globus,omitempty"`
}

// Check validates the record.
func (s *Storage) Check() error {
	if err := CheckPosixName(s.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if s.Name == "" {
		return trace.BadParameter("storage name is empty")
	}
	if s.Source == "" {
		return trace.BadParameter("storage %q source is empty", s.Name)
	}
	if s.MapTable == "" || s.Mount == "" {
		return trace.BadParameter("storage %q mount reference is incomplete", s.Name)
	}
	return nil
}
