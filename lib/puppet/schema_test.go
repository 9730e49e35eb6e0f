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
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto/lib/types"
)

const sampleMap = `
user:
  alice:
    fullname: Alice Aardvark
    email: alice@example.edu
    uid: 100
    gid: 100
    shell: /bin/bash
    groups: [lab]
    tag: [ssh-tag, sudo-tag]
    ssh_keys:
      - ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIP4z9dyrfx2WJJH5nnJMpYYFmSMDpmNQqYU4MHa4p7GG alice
    storage:
      autofs:
        nas: nas-1
        path: /export/home
      zfs:
        quota: 200G
  svc-backup:
    fullname: Backup Service
    email: root@example.edu
    uid: 3000000500
    gid: 3000000500
    shell: /usr/sbin/nologin
    password: x
group:
  lab:
    gid: 3200000001
    sponsors: [alice]
    slurm:
      max_group_jobs: 100
      partitions:
        gpu:
          qos:
            group:
              cpus: 16
              mem: 1G
            priority: 10
            flags: [DenyOnLimit]
        cpu:
          qos: shared-cpu-qos
meta:
  sitename: hive
  fqdn: hive.example.edu
`

func decodeSample(t *testing.T) *AccountMap {
	t.Helper()
	var tree any
	require.NoError(t, yaml.Unmarshal([]byte(sampleMap), &tree))
	m, err := DecodeAccountMap(tree)
	require.NoError(t, err)
	return m
}

func TestDecodeAccountMap(t *testing.T) {
	t.Parallel()

	m := decodeSample(t)
	require.NoError(t, m.Validate())

	alice := m.Users["alice"]
	require.NotNil(t, alice)
	require.Equal(t, int64(100), *alice.UID)
	require.True(t, alice.HasTag(TagSSH))
	require.True(t, alice.HasTag(TagSudo))
	require.False(t, alice.HasTag(TagRootSSH))
	require.Equal(t, types.MountKindZFS, alice.Storage.Kind())

	lab := m.Groups["lab"]
	require.NotNil(t, lab)
	gpu := lab.Slurm.Partitions["gpu"]
	require.NotNil(t, gpu.QOS.Inline)
	require.Empty(t, gpu.QOS.Ref)
	require.Equal(t, int64(10), gpu.QOS.Inline.Priority)
	cpu := lab.Slurm.Partitions["cpu"]
	require.Nil(t, cpu.QOS.Inline)
	require.Equal(t, "shared-cpu-qos", cpu.QOS.Ref)
}

func TestDecodeAccountMapRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	var tree any
	require.NoError(t, yaml.Unmarshal([]byte(`
user:
  alice:
    fullname: Alice
    email: alice@example.edu
    uid: 100
    favorite_color: purple
`), &tree))
	_, err := DecodeAccountMap(tree)
	require.Error(t, err)
	require.Contains(t, err.Error(), "favorite_color")
}

func TestValidateFlagsBadRecords(t *testing.T) {
	t.Parallel()

	var tree any
	require.NoError(t, yaml.Unmarshal([]byte(`
user:
  alice:
    fullname: Alice
    uid: 100
    tag: [mystery-tag]
`), &tree))
	m, err := DecodeAccountMap(tree)
	require.NoError(t, err)

	err = m.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "email")
	require.Contains(t, err.Error(), "mystery-tag")
}

func TestValidateSponsorsAndGroups(t *testing.T) {
	t.Parallel()

	m := decodeSample(t)
	require.NoError(t, m.ValidateSponsors())
	require.NoError(t, m.ValidateUserGroups())

	m.Groups["lab"].Sponsors = append(m.Groups["lab"].Sponsors, "ghost")
	require.Error(t, m.ValidateSponsors())

	m.Users["alice"].Groups = append(m.Users["alice"].Groups, "nogroup")
	require.Error(t, m.ValidateUserGroups())
}

// Dump then reload: the map survives modulo list sorting and stripped
// nulls.
func TestAccountMapRoundTrip(t *testing.T) {
	t.Parallel()

	m := decodeSample(t)
	raw, err := m.Dump()
	require.NoError(t, err)

	var tree any
	require.NoError(t, yaml.Unmarshal(raw, &tree))
	again, err := DecodeAccountMap(tree)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(m, again))
}

func TestLoaderStrictAndLax(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/users.yaml", []byte(`
user:
  alice:
    fullname: Alice Aardvark
    email: alice@example.edu
    uid: 100
`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/groups.yaml", []byte(`
group:
  lab:
    gid: 200
    sponsors: [ghost]
`), 0o644))

	strict, err := NewLoader(LoaderConfig{
		Fs: fs, Root: "/repo", Strict: true,
		Validators: []Validator{ValidatorKnownSponsors},
	})
	require.NoError(t, err)
	_, err = strict.Load(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")

	lax, err := NewLoader(LoaderConfig{
		Fs: fs, Root: "/repo",
		Validators: []Validator{ValidatorKnownSponsors},
	})
	require.NoError(t, err)
	m, err := lax.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, m.Users, "alice")
	require.Contains(t, m.Groups, "lab")
}

func TestLoaderDepthBound(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/top.yaml",
		[]byte("user:\n  alice:\n    fullname: A\n    email: a@b.co\n    uid: 1\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/a/b/c/d/e/deep.yaml",
		[]byte("user:\n  buried:\n    fullname: B\n    email: b@b.co\n    uid: 2\n"), 0o644))

	l, err := NewLoader(LoaderConfig{Fs: fs, Root: "/repo", MaxDepth: 2})
	require.NoError(t, err)
	m, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, m.Users, "alice")
	require.NotContains(t, m.Users, "buried")
}

func TestDeriveUserRules(t *testing.T) {
	t.Parallel()

	key := "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIP4z9dyrfx2WJJH5nnJMpYYFmSMDpmNQqYU4MHa4p7GG x"

	system := &UserRecord{UID: types.Ptr(int64(3000000500))}
	require.Equal(t, types.UserTypeSystem, deriveUserType(system))

	admin := &UserRecord{UID: types.Ptr(int64(100)), Groups: []string{AdminGroupName}}
	require.Equal(t, types.UserTypeAdmin, deriveUserType(admin))

	regular := &UserRecord{UID: types.Ptr(int64(100))}
	require.Equal(t, types.UserTypeUser, deriveUserType(regular))

	// System users stay active regardless of shell.
	system.Shell = "/usr/sbin/nologin"
	require.Equal(t, types.UserStatusActive, deriveUserStatus(system, types.UserTypeSystem))
	disabled := &UserRecord{UID: types.Ptr(int64(101)), Shell: "/usr/sbin/nologin"}
	require.Equal(t, types.UserStatusInactive, deriveUserStatus(disabled, types.UserTypeUser))
	require.Equal(t, types.UserStatusActive, deriveUserStatus(regular, types.UserTypeUser))

	// No key: portal only. Key: login ssh.
	require.Equal(t, []types.Access{types.AccessOndemand},
		deriveUserAccess(regular, types.UserTypeUser))
	withKey := &UserRecord{UID: types.Ptr(int64(100)), SSHKeys: []string{key}}
	require.Equal(t, []types.Access{types.AccessLoginSSH},
		deriveUserAccess(withKey, types.UserTypeUser))

	// Tags translate; admin gets the full SSH set.
	tagged := &UserRecord{
		UID:     types.Ptr(int64(100)),
		SSHKeys: []string{key},
		Tag:     []string{TagSSH, TagRootSSH, TagSudo},
	}
	require.ElementsMatch(t,
		[]types.Access{types.AccessLoginSSH, types.AccessComputeSSH, types.AccessRootSSH, types.AccessSudo},
		deriveUserAccess(tagged, types.UserTypeUser))
	adminNoTags := &UserRecord{UID: types.Ptr(int64(100)), SSHKeys: []string{key}}
	require.ElementsMatch(t,
		[]types.Access{types.AccessLoginSSH, types.AccessComputeSSH, types.AccessRootSSH, types.AccessSudo},
		deriveUserAccess(adminNoTags, types.UserTypeAdmin))
}

func TestExportHelpers(t *testing.T) {
	t.Parallel()

	inactive := &types.SiteUser{LocalStatus: types.UserStatusInactive}
	activeParent := &types.GlobalUser{Status: types.UserStatusActive, Shell: "/bin/bash"}
	require.Equal(t, "/usr/sbin/nologin-account-disabled", exportShell(inactive, activeParent))

	active := &types.SiteUser{LocalStatus: types.UserStatusActive}
	nologinParent := &types.GlobalUser{Status: types.UserStatusActive, Shell: "/usr/sbin/nologin"}
	require.Equal(t, exportFallbackShell, exportShell(active, nologinParent))
	require.Equal(t, "/bin/bash", exportShell(active, activeParent))

	require.Equal(t, noPassword, exportPassword(""))
	require.Equal(t, "$y$j9T$abc", exportPassword("$y$j9T$abc"))

	require.Equal(t, []string{TagRootSSH, TagSSH, TagSudo}, exportTags([]types.Access{
		types.AccessLoginSSH, types.AccessComputeSSH, types.AccessRootSSH,
		types.AccessSudo, types.AccessOndemand,
	}))
}
