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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestCheckPosixName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		assertErr require.ErrorAssertionFunc
	}{
		{name: "plain", input: "alice", assertErr: require.NoError},
		{name: "with digits", input: "alice2", assertErr: require.NoError},
		{name: "underscore start", input: "_svc", assertErr: require.NoError},
		{name: "hyphenated", input: "hpc-admin", assertErr: require.NoError},
		{name: "machine account", input: "host$", assertErr: require.NoError},
		{name: "single letter", input: "a", assertErr: require.NoError},
		{name: "max length", input: "a2345678901234567890123456789012", assertErr: require.NoError},
		{
			name:  "empty",
			input: "",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			name:  "uppercase",
			input: "Alice",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			name:  "digit start",
			input: "2alice",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			name:  "too long",
			input: "a23456789012345678901234567890123",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			name:  "dollar inside",
			input: "ho$st",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			name:  "space",
			input: "ali ce",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertErr(t, CheckPosixName(tt.input))
		})
	}
}

func TestCheckFQDN(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckFQDN("hive.hpc.example.edu"))
	require.NoError(t, CheckFQDN("login-1.cluster.example.edu"))
	require.Error(t, CheckFQDN(""))
	require.Error(t, CheckFQDN("Hive.example.edu"))
	require.Error(t, CheckFQDN("hive..example.edu"))
	require.Error(t, CheckFQDN("-hive.example.edu"))
	require.Error(t, CheckFQDN("hive.example.edu/path"))
}

func TestEnumDomains(t *testing.T) {
	t.Parallel()

	for _, v := range []UserType{UserTypeUser, UserTypeAdmin, UserTypeSystem, UserTypeClass} {
		require.NoError(t, v.Check())
	}
	require.True(t, trace.IsBadParameter(UserType("robot").Check()))

	for _, v := range []UserStatus{UserStatusActive, UserStatusInactive, UserStatusDisabled} {
		require.NoError(t, v.Check())
	}
	require.True(t, trace.IsBadParameter(UserStatus("frozen").Check()))

	for _, v := range []GroupType{GroupTypeUser, GroupTypeAccess, GroupTypeSystem, GroupTypeGroup, GroupTypeAdmin, GroupTypeClass} {
		require.NoError(t, v.Check())
	}
	require.True(t, trace.IsBadParameter(GroupType("club").Check()))

	for _, v := range []Access{AccessLoginSSH, AccessOndemand, AccessComputeSSH, AccessRootSSH, AccessSudo, AccessSlurm} {
		require.NoError(t, v.Check())
	}
	require.True(t, trace.IsBadParameter(Access("telnet").Check()))

	for _, v := range []EventAction{EventCreateAccount, EventAddAccountToGroup, EventUpdateSshKey} {
		require.NoError(t, v.Check())
	}
	require.True(t, trace.IsBadParameter(EventAction("DeleteAccount").Check()))

	for _, v := range []EventStatus{EventStatusPending, EventStatusComplete, EventStatusFailed, EventStatusCanceled} {
		require.NoError(t, v.Check())
	}
	require.True(t, trace.IsBadParameter(EventStatus("Done").Check()))
}

func TestAccessFromAccountKind(t *testing.T) {
	t.Parallel()

	a, ok := AccessFromAccountKind("OpenOnDemand")
	require.True(t, ok)
	require.Equal(t, AccessOndemand, a)

	a, ok = AccessFromAccountKind("SshKey")
	require.True(t, ok)
	require.Equal(t, AccessLoginSSH, a)

	_, ok = AccessFromAccountKind("Gopher")
	require.False(t, ok)
}

func TestCheckShell(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckShell("/bin/bash"))
	require.NoError(t, CheckShell("/usr/bin/zsh"))
	require.NoError(t, CheckShell("/usr/sbin/nologin"))
	require.NoError(t, CheckShell("/usr/sbin/nologin-account-disabled"))
	require.True(t, trace.IsBadParameter(CheckShell("/bin/posh")))
	require.True(t, trace.IsBadParameter(CheckShell("")))

	require.True(t, IsLoginShell("/bin/tcsh"))
	require.False(t, IsLoginShell("/sbin/nologin"))
	require.True(t, IsNoLoginShell("/bin/false"))
	require.False(t, IsNoLoginShell("/bin/fish"))
}

func TestSortedSets(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "b", "c"}, SortedSet([]string{"c", "a", "b", "a"}))
	require.Nil(t, SortedSet(nil))

	set := SortedInsert([]string{"a", "c"}, "b", "c")
	require.Equal(t, []string{"a", "b", "c"}, set)

	set = SortedRemove(set, "b", "zz")
	require.Equal(t, []string{"a", "c"}, set)
	require.Nil(t, SortedRemove([]string{"a"}, "a"))

	require.True(t, SortedContains([]string{"a", "b", "c"}, "b"))
	require.False(t, SortedContains([]string{"a", "b", "c"}, "bb"))

	require.Equal(t, []string{"a", "b", "c", "d"}, SortedUnion([]string{"c", "a"}, []string{"d", "b", "a"}))
	require.Equal(t, []string{"b"}, SortedDiff([]string{"a", "b"}, []string{"a", "c"}))
}

func TestSponsorGroupName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "alicegrp", SponsorGroupName("alice"))
}
