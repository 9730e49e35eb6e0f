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

func validUser() *GlobalUser {
	return &GlobalUser{
		Username:      "alice",
		UID:           1000001,
		GID:           1000001,
		Email:         "alice@example.edu",
		FullName:      "Alice Ann Masters",
		Shell:         "/bin/bash",
		HomeDirectory: "/home/alice",
		Type:          UserTypeUser,
		Status:        UserStatusActive,
		Access:        []Access{AccessLoginSSH},
	}
}

func TestGlobalUserCheck(t *testing.T) {
	t.Parallel()

	require.NoError(t, validUser().Check())

	u := validUser()
	u.Email = "not-an-email"
	require.True(t, trace.IsBadParameter(u.Check()))

	u = validUser()
	u.Shell = "/bin/magic"
	require.True(t, trace.IsBadParameter(u.Check()))

	u = validUser()
	u.Type = "wizard"
	require.True(t, trace.IsBadParameter(u.Check()))

	u = validUser()
	u.Access = []Access{"backdoor"}
	require.True(t, trace.IsBadParameter(u.Check()))
}

func TestSiteUserEffectiveFields(t *testing.T) {
	t.Parallel()

	parent := validUser()
	su := &SiteUser{
		Sitename:    "hive",
		Username:    "alice",
		LocalStatus: UserStatusActive,
		LocalAccess: []Access{AccessSlurm},
	}
	require.NoError(t, su.Check())

	// Active parent defers to the local status.
	require.Equal(t, UserStatusActive, su.EffectiveStatus(parent))
	su.LocalStatus = UserStatusInactive
	require.Equal(t, UserStatusInactive, su.EffectiveStatus(parent))

	// Non-active parent wins regardless of local state.
	su.LocalStatus = UserStatusActive
	parent.Status = UserStatusDisabled
	require.Equal(t, UserStatusDisabled, su.EffectiveStatus(parent))

	// Access is the union of both sets.
	parent.Status = UserStatusActive
	require.Equal(t, []Access{AccessLoginSSH, AccessSlurm}, su.EffectiveAccess(parent))
}

func TestSiteGroupRoles(t *testing.T) {
	t.Parallel()

	sg := &SiteGroup{
		Sitename:  "hive",
		Groupname: "labgrp",
		Members:   []string{"carol", "alice", "alice"},
		Slurmers:  []string{"dave"},
	}
	sg.Normalize()
	require.Equal(t, []string{"alice", "carol"}, sg.Members)
	require.NoError(t, sg.Check())

	require.Equal(t, []string{"alice", "carol"}, sg.Role(RoleMembers))
	require.Equal(t, []string{"dave"}, sg.Role(RoleSlurmers))
	require.Nil(t, sg.Role(RoleSudoers))

	sg.SetRole(RoleSponsors, []string{"carol"})
	require.Equal(t, []string{"carol"}, sg.Sponsors)

	// Scheduler users are members plus slurmers.
	require.Equal(t, []string{"alice", "carol", "dave"}, sg.SlurmUsers())
}

func TestGroupRoleCheck(t *testing.T) {
	t.Parallel()

	for _, r := range GroupRoles() {
		require.NoError(t, r.Check())
	}
	require.True(t, trace.IsBadParameter(GroupRole("owners").Check()))
}

func TestGlobalGroupCheck(t *testing.T) {
	t.Parallel()

	g := &GlobalGroup{Groupname: "labgrp", GID: 4000000001, Type: GroupTypeGroup}
	require.NoError(t, g.Check())

	g.Type = "club"
	require.True(t, trace.IsBadParameter(g.Check()))

	g = &GlobalGroup{Groupname: "BadName", GID: 1, Type: GroupTypeGroup}
	require.True(t, trace.IsBadParameter(g.Check()))
}
