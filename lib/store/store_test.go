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
	"os"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// testStore opens a store against the mongod named by
// CHEETO_TEST_MONGO_URI, using a throwaway database that is dropped on
// cleanup. Transactions require a replica set, so a standalone mongod
// will not do; `mongod --replSet rs0` plus rs.initiate() is enough.
func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("CHEETO_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set CHEETO_TEST_MONGO_URI to a replica set mongod to run store tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Open(ctx, Config{
		URI:      uri,
		Database: fmt.Sprintf("cheeto_test_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		require.NoError(t, s.db.Drop(ctx))
		require.NoError(t, s.Close(ctx))
	})
	return s
}

func testSite(t *testing.T, s *Store, sitename string) {
	t.Helper()
	_, err := s.CreateSite(context.Background(), sitename, sitename+".example.edu")
	require.NoError(t, err)
}

func testUser(t *testing.T, s *Store, username string, uid int64, sitenames ...string) *types.GlobalUser {
	t.Helper()
	user, err := s.CreateUser(context.Background(), CreateUserParams{
		Username:  username,
		Email:     username + "@example.edu",
		UID:       uid,
		FullName:  "Test " + username,
		Sitenames: sitenames,
	})
	require.NoError(t, err)
	return user
}

func TestCreateUserDefaults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	user := testUser(t, s, "alice", 10_000)
	require.Equal(t, int64(10_000), user.UID)
	require.Equal(t, user.UID, user.GID)
	require.Equal(t, defaults.DefaultShell, user.Shell)
	require.Equal(t, defaults.HomeBaseDir+"/alice", user.HomeDirectory)
	require.Equal(t, types.UserTypeUser, user.Type)
	require.Equal(t, types.UserStatusActive, user.Status)

	// Every user gets a personal global group and a search row.
	group, err := s.GetGlobalGroup(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, types.GroupTypeUser, group.Type)
	require.Equal(t, user.UID, group.GID)
	require.Equal(t, "alice", group.Owner)

	found, err := s.SearchUsers(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "alice", found[0].Username)
}

func TestWithTransactionNestedRevert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Mutators called under an outer transaction join it, so a late
	// failure reverts their writes together with everything else.
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.CreateUser(ctx, CreateUserParams{
			Username: "alice",
			Email:    "alice@example.edu",
			UID:      10_000,
			FullName: "Test alice",
		}); err != nil {
			return err
		}
		return trace.BadParameter("second step failed")
	})
	require.Error(t, err)

	_, err = s.GetGlobalUser(ctx, "alice")
	require.True(t, trace.IsNotFound(err), "got %v", err)
	_, err = s.GetGlobalGroup(ctx, "alice")
	require.True(t, trace.IsNotFound(err), "got %v", err)
	found, err := s.SearchUsers(ctx, "alice", "")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestCreateUserUniqueness(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	testUser(t, s, "alice", 10_000)

	_, err := s.CreateUser(ctx, CreateUserParams{
		Username: "alice",
		Email:    "other@example.edu",
		UID:      10_001,
		FullName: "Other Alice",
	})
	require.Error(t, err)
	require.True(t, trace.IsAlreadyExists(err), "got %v", err)

	_, err = s.CreateUser(ctx, CreateUserParams{
		Username: "bob",
		Email:    "bob@example.edu",
		UID:      10_000,
		FullName: "Bob",
	})
	require.Error(t, err)
	require.True(t, trace.IsAlreadyExists(err), "got %v", err)
}

func TestCreateSystemUserAllocation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.CreateSystemUser(ctx, "svc-backup", "ops@example.edu", "Backup Service")
	require.NoError(t, err)
	require.Equal(t, int64(defaults.MinSystemUID), first.UID)
	require.Equal(t, types.UserTypeSystem, first.Type)
	require.ElementsMatch(t,
		[]types.Access{types.AccessLoginSSH, types.AccessComputeSSH},
		first.Access)

	second, err := s.CreateSystemUser(ctx, "svc-metrics", "ops@example.edu", "Metrics Service")
	require.NoError(t, err)
	require.Equal(t, first.UID+1, second.UID)
}

func TestAddSiteUserProvisioning(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	testSite(t, s, "hive")
	testUser(t, s, "alice", 10_000)

	require.NoError(t, s.AddSiteUser(ctx, "hive", "alice"))

	su, err := s.GetSiteUser(ctx, "hive", "alice")
	require.NoError(t, err)
	require.Equal(t, types.UserStatusActive, su.LocalStatus)

	// Membership attaches a per-user site group seeded with the user.
	sg, err := s.GetSiteGroup(ctx, "hive", "alice")
	require.NoError(t, err)
	require.Contains(t, sg.Members, "alice")

	// Replays leave the existing rows alone.
	require.NoError(t, s.AddSiteUser(ctx, "hive", "alice"))

	require.NoError(t, s.CreateSourceCollection(ctx, &types.SourceCollection{
		Sitename: "hive",
		Name:     defaults.HomeCollectionName,
		Kind:     types.MountKindZFS,
		Host:     "nas-1.hive.example.edu",
		Prefix:   "/export/home",
		Quota:    "20G",
	}))
	require.NoError(t, s.CreateHomeStorage(ctx, CreateHomeStorageParams{
		Sitename: "hive",
		Username: "alice",
	}))

	src, err := s.GetMountSource(ctx, "hive", "alice")
	require.NoError(t, err)
	require.Equal(t, types.MountKindZFS, src.Kind)
	require.Equal(t, defaults.HomeCollectionName, src.Collection)
	require.Equal(t, "/export/home/alice", src.HostPath)
	require.Equal(t, "20G", src.Quota)

	mount, err := s.GetAutomount(ctx, "hive", defaults.HomeAutomountTable, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", mount.Name)

	st, err := s.GetStorage(ctx, "hive", "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", st.Source)
	require.Equal(t, defaults.HomeAutomountTable, st.MapTable)

	require.NoError(t, s.CreateHomeStorage(ctx, CreateHomeStorageParams{
		Sitename: "hive",
		Username: "alice",
	}))
}

func TestRemoveSiteUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	testSite(t, s, "hive")
	testUser(t, s, "alice", 10_000, "hive")
	testUser(t, s, "pi", 10_001, "hive")

	_, err := s.CreateGroupFromSponsor(ctx, "hive", "pi")
	require.NoError(t, err)
	require.NoError(t, s.GroupAddUserElement(ctx, "hive",
		[]string{"pigrp"}, []string{"alice"}, types.RoleMembers))

	require.NoError(t, s.RemoveSiteUser(ctx, "hive", "alice"))

	_, err = s.GetSiteUser(ctx, "hive", "alice")
	require.True(t, trace.IsNotFound(err), "got %v", err)

	// Removal pulls the user out of every role list on the site.
	sg, err := s.GetSiteGroup(ctx, "hive", "pigrp")
	require.NoError(t, err)
	require.NotContains(t, sg.Members, "alice")

	// The global record survives.
	_, err = s.GetGlobalUser(ctx, "alice")
	require.NoError(t, err)
}

func TestSetUserStatusScopes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	testSite(t, s, "hive")
	testUser(t, s, "alice", 10_000, "hive")

	require.NoError(t, s.SetUserStatus(ctx, "alice", types.UserStatusInactive, "left the lab", ""))
	user, err := s.GetGlobalUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, types.UserStatusInactive, user.Status)
	require.NotEmpty(t, user.Comments)
	require.Contains(t, user.Comments[len(user.Comments)-1], "left the lab")

	// Site scope leaves the global status alone.
	require.NoError(t, s.SetUserStatus(ctx, "alice", types.UserStatusDisabled, "abuse", "hive"))
	su, err := s.GetSiteUser(ctx, "hive", "alice")
	require.NoError(t, err)
	require.Equal(t, types.UserStatusDisabled, su.LocalStatus)
	user, err = s.GetGlobalUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, types.UserStatusInactive, user.Status)

	err = s.SetUserStatus(ctx, "alice", types.UserStatusActive, "typo", "nonesuch")
	require.True(t, trace.IsNotFound(err), "got %v", err)
}

func TestDeleteGlobalUserCascade(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	testSite(t, s, "hive")
	testUser(t, s, "alice", 10_000, "hive")
	testUser(t, s, "pi", 10_001, "hive")

	_, err := s.CreateGroupFromSponsor(ctx, "hive", "pi")
	require.NoError(t, err)
	require.NoError(t, s.GroupAddUserElement(ctx, "hive",
		[]string{"pigrp"}, []string{"alice"}, types.RoleMembers))

	require.NoError(t, s.DeleteGlobalUser(ctx, "alice"))

	_, err = s.GetGlobalUser(ctx, "alice")
	require.True(t, trace.IsNotFound(err), "got %v", err)
	_, err = s.GetSiteUser(ctx, "hive", "alice")
	require.True(t, trace.IsNotFound(err), "got %v", err)

	sg, err := s.GetSiteGroup(ctx, "hive", "pigrp")
	require.NoError(t, err)
	require.NotContains(t, sg.Members, "alice")

	found, err := s.SearchUsers(ctx, "alice", "")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestCreateGroupFromSponsor(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	testSite(t, s, "hive")
	testUser(t, s, "pi", 10_001, "hive")

	group, err := s.CreateGroupFromSponsor(ctx, "hive", "pi")
	require.NoError(t, err)
	require.Equal(t, "pigrp", group.Groupname)
	require.Equal(t, int64(defaults.MinPIGroupGID+10_001), group.GID)

	sg, err := s.GetSiteGroup(ctx, "hive", "pigrp")
	require.NoError(t, err)
	require.Contains(t, sg.Members, "pi")
	require.Contains(t, sg.Sponsors, "pi")

	// Replays return the existing group with the same gid.
	again, err := s.CreateGroupFromSponsor(ctx, "hive", "pi")
	require.NoError(t, err)
	require.Equal(t, group.GID, again.GID)
}

func TestSlurmQOSCascade(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	testSite(t, s, "hive")
	_, err := s.CreateLabGroup(ctx, "lab", "hive")
	require.NoError(t, err)
	require.NoError(t, s.CreateSlurmPartition(ctx, "hive", "gpu"))
	require.NoError(t, s.CreateSlurmQOS(ctx, &types.SiteSlurmQOS{
		Sitename: "hive",
		QOSName:  "lab-gpu-qos",
	}))

	// Associations demand existing qos, partition, and site group.
	err = s.CreateSlurmAssociation(ctx, &types.SiteSlurmAssociation{
		Sitename:      "hive",
		QOSName:       "nonesuch",
		PartitionName: "gpu",
		GroupName:     "lab",
	})
	require.True(t, trace.IsNotFound(err), "got %v", err)

	assoc := &types.SiteSlurmAssociation{
		Sitename:      "hive",
		QOSName:       "lab-gpu-qos",
		PartitionName: "gpu",
		GroupName:     "lab",
	}
	require.NoError(t, s.CreateSlurmAssociation(ctx, assoc))

	// Deleting the qos takes its associations with it.
	require.NoError(t, s.DeleteSlurmQOS(ctx, "hive", "lab-gpu-qos"))

	assocs, err := s.ListSlurmAssociations(ctx, "hive", "lab")
	require.NoError(t, err)
	require.Empty(t, assocs)
	_, err = s.GetSlurmQOS(ctx, "hive", "lab-gpu-qos")
	require.True(t, trace.IsNotFound(err), "got %v", err)

	err = s.DeleteSlurmQOS(ctx, "hive", "lab-gpu-qos")
	require.True(t, trace.IsNotFound(err), "got %v", err)
}
