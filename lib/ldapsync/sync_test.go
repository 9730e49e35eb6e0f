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

package ldapsync

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/types"
)

// fakeConn records directory operations and serves canned search
// results keyed by filter substring.
type fakeConn struct {
	entries  map[string]*ldap.Entry
	adds     []*ldap.AddRequest
	modifies []*ldap.ModifyRequest
	deletes  []*ldap.DelRequest
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	for key, entry := range f.entries {
		if strings.Contains(req.Filter, key) {
			return &ldap.SearchResult{Entries: []*ldap.Entry{entry}}, nil
		}
	}
	return &ldap.SearchResult{}, nil
}

func (f *fakeConn) Add(req *ldap.AddRequest) error {
	f.adds = append(f.adds, req)
	return nil
}

func (f *fakeConn) Modify(req *ldap.ModifyRequest) error {
	f.modifies = append(f.modifies, req)
	return nil
}

func (f *fakeConn) Del(req *ldap.DelRequest) error {
	f.deletes = append(f.deletes, req)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func testLDAPConfig() *config.LDAPConfig {
	return &config.LDAPConfig{
		URI:        "ldaps://ldap.example.edu",
		BindDN:     "cn=admin,dc=hpc,dc=example,dc=edu",
		SearchBase: "dc=hpc,dc=example,dc=edu",
		StatusGroups: map[string]string{
			"active":   "cheeto-active",
			"inactive": "cheeto-inactive",
		},
		AccessGroups: map[string]string{
			"login-ssh": "cheeto-login",
			"sudo":      "cheeto-sudo",
		},
	}
}

func newTestClient(t *testing.T, conn *fakeConn) *Client {
	t.Helper()
	client, err := NewClientWithConn(conn, testLDAPConfig())
	require.NoError(t, err)
	return client
}

func TestDNBuilders(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeConn{})
	require.Equal(t, "uid=alice,ou=users,dc=hpc,dc=example,dc=edu", client.UserDN("alice"))
	require.Equal(t, "cn=lab,ou=groups,dc=hpc,dc=example,dc=edu", client.GroupDN("lab"))
	require.Equal(t,
		"automountKey=alice,automountMapName=auto.home,ou=automount,dc=hpc,dc=example,dc=edu",
		client.AutomountDN("home", "alice"))
}

func TestConvertLDAPError(t *testing.T) {
	t.Parallel()

	require.True(t, trace.IsNotFound(convertLDAPError(
		ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))))
	require.True(t, trace.IsAlreadyExists(convertLDAPError(
		ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("entry already exists")))))
	require.True(t, trace.IsAccessDenied(convertLDAPError(
		ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials")))))
	require.True(t, trace.IsConnectionProblem(convertLDAPError(
		ldap.NewError(ldap.ErrorNetwork, errors.New("network error")))))
	require.NoError(t, convertLDAPError(nil))

	// Result errors from go-ldap may carry a nil wrapped error; the
	// mapping must not crash formatting them.
	require.True(t, trace.IsNotFound(convertLDAPError(
		ldap.NewError(ldap.LDAPResultNoSuchObject, nil))))
}

func TestUpsertUserAddsWhenMissing(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	client := newTestClient(t, conn)
	user := &types.GlobalUser{
		Username:      "alice",
		UID:           100,
		GID:           100,
		Email:         "alice@example.edu",
		FullName:      "Alice van Aardvark",
		Shell:         "/bin/bash",
		HomeDirectory: "/home/alice",
		Password:      "$y$j9T$abc",
		SSHKeys:       []string{"ssh-ed25519 AAAA alice"},
	}
	require.NoError(t, client.UpsertUser(user))
	require.Len(t, conn.adds, 1)
	require.Empty(t, conn.modifies)

	req := conn.adds[0]
	require.Equal(t, client.UserDN("alice"), req.DN)
	attrs := map[string][]string{}
	for _, a := range req.Attributes {
		attrs[a.Type] = a.Vals
	}
	require.Equal(t, []string{"Aardvark"}, attrs["sn"])
	require.Equal(t, []string{"{CRYPT}$y$j9T$abc"}, attrs["userPassword"])
	require.Equal(t, []string{"100"}, attrs["uidNumber"])
	require.Equal(t, []string{"ssh-ed25519 AAAA alice"}, attrs["sshPublicKey"])
}

func TestUpsertUserModifiesWhenPresent(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{entries: map[string]*ldap.Entry{
		"uid=alice": {DN: "uid=alice,ou=users,dc=hpc,dc=example,dc=edu"},
	}}
	client := newTestClient(t, conn)
	user := &types.GlobalUser{
		Username:      "alice",
		UID:           100,
		GID:           100,
		Email:         "alice@example.edu",
		FullName:      "Alice Aardvark",
		Shell:         "/bin/zsh",
		HomeDirectory: "/home/alice",
	}
	require.NoError(t, client.UpsertUser(user))
	require.Empty(t, conn.adds)
	require.Len(t, conn.modifies, 1)
}

func TestAutomountRewrite(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	client := newTestClient(t, conn)

	require.NoError(t, client.DeleteAutomount("home", "alice"))
	require.NoError(t, client.AddAutomount("home", "alice",
		"nas-1.hive.example.edu", "/export/home/alice", []string{"hard", "intr"}))

	require.Len(t, conn.deletes, 1)
	require.Equal(t, client.AutomountDN("home", "alice"), conn.deletes[0].DN)

	require.Len(t, conn.adds, 1)
	var info []string
	for _, a := range conn.adds[0].Attributes {
		if a.Type == "automountInformation" {
			info = a.Vals
		}
	}
	require.Equal(t, []string{"-hard,intr nas-1.hive.example.edu:/export/home/alice"}, info)
}

func TestMemberDiffMinimality(t *testing.T) {
	t.Parallel()

	add, remove := memberDiff(
		[]string{"alice", "bob", "carol"},
		[]string{"bob", "carol", "dave"})
	require.Equal(t, []string{"dave"}, add)
	require.Equal(t, []string{"alice"}, remove)

	add, remove = memberDiff([]string{"alice"}, []string{"alice"})
	require.Empty(t, add)
	require.Empty(t, remove)

	add, remove = memberDiff(nil, []string{"alice"})
	require.Equal(t, []string{"alice"}, add)
	require.Empty(t, remove)
}

func TestIsSpecialGroup(t *testing.T) {
	t.Parallel()

	cfg := testLDAPConfig()
	require.True(t, isSpecialGroup(cfg, "cheeto-active"))
	require.True(t, isSpecialGroup(cfg, "cheeto-sudo"))
	require.False(t, isSpecialGroup(cfg, "lab"))
}

func TestSubstituteHostSuffix(t *testing.T) {
	t.Parallel()

	site := &types.Site{Sitename: "hive", FQDN: "hive.example.edu"}
	require.Equal(t, "nas-1.hive.example.edu",
		substituteHostSuffix("nas-1${HOST_SUFFIX}", site))
	require.Equal(t, "nas-1.other.edu",
		substituteHostSuffix("nas-1.other.edu", site))
}
