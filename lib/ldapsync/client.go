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

// Package ldapsync reconciles the canonical store outward to the
// directory server: user and group entries, status and access group
// membership, and automount tables.
package ldapsync

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// directoryConn is the slice of *ldap.Conn the client needs; tests
// substitute a fake.
type directoryConn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	Del(req *ldap.DelRequest) error
	Close() error
}

// Client wraps a bound directory connection with the DN layout from
// config.
type Client struct {
	conn directoryConn
	cfg  *config.LDAPConfig
}

// Connect dials and binds a directory connection.
func Connect(cfg *config.LDAPConfig) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, trace.BadParameter("no certificates parsed from %q", cfg.CACertPath)
		}
		tlsConfig.RootCAs = pool
	}
	conn, err := ldap.DialURL(cfg.URI,
		ldap.DialWithTLSConfig(tlsConfig),
		ldap.DialWithDialer(&net.Dialer{Timeout: defaults.LDAPDialTimeout}))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "dialing directory %s", cfg.URI)
	}
	conn.SetTimeout(defaults.LDAPRequestTimeout)
	if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
		conn.Close()
		return nil, convertLDAPError(err)
	}
	return &Client{conn: conn, cfg: cfg}, nil
}

// NewClientWithConn wraps an existing connection; used by tests.
func NewClientWithConn(conn directoryConn, cfg *config.LDAPConfig) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{conn: conn, cfg: cfg}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return trace.Wrap(c.conn.Close())
}

// convertLDAPError maps directory result codes onto trace error kinds.
func convertLDAPError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return trace.NotFound("%s", ldapErrorMessage(err))
	case ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists):
		return trace.AlreadyExists("%s", ldapErrorMessage(err))
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights):
		return trace.AccessDenied("%s", ldapErrorMessage(err))
	case ldap.IsErrorWithCode(err, ldap.ErrorNetwork):
		return trace.ConnectionProblem(err, "directory connection failed")
	}
	return trace.Wrap(err)
}

// ldapErrorMessage renders a directory error without calling the
// go-ldap Error method, which dereferences a possibly nil wrapped
// error.
func ldapErrorMessage(err error) string {
	var lerr *ldap.Error
	if errors.As(err, &lerr) && lerr.Err == nil {
		return fmt.Sprintf("LDAP result code %d %q",
			lerr.ResultCode, ldap.LDAPResultCodeMap[lerr.ResultCode])
	}
	return err.Error()
}

// UserDN returns the DN of a user entry.
func (c *Client) UserDN(username string) string {
	return fmt.Sprintf("uid=%s,%s", username, c.cfg.UserBase)
}

// GroupDN returns the DN of a group entry.
func (c *Client) GroupDN(groupname string) string {
	return fmt.Sprintf("cn=%s,%s", groupname, c.cfg.GroupBase)
}

// AutomountMapDN returns the DN of an autofs table.
func (c *Client) AutomountMapDN(tablename string) string {
	return fmt.Sprintf("automountMapName=auto.%s,%s", tablename, c.cfg.AutomountBase)
}

// AutomountDN returns the DN of one autofs entry.
func (c *Client) AutomountDN(tablename, key string) string {
	return fmt.Sprintf("automountKey=%s,%s", key, c.AutomountMapDN(tablename))
}

func (c *Client) searchOne(baseDN, filter string, attrs []string) (*ldap.Entry, error) {
	res, err := c.conn.Search(ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		1, 0, false, filter, attrs, nil))
	if err != nil {
		return nil, convertLDAPError(err)
	}
	if len(res.Entries) == 0 {
		return nil, trace.NotFound("no directory entry matches %q under %q", filter, baseDN)
	}
	return res.Entries[0], nil
}

// userAttributes flattens a user record into directory attributes.
func userAttributes(user *types.GlobalUser) map[string][]string {
	attrs := map[string][]string{
		"uid":           {user.Username},
		"cn":            {user.FullName},
		"sn":            {surname(user.FullName)},
		"mail":          {user.Email},
		"uidNumber":     {strconv.FormatInt(user.UID, 10)},
		"gidNumber":     {strconv.FormatInt(user.GID, 10)},
		"loginShell":    {user.Shell},
		"homeDirectory": {user.HomeDirectory},
	}
	if user.Password != "" {
		attrs["userPassword"] = []string{"{CRYPT}" + user.Password}
	}
	if len(user.SSHKeys) > 0 {
		attrs["sshPublicKey"] = user.SSHKeys
	}
	return attrs
}

// surname is the last whitespace-separated token of the full name.
func surname(fullname string) string {
	fields := strings.Fields(fullname)
	if len(fields) == 0 {
		return fullname
	}
	return fields[len(fields)-1]
}

// GetUserEntry fetches a user entry by username.
func (c *Client) GetUserEntry(username string) (*ldap.Entry, error) {
	entry, err := c.searchOne(c.cfg.UserBase,
		fmt.Sprintf("(&(objectClass=posixAccount)(uid=%s))", ldap.EscapeFilter(username)),
		nil)
	return entry, trace.Wrap(err)
}

// UpsertUser creates or rewrites the user's directory entry.
func (c *Client) UpsertUser(user *types.GlobalUser) error {
	attrs := userAttributes(user)
	_, err := c.GetUserEntry(user.Username)
	switch {
	case trace.IsNotFound(err):
		req := ldap.NewAddRequest(c.UserDN(user.Username), nil)
		req.Attribute("objectClass", []string{"top", "posixAccount", "inetOrgPerson", "ldapPublicKey"})
		for name, values := range attrs {
			req.Attribute(name, values)
		}
		return convertLDAPError(c.conn.Add(req))
	case err != nil:
		return trace.Wrap(err)
	}
	req := ldap.NewModifyRequest(c.UserDN(user.Username), nil)
	for name, values := range attrs {
		req.Replace(name, values)
	}
	return convertLDAPError(c.conn.Modify(req))
}

// ReplaceUserKeys rewrites only the user's public key attribute.
func (c *Client) ReplaceUserKeys(username string, keys []string) error {
	req := ldap.NewModifyRequest(c.UserDN(username), nil)
	if len(keys) == 0 {
		req.Replace("sshPublicKey", nil)
	} else {
		req.Replace("sshPublicKey", keys)
	}
	return convertLDAPError(c.conn.Modify(req))
}

// GetGroupMembers fetches the member set of a group entry.
func (c *Client) GetGroupMembers(groupname string) ([]string, error) {
	entry, err := c.searchOne(c.cfg.GroupBase,
		fmt.Sprintf("(&(objectClass=posixGroup)(cn=%s))", ldap.EscapeFilter(groupname)),
		[]string{"memberUid"})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return entry.GetAttributeValues("memberUid"), nil
}

// CreateGroup creates a group entry with the given members.
func (c *Client) CreateGroup(groupname string, gid int64, members []string) error {
	req := ldap.NewAddRequest(c.GroupDN(groupname), nil)
	req.Attribute("objectClass", []string{"top", "posixGroup"})
	req.Attribute("cn", []string{groupname})
	req.Attribute("gidNumber", []string{strconv.FormatInt(gid, 10)})
	if len(members) > 0 {
		req.Attribute("memberUid", members)
	}
	return convertLDAPError(c.conn.Add(req))
}

// EditGroupMembers applies a minimal membership change to a group
// entry. Empty slices are skipped; a fully empty edit is a no-op.
func (c *Client) EditGroupMembers(groupname string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	req := ldap.NewModifyRequest(c.GroupDN(groupname), nil)
	if len(add) > 0 {
		req.Add("memberUid", add)
	}
	if len(remove) > 0 {
		req.Delete("memberUid", remove)
	}
	return convertLDAPError(c.conn.Modify(req))
}

// DeleteAutomount removes one autofs entry; a missing entry is not an
// error.
func (c *Client) DeleteAutomount(tablename, key string) error {
	err := convertLDAPError(c.conn.Del(ldap.NewDelRequest(c.AutomountDN(tablename, key), nil)))
	if trace.IsNotFound(err) {
		return nil
	}
	return trace.Wrap(err)
}

// AddAutomount writes one autofs entry. The information value is the
// classic "-options host:path" form.
func (c *Client) AddAutomount(tablename, key, host, hostPath string, options []string) error {
	info := fmt.Sprintf("%s:%s", host, hostPath)
	if len(options) > 0 {
		info = "-" + strings.Join(options, ",") + " " + info
	}
	req := ldap.NewAddRequest(c.AutomountDN(tablename, key), nil)
	req.Attribute("objectClass", []string{"top", "automount"})
	req.Attribute("automountKey", []string{key})
	req.Attribute("automountInformation", []string{info})
	return convertLDAPError(c.conn.Add(req))
}
