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

package common

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"golang.org/x/term"

	"github.com/ucdavis/cheeto/lib/asciitable"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// UserCommand implements "cheeto database user ...".
type UserCommand struct {
	env *Env

	show              *kingpin.CmdClause
	newSystem         *kingpin.CmdClause
	setStatus         *kingpin.CmdClause
	setShell          *kingpin.CmdClause
	setPassword       *kingpin.CmdClause
	setType           *kingpin.CmdClause
	generatePasswords *kingpin.CmdClause
	addAccess         *kingpin.CmdClause
	removeAccess      *kingpin.CmdClause
	addSite           *kingpin.CmdClause
	removeSite        *kingpin.CmdClause
	groups            *kingpin.CmdClause
	index             *kingpin.CmdClause

	username      string
	usernames     []string
	sitename      string
	email         string
	fullname      string
	shell         string
	password      string
	reason        string
	status        types.UserStatus
	utype         types.UserType
	access        types.Access
	createStorage bool
	sites         []string
}

// Initialize registers the user subtree.
func (c *UserCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	database := databaseCommand(app)
	user := database.Command("user", "Manage user accounts.")

	c.show = user.Command("show", "Show a user; falls back to a fuzzy search.")
	c.show.Flag("user", "Username or search query.").Short('u').Required().StringVar(&c.username)
	c.show.Flag("site", "Also show the user's record on this site.").Short('s').StringVar(&c.sitename)

	userNew := user.Command("new", "Create accounts.")
	c.newSystem = userNew.Command("system", "Create a system account.")
	c.newSystem.Arg("username", "Account name.").Required().StringVar(&c.username)
	c.newSystem.Flag("email", "Contact address.").Required().StringVar(&c.email)
	c.newSystem.Flag("fullname", "Display name.").Required().StringVar(&c.fullname)
	c.newSystem.Flag("site", "Attach to a site; repeatable.").Short('s').StringsVar(&c.sites)

	userSet := user.Command("set", "Change account attributes.")
	c.setStatus = userSet.Command("status", "Set global or per-site status.")
	c.setStatus.Arg("status", "active, inactive, or disabled.").Required().SetValue(&c.status)
	c.setStatus.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)
	c.setStatus.Flag("site", "Restrict the change to one site.").Short('s').StringVar(&c.sitename)
	c.setStatus.Flag("reason", "Recorded in the account comments.").StringVar(&c.reason)

	c.setShell = userSet.Command("shell", "Set the login shell.")
	c.setShell.Arg("shell", "Shell path.").Required().StringVar(&c.shell)
	c.setShell.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)

	c.setPassword = userSet.Command("password", "Set the account password.")
	c.setPassword.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)
	c.setPassword.Flag("password", "Password value; prompted when omitted.").StringVar(&c.password)

	c.setType = userSet.Command("type", "Set the account type.")
	c.setType.Arg("type", "user, admin, system, or class.").Required().SetValue(&c.utype)
	c.setType.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)

	c.generatePasswords = user.Command("generate-passwords", "Rotate passwords for a set of accounts.")
	c.generatePasswords.Flag("user", "Username; repeatable.").Short('u').Required().StringsVar(&c.usernames)

	userAdd := user.Command("add", "Grant access or site membership.")
	c.addAccess = userAdd.Command("access", "Grant an access flag.")
	c.addAccess.Arg("access", "Access flag.").Required().SetValue(&c.access)
	c.addAccess.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)
	c.addAccess.Flag("site", "Grant on one site only.").Short('s').StringVar(&c.sitename)

	c.addSite = userAdd.Command("site", "Attach the user to a site.")
	c.addSite.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)
	c.addSite.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.addSite.Flag("create-storage", "Also provision home storage.").BoolVar(&c.createStorage)

	userRemove := user.Command("remove", "Revoke access or site membership.")
	c.removeAccess = userRemove.Command("access", "Revoke an access flag.")
	c.removeAccess.Arg("access", "Access flag.").Required().SetValue(&c.access)
	c.removeAccess.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)
	c.removeAccess.Flag("site", "Revoke on one site only.").Short('s').StringVar(&c.sitename)

	c.removeSite = userRemove.Command("site", "Detach the user from a site.")
	c.removeSite.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)
	c.removeSite.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)

	c.groups = user.Command("groups", "List the user's groups on a site.")
	c.groups.Flag("user", "Username.").Short('u').Required().StringVar(&c.username)
	c.groups.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)

	c.index = user.Command("index", "Rebuild the user search index.")
}

// TryRun executes the selected user command.
func (c *UserCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	var err error
	switch selectedCommand {
	case c.show.FullCommand():
		err = c.Show(ctx)
	case c.newSystem.FullCommand():
		err = c.NewSystem(ctx)
	case c.setStatus.FullCommand():
		err = c.SetStatus(ctx)
	case c.setShell.FullCommand():
		err = c.SetShell(ctx)
	case c.setPassword.FullCommand():
		err = c.SetPassword(ctx)
	case c.setType.FullCommand():
		err = c.SetType(ctx)
	case c.generatePasswords.FullCommand():
		err = c.GeneratePasswords(ctx)
	case c.addAccess.FullCommand():
		err = c.EditAccess(ctx, true)
	case c.removeAccess.FullCommand():
		err = c.EditAccess(ctx, false)
	case c.addSite.FullCommand():
		err = c.AddSite(ctx)
	case c.removeSite.FullCommand():
		err = c.RemoveSite(ctx)
	case c.groups.FullCommand():
		err = c.Groups(ctx)
	case c.index.FullCommand():
		err = c.Index(ctx)
	default:
		return false, nil
	}
	return true, trace.Wrap(err)
}

// Show prints a user record. An exact miss falls back to the search
// index and prints candidates instead.
func (c *UserCommand) Show(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	user, err := db.GetGlobalUser(ctx, c.username)
	if trace.IsNotFound(err) {
		return trace.Wrap(c.search(ctx, db))
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if err := dumpYAML(user); err != nil {
		return trace.Wrap(err)
	}
	if c.sitename != "" {
		su, err := db.GetSiteUser(ctx, c.sitename, c.username)
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Println("---")
		if err := dumpYAML(su); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (c *UserCommand) search(ctx context.Context, db *store.Store) error {
	matches, err := db.SearchUsers(ctx, c.username, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(matches) == 0 {
		return trace.NotFound("no user matches %q", c.username)
	}
	table := asciitable.New("Username", "UID", "Full Name", "Email")
	for _, user := range matches {
		table.AddRow([]string{
			user.Username, strconv.FormatInt(user.UID, 10), user.FullName, user.Email,
		})
	}
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// NewSystem creates a system account and optionally attaches it to
// sites.
func (c *UserCommand) NewSystem(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	user, err := db.CreateSystemUser(ctx, c.username, c.email, c.fullname)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, sitename := range c.sites {
		if err := db.AddSiteUser(ctx, sitename, user.Username); err != nil {
			return trace.Wrap(err)
		}
	}
	fmt.Printf("created system user %v (uid %v)\n", user.Username, user.UID)
	return nil
}

// SetStatus changes the global or per-site status.
func (c *UserCommand) SetStatus(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.SetUserStatus(ctx, c.username, c.status, c.reason, c.sitename))
}

// SetShell changes the login shell.
func (c *UserCommand) SetShell(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.SetUserShell(ctx, c.username, c.shell))
}

// SetPassword sets the password, prompting on the terminal when no
// value was given on the command line.
func (c *UserCommand) SetPassword(ctx context.Context) error {
	password := c.password
	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return trace.Wrap(err)
		}
	}
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.SetUserPassword(ctx, c.username, password))
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "New password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	if string(first) != string(second) {
		return "", trace.BadParameter("passwords do not match")
	}
	if strings.TrimSpace(string(first)) == "" {
		return "", trace.BadParameter("password is empty")
	}
	return string(first), nil
}

// SetType changes the account type.
func (c *UserCommand) SetType(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.SetUserType(ctx, c.username, c.utype))
}

// GeneratePasswords rotates passwords and prints the new cleartext
// values once.
func (c *UserCommand) GeneratePasswords(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	passwords, err := db.GenerateUserPasswords(ctx, c.usernames)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("Username", "Password")
	for _, username := range c.usernames {
		table.AddRow([]string{username, passwords[username]})
	}
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// EditAccess grants or revokes one access flag.
func (c *UserCommand) EditAccess(ctx context.Context, grant bool) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if grant {
		return trace.Wrap(db.AddUserAccess(ctx, c.username, c.access, c.sitename))
	}
	return trace.Wrap(db.RemoveUserAccess(ctx, c.username, c.access, c.sitename))
}

// AddSite attaches the user to a site, optionally provisioning home
// storage.
func (c *UserCommand) AddSite(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := db.AddSiteUser(ctx, c.sitename, c.username); err != nil {
		return trace.Wrap(err)
	}
	if c.createStorage {
		err := db.CreateHomeStorage(ctx, store.CreateHomeStorageParams{
			Sitename: c.sitename,
			Username: c.username,
		})
		if err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// RemoveSite detaches the user from a site.
func (c *UserCommand) RemoveSite(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.RemoveSiteUser(ctx, c.sitename, c.username))
}

// Groups lists the user's group memberships on a site.
func (c *UserCommand) Groups(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	groups, err := db.UserGroups(ctx, c.sitename, c.username)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("Group", "Roles")
	for _, sg := range groups {
		var roles []string
		for _, role := range types.GroupRoles() {
			if slices.Contains(sg.Role(role), c.username) {
				roles = append(roles, string(role))
			}
		}
		table.AddRow([]string{sg.Groupname, strings.Join(roles, ",")})
	}
	table.SortRows(0)
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// Index rebuilds the user search index.
func (c *UserCommand) Index(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	count, err := db.ReindexUsers(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("indexed %v users\n", count)
	return nil
}
