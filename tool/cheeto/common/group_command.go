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

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/asciitable"
	"github.com/ucdavis/cheeto/lib/types"
)

// GroupCommand implements "cheeto database group ...".
type GroupCommand struct {
	env *Env

	show      *kingpin.CmdClause
	newSystem *kingpin.CmdClause
	newClass  *kingpin.CmdClause
	newLab    *kingpin.CmdClause

	addRole    map[types.GroupRole]*kingpin.CmdClause
	removeRole map[types.GroupRole]*kingpin.CmdClause
	addSite    *kingpin.CmdClause
	removeSite *kingpin.CmdClause

	groupname string
	sitename  string
	sites     []string
	groups    []string
	users     []string
	sponsors  []string
	accounts  int
}

// Initialize registers the group subtree.
func (c *GroupCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env
	c.addRole = map[types.GroupRole]*kingpin.CmdClause{}
	c.removeRole = map[types.GroupRole]*kingpin.CmdClause{}

	database := databaseCommand(app)
	group := database.Command("group", "Manage groups.")

	c.show = group.Command("show", "Show a group.")
	c.show.Flag("group", "Group name.").Short('g').Required().StringVar(&c.groupname)
	c.show.Flag("site", "Also show the group's record on this site.").Short('s').StringVar(&c.sitename)

	groupNew := group.Command("new", "Create groups.")
	c.newSystem = groupNew.Command("system", "Create a system group.")
	c.newSystem.Arg("groupname", "Group name.").Required().StringVar(&c.groupname)
	c.newSystem.Flag("site", "Attach to a site; repeatable.").Short('s').StringsVar(&c.sites)

	c.newClass = groupNew.Command("class", "Create a class group with numbered accounts.")
	c.newClass.Arg("groupname", "Group name.").Required().StringVar(&c.groupname)
	c.newClass.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.newClass.Flag("sponsor", "Sponsoring user; repeatable.").Required().StringsVar(&c.sponsors)
	c.newClass.Flag("accounts", "Number of class accounts.").Default("0").IntVar(&c.accounts)

	c.newLab = groupNew.Command("lab", "Create a lab group.")
	c.newLab.Arg("groupname", "Group name.").Required().StringVar(&c.groupname)
	c.newLab.Flag("site", "Attach to a site; repeatable.").Short('s').StringsVar(&c.sites)

	groupAdd := group.Command("add", "Add users to group roles, or the group to a site.")
	groupRemove := group.Command("remove", "Remove users from group roles, or the group from a site.")
	for _, role := range types.GroupRoles() {
		c.addRole[role] = c.roleClause(groupAdd, role, "Add")
		c.removeRole[role] = c.roleClause(groupRemove, role, "Remove")
	}

	c.addSite = groupAdd.Command("site", "Attach the group to a site.")
	c.addSite.Flag("group", "Group name.").Short('g').Required().StringVar(&c.groupname)
	c.addSite.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)

	c.removeSite = groupRemove.Command("site", "Detach the group from a site.")
	c.removeSite.Flag("group", "Group name.").Short('g').Required().StringVar(&c.groupname)
	c.removeSite.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
}

// roleClause builds one add/remove subcommand for a role. The command
// names are the singular role forms the original tooling used.
func (c *GroupCommand) roleClause(parent *kingpin.CmdClause, role types.GroupRole, verb string) *kingpin.CmdClause {
	name := map[types.GroupRole]string{
		types.RoleMembers:  "member",
		types.RoleSponsors: "sponsor",
		types.RoleSudoers:  "sudoer",
		types.RoleSlurmers: "slurmer",
	}[role]
	cmd := parent.Command(name, fmt.Sprintf("%s users in the %s role.", verb, name))
	cmd.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	cmd.Flag("group", "Group name; repeatable.").Short('g').Required().StringsVar(&c.groups)
	cmd.Flag("user", "Username; repeatable.").Short('u').Required().StringsVar(&c.users)
	return cmd
}

// TryRun executes the selected group command.
func (c *GroupCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	var err error
	switch selectedCommand {
	case c.show.FullCommand():
		err = c.Show(ctx)
	case c.newSystem.FullCommand():
		err = c.NewSystem(ctx)
	case c.newClass.FullCommand():
		err = c.NewClass(ctx)
	case c.newLab.FullCommand():
		err = c.NewLab(ctx)
	case c.addSite.FullCommand():
		err = c.EditSite(ctx, true)
	case c.removeSite.FullCommand():
		err = c.EditSite(ctx, false)
	default:
		for _, role := range types.GroupRoles() {
			switch selectedCommand {
			case c.addRole[role].FullCommand():
				return true, trace.Wrap(c.EditRole(ctx, role, true))
			case c.removeRole[role].FullCommand():
				return true, trace.Wrap(c.EditRole(ctx, role, false))
			}
		}
		return false, nil
	}
	return true, trace.Wrap(err)
}

// Show prints a group record.
func (c *GroupCommand) Show(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	group, err := db.GetGlobalGroup(ctx, c.groupname)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := dumpYAML(group); err != nil {
		return trace.Wrap(err)
	}
	if c.sitename != "" {
		sg, err := db.GetSiteGroup(ctx, c.sitename, c.groupname)
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Println("---")
		if err := dumpYAML(sg); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// NewSystem creates a system group.
func (c *GroupCommand) NewSystem(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	group, err := db.CreateSystemGroup(ctx, c.groupname, c.sites...)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("created system group %v (gid %v)\n", group.Groupname, group.GID)
	return nil
}

// NewClass creates a class group and its numbered accounts, printing
// the generated credentials once.
func (c *GroupCommand) NewClass(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	accounts, err := db.CreateClassGroup(ctx, c.sitename, c.groupname, c.sponsors, c.accounts)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(accounts) == 0 {
		fmt.Printf("created class group %v\n", c.groupname)
		return nil
	}
	table := asciitable.New("Username", "Password")
	for _, account := range accounts {
		table.AddRow([]string{account.Username, account.Password})
	}
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// NewLab creates a lab group.
func (c *GroupCommand) NewLab(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	group, err := db.CreateLabGroup(ctx, c.groupname, c.sites...)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("created lab group %v (gid %v)\n", group.Groupname, group.GID)
	return nil
}

// EditRole adds or removes users in one role across groups.
func (c *GroupCommand) EditRole(ctx context.Context, role types.GroupRole, add bool) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if add {
		return trace.Wrap(db.GroupAddUserElement(ctx, c.sitename, c.groups, c.users, role))
	}
	return trace.Wrap(db.GroupRemoveUserElement(ctx, c.sitename, c.groups, c.users, role))
}

// EditSite attaches or detaches the group on a site.
func (c *GroupCommand) EditSite(ctx context.Context, add bool) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if add {
		return trace.Wrap(db.AddSiteGroup(ctx, c.sitename, c.groupname))
	}
	return trace.Wrap(db.RemoveSiteGroup(ctx, c.sitename, c.groupname))
}
