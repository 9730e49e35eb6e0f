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
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/iam"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// IAMCommand implements "cheeto database iam ...".
type IAMCommand struct {
	env *Env

	sync     *kingpin.CmdClause
	newUser  *kingpin.CmdClause
	newUsers *kingpin.CmdClause

	max      int
	username string
	uid      int64
	email    string
	sites    []string
	file     string
}

// Initialize registers the identity subtree.
func (c *IAMCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	database := databaseCommand(app)
	iamCmd := database.Command("iam", "Sync accounts against the identity API.")

	c.sync = iamCmd.Command("sync", "Enrich unsynced accounts from the identity API.")
	c.sync.Flag("max", "Upper bound on users synced this run; 0 means all.").Default("0").IntVar(&c.max)

	c.newUser = iamCmd.Command("new-user", "Create an account from its identity record.")
	c.newUser.Arg("username", "Campus username.").Required().StringVar(&c.username)
	c.newUser.Flag("uid", "POSIX uid for the new account.").Required().Int64Var(&c.uid)
	c.newUser.Flag("email", "Override the address on the identity record.").StringVar(&c.email)
	c.newUser.Flag("site", "Attach to a site; repeatable.").Short('s').StringsVar(&c.sites)

	c.newUsers = iamCmd.Command("new-users", "Create accounts from a username/uid list file.")
	c.newUsers.Flag("file", "File of whitespace-separated username uid lines.").Required().StringVar(&c.file)
	c.newUsers.Flag("site", "Attach to a site; repeatable.").Short('s').StringsVar(&c.sites)
}

// TryRun executes the selected identity command.
func (c *IAMCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	var err error
	switch selectedCommand {
	case c.sync.FullCommand():
		err = c.Sync(ctx)
	case c.newUser.FullCommand():
		err = c.NewUser(ctx)
	case c.newUsers.FullCommand():
		err = c.NewUsers(ctx)
	default:
		return false, nil
	}
	return true, trace.Wrap(err)
}

// Sync runs the identity synchronizer.
func (c *IAMCommand) Sync(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	client, err := c.env.IAMClient()
	if err != nil {
		return trace.Wrap(err)
	}
	syncer, err := iam.NewSyncer(iam.SyncerConfig{Store: db, Client: client})
	if err != nil {
		return trace.Wrap(err)
	}
	applied, err := syncer.Sync(ctx, c.max)
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("synced %v users\n", applied)
	return nil
}

// NewUser creates one account from its identity record.
func (c *IAMCommand) NewUser(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	client, err := c.env.IAMClient()
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.createFromIdentity(ctx, db, client, c.username, c.uid))
}

// NewUsers creates accounts for each username/uid line of a file.
// Existing accounts are reported and skipped.
func (c *IAMCommand) NewUsers(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	client, err := c.env.IAMClient()
	if err != nil {
		return trace.Wrap(err)
	}
	f, err := os.Open(c.file)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer f.Close()

	var errs []error
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return trace.BadParameter("malformed line %q: want username uid", line)
		}
		uid, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return trace.BadParameter("malformed uid in line %q", line)
		}
		if err := c.createFromIdentity(ctx, db, client, fields[0], uid); err != nil {
			if trace.IsAlreadyExists(err) {
				c.env.Log.Warn("user already exists, skipping", "username", fields[0])
				continue
			}
			errs = append(errs, trace.Wrap(err, "user %q", fields[0]))
		}
	}
	if err := scanner.Err(); err != nil {
		return trace.ConvertSystemError(err)
	}
	return trace.NewAggregate(errs...)
}

func (c *IAMCommand) createFromIdentity(ctx context.Context, db *store.Store, client *iam.Client, username string, uid int64) error {
	person, err := client.QueryPersonByUsername(ctx, username)
	if err != nil {
		return trace.Wrap(err)
	}
	email := c.email
	if email == "" {
		email = person.Email
	}
	user, err := db.CreateUser(ctx, store.CreateUserParams{
		Username:  username,
		Email:     email,
		UID:       uid,
		FullName:  person.FullName,
		Type:      types.UserTypeUser,
		IAMID:     person.IAMID,
		Sitenames: c.sites,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	fmt.Printf("created user %v (uid %v, iam %v)\n", user.Username, user.UID, user.IAMID)
	return nil
}
