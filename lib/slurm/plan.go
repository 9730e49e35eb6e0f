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

package slurm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ucdavis/cheeto/lib/types"
)

// Op names one kind of plan step.
type Op string

const (
	OpAddQOS        Op = "add-qos"
	OpModifyQOS     Op = "modify-qos"
	OpModifyAssoc   Op = "modify-association"
	OpDeleteAssoc   Op = "delete-association"
	OpDeleteQOS     Op = "delete-qos"
	OpAddAccount    Op = "add-account"
	OpModifyAccount Op = "modify-account"
	OpAddAssoc      Op = "add-association"
	OpDeleteAccount Op = "delete-account"
)

// Step is one scheduler CLI invocation: Args are the arguments passed
// to sacctmgr after its own flags.
type Step struct {
	Op   Op       `json:"op"`
	Args []string `json:"args"`
}

// String renders the step as the command it will run.
func (s Step) String() string {
	return string(s.Op) + ": " + strings.Join(s.Args, " ")
}

// BuildPlan turns a diff into an ordered list of steps. The order is a
// contract: new QOSes must exist before associations reference them, a
// QOS must lose all references before it can be deleted, and accounts
// must exist before user associations attach to them. Deleting an
// account implicitly deletes its remaining associations, so account
// deletion comes last.
func BuildPlan(d *Diff, desired *State) []Step {
	var plan []Step

	for _, name := range d.QOSAdd {
		plan = append(plan, Step{Op: OpAddQOS, Args: addQOSArgs(name, desired.QOS[name])})
	}
	for _, name := range d.QOSModify {
		plan = append(plan, Step{Op: OpModifyQOS, Args: modifyQOSArgs(name, desired.QOS[name])})
	}
	for _, key := range d.AssocModify {
		plan = append(plan, Step{Op: OpModifyAssoc, Args: modifyAssocArgs(key, desired.Users[key])})
	}
	for _, key := range d.AssocDelete {
		plan = append(plan, Step{Op: OpDeleteAssoc, Args: deleteAssocArgs(key)})
	}
	for _, name := range d.QOSDelete {
		plan = append(plan, Step{Op: OpDeleteQOS, Args: []string{"delete", "qos", name}})
	}
	for _, name := range d.AccountAdd {
		plan = append(plan, Step{Op: OpAddAccount, Args: addAccountArgs(name, desired.Accounts[name])})
	}
	for _, name := range d.AccountModify {
		plan = append(plan, Step{Op: OpModifyAccount, Args: modifyAccountArgs(name, desired.Accounts[name])})
	}
	for _, key := range d.AssocAdd {
		plan = append(plan, Step{Op: OpAddAssoc, Args: addAssocArgs(key, desired.Users[key])})
	}
	for _, name := range d.AccountDelete {
		plan = append(plan, Step{Op: OpDeleteAccount, Args: []string{"delete", "account", name}})
	}

	return plan
}

// qosLimitArgs serializes the three TRES tuples. Unset tuples still
// serialize with -1 fields so a modify clears stale limits.
func qosLimitArgs(qos *types.QOS) []string {
	return []string{
		"GrpTRES=" + qos.GroupLimits.SlurmString(),
		"MaxTRESPerUser=" + qos.UserLimits.SlurmString(),
		"MaxTRESPerJob=" + qos.JobLimits.SlurmString(),
	}
}

func addQOSArgs(name string, qos *types.QOS) []string {
	args := []string{"add", "qos", "Name=" + name,
		"Priority=" + strconv.FormatInt(qos.Priority, 10)}
	// On add an absent flag set is simply omitted; Flags=-1 is only
	// meaningful as a clear on modify.
	if len(qos.Flags) > 0 {
		args = append(args, "Flags="+types.QOSFlagsString(qos.Flags))
	}
	return append(args, qosLimitArgs(qos)...)
}

func modifyQOSArgs(name string, qos *types.QOS) []string {
	flags := "-1"
	if len(qos.Flags) > 0 {
		flags = types.QOSFlagsString(qos.Flags)
	}
	args := []string{"modify", "qos", name, "set",
		"Priority=" + strconv.FormatInt(qos.Priority, 10),
		"Flags=" + flags}
	return append(args, qosLimitArgs(qos)...)
}

// accountLimitArgs serializes account limits; nil fields serialize -1
// so stale limits clear on modify.
func accountLimitArgs(limits *types.SlurmAccountLimits) []string {
	maxWall := limits.MaxJobLength
	if maxWall == "" {
		maxWall = "-1"
	}
	return []string{
		"MaxJobs=" + int64OrUnset(limits.MaxUserJobs),
		"GrpJobs=" + int64OrUnset(limits.MaxGroupJobs),
		"MaxSubmitJobs=" + int64OrUnset(limits.MaxSubmitJobs),
		"MaxWall=" + maxWall,
	}
}

func addAccountArgs(name string, limits *types.SlurmAccountLimits) []string {
	args := []string{"add", "account", "Name=" + name, "parent=" + rootAccount}
	return append(args, accountLimitArgs(limits)...)
}

func modifyAccountArgs(name string, limits *types.SlurmAccountLimits) []string {
	args := []string{"modify", "account", name, "set"}
	return append(args, accountLimitArgs(limits)...)
}

func addAssocArgs(key AssocKey, qosname string) []string {
	return []string{"add", "user", key.User,
		"account=" + key.Account,
		"partition=" + key.Partition,
		"qos=" + qosname}
}

func modifyAssocArgs(key AssocKey, qosname string) []string {
	return []string{"modify", "user", "where",
		"user=" + key.User,
		"account=" + key.Account,
		"partition=" + key.Partition,
		"set", "qos=" + qosname}
}

func deleteAssocArgs(key AssocKey) []string {
	return []string{"delete", "user", "where",
		"user=" + key.User,
		"account=" + key.Account,
		"partition=" + key.Partition}
}

func int64OrUnset(v *int64) string {
	if v == nil {
		return "-1"
	}
	return fmt.Sprintf("%d", *v)
}
