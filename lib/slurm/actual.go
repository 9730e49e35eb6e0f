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
	"context"
	"strconv"
	"strings"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/types"
)

// pipeTable is a parsed sacctmgr -P listing: the header names columns,
// each row maps column name to value.
type pipeTable struct {
	columns []string
	rows    []map[string]string
}

// parsePipeTable parses pipe-delimited scheduler show output. The
// first line is the header.
func parsePipeTable(out string) (*pipeTable, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return &pipeTable{}, nil
	}
	t := &pipeTable{columns: strings.Split(lines[0], "|")}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) != len(t.columns) {
			return nil, trace.BadParameter(
				"scheduler output row has %d fields, header has %d: %q",
				len(fields), len(t.columns), line)
		}
		row := make(map[string]string, len(fields))
		for i, col := range t.columns {
			row[col] = fields[i]
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// ParseQOSOutput parses `show -P qos` output into QOS definitions,
// excluding the scheduler's built-in QOS.
func ParseQOSOutput(out string) (map[string]*types.QOS, error) {
	table, err := parsePipeTable(out)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	qoses := map[string]*types.QOS{}
	for _, row := range table.rows {
		name := row["Name"]
		if name == "" || name == builtinQOS {
			continue
		}
		qos := &types.QOS{}
		if raw := row["Priority"]; raw != "" {
			priority, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, trace.BadParameter("qos %q priority %q is not an integer", name, raw)
			}
			qos.Priority = priority
		}
		if raw := row["Flags"]; raw != "" {
			flags, err := types.ParseQOSFlags(raw)
			if err != nil {
				return nil, trace.Wrap(err, "qos %q", name)
			}
			qos.Flags = flags
		}
		for col, dst := range map[string]**types.TRES{
			"GrpTRES":       &qos.GroupLimits,
			"MaxTRESPU":     &qos.UserLimits,
			"MaxTRESPerJob": &qos.JobLimits,
		} {
			raw := row[col]
			if raw == "" {
				continue
			}
			tres, err := types.ParseTRES(raw)
			if err != nil {
				return nil, trace.Wrap(err, "qos %q %s", name, col)
			}
			if !tres.IsZero() {
				*dst = tres
			}
		}
		qoses[name] = qos
	}
	return qoses, nil
}

// ParseAssociationsOutput parses `show -P assoc` output into accounts
// and user associations. Rows without a user are account rows and
// carry the account limits; rows with a user are associations. The
// root account and its rows are excluded.
func ParseAssociationsOutput(out string) (map[string]*types.SlurmAccountLimits, map[AssocKey]string, error) {
	table, err := parsePipeTable(out)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	accounts := map[string]*types.SlurmAccountLimits{}
	users := map[AssocKey]string{}
	for _, row := range table.rows {
		account := row["Account"]
		if account == "" || account == rootAccount {
			continue
		}
		user := row["User"]
		if user == "" {
			limits := &types.SlurmAccountLimits{MaxJobLength: row["MaxWall"]}
			for col, dst := range map[string]**int64{
				"MaxJobs":       &limits.MaxUserJobs,
				"GrpJobs":       &limits.MaxGroupJobs,
				"MaxSubmitJobs": &limits.MaxSubmitJobs,
			} {
				raw := row[col]
				if raw == "" {
					continue
				}
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return nil, nil, trace.BadParameter("account %q %s %q is not an integer", account, col, raw)
				}
				*dst = &n
			}
			accounts[account] = limits
			continue
		}
		key := AssocKey{User: user, Account: account, Partition: row["Partition"]}
		users[key] = row["QOS"]
	}
	return accounts, users, nil
}

// FetchActual reads the scheduler's current state through the CLI.
func FetchActual(ctx context.Context, runner commandRunner) (*State, error) {
	qosOut, err := runner.run(ctx, "show", "-P", "qos")
	if err != nil {
		return nil, trace.ConnectionProblem(err, "listing scheduler qos")
	}
	qoses, err := ParseQOSOutput(string(qosOut))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	assocOut, err := runner.run(ctx, "show", "-P", "assoc")
	if err != nil {
		return nil, trace.ConnectionProblem(err, "listing scheduler associations")
	}
	accounts, users, err := ParseAssociationsOutput(string(assocOut))
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &State{Accounts: accounts, QOS: qoses, Users: users}, nil
}
