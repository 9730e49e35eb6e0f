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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ucdavis/cheeto/lib/types"
)

const qosShowOutput = `Name|Priority|Flags|GrpTRES|MaxTRESPU|MaxTRESPerJob
normal|0||||
lab-gpu-qos|10|DenyOnLimit|cpu=16,mem=1024M,gres/gpu=-1|cpu=-1,mem=-1,gres/gpu=2|
shared-cpu-qos|0||cpu=128,mem=-1,gres/gpu=-1||
`

const assocShowOutput = `Account|User|Partition|QOS|MaxJobs|GrpJobs|MaxSubmitJobs|MaxWall
root|||||||
root|root||normal||||
lab|||||100||
lab|alice|gpu|lab-gpu-qos||||
lab|bob|gpu|lab-gpu-qos||||
`

func TestParseQOSOutput(t *testing.T) {
	t.Parallel()

	qoses, err := ParseQOSOutput(qosShowOutput)
	require.NoError(t, err)
	require.NotContains(t, qoses, builtinQOS)
	require.Len(t, qoses, 2)

	gpu := qoses["lab-gpu-qos"]
	require.Equal(t, int64(10), gpu.Priority)
	require.Equal(t, []types.QOSFlag{types.QOSFlagDenyOnLimit}, gpu.Flags)
	require.Equal(t, "cpu=16,mem=1024M,gres/gpu=-1", gpu.GroupLimits.SlurmString())
	require.Equal(t, "cpu=-1,mem=-1,gres/gpu=2", gpu.UserLimits.SlurmString())
	require.Nil(t, gpu.JobLimits)
}

func TestParseAssociationsOutput(t *testing.T) {
	t.Parallel()

	accounts, users, err := ParseAssociationsOutput(assocShowOutput)
	require.NoError(t, err)
	require.NotContains(t, accounts, rootAccount)
	require.Len(t, accounts, 1)
	require.Equal(t, int64(100), *accounts["lab"].MaxGroupJobs)
	require.Nil(t, accounts["lab"].MaxUserJobs)

	require.Len(t, users, 2)
	require.Equal(t, "lab-gpu-qos",
		users[AssocKey{User: "alice", Account: "lab", Partition: "gpu"}])
}

func TestParsePipeTableRejectsRaggedRows(t *testing.T) {
	t.Parallel()

	_, err := parsePipeTable("A|B\n1|2|3\n")
	require.Error(t, err)
}

// fakeRunner simulates the scheduler CLI over an in-memory State and
// records every mutation it is asked to perform.
type fakeRunner struct {
	qosOut   string
	assocOut string
	commands [][]string
	failOn   string
}

func (f *fakeRunner) run(_ context.Context, args ...string) ([]byte, error) {
	if len(args) >= 3 && args[0] == "show" {
		switch args[2] {
		case "qos":
			return []byte(f.qosOut), nil
		case "assoc":
			return []byte(f.assocOut), nil
		}
	}
	f.commands = append(f.commands, args)
	if f.failOn != "" && strings.Contains(strings.Join(args, " "), f.failOn) {
		return []byte("fake failure"), context.DeadlineExceeded
	}
	return nil, nil
}

func desiredFixture() *State {
	desired := NewState()
	desired.Accounts["lab"] = &types.SlurmAccountLimits{
		MaxGroupJobs: types.Ptr(int64(100)),
	}
	desired.QOS["lab-gpu-qos"] = &types.QOS{
		Priority:    10,
		Flags:       []types.QOSFlag{types.QOSFlagDenyOnLimit},
		GroupLimits: &types.TRES{CPUs: types.Ptr(int64(16)), Memory: "1024M"},
		UserLimits:  &types.TRES{GPUs: types.Ptr(int64(2))},
	}
	desired.Users[AssocKey{User: "alice", Account: "lab", Partition: "gpu"}] = "lab-gpu-qos"
	desired.Users[AssocKey{User: "bob", Account: "lab", Partition: "gpu"}] = "lab-gpu-qos"
	return desired
}

// A user whose association points at the wrong QOS produces exactly
// one modify-association step and nothing else.
func TestDiffSingleUserQOSChange(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{qosOut: qosShowOutput, assocOut: assocShowOutput}
	actual, err := FetchActual(context.Background(), runner)
	require.NoError(t, err)

	desired := desiredFixture()
	desired.QOS["shared-cpu-qos"] = actual.QOS["shared-cpu-qos"]
	desired.Users[AssocKey{User: "bob", Account: "lab", Partition: "gpu"}] = "shared-cpu-qos"

	diff := Compute(actual, desired)
	plan := BuildPlan(diff, desired)
	require.Len(t, plan, 1)
	require.Equal(t, OpModifyAssoc, plan[0].Op)
	require.Equal(t, []string{
		"modify", "user", "where",
		"user=bob", "account=lab", "partition=gpu",
		"set", "qos=shared-cpu-qos",
	}, plan[0].Args)
}

func TestPlanOrderContract(t *testing.T) {
	t.Parallel()

	actual := NewState()
	actual.QOS["old-qos"] = &types.QOS{}
	actual.QOS["stale-qos"] = &types.QOS{Priority: 1}
	actual.Accounts["doomed"] = &types.SlurmAccountLimits{}
	actual.Accounts["tuned"] = &types.SlurmAccountLimits{}
	actual.Users[AssocKey{User: "gone", Account: "doomed", Partition: "cpu"}] = "old-qos"
	actual.Users[AssocKey{User: "moved", Account: "tuned", Partition: "cpu"}] = "old-qos"

	desired := NewState()
	desired.QOS["stale-qos"] = &types.QOS{Priority: 2}
	desired.QOS["new-qos"] = &types.QOS{Priority: 5}
	desired.Accounts["tuned"] = &types.SlurmAccountLimits{MaxUserJobs: types.Ptr(int64(4))}
	desired.Accounts["fresh"] = &types.SlurmAccountLimits{}
	desired.Users[AssocKey{User: "moved", Account: "tuned", Partition: "cpu"}] = "new-qos"
	desired.Users[AssocKey{User: "joiner", Account: "fresh", Partition: "cpu"}] = "new-qos"

	plan := BuildPlan(Compute(actual, desired), desired)
	ops := make([]Op, len(plan))
	for i, step := range plan {
		ops[i] = step.Op
	}
	require.Equal(t, []Op{
		OpAddQOS,
		OpModifyQOS,
		OpModifyAssoc,
		OpDeleteAssoc,
		OpDeleteQOS,
		OpAddAccount,
		OpModifyAccount,
		OpAddAssoc,
		OpDeleteAccount,
	}, ops)
}

// Add omits an empty flag set; modify clears it with Flags=-1. Unset
// TRES tuples serialize -1 fields in both modes.
func TestQOSFlagsSerialization(t *testing.T) {
	t.Parallel()

	bare := &types.QOS{Priority: 3}
	add := addQOSArgs("plain-qos", bare)
	require.NotContains(t, strings.Join(add, " "), "Flags=")
	require.Contains(t, add, "GrpTRES=cpu=-1,mem=-1,gres/gpu=-1")
	require.Contains(t, add, "MaxTRESPerUser=cpu=-1,mem=-1,gres/gpu=-1")
	require.Contains(t, add, "MaxTRESPerJob=cpu=-1,mem=-1,gres/gpu=-1")

	modify := modifyQOSArgs("plain-qos", bare)
	require.Contains(t, modify, "Flags=-1")
	require.Contains(t, modify, "GrpTRES=cpu=-1,mem=-1,gres/gpu=-1")

	flagged := &types.QOS{Flags: []types.QOSFlag{types.QOSFlagNoDecay}}
	require.Contains(t, addQOSArgs("f-qos", flagged), "Flags=NoDecay")
	require.Contains(t, modifyQOSArgs("f-qos", flagged), "Flags=NoDecay")
}

// Applying a plan to the simulated scheduler state converges: a second
// diff against the same desired state is empty.
func TestPlanIdempotence(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{qosOut: qosShowOutput, assocOut: assocShowOutput}
	actual, err := FetchActual(context.Background(), runner)
	require.NoError(t, err)

	desired := desiredFixture()
	diff := Compute(actual, desired)
	require.False(t, diff.IsZero())

	diff.Apply(actual, desired)
	again := Compute(actual, desired)
	require.True(t, again.IsZero(), "second diff should be empty")
	require.Empty(t, BuildPlan(again, desired))
}

func TestExecutorContinuesPastFailures(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{failOn: "Name=bad-qos"}
	exec, err := NewExecutor(ExecutorConfig{Runner: runner, Mode: ModeRun})
	require.NoError(t, err)

	desired := NewState()
	desired.QOS["bad-qos"] = &types.QOS{}
	desired.QOS["good-qos"] = &types.QOS{}
	plan := BuildPlan(Compute(NewState(), desired), desired)
	require.Len(t, plan, 2)

	report, err := exec.Apply(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, report.Failed())
	require.Equal(t, 1, report.Ops[OpAddQOS].Failures)
	require.Equal(t, 1, report.Ops[OpAddQOS].Successes)
	require.Len(t, runner.commands, 2)
}

func TestExecutorDumpMode(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	var sink bytes.Buffer
	exec, err := NewExecutor(ExecutorConfig{Runner: runner, Mode: ModeDump, Sink: &sink})
	require.NoError(t, err)

	desired := NewState()
	desired.Accounts["lab"] = &types.SlurmAccountLimits{}
	plan := BuildPlan(Compute(NewState(), desired), desired)

	report, err := exec.Apply(context.Background(), plan)
	require.NoError(t, err)
	require.False(t, report.Failed())
	require.Empty(t, runner.commands, "dump mode must not mutate the scheduler")
	require.Contains(t, sink.String(), "sacctmgr -i -Q add account Name=lab")
}
