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

func TestParseQuotaMB(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input     string
		want      uint64
		assertErr require.ErrorAssertionFunc
	}{
		{input: "128", want: 128, assertErr: require.NoError},
		{input: "1024M", want: 1024, assertErr: require.NoError},
		{input: "16G", want: 16384, assertErr: require.NoError},
		{input: "16g", want: 16384, assertErr: require.NoError},
		{input: "2T", want: 2097152, assertErr: require.NoError},
		{input: "200G", want: 204800, assertErr: require.NoError},
		{
			input: "",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			input: "16K",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			input: "lots",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			input: "0G",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
		{
			input: "-5G",
			assertErr: func(t require.TestingT, err error, _ ...interface{}) {
				require.True(t, trace.IsBadParameter(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseQuotaMB(tt.input)
			tt.assertErr(t, err)
			if err == nil {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSlurmMB(t *testing.T) {
	t.Parallel()

	out, err := SlurmMB("16G")
	require.NoError(t, err)
	require.Equal(t, "16384M", out)

	out, err = SlurmMB("512")
	require.NoError(t, err)
	require.Equal(t, "512M", out)

	_, err = SlurmMB("1P")
	require.True(t, trace.IsBadParameter(err))
}

func TestParseTRES(t *testing.T) {
	t.Parallel()

	tres, err := ParseTRES("cpus=16,mem=1G,gpus=2")
	require.NoError(t, err)
	require.NotNil(t, tres.CPUs)
	require.EqualValues(t, 16, *tres.CPUs)
	require.NotNil(t, tres.GPUs)
	require.EqualValues(t, 2, *tres.GPUs)
	require.Equal(t, "1024M", tres.Memory)

	// The scheduler's own spelling parses to the same tuple.
	fromSlurm, err := ParseTRES("cpu=16,mem=1024M,gres/gpu=2")
	require.NoError(t, err)
	require.True(t, tres.Equal(fromSlurm))

	// -1 fields read back as unset.
	cleared, err := ParseTRES("cpu=-1,mem=512M,gres/gpu=-1")
	require.NoError(t, err)
	require.Nil(t, cleared.CPUs)
	require.Nil(t, cleared.GPUs)
	require.Equal(t, "512M", cleared.Memory)

	empty, err := ParseTRES("")
	require.NoError(t, err)
	require.True(t, empty.IsZero())

	_, err = ParseTRES("cpus=many")
	require.True(t, trace.IsBadParameter(err))
	_, err = ParseTRES("nodes=4")
	require.True(t, trace.IsBadParameter(err))
	_, err = ParseTRES("cpus")
	require.True(t, trace.IsBadParameter(err))
}

func TestTRESSlurmString(t *testing.T) {
	t.Parallel()

	tres, err := ParseTRES("mem=1G")
	require.NoError(t, err)
	require.Contains(t, tres.SlurmString(), "mem=1024")
	require.Equal(t, "cpu=-1,mem=1024M,gres/gpu=-1", tres.SlurmString())

	full := &TRES{CPUs: Ptr[int64](8), GPUs: Ptr[int64](1), Memory: "2048M"}
	require.Equal(t, "cpu=8,mem=2048M,gres/gpu=1", full.SlurmString())

	var nilTres *TRES
	require.Equal(t, "cpu=-1,mem=-1,gres/gpu=-1", nilTres.SlurmString())
	require.True(t, nilTres.IsZero())
	require.True(t, nilTres.Equal(&TRES{}))
}

func TestQOSFlags(t *testing.T) {
	t.Parallel()

	flags, err := ParseQOSFlags("NoDecay,DenyOnLimit,NoDecay")
	require.NoError(t, err)
	require.Equal(t, []QOSFlag{QOSFlagDenyOnLimit, QOSFlagNoDecay}, flags)
	require.Equal(t, "DenyOnLimit,NoDecay", QOSFlagsString(flags))

	empty, err := ParseQOSFlags("")
	require.NoError(t, err)
	require.Nil(t, empty)

	_, err = ParseQOSFlags("NoDecay,Sparkles")
	require.True(t, trace.IsBadParameter(err))
}

func TestQOSEqual(t *testing.T) {
	t.Parallel()

	a := &QOS{
		GroupLimits: &TRES{CPUs: Ptr[int64](100), Memory: "500G"},
		Priority:    10,
		Flags:       []QOSFlag{QOSFlagNoDecay, QOSFlagDenyOnLimit},
	}
	require.NoError(t, a.Normalize())
	require.Equal(t, "512000M", a.GroupLimits.Memory)

	b := &QOS{
		GroupLimits: &TRES{CPUs: Ptr[int64](100), Memory: "512000M"},
		Priority:    10,
		Flags:       []QOSFlag{QOSFlagDenyOnLimit, QOSFlagNoDecay},
	}
	require.True(t, a.Equal(b))

	b.Priority = 20
	require.False(t, a.Equal(b))
}

func TestQOSName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "labgrp-gpu-qos", QOSName("labgrp", "gpu"))
}
