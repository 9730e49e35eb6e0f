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

func TestAutomountEffectiveOptions(t *testing.T) {
	t.Parallel()

	am := &AutomountMap{
		Sitename:     "hive",
		Tablename:    "home",
		Prefix:       "/home",
		MountOptions: []string{"rw", "hard", "intr"},
	}

	// No overrides: map defaults pass through.
	mount := &Automount{Sitename: "hive", MapTable: "home", Name: "alice"}
	require.Equal(t, []string{"hard", "intr", "rw"}, mount.EffectiveOptions(am))

	// Explicit options replace the defaults outright.
	mount = &Automount{
		Sitename: "hive", MapTable: "home", Name: "alice",
		Options: []string{"ro", "soft"},
	}
	require.Equal(t, []string{"ro", "soft"}, mount.EffectiveOptions(am))

	// Additive overrides adjust the defaults.
	mount = &Automount{
		Sitename: "hive", MapTable: "home", Name: "alice",
		AddOptions:    []string{"nosuid"},
		RemoveOptions: []string{"intr"},
	}
	require.Equal(t, []string{"hard", "nosuid", "rw"}, mount.EffectiveOptions(am))
}

func TestMountSourceResolve(t *testing.T) {
	t.Parallel()

	coll := &SourceCollection{
		Sitename:      "hive",
		Name:          "home",
		Kind:          MountKindZFS,
		Host:          "nas-1.hpc.example.edu",
		Prefix:        "/export/home",
		Quota:         "1T",
		ExportOptions: []string{"rw", "no_root_squash"},
		ExportRanges:  []string{"10.10.0.0/16"},
	}
	require.NoError(t, coll.Check())

	src := &MountSource{
		Sitename:   "hive",
		Name:       "alice",
		Kind:       MountKindZFS,
		Collection: "home",
	}
	src.Resolve(coll)
	require.Equal(t, "nas-1.hpc.example.edu", src.Host)
	require.Equal(t, "/export/home/alice", src.HostPath)
	require.Equal(t, "1T", src.Quota)
	require.Equal(t, []string{"no_root_squash", "rw"}, src.ExportOptions)
	require.NoError(t, src.Check())

	// Explicit fields win over collection defaults.
	src = &MountSource{
		Sitename:   "hive",
		Name:       "bob",
		Kind:       MountKindZFS,
		Collection: "home",
		HostPath:   "/export/special/bob",
		Quota:      "2T",
	}
	src.Resolve(coll)
	require.Equal(t, "/export/special/bob", src.HostPath)
	require.Equal(t, "2T", src.Quota)
}

func TestMountSourceCheck(t *testing.T) {
	t.Parallel()

	// Quota on a plain NFS source is rejected.
	src := &MountSource{
		Sitename: "hive",
		Name:     "scratch",
		Kind:     MountKindNFS,
		Host:     "nas-2",
		HostPath: "/export/scratch",
		Quota:    "1T",
	}
	require.True(t, trace.IsBadParameter(src.Check()))

	// A source without a collection must carry host and path.
	src = &MountSource{Sitename: "hive", Name: "scratch", Kind: MountKindNFS}
	require.True(t, trace.IsBadParameter(src.Check()))
}

func TestOptionValidation(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckMountOption("rw"))
	require.NoError(t, CheckMountOption("vers=4.1"))
	require.True(t, trace.IsBadParameter(CheckMountOption("vers=")))
	require.True(t, trace.IsBadParameter(CheckMountOption("turbo")))

	require.NoError(t, CheckExportOption("no_root_squash"))
	require.NoError(t, CheckExportOption("anonuid=65534"))
	require.True(t, trace.IsBadParameter(CheckExportOption("squash_everything")))

	require.NoError(t, CheckExportRange("10.10.0.0/16"))
	require.NoError(t, CheckExportRange("10.10.1.5"))
	require.NoError(t, CheckExportRange("*.hpc.example.edu"))
	require.True(t, trace.IsBadParameter(CheckExportRange("")))
	require.True(t, trace.IsBadParameter(CheckExportRange("not a range")))
}
