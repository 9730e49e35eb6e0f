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

package nocloud

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ucdavis/cheeto/lib/types"
)

func TestRender(t *testing.T) {
	t.Parallel()

	out, err := Render("user-data", `#cloud-config
hostname: {{ .Hostname }}
fqdn: {{ .Hostname }}.{{ .Site.FQDN }}
role: {{ .Extra.role | upper }}
`, Values{
		Site:     &types.Site{Sitename: "hive", FQDN: "hive.example.edu"},
		Hostname: "gpu-07",
		Extra:    map[string]string{"role": "compute"},
	})
	require.NoError(t, err)
	require.Equal(t, `#cloud-config
hostname: gpu-07
fqdn: gpu-07.hive.example.edu
role: COMPUTE
`, string(out))
}

func TestRenderMissingKey(t *testing.T) {
	t.Parallel()

	_, err := Render("user-data", "{{ .Extra.missing }}", Values{
		Extra: map[string]string{},
	})
	require.Error(t, err)
}

func TestRenderFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/templates/user-data.tmpl",
		[]byte("host: {{ .Hostname }}\n"), 0o644))

	out, err := RenderFile(fs, "/templates/user-data.tmpl", Values{Hostname: "login-1"})
	require.NoError(t, err)
	require.Equal(t, "host: login-1\n", string(out))

	_, err = RenderFile(fs, "/templates/nope.tmpl", Values{})
	require.Error(t, err)
}
