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

package puppet

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     any
		override any
		want     any
	}{
		{
			name:     "scalar right wins",
			base:     "left",
			override: "right",
			want:     "right",
		},
		{
			name:     "type mismatch right wins",
			base:     map[string]any{"a": 1},
			override: []any{"b"},
			want:     []any{"b"},
		},
		{
			name:     "lists concatenate",
			base:     []any{"a", "b"},
			override: []any{"c"},
			want:     []any{"a", "b", "c"},
		},
		{
			name: "maps recurse",
			base: map[string]any{
				"user": map[string]any{
					"alice": map[string]any{"uid": 100},
				},
			},
			override: map[string]any{
				"user": map[string]any{
					"alice": map[string]any{"shell": "/bin/bash"},
					"bob":   map[string]any{"uid": 101},
				},
			},
			want: map[string]any{
				"user": map[string]any{
					"alice": map[string]any{"uid": 100, "shell": "/bin/bash"},
					"bob":   map[string]any{"uid": 101},
				},
			},
		},
		{
			name: "nested scalar override",
			base: map[string]any{
				"user": map[string]any{"alice": map[string]any{"shell": "/bin/sh"}},
			},
			override: map[string]any{
				"user": map[string]any{"alice": map[string]any{"shell": "/bin/zsh"}},
			},
			want: map[string]any{
				"user": map[string]any{"alice": map[string]any{"shell": "/bin/zsh"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Merge(tt.base, tt.override)
			require.Empty(t, cmp.Diff(tt.want, got))
		})
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	base := map[string]any{"groups": []any{"a"}}
	override := map[string]any{"groups": []any{"b"}}
	got := Merge(base, override)

	require.Empty(t, cmp.Diff(map[string]any{"groups": []any{"a", "b"}}, got))
	require.Empty(t, cmp.Diff(map[string]any{"groups": []any{"a"}}, base))
	require.Empty(t, cmp.Diff(map[string]any{"groups": []any{"b"}}, override))
}

// Purely-additive inputs (disjoint keys, list concatenation) merge
// associatively.
func TestMergeAssociativity(t *testing.T) {
	t.Parallel()

	a := map[string]any{"user": map[string]any{"alice": map[string]any{"uid": 100}}}
	b := map[string]any{"user": map[string]any{"bob": map[string]any{"uid": 101}}}
	c := map[string]any{"group": map[string]any{"lab": map[string]any{"gid": 200}}}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))
	require.Empty(t, cmp.Diff(left, right))
}
