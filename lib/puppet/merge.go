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

// Package puppet bridges the legacy puppet account repository: YAML
// account maps are parsed, merged, and validated on the way in, and
// the canonical store is re-materialized as account maps on the way
// out.
package puppet

// Merge combines two decoded YAML trees with puppet's additive deep
// merge: mappings recurse key by key, sequences concatenate, and for
// scalars or type-mismatched pairs the override wins. Inputs are not
// modified.
func Merge(base, override any) any {
	switch b := base.(type) {
	case map[string]any:
		o, ok := override.(map[string]any)
		if !ok {
			return override
		}
		out := make(map[string]any, len(b)+len(o))
		for k, v := range b {
			out[k] = v
		}
		for k, v := range o {
			if existing, ok := out[k]; ok {
				out[k] = Merge(existing, v)
			} else {
				out[k] = v
			}
		}
		return out
	case []any:
		o, ok := override.([]any)
		if !ok {
			return override
		}
		out := make([]any, 0, len(b)+len(o))
		out = append(out, b...)
		out = append(out, o...)
		return out
	default:
		return override
	}
}

// MergeAll folds a sequence of trees left to right, later trees
// winning where the merge is not additive.
func MergeAll(trees ...any) any {
	if len(trees) == 0 {
		return nil
	}
	out := trees[0]
	for _, t := range trees[1:] {
		out = Merge(out, t)
	}
	return out
}
