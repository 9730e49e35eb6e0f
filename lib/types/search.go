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
	"strings"
)

// UserSearch is the inverted-index row backing user text search. The
// two gram fields are indexed with different weights so that prefix
// matches outrank interior matches.
type UserSearch struct {
	Username     string `yaml:"username" bson:"username" json:"username"`
	PrefixNGrams string `yaml:"prefix_ngrams" bson:"prefix_ngrams" json:"prefix_ngrams"`
	InfixNGrams  string `yaml:"infix_ngrams" bson:"infix_ngrams" json:"infix_ngrams"`
}

// searchTokens lowercases s and splits it on whitespace and
// punctuation that appears in names and addresses.
func searchTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '@', '.', '-', '_', ',', '+':
			return true
		}
		return false
	})
}

// PrefixNGrams returns every prefix of length two or more of every
// token in s, including the full tokens, deduplicated and sorted.
func PrefixNGrams(s string) []string {
	grams := map[string]struct{}{}
	for _, tok := range searchTokens(s) {
		for i := 2; i <= len(tok); i++ {
			grams[tok[:i]] = struct{}{}
		}
	}
	return sortedKeys(grams)
}

// InfixNGrams returns the interior substrings of every token in s:
// windows of length three through seven starting past the first
// character, deduplicated and sorted.
func InfixNGrams(s string) []string {
	grams := map[string]struct{}{}
	for _, tok := range searchTokens(s) {
		for start := 1; start < len(tok); start++ {
			for size := 3; size <= 7 && start+size <= len(tok); size++ {
				grams[tok[start:start+size]] = struct{}{}
			}
		}
	}
	return sortedKeys(grams)
}

// QueryNGrams renders a search query as the gram string to feed the
// text index: prefix grams plus the bare tokens.
func QueryNGrams(query string) string {
	grams := map[string]struct{}{}
	for _, tok := range searchTokens(query) {
		grams[tok] = struct{}{}
		for i := 2; i <= len(tok); i++ {
			grams[tok[:i]] = struct{}{}
		}
	}
	return strings.Join(sortedKeys(grams), " ")
}

// BuildUserSearch derives the index row for a user from username,
// full name, and email.
func BuildUserSearch(u *GlobalUser) *UserSearch {
	corpus := strings.Join([]string{u.Username, u.FullName, u.Email}, " ")
	return &UserSearch{
		Username:     u.Username,
		PrefixNGrams: strings.Join(PrefixNGrams(corpus), " "),
		InfixNGrams:  strings.Join(InfixNGrams(corpus), " "),
	}
}
