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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixNGrams(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"al", "ali", "alic", "alice"},
		PrefixNGrams("alice"))

	// Tokens split on punctuation; single characters drop out.
	grams := PrefixNGrams("Bo Li")
	require.Equal(t, []string{"bo", "li"}, grams)

	require.Empty(t, PrefixNGrams(""))
	require.Empty(t, PrefixNGrams("a"))
}

func TestInfixNGrams(t *testing.T) {
	t.Parallel()

	grams := InfixNGrams("alice")
	// Interior windows of length 3..7 never include a grams starting
	// at the first character.
	require.Contains(t, grams, "lic")
	require.Contains(t, grams, "lice")
	require.Contains(t, grams, "ice")
	require.NotContains(t, grams, "ali")
	require.NotContains(t, grams, "al")

	require.Empty(t, InfixNGrams("ab"))
}

func TestQueryNGrams(t *testing.T) {
	t.Parallel()

	q := QueryNGrams("Alice@example.edu")
	require.Contains(t, q, "alice")
	require.Contains(t, q, "al")
	require.Contains(t, q, "example")
	require.NotContains(t, q, "@")
}

func TestBuildUserSearch(t *testing.T) {
	t.Parallel()

	row := BuildUserSearch(&GlobalUser{
		Username: "amjohns",
		FullName: "Amanda Johnson",
		Email:    "amjohns@example.edu",
	})
	require.Equal(t, "amjohns", row.Username)

	prefix := strings.Fields(row.PrefixNGrams)
	require.Contains(t, prefix, "amanda")
	require.Contains(t, prefix, "john")
	require.Contains(t, prefix, "amjohns")

	infix := strings.Fields(row.InfixNGrams)
	require.Contains(t, infix, "manda")
	require.Contains(t, infix, "ohns")
	require.NotContains(t, infix, "amanda")
}
