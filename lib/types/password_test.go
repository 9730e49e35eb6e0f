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

func TestHashPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("hunter2hunter2")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$y$j9T$"), "hash %q must carry the fixed setting", hash)

	require.True(t, VerifyPassword("hunter2hunter2", hash))
	require.False(t, VerifyPassword("hunter3hunter3", hash))
	require.False(t, VerifyPassword("hunter2hunter2", ""))

	// Salts are random: two hashes of one password differ.
	other, err := HashPassword("hunter2hunter2")
	require.NoError(t, err)
	require.NotEqual(t, hash, other)

	_, err = HashPassword("")
	require.Error(t, err)
}

func TestGeneratePassword(t *testing.T) {
	t.Parallel()

	pw, err := GeneratePassword(12)
	require.NoError(t, err)
	require.NotEmpty(t, pw)
	require.Equal(t, strings.ToLower(pw), pw)

	again, err := GeneratePassword(12)
	require.NoError(t, err)
	require.NotEqual(t, pw, again)

	_, err = GeneratePassword(0)
	require.Error(t, err)
}

func TestCheckSSHKey(t *testing.T) {
	t.Parallel()

	const blob = "AAAAC3NzaC1lZDI1NTE5AAAAI" + "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	const key = "ssh-ed25519 " + blob + " alice@example.edu"

	require.NoError(t, CheckSSHKey(key))
	require.Error(t, CheckSSHKey(""))
	require.Error(t, CheckSSHKey("not a key at all"))
	require.Error(t, CheckSSHKey("ssh-ed25519 AAAA short"))

	// Normalization strips the comment.
	normalized, err := NormalizeSSHKey(key)
	require.NoError(t, err)
	require.Equal(t, "ssh-ed25519 "+blob, normalized)
}
