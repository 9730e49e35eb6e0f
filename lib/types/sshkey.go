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

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

// CheckSSHKey validates one authorized_keys-format public key line.
func CheckSSHKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return trace.BadParameter("ssh key is empty")
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
		return trace.BadParameter("ssh key is not a valid authorized key: %v", err)
	}
	return nil
}

// NormalizeSSHKey trims whitespace and strips the comment field so
// that keys compare by algorithm and material only.
func NormalizeSSHKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key))
	if err != nil {
		return "", trace.BadParameter("ssh key is not a valid authorized key: %v", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))), nil
}
