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
	"github.com/gravitational/trace"
)

// loginShells are the interactive shells users may select.
var loginShells = map[string]struct{}{
	"/bin/sh":       {},
	"/bin/bash":     {},
	"/bin/zsh":      {},
	"/bin/tcsh":     {},
	"/bin/fish":     {},
	"/usr/bin/sh":   {},
	"/usr/bin/bash": {},
	"/usr/bin/zsh":  {},
	"/usr/bin/tcsh": {},
	"/usr/bin/fish": {},
}

// noLoginShells are the shells that deny interactive logins. They are
// legal values for system and disabled accounts.
var noLoginShells = map[string]struct{}{
	"/sbin/nologin":                      {},
	"/usr/sbin/nologin":                  {},
	"/bin/false":                         {},
	"/usr/sbin/nologin-account-disabled": {},
}

// IsLoginShell reports whether shell allows interactive logins.
func IsLoginShell(shell string) bool {
	_, ok := loginShells[shell]
	return ok
}

// IsNoLoginShell reports whether shell denies interactive logins.
func IsNoLoginShell(shell string) bool {
	_, ok := noLoginShells[shell]
	return ok
}

// CheckShell validates that shell is a known login or nologin shell.
func CheckShell(shell string) error {
	if shell == "" {
		return trace.BadParameter("shell is empty")
	}
	if !IsLoginShell(shell) && !IsNoLoginShell(shell) {
		return trace.BadParameter("shell %q is not a known shell", shell)
	}
	return nil
}

// LoginShells returns the set of interactive shells, sorted.
func LoginShells() []string {
	return sortedKeys(loginShells)
}

// NoLoginShells returns the set of nologin shells, sorted.
func NoLoginShells() []string {
	return sortedKeys(noLoginShells)
}
