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
	"regexp"
	"strings"

	"github.com/gravitational/trace"
)

// posixNamePattern is the POSIX portable user/group name rule: a
// lowercase letter or underscore, then up to 31 characters drawn from
// lowercase letters, digits, underscore and hyphen, with an optional
// trailing dollar sign for machine accounts.
var posixNamePattern = regexp.MustCompile(`^[a-z_]([a-z0-9_-]{0,31}|[a-z0-9_-]{0,30}\$)$`)

// emailPattern is deliberately loose; it rejects obvious garbage while
// leaving real-world addresses alone.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidPosixName reports whether name is a legal POSIX user or group
// name.
func ValidPosixName(name string) bool {
	return posixNamePattern.MatchString(name)
}

// CheckPosixName validates a POSIX user or group name.
func CheckPosixName(name string) error {
	if name == "" {
		return trace.BadParameter("name is empty")
	}
	if !ValidPosixName(name) {
		return trace.BadParameter("name %q is not a valid POSIX name", name)
	}
	return nil
}

// CheckEmail validates a contact email address.
func CheckEmail(email string) error {
	if email == "" {
		return trace.BadParameter("email is empty")
	}
	if !emailPattern.MatchString(email) {
		return trace.BadParameter("email %q is not a valid address", email)
	}
	return nil
}

// CheckFQDN validates a site fully qualified domain name. Hostnames
// are compared case-insensitively everywhere, so the canonical form is
// lowercase.
func CheckFQDN(fqdn string) error {
	if fqdn == "" {
		return trace.BadParameter("fqdn is empty")
	}
	if strings.ToLower(fqdn) != fqdn {
		return trace.BadParameter("fqdn %q must be lowercase", fqdn)
	}
	for _, label := range strings.Split(fqdn, ".") {
		if label == "" {
			return trace.BadParameter("fqdn %q has an empty label", fqdn)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return trace.BadParameter("fqdn %q has a label with a leading or trailing hyphen", fqdn)
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			default:
				return trace.BadParameter("fqdn %q contains invalid character %q", fqdn, string(r))
			}
		}
	}
	return nil
}

// SponsorGroupName returns the name of the personal sponsor group for
// a username.
func SponsorGroupName(username string) string {
	return username + "grp"
}
