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

// UserType classifies an account by how it was provisioned and what it
// represents.
type UserType string

const (
	// UserTypeUser is a regular human account.
	UserTypeUser UserType = "user"
	// UserTypeAdmin is an account operated by infrastructure staff.
	UserTypeAdmin UserType = "admin"
	// UserTypeSystem is a service account; these live above the system
	// UID floor and never log in interactively.
	UserTypeSystem UserType = "system"
	// UserTypeClass is a temporary account provisioned for coursework.
	UserTypeClass UserType = "class"
)

// Check validates the user type value.
func (t UserType) Check() error {
	switch t {
	case UserTypeUser, UserTypeAdmin, UserTypeSystem, UserTypeClass:
		return nil
	}
	return trace.BadParameter("user type %q is not supported", string(t))
}

// Set sets the value from a CLI flag string.
func (t *UserType) Set(v string) error {
	val := UserType(v)
	if err := val.Check(); err != nil {
		return trace.Wrap(err)
	}
	*t = val
	return nil
}

// String returns the wire representation of the user type.
func (t *UserType) String() string { return string(*t) }

// UserStatus tracks whether an account may be used.
type UserStatus string

const (
	// UserStatusActive means the account is usable.
	UserStatusActive UserStatus = "active"
	// UserStatusInactive means the account has been disabled. Inactive
	// users keep their records but are exported with a nologin shell.
	UserStatusInactive UserStatus = "inactive"
	// UserStatusDisabled means the account was administratively locked.
	UserStatusDisabled UserStatus = "disabled"
)

// Check validates the user status value.
func (s UserStatus) Check() error {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusDisabled:
		return nil
	}
	return trace.BadParameter("user status %q is not supported", string(s))
}

// Set sets the value from a CLI flag string.
func (s *UserStatus) Set(v string) error {
	val := UserStatus(v)
	if err := val.Check(); err != nil {
		return trace.Wrap(err)
	}
	*s = val
	return nil
}

// String returns the wire representation of the user status.
func (s *UserStatus) String() string { return string(*s) }

// GroupType classifies a group by its provisioning origin.
type GroupType string

const (
	// GroupTypeUser is the personal group paired with a user account;
	// it shares the user's name and gid.
	GroupTypeUser GroupType = "user"
	// GroupTypeAccess is a group whose membership encodes an access
	// grant on a site.
	GroupTypeAccess GroupType = "access"
	// GroupTypeSystem is a group owned by infrastructure tooling.
	GroupTypeSystem GroupType = "system"
	// GroupTypeGroup is an ordinary shared POSIX group, typically a
	// lab or sponsor group.
	GroupTypeGroup GroupType = "group"
	// GroupTypeAdmin is a group granting administrative standing.
	GroupTypeAdmin GroupType = "admin"
	// GroupTypeClass is a group backing a course account batch.
	GroupTypeClass GroupType = "class"
)

// Check validates the group type value.
func (t GroupType) Check() error {
	switch t {
	case GroupTypeUser, GroupTypeAccess, GroupTypeSystem, GroupTypeGroup, GroupTypeAdmin, GroupTypeClass:
		return nil
	}
	return trace.BadParameter("group type %q is not supported", string(t))
}

// Set sets the value from a CLI flag string.
func (t *GroupType) Set(v string) error {
	val := GroupType(v)
	if err := val.Check(); err != nil {
		return trace.Wrap(err)
	}
	*t = val
	return nil
}

// String returns the wire representation of the group type.
func (t *GroupType) String() string { return string(*t) }

// Access names a way a user may reach a site.
type Access string

const (
	// AccessLoginSSH grants interactive SSH logins on login nodes.
	AccessLoginSSH Access = "login-ssh"
	// AccessOndemand grants access through the web portal.
	AccessOndemand Access = "ondemand"
	// AccessComputeSSH grants SSH logins on compute nodes.
	AccessComputeSSH Access = "compute-ssh"
	// AccessRootSSH grants privileged SSH logins.
	AccessRootSSH Access = "root-ssh"
	// AccessSudo grants sudo on site hosts.
	AccessSudo Access = "sudo"
	// AccessSlurm grants scheduler job submission.
	AccessSlurm Access = "slurm"
)

// Check validates the access value.
func (a Access) Check() error {
	switch a {
	case AccessLoginSSH, AccessOndemand, AccessComputeSSH, AccessRootSSH, AccessSudo, AccessSlurm:
		return nil
	}
	return trace.BadParameter("access type %q is not supported", string(a))
}

// Set sets the value from a CLI flag string.
func (a *Access) Set(v string) error {
	val := Access(v)
	if err := val.Check(); err != nil {
		return trace.Wrap(err)
	}
	*a = val
	return nil
}

// String returns the wire representation of the access value.
func (a *Access) String() string { return string(*a) }

// accountAccessTypes maps upstream account-event access names to the
// access values stored on site users. Names not present here are
// ignored rather than rejected, so new upstream access kinds do not
// break event processing.
var accountAccessTypes = map[string]Access{
	"OpenOnDemand": AccessOndemand,
	"SshKey":       AccessLoginSSH,
}

// AccessFromAccountKind translates an upstream account access name to
// the canonical access value. The second return is false for names
// with no local meaning.
func AccessFromAccountKind(kind string) (Access, bool) {
	a, ok := accountAccessTypes[kind]
	return a, ok
}

// EventAction names an account event operation requested upstream.
type EventAction string

const (
	// EventCreateAccount requests provisioning of a user on a site.
	EventCreateAccount EventAction = "CreateAccount"
	// EventAddAccountToGroup requests group membership for a user.
	EventAddAccountToGroup EventAction = "AddAccountToGroup"
	// EventUpdateSshKey replaces the SSH public key on an account.
	EventUpdateSshKey EventAction = "UpdateSshKey"
)

// Check validates the event action value.
func (a EventAction) Check() error {
	switch a {
	case EventCreateAccount, EventAddAccountToGroup, EventUpdateSshKey:
		return nil
	}
	return trace.BadParameter("event action %q is not supported", string(a))
}

// String returns the wire representation of the event action.
func (a EventAction) String() string { return string(a) }

// EventStatus records how far an account event has progressed.
type EventStatus string

const (
	// EventStatusPending marks events awaiting processing.
	EventStatusPending EventStatus = "Pending"
	// EventStatusComplete marks events applied to the directory.
	EventStatusComplete EventStatus = "Complete"
	// EventStatusFailed marks events that exhausted their retries.
	EventStatusFailed EventStatus = "Failed"
	// EventStatusCanceled marks events abandoned without processing.
	EventStatusCanceled EventStatus = "Canceled"
)

// Check validates the event status value.
func (s EventStatus) Check() error {
	switch s {
	case EventStatusPending, EventStatusComplete, EventStatusFailed, EventStatusCanceled:
		return nil
	}
	return trace.BadParameter("event status %q is not supported", string(s))
}

// String returns the wire representation of the event status.
func (s EventStatus) String() string { return string(s) }
