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

// Package defaults contains default constants set in various parts of
// the cheeto codebase.
package defaults

import "time"

// ID allocation ranges. Allocators hand out max(existing)+1 within a range,
// or the range floor when the range is empty.
const (
	// MinSystemUID is the first uid/gid reserved for system accounts.
	// Import heuristics treat any uid above this floor as a system account.
	MinSystemUID = 3_000_000_000

	// MinClassID is the first uid/gid reserved for class accounts.
	MinClassID = 3_100_000_000

	// MinLabGroupGID is the first gid reserved for lab groups.
	MinLabGroupGID = 3_200_000_000

	// MaxLabGroupGID bounds the lab group gid range (exclusive).
	MaxLabGroupGID = 3_300_000_000

	// IDRangeWidth is the size of the system and class allocation ranges.
	IDRangeWidth = 100_000_000

	// MinPIGroupGID is the base gid for sponsor-derived groups: a sponsor
	// group's gid is MinPIGroupGID + sponsor uid.
	MinPIGroupGID = 4_000_000_000
)

const (
	// DefaultShell is assigned to users that do not declare one.
	DefaultShell = "/bin/bash"

	// DisabledUserShell replaces the login shell of users exported with
	// an inactive status.
	DisabledUserShell = "/usr/sbin/nologin-account-disabled"

	// NologinShell marks accounts that may never log in interactively.
	NologinShell = "/usr/sbin/nologin"

	// HomeBaseDir is the directory under which user homes are created
	// when the source repository does not declare one.
	HomeBaseDir = "/home"
)

const (
	// HomeCollectionName is the per-site source collection consulted when
	// provisioning home storage.
	HomeCollectionName = "home"

	// HomeAutomountTable is the automount map receiving per-user home mounts.
	HomeAutomountTable = "home"

	// GroupAutomountTable is the automount map receiving group share mounts.
	GroupAutomountTable = "group"

	// HostSuffixPlaceholder is substituted with the site host suffix when
	// automount entries are written to the directory.
	HostSuffixPlaceholder = "${HOST_SUFFIX}"
)

const (
	// RepoLockTimeout bounds how long a loader waits on the puppet
	// repository file lock before giving up.
	RepoLockTimeout = 30 * time.Second

	// RepoLockRetryInterval is the poll interval while waiting on the
	// repository lock.
	RepoLockRetryInterval = 250 * time.Millisecond

	// MaxRepoWalkDepth bounds directory recursion when collecting YAML
	// files from the puppet repository.
	MaxRepoWalkDepth = 4
)

const (
	// LDAPDialTimeout is the timeout for establishing an LDAP connection.
	LDAPDialTimeout = 15 * time.Second

	// LDAPRequestTimeout is the timeout for individual LDAP operations.
	// It is larger than the dial timeout because searches over a large
	// directory may take a while to complete.
	LDAPRequestTimeout = 45 * time.Second

	// HTTPRequestTimeout bounds calls to the HiPPO and IAM APIs.
	HTTPRequestTimeout = 30 * time.Second

	// SacctmgrTimeout bounds a single scheduler CLI invocation.
	SacctmgrTimeout = 60 * time.Second

	// SacctmgrBinary is the scheduler accounting CLI.
	SacctmgrBinary = "sacctmgr"

	// MongoConnectTimeout bounds the initial ping of the account database.
	MongoConnectTimeout = 10 * time.Second
)

const (
	// MaxEventTries is how many times an account event is retried before
	// it is marked failed and posted back.
	MaxEventTries = 3

	// EventsPerSecond limits the rate at which account events are applied.
	EventsPerSecond = 5

	// EventBurst is the burst allowance of the event rate limiter.
	EventBurst = 1
)

const (
	// MaxSearchResults caps the number of hits considered by user search.
	MaxSearchResults = 10

	// SearchPrefixWeight is the text index weight of the prefix n-gram field.
	SearchPrefixWeight = 200

	// SearchInfixWeight is the text index weight of the infix n-gram field.
	SearchInfixWeight = 100
)

const (
	// IAMSyncParallelism bounds concurrent identity API fetches.
	IAMSyncParallelism = 4

	// PowerPollParallelism bounds concurrent BMC power queries.
	PowerPollParallelism = 8
)

// ClassUserPasswordBytes is the entropy, in bytes, of generated class
// account passwords.
const ClassUserPasswordBytes = 12
