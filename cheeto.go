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

// Package cheeto contains constants shared across the cheeto libraries and
// the cheeto command line tool.
package cheeto

// Version is the semantic version of the cheeto tool.
const Version = "1.0.0"

const (
	// ComponentKey is the name of the log attribute identifying the
	// component that emitted a log line.
	ComponentKey = "component"

	// ComponentStore is the canonical account database.
	ComponentStore = "store"

	// ComponentPuppet is the legacy puppet account repository bridge.
	ComponentPuppet = "puppet"

	// ComponentHiPPO is the account event processor.
	ComponentHiPPO = "hippo"

	// ComponentLDAP is the directory reconciler.
	ComponentLDAP = "ldap"

	// ComponentSlurm is the scheduler reconciler.
	ComponentSlurm = "slurm"

	// ComponentIAM is the identity API synchronizer.
	ComponentIAM = "iam"

	// ComponentNoCloud is the host provisioning template renderer.
	ComponentNoCloud = "nocloud"

	// ComponentPower is the BMC power telemetry poller.
	ComponentPower = "power"

	// ComponentCLI is the cheeto command line front end.
	ComponentCLI = "cli"
)

// Exit codes returned by the cheeto tool. The numbering is a stable
// contract; scripts driving cheeto match on these values.
const (
	// ExitValidationError covers schema and enum validation failures.
	ExitValidationError = 1
	// ExitBadMerge indicates an unmergeable set of YAML documents.
	ExitBadMerge = 2
	// ExitInvalidSponsor indicates a sponsor that is not a known user.
	ExitInvalidSponsor = 3
	// ExitFileExists indicates a refusal to overwrite an existing file.
	ExitFileExists = 4
	// ExitBadLDAPQuery indicates a failed LDAP search or commit.
	ExitBadLDAPQuery = 5
	// ExitBadCmdlineArgs indicates unusable command line arguments.
	ExitBadCmdlineArgs = 6
	// ExitNotUnique indicates a uniqueness constraint violation.
	ExitNotUnique = 7
	// ExitDoesNotExist indicates a missing entity.
	ExitDoesNotExist = 8
	// ExitInvalidMetadata indicates malformed entity metadata.
	ExitInvalidMetadata = 9
	// ExitOperationCancelled indicates a cancelled or timed out operation.
	ExitOperationCancelled = 10
)
