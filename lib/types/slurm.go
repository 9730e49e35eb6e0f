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
	"fmt"
	"slices"
	"strings"

	"github.com/gravitational/trace"
)

// QOSFlag is a scheduler QOS behavior flag. The set is closed; flags
// the scheduler accepts but this tool does not understand are rejected
// on load rather than passed through.
type QOSFlag string

const (
	QOSFlagDenyOnLimit           QOSFlag = "DenyOnLimit"
	QOSFlagEnforceUsageThreshold QOSFlag = "EnforceUsageThreshold"
	QOSFlagNoDecay               QOSFlag = "NoDecay"
	QOSFlagNoReserve             QOSFlag = "NoReserve"
	QOSFlagOverPartQOS           QOSFlag = "OverPartQOS"
	QOSFlagPartitionMaxNodes     QOSFlag = "PartitionMaxNodes"
	QOSFlagPartitionMinNodes     QOSFlag = "PartitionMinNodes"
	QOSFlagPartitionTimeLimit    QOSFlag = "PartitionTimeLimit"
	QOSFlagRequiresReservation   QOSFlag = "RequiresReservation"
	QOSFlagUsageFactorSafe       QOSFlag = "UsageFactorSafe"
)

// Check validates the QOS flag value.
func (f QOSFlag) Check() error {
	switch f {
	case QOSFlagDenyOnLimit, QOSFlagEnforceUsageThreshold, QOSFlagNoDecay,
		QOSFlagNoReserve, QOSFlagOverPartQOS, QOSFlagPartitionMaxNodes,
		QOSFlagPartitionMinNodes, QOSFlagPartitionTimeLimit,
		QOSFlagRequiresReservation, QOSFlagUsageFactorSafe:
		return nil
	}
	return trace.BadParameter("qos flag %q is not supported", string(f))
}

// String returns the wire representation of the flag.
func (f QOSFlag) String() string { return string(f) }

// ParseQOSFlags parses a comma-separated flag list as emitted by the
// scheduler, returning a sorted set.
func ParseQOSFlags(s string) ([]QOSFlag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var flags []QOSFlag
	for _, tok := range strings.Split(s, ",") {
		f := QOSFlag(strings.TrimSpace(tok))
		if err := f.Check(); err != nil {
			return nil, trace.Wrap(err)
		}
		flags = append(flags, f)
	}
	slices.Sort(flags)
	return slices.Compact(flags), nil
}

// QOSFlagsString renders a sorted flag set in the scheduler's
// comma-separated form.
func QOSFlagsString(flags []QOSFlag) string {
	out := make([]string, len(flags))
	sorted := slices.Clone(flags)
	slices.Sort(sorted)
	for i, f := range sorted {
		out[i] = string(f)
	}
	return strings.Join(out, ",")
}

// QOS is a scheduler quality-of-service definition: three
// trackable-resource limit tuples, a priority, and a flag set.
type QOS struct {
	GroupLimits *TRES     `yaml:"group,omitempty" bson:"group,omitempty" json:"group,omitempty"`
	UserLimits  *TRES     `yaml:"user,omitempty" bson:"user,omitempty" json:"user,omitempty"`
	JobLimits   *TRES     `yaml:"job,omitempty" bson:"job,omitempty" json:"job,omitempty"`
	Priority    int64     `yaml:"priority" bson:"priority" json:"priority"`
	Flags       []QOSFlag `yaml:"flags,omitempty" bson:"flags,omitempty" json:"flags,omitempty"`
}

// Check validates the QOS definition.
func (q *QOS) Check() error {
	for _, t := range []*TRES{q.GroupLimits, q.UserLimits, q.JobLimits} {
		if err := t.Check(); err != nil {
			return trace.Wrap(err)
		}
	}
	if q.Priority < 0 {
		return trace.BadParameter("qos priority must not be negative")
	}
	for _, f := range q.Flags {
		if err := f.Check(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Normalize rewrites memory fields to canonical form and sorts flags.
func (q *QOS) Normalize() error {
	for _, t := range []*TRES{q.GroupLimits, q.UserLimits, q.JobLimits} {
		if err := t.Normalize(); err != nil {
			return trace.Wrap(err)
		}
	}
	slices.Sort(q.Flags)
	q.Flags = slices.Compact(q.Flags)
	return nil
}

// Equal reports whether two QOS definitions would serialize to the
// same scheduler state.
func (q *QOS) Equal(other *QOS) bool {
	if q == nil || other == nil {
		return q == other
	}
	return q.Priority == other.Priority &&
		q.GroupLimits.Equal(other.GroupLimits) &&
		q.UserLimits.Equal(other.UserLimits) &&
		q.JobLimits.Equal(other.JobLimits) &&
		QOSFlagsString(q.Flags) == QOSFlagsString(other.Flags)
}

// QOSName returns the canonical name of the QOS created inline for a
// group on a partition.
func QOSName(groupname, partitionname string) string {
	return fmt.Sprintf("%s-%s-qos", groupname, partitionname)
}

// SlurmAccountLimits are the per-account limits attached to a group's
// scheduler account. Nil fields mean "no limit"; job length is a
// scheduler duration string compared verbatim.
type SlurmAccountLimits struct {
	MaxUserJobs   *int64 `yaml:"max_user_jobs,omitempty" bson:"max_user_jobs,omitempty" json:"max_user_jobs,omitempty"`
	MaxGroupJobs  *int64 `yaml:"max_group_jobs,omitempty" bson:"max_group_jobs,omitempty" json:"max_group_jobs,omitempty"`
	MaxSubmitJobs *int64 `yaml:"max_submit_jobs,omitempty" bson:"max_submit_jobs,omitempty" json:"max_submit_jobs,omitempty"`
	MaxJobLength  string `yaml:"max_job_length,omitempty" bson:"max_job_length,omitempty" json:"max_job_length,omitempty"`
}

// IsZero reports whether no limit is set.
func (l *SlurmAccountLimits) IsZero() bool {
	return l == nil || (l.MaxUserJobs == nil && l.MaxGroupJobs == nil &&
		l.MaxSubmitJobs == nil && l.MaxJobLength == "")
}

// Equal reports whether two limit sets match.
func (l *SlurmAccountLimits) Equal(other *SlurmAccountLimits) bool {
	li, oi := l.IsZero(), other.IsZero()
	if li || oi {
		return li == oi
	}
	return eqInt64Ptr(l.MaxUserJobs, other.MaxUserJobs) &&
		eqInt64Ptr(l.MaxGroupJobs, other.MaxGroupJobs) &&
		eqInt64Ptr(l.MaxSubmitJobs, other.MaxSubmitJobs) &&
		l.MaxJobLength == other.MaxJobLength
}

func eqInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SiteSlurmQOS is a named QOS scoped to one site.
type SiteSlurmQOS struct {
	Sitename string `yaml:"sitename" bson:"sitename" json:"sitename"`
	QOSName  string `yaml:"qosname" bson:"qosname" json:"qosname"`
	QOS      QOS    `yaml:"qos" bson:",inline" json:"qos"`
}

// Check validates the site QOS record.
func (q *SiteSlurmQOS) Check() error {
	if err := CheckPosixName(q.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if q.QOSName == "" {
		return trace.BadParameter("qosname is empty")
	}
	return trace.Wrap(q.QOS.Check())
}

// SiteSlurmPartition is a scheduler partition scoped to one site.
type SiteSlurmPartition struct {
	Sitename      string `yaml:"sitename" bson:"sitename" json:"sitename"`
	PartitionName string `yaml:"partitionname" bson:"partitionname" json:"partitionname"`
}

// Check validates the partition record.
func (p *SiteSlurmPartition) Check() error {
	if err := CheckPosixName(p.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if p.PartitionName == "" {
		return trace.BadParameter("partitionname is empty")
	}
	return nil
}

// SiteSlurmAssociation binds a group to a QOS on a partition. Cascade
// deletes remove associations when any referenced row goes away.
type SiteSlurmAssociation struct {
	Sitename      string `yaml:"sitename" bson:"sitename" json:"sitename"`
	QOSName       string `yaml:"qosname" bson:"qosname" json:"qosname"`
	PartitionName string `yaml:"partitionname" bson:"partitionname" json:"partitionname"`
	GroupName     string `yaml:"groupname" bson:"groupname" json:"groupname"`
}

// Check validates the association record.
func (a *SiteSlurmAssociation) Check() error {
	if err := CheckPosixName(a.Sitename); err != nil {
		return trace.Wrap(err, "sitename")
	}
	if a.QOSName == "" {
		return trace.BadParameter("qosname is empty")
	}
	if a.PartitionName == "" {
		return trace.BadParameter("partitionname is empty")
	}
	if err := CheckPosixName(a.GroupName); err != nil {
		return trace.Wrap(err, "groupname")
	}
	return nil
}
