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

package common

import (
	"context"
	"os"
	"strconv"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto/lib/asciitable"
	"github.com/ucdavis/cheeto/lib/types"
)

// SlurmDBCommand implements "cheeto database slurm ...": the
// scheduler records held in the canonical store, as opposed to
// "cheeto slurm sync" which pushes them to the scheduler.
type SlurmDBCommand struct {
	env *Env

	newQOS    *kingpin.CmdClause
	editQOS   *kingpin.CmdClause
	removeQOS *kingpin.CmdClause
	showQOS   *kingpin.CmdClause

	newPartition    *kingpin.CmdClause
	removePartition *kingpin.CmdClause
	showPartition   *kingpin.CmdClause

	newAssoc    *kingpin.CmdClause
	removeAssoc *kingpin.CmdClause
	showAssoc   *kingpin.CmdClause

	sitename      string
	qosname       string
	partitionname string
	groupname     string
	priority      int64
	flags         string
	groupLimits   string
	userLimits    string
	jobLimits     string
}

// Initialize registers the scheduler database subtree.
func (c *SlurmDBCommand) Initialize(app *kingpin.Application, env *Env) {
	c.env = env

	database := databaseCommand(app)
	slurm := database.Command("slurm", "Manage scheduler records in the store.")

	slurmNew := slurm.Command("new", "Create scheduler records.")
	slurmEdit := slurm.Command("edit", "Edit scheduler records.")
	slurmRemove := slurm.Command("remove", "Remove scheduler records.")
	slurmShow := slurm.Command("show", "Show scheduler records.")

	c.newQOS = slurmNew.Command("qos", "Create a QOS.")
	c.qosClause(c.newQOS, true)
	c.editQOS = slurmEdit.Command("qos", "Replace a QOS definition.")
	c.qosClause(c.editQOS, true)
	c.removeQOS = slurmRemove.Command("qos", "Remove a QOS and its associations.")
	c.qosClause(c.removeQOS, false)
	c.showQOS = slurmShow.Command("qos", "List QOS records.")
	c.showQOS.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)

	c.newPartition = slurmNew.Command("partition", "Create a partition.")
	c.partitionClause(c.newPartition)
	c.removePartition = slurmRemove.Command("partition", "Remove a partition and its associations.")
	c.partitionClause(c.removePartition)
	c.showPartition = slurmShow.Command("partition", "List partitions.")
	c.showPartition.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)

	c.newAssoc = slurmNew.Command("assoc", "Create a group/partition/QOS association.")
	c.assocClause(c.newAssoc)
	c.removeAssoc = slurmRemove.Command("assoc", "Remove an association.")
	c.assocClause(c.removeAssoc)
	c.showAssoc = slurmShow.Command("assoc", "List associations.")
	c.showAssoc.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	c.showAssoc.Flag("group", "Restrict to one group.").Short('g').StringVar(&c.groupname)
}

func (c *SlurmDBCommand) qosClause(cmd *kingpin.CmdClause, full bool) {
	cmd.Arg("name", "QOS name.").Required().StringVar(&c.qosname)
	cmd.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	if !full {
		return
	}
	cmd.Flag("priority", "Scheduling priority.").Default("0").Int64Var(&c.priority)
	cmd.Flag("flags", "Comma-separated QOS flags.").StringVar(&c.flags)
	cmd.Flag("group-limits", "Aggregate TRES limits, e.g. cpus=16,mem=1G.").StringVar(&c.groupLimits)
	cmd.Flag("user-limits", "Per-user TRES limits.").StringVar(&c.userLimits)
	cmd.Flag("job-limits", "Per-job TRES limits.").StringVar(&c.jobLimits)
}

func (c *SlurmDBCommand) partitionClause(cmd *kingpin.CmdClause) {
	cmd.Arg("name", "Partition name.").Required().StringVar(&c.partitionname)
	cmd.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
}

func (c *SlurmDBCommand) assocClause(cmd *kingpin.CmdClause) {
	cmd.Flag("site", "Site name.").Short('s').Required().StringVar(&c.sitename)
	cmd.Flag("group", "Group name.").Short('g').Required().StringVar(&c.groupname)
	cmd.Flag("partition", "Partition name.").Required().StringVar(&c.partitionname)
	cmd.Flag("qos", "QOS name.").Required().StringVar(&c.qosname)
}

// TryRun executes the selected scheduler database command.
func (c *SlurmDBCommand) TryRun(ctx context.Context, selectedCommand string) (bool, error) {
	var err error
	switch selectedCommand {
	case c.newQOS.FullCommand():
		err = c.CreateQOS(ctx)
	case c.editQOS.FullCommand():
		err = c.EditQOS(ctx)
	case c.removeQOS.FullCommand():
		err = c.RemoveQOS(ctx)
	case c.showQOS.FullCommand():
		err = c.ShowQOS(ctx)
	case c.newPartition.FullCommand():
		err = c.CreatePartition(ctx)
	case c.removePartition.FullCommand():
		err = c.RemovePartition(ctx)
	case c.showPartition.FullCommand():
		err = c.ShowPartitions(ctx)
	case c.newAssoc.FullCommand():
		err = c.CreateAssoc(ctx)
	case c.removeAssoc.FullCommand():
		err = c.RemoveAssoc(ctx)
	case c.showAssoc.FullCommand():
		err = c.ShowAssocs(ctx)
	default:
		return false, nil
	}
	return true, trace.Wrap(err)
}

func (c *SlurmDBCommand) buildQOS() (*types.QOS, error) {
	qos := &types.QOS{Priority: c.priority}
	if c.flags != "" {
		flags, err := types.ParseQOSFlags(c.flags)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		qos.Flags = flags
	}
	for _, limit := range []struct {
		value string
		dst   **types.TRES
	}{
		{c.groupLimits, &qos.GroupLimits},
		{c.userLimits, &qos.UserLimits},
		{c.jobLimits, &qos.JobLimits},
	} {
		if limit.value == "" {
			continue
		}
		tres, err := types.ParseTRES(limit.value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		*limit.dst = tres
	}
	qos.Normalize()
	return qos, nil
}

// CreateQOS creates a QOS record.
func (c *SlurmDBCommand) CreateQOS(ctx context.Context) error {
	qos, err := c.buildQOS()
	if err != nil {
		return trace.Wrap(err)
	}
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.CreateSlurmQOS(ctx, &types.SiteSlurmQOS{
		Sitename: c.sitename,
		QOSName:  c.qosname,
		QOS:      *qos,
	}))
}

// EditQOS replaces a QOS definition in place.
func (c *SlurmDBCommand) EditQOS(ctx context.Context) error {
	qos, err := c.buildQOS()
	if err != nil {
		return trace.Wrap(err)
	}
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.UpdateSlurmQOS(ctx, c.sitename, c.qosname, *qos))
}

// RemoveQOS removes a QOS; its associations cascade.
func (c *SlurmDBCommand) RemoveQOS(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.DeleteSlurmQOS(ctx, c.sitename, c.qosname))
}

// ShowQOS lists the site's QOS records.
func (c *SlurmDBCommand) ShowQOS(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	records, err := db.ListSlurmQOS(ctx, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("QOS", "Priority", "Flags", "GrpTRES", "MaxTRESPerUser", "MaxTRESPerJob")
	for _, record := range records {
		table.AddRow([]string{
			record.QOSName,
			strconv.FormatInt(record.QOS.Priority, 10),
			types.QOSFlagsString(record.QOS.Flags),
			record.QOS.GroupLimits.SlurmString(),
			record.QOS.UserLimits.SlurmString(),
			record.QOS.JobLimits.SlurmString(),
		})
	}
	table.SortRows(0)
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// CreatePartition creates a partition record.
func (c *SlurmDBCommand) CreatePartition(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.CreateSlurmPartition(ctx, c.sitename, c.partitionname))
}

// RemovePartition removes a partition; its associations cascade.
func (c *SlurmDBCommand) RemovePartition(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.DeleteSlurmPartition(ctx, c.sitename, c.partitionname))
}

// ShowPartitions lists the site's partitions.
func (c *SlurmDBCommand) ShowPartitions(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	partitions, err := db.ListSlurmPartitions(ctx, c.sitename)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("Partition")
	for _, partition := range partitions {
		table.AddRow([]string{partition.PartitionName})
	}
	table.SortRows(0)
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}

// CreateAssoc creates a group/partition/QOS association.
func (c *SlurmDBCommand) CreateAssoc(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.CreateSlurmAssociation(ctx, &types.SiteSlurmAssociation{
		Sitename:      c.sitename,
		GroupName:     c.groupname,
		PartitionName: c.partitionname,
		QOSName:       c.qosname,
	}))
}

// RemoveAssoc removes an association.
func (c *SlurmDBCommand) RemoveAssoc(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(db.DeleteSlurmAssociation(ctx, &types.SiteSlurmAssociation{
		Sitename:      c.sitename,
		GroupName:     c.groupname,
		PartitionName: c.partitionname,
		QOSName:       c.qosname,
	}))
}

// ShowAssocs lists the site's associations.
func (c *SlurmDBCommand) ShowAssocs(ctx context.Context) error {
	db, err := c.env.Store(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	assocs, err := db.ListSlurmAssociations(ctx, c.sitename, c.groupname)
	if err != nil {
		return trace.Wrap(err)
	}
	table := asciitable.New("Group", "Partition", "QOS")
	for _, assoc := range assocs {
		table.AddRow([]string{assoc.GroupName, assoc.PartitionName, assoc.QOSName})
	}
	table.SortRows(0)
	_, err = table.WriteTo(os.Stdout)
	return trace.Wrap(err)
}
