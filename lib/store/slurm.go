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

package store

import (
	"context"
	"slices"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucdavis/cheeto/lib/types"
)

// CreateSlurmPartition registers a scheduler partition on a site.
func (s *Store) CreateSlurmPartition(ctx context.Context, sitename, partitionname string) error {
	p := &types.SiteSlurmPartition{Sitename: sitename, PartitionName: partitionname}
	if err := p.Check(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetSite(ctx, sitename); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.collection(collSlurmPartitions).InsertOne(ctx, p); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("partition %q already exists at site %q", partitionname, sitename)
		}
		return convertError(err)
	}
	return nil
}

// GetSlurmPartition fetches a partition by site and name.
func (s *Store) GetSlurmPartition(ctx context.Context, sitename, partitionname string) (*types.SiteSlurmPartition, error) {
	var p types.SiteSlurmPartition
	err := s.collection(collSlurmPartitions).FindOne(ctx, bson.M{
		"sitename": sitename, "partitionname": partitionname,
	}).Decode(&p)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("partition %q does not exist at site %q", partitionname, sitename)
		}
		return nil, convertError(err)
	}
	return &p, nil
}

// ListSlurmPartitions lists the site's partitions ordered by name.
func (s *Store) ListSlurmPartitions(ctx context.Context, sitename string) ([]*types.SiteSlurmPartition, error) {
	cursor, err := s.collection(collSlurmPartitions).Find(ctx,
		bson.M{"sitename": sitename},
		options.Find().SetSort(bson.D{{Key: "partitionname", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var parts []*types.SiteSlurmPartition
	if err := cursor.All(ctx, &parts); err != nil {
		return nil, convertError(err)
	}
	return parts, nil
}

// DeleteSlurmPartition removes a partition, cascading to the
// associations that reference it.
func (s *Store) DeleteSlurmPartition(ctx context.Context, sitename, partitionname string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.collection(collSlurmAssocs).DeleteMany(ctx, bson.M{
			"sitename": sitename, "partitionname": partitionname,
		}); err != nil {
			return convertError(err)
		}
		res, err := s.collection(collSlurmPartitions).DeleteOne(ctx, bson.M{
			"sitename": sitename, "partitionname": partitionname,
		})
		if err != nil {
			return convertError(err)
		}
		if res.DeletedCount == 0 {
			return trace.NotFound("partition %q does not exist at site %q", partitionname, sitename)
		}
		return nil
	})
	return trace.Wrap(err)
}

// CreateSlurmQOS registers a QOS on a site.
func (s *Store) CreateSlurmQOS(ctx context.Context, q *types.SiteSlurmQOS) error {
	if err := q.QOS.Normalize(); err != nil {
		return trace.Wrap(err)
	}
	if err := q.Check(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.GetSite(ctx, q.Sitename); err != nil {
		return trace.Wrap(err)
	}
	if _, err := s.collection(collSlurmQOS).InsertOne(ctx, q); err != nil {
		if trace.IsAlreadyExists(convertError(err)) {
			return trace.AlreadyExists("qos %q already exists at site %q", q.QOSName, q.Sitename)
		}
		return convertError(err)
	}
	return nil
}

// GetSlurmQOS fetches a QOS by site and name.
func (s *Store) GetSlurmQOS(ctx context.Context, sitename, qosname string) (*types.SiteSlurmQOS, error) {
	var q types.SiteSlurmQOS
	err := s.collection(collSlurmQOS).FindOne(ctx, bson.M{
		"sitename": sitename, "qosname": qosname,
	}).Decode(&q)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("qos %q does not exist at site %q", qosname, sitename)
		}
		return nil, convertError(err)
	}
	return &q, nil
}

// ListSlurmQOS lists the site's QOSes ordered by name.
func (s *Store) ListSlurmQOS(ctx context.Context, sitename string) ([]*types.SiteSlurmQOS, error) {
	cursor, err := s.collection(collSlurmQOS).Find(ctx,
		bson.M{"sitename": sitename},
		options.Find().SetSort(bson.D{{Key: "qosname", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var qoses []*types.SiteSlurmQOS
	if err := cursor.All(ctx, &qoses); err != nil {
		return nil, convertError(err)
	}
	return qoses, nil
}

// UpdateSlurmQOS replaces the limit tuples, priority, and flags of an
// existing QOS.
func (s *Store) UpdateSlurmQOS(ctx context.Context, sitename, qosname string, qos types.QOS) error {
	if err := qos.Normalize(); err != nil {
		return trace.Wrap(err)
	}
	if err := qos.Check(); err != nil {
		return trace.Wrap(err)
	}
	res, err := s.collection(collSlurmQOS).UpdateOne(ctx,
		bson.M{"sitename": sitename, "qosname": qosname},
		bson.M{"$set": bson.M{
			"group":    qos.GroupLimits,
			"user":     qos.UserLimits,
			"job":      qos.JobLimits,
			"priority": qos.Priority,
			"flags":    qos.Flags,
		}})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("qos %q does not exist at site %q", qosname, sitename)
	}
	return nil
}

// DeleteSlurmQOS removes a QOS, cascading to the associations that
// reference it.
func (s *Store) DeleteSlurmQOS(ctx context.Context, sitename, qosname string) error {
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.collection(collSlurmAssocs).DeleteMany(ctx, bson.M{
			"sitename": sitename, "qosname": qosname,
		}); err != nil {
			return convertError(err)
		}
		res, err := s.collection(collSlurmQOS).DeleteOne(ctx, bson.M{
			"sitename": sitename, "qosname": qosname,
		})
		if err != nil {
			return convertError(err)
		}
		if res.DeletedCount == 0 {
			return trace.NotFound("qos %q does not exist at site %q", qosname, sitename)
		}
		return nil
	})
	return trace.Wrap(err)
}

// CreateSlurmAssociation binds a group to a QOS on a partition. All
// three referenced rows must exist at the association's site.
func (s *Store) CreateSlurmAssociation(ctx context.Context, a *types.SiteSlurmAssociation) error {
	if err := a.Check(); err != nil {
		return trace.Wrap(err)
	}
	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.GetSlurmQOS(ctx, a.Sitename, a.QOSName); err != nil {
			return trace.Wrap(err)
		}
		if _, err := s.GetSlurmPartition(ctx, a.Sitename, a.PartitionName); err != nil {
			return trace.Wrap(err)
		}
		if _, err := s.GetSiteGroup(ctx, a.Sitename, a.GroupName); err != nil {
			return trace.Wrap(err)
		}
		if _, err := s.collection(collSlurmAssocs).InsertOne(ctx, a); err != nil {
			if trace.IsAlreadyExists(convertError(err)) {
				return trace.AlreadyExists("association (%s, %s, %s) already exists at site %q",
					a.GroupName, a.PartitionName, a.QOSName, a.Sitename)
			}
			return convertError(err)
		}
		return nil
	})
	return trace.Wrap(err)
}

// ListSlurmAssociations lists the site's associations, optionally
// restricted to one group.
func (s *Store) ListSlurmAssociations(ctx context.Context, sitename, groupname string) ([]*types.SiteSlurmAssociation, error) {
	q := bson.M{"sitename": sitename}
	if groupname != "" {
		q["groupname"] = groupname
	}
	cursor, err := s.collection(collSlurmAssocs).Find(ctx, q,
		options.Find().SetSort(bson.D{
			{Key: "groupname", Value: 1},
			{Key: "partitionname", Value: 1},
		}))
	if err != nil {
		return nil, convertError(err)
	}
	var assocs []*types.SiteSlurmAssociation
	if err := cursor.All(ctx, &assocs); err != nil {
		return nil, convertError(err)
	}
	return assocs, nil
}

// DeleteSlurmAssociation removes one association.
func (s *Store) DeleteSlurmAssociation(ctx context.Context, a *types.SiteSlurmAssociation) error {
	res, err := s.collection(collSlurmAssocs).DeleteOne(ctx, bson.M{
		"sitename":      a.Sitename,
		"qosname":       a.QOSName,
		"partitionname": a.PartitionName,
		"groupname":     a.GroupName,
	})
	if err != nil {
		return convertError(err)
	}
	if res.DeletedCount == 0 {
		return trace.NotFound("association (%s, %s, %s) does not exist at site %q",
			a.GroupName, a.PartitionName, a.QOSName, a.Sitename)
	}
	return nil
}

// QueryUserSlurm yields every association whose group carries the user
// as a member or slurmer at the site.
func (s *Store) QueryUserSlurm(ctx context.Context, sitename, username string) ([]*types.SiteSlurmAssociation, error) {
	groups, err := s.UserGroups(ctx, sitename, username)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var groupnames []string
	for _, g := range groups {
		if slices.Contains(g.Members, username) || slices.Contains(g.Slurmers, username) {
			groupnames = append(groupnames, g.Groupname)
		}
	}
	if len(groupnames) == 0 {
		return nil, nil
	}
	cursor, err := s.collection(collSlurmAssocs).Find(ctx,
		bson.M{"sitename": sitename, "groupname": bson.M{"$in": groupnames}},
		options.Find().SetSort(bson.D{
			{Key: "partitionname", Value: 1},
			{Key: "groupname", Value: 1},
		}))
	if err != nil {
		return nil, convertError(err)
	}
	var assocs []*types.SiteSlurmAssociation
	if err := cursor.All(ctx, &assocs); err != nil {
		return nil, convertError(err)
	}
	return assocs, nil
}

// QueryUserPartitions aggregates the user's associations into
// {partition: {group: qos}}.
func (s *Store) QueryUserPartitions(ctx context.Context, sitename, username string) (map[string]map[string]types.QOS, error) {
	assocs, err := s.QueryUserSlurm(ctx, sitename, username)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := map[string]map[string]types.QOS{}
	for _, a := range assocs {
		qos, err := s.GetSlurmQOS(ctx, sitename, a.QOSName)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		byGroup, ok := out[a.PartitionName]
		if !ok {
			byGroup = map[string]types.QOS{}
			out[a.PartitionName] = byGroup
		}
		byGroup[a.GroupName] = qos.QOS
	}
	return out, nil
}
