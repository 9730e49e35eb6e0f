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

// Package store implements the canonical directory database on
// MongoDB: sites, users, groups, storage, scheduler state, and
// account events, with the uniqueness and referential invariants the
// rest of the system relies on.
package store

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
)

// Collection names.
const (
	collSites             = "sites"
	collUsers             = "users"
	collSiteUsers         = "site_users"
	collGroups            = "groups"
	collSiteGroups        = "site_groups"
	collStorages          = "storages"
	collMountSources      = "mount_sources"
	collSourceCollections = "source_collections"
	collAutomountMaps     = "automount_maps"
	collAutomounts        = "automounts"
	collSlurmQOS          = "slurm_qos"
	collSlurmPartitions   = "slurm_partitions"
	collSlurmAssocs       = "slurm_assocs"
	collEvents            = "hippo_events"
	collUserSearch        = "user_search"
)

// Config holds store connection settings.
type Config struct {
	// URI is the mongodb:// connection string.
	URI string
	// Database is the database name.
	Database string
	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration
	// Clock is used for timestamps on comments and events.
	Clock clockwork.Clock
	// Logger emits store diagnostics.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.URI == "" {
		return trace.BadParameter("store config is missing URI")
	}
	if c.Database == "" {
		return trace.BadParameter("store config is missing Database")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.MongoConnectTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentStore))
	return nil
}

// Store is a handle on the canonical database.
type Store struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
	clock  clockwork.Clock
}

// Open connects to the database, verifies the connection, and ensures
// the index set.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to store at %v", cfg.Database)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, trace.ConnectionProblem(err, "pinging store")
	}

	s := &Store{
		cfg:    cfg,
		client: client,
		db:     client.Database(cfg.Database),
		log:    cfg.Logger,
		clock:  cfg.Clock,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.DebugContext(ctx, "Connected to canonical store", "database", cfg.Database)
	return s, nil
}

// Close tears down the connection.
func (s *Store) Close(ctx context.Context) error {
	return trace.Wrap(s.client.Disconnect(ctx))
}

// Clock exposes the store clock so collaborators share time.
func (s *Store) Clock() clockwork.Clock {
	return s.clock
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// WithTransaction runs fn inside a session transaction. The context
// passed to fn must be used for every store operation inside it. A
// call made with a context that already carries a session joins that
// transaction instead of opening its own, so compound operations
// nested under an outer WithTransaction commit and revert as one.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return trace.Wrap(fn(ctx))
	}

	session, err := s.client.StartSession()
	if err != nil {
		return trace.ConnectionProblem(err, "starting store session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return convertError(err)
}

// convertError maps driver errors onto the error kinds callers branch
// on: duplicate keys surface as AlreadyExists, missing documents as
// NotFound, expired contexts as LimitExceeded.
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return trace.AlreadyExists("duplicate key: %v", err)
	case errors.Is(err, mongo.ErrNoDocuments):
		return trace.NotFound("not found")
	case errors.Is(err, context.DeadlineExceeded):
		return trace.LimitExceeded("store operation timed out")
	case mongo.IsTimeout(err):
		return trace.LimitExceeded("store operation timed out: %v", err)
	case mongo.IsNetworkError(err):
		return trace.ConnectionProblem(err, "store connection failed")
	default:
		return trace.Wrap(err)
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	for coll, models := range map[string][]mongo.IndexModel{
		collSites: {
			{Keys: bson.D{{Key: "sitename", Value: 1}}, Options: unique},
		},
		collUsers: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "uid", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "gid", Value: 1}}, Options: unique},
			{Keys: bson.D{
				{Key: "username", Value: "text"},
				{Key: "email", Value: "text"},
				{Key: "fullname", Value: "text"},
			}},
		},
		collSiteUsers: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "username", Value: 1}}, Options: unique},
		},
		collGroups: {
			{Keys: bson.D{{Key: "groupname", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "gid", Value: 1}}, Options: unique},
		},
		collSiteGroups: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "groupname", Value: 1}}, Options: unique},
		},
		collStorages: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "name", Value: 1}}, Options: unique},
		},
		collMountSources: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "name", Value: 1}}, Options: unique},
		},
		collSourceCollections: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "name", Value: 1}}, Options: unique},
		},
		collAutomountMaps: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "tablename", Value: 1}}, Options: unique},
		},
		collAutomounts: {
			{Keys: bson.D{
				{Key: "sitename", Value: 1},
				{Key: "maptable", Value: 1},
				{Key: "name", Value: 1},
			}, Options: unique},
		},
		collSlurmQOS: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "qosname", Value: 1}}, Options: unique},
		},
		collSlurmPartitions: {
			{Keys: bson.D{{Key: "sitename", Value: 1}, {Key: "partitionname", Value: 1}}, Options: unique},
		},
		collSlurmAssocs: {
			{Keys: bson.D{
				{Key: "sitename", Value: 1},
				{Key: "groupname", Value: 1},
				{Key: "partitionname", Value: 1},
				{Key: "qosname", Value: 1},
			}, Options: unique},
		},
		collEvents: {
			{Keys: bson.D{{Key: "hippo_id", Value: 1}}, Options: unique},
		},
		collUserSearch: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{
				Keys: bson.D{
					{Key: "prefix_ngrams", Value: "text"},
					{Key: "infix_ngrams", Value: "text"},
				},
				Options: options.Index().SetWeights(bson.D{
					{Key: "prefix_ngrams", Value: defaults.SearchPrefixWeight},
					{Key: "infix_ngrams", Value: defaults.SearchInfixWeight},
				}),
			},
		},
	} {
		if _, err := s.collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return trace.ConnectionProblem(err, "ensuring indexes on %v", coll)
		}
	}
	return nil
}

// nextIDInRange returns max(existing ids in [floor, ceil)) + 1, or the
// floor when the range is empty.
func (s *Store) nextIDInRange(ctx context.Context, coll, field string, floor, ceil int64) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: field, Value: -1}}).
		SetProjection(bson.D{{Key: field, Value: 1}})
	filter := bson.M{field: bson.M{"$gte": floor, "$lt": ceil}}

	var row bson.M
	err := s.collection(coll).FindOne(ctx, filter, opts).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return floor, nil
	}
	if err != nil {
		return 0, convertError(err)
	}
	next := asInt64(row[field]) + 1
	if next >= ceil {
		return 0, trace.LimitExceeded("id range [%d, %d) is exhausted", floor, ceil)
	}
	return next, nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
