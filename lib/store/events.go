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

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucdavis/cheeto/lib/types"
)

// UpsertEvent records an upstream event envelope, preserving local
// processing state on replays: the action and raw payload are
// refreshed, the retry counter and status are only initialized.
func (s *Store) UpsertEvent(ctx context.Context, e *types.HippoEvent) (*types.Event, error) {
	if err := e.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	_, err := s.collection(collEvents).UpdateOne(ctx,
		bson.M{"hippo_id": e.ID},
		bson.M{
			"$set": bson.M{
				"action": e.Action,
				"data":   e.Data,
			},
			"$setOnInsert": bson.M{
				"hippo_id": e.ID,
				"retries":  0,
				"status":   types.EventStatusPending,
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return nil, convertError(err)
	}
	return s.GetEvent(ctx, e.ID)
}

// GetEvent fetches the persistent record of one upstream event.
func (s *Store) GetEvent(ctx context.Context, hippoID int64) (*types.Event, error) {
	var event types.Event
	err := s.collection(collEvents).FindOne(ctx, bson.M{"hippo_id": hippoID}).Decode(&event)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return nil, trace.NotFound("event %d does not exist", hippoID)
		}
		return nil, convertError(err)
	}
	return &event, nil
}

// ListEvents lists recorded events, optionally filtered by status.
func (s *Store) ListEvents(ctx context.Context, status types.EventStatus) ([]*types.Event, error) {
	q := bson.M{}
	if status != "" {
		q["status"] = status
	}
	cursor, err := s.collection(collEvents).Find(ctx, q,
		options.Find().SetSort(bson.D{{Key: "hippo_id", Value: 1}}))
	if err != nil {
		return nil, convertError(err)
	}
	var events []*types.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, convertError(err)
	}
	return events, nil
}

// BumpEventRetries increments the retry counter and returns the new
// count. The bump is deliberately outside any handler transaction so
// it survives a rollback.
func (s *Store) BumpEventRetries(ctx context.Context, hippoID int64) (int, error) {
	after := options.After
	var event types.Event
	err := s.collection(collEvents).FindOneAndUpdate(ctx,
		bson.M{"hippo_id": hippoID},
		bson.M{"$inc": bson.M{"retries": 1}},
		options.FindOneAndUpdate().SetReturnDocument(after)).Decode(&event)
	if err != nil {
		if trace.IsNotFound(convertError(err)) {
			return 0, trace.NotFound("event %d does not exist", hippoID)
		}
		return 0, convertError(err)
	}
	return event.Retries, nil
}

// SetEventStatus records the processing outcome of an event.
func (s *Store) SetEventStatus(ctx context.Context, hippoID int64, status types.EventStatus) error {
	if err := status.Check(); err != nil {
		return trace.Wrap(err)
	}
	res, err := s.collection(collEvents).UpdateOne(ctx,
		bson.M{"hippo_id": hippoID},
		bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return convertError(err)
	}
	if res.MatchedCount == 0 {
		return trace.NotFound("event %d does not exist", hippoID)
	}
	return nil
}
