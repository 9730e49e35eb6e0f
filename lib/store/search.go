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
	"math"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// upsertUserSearch rebuilds the inverted-index row for a user.
func (s *Store) upsertUserSearch(ctx context.Context, user *types.GlobalUser) error {
	row := types.BuildUserSearch(user)
	_, err := s.collection(collUserSearch).UpdateOne(ctx,
		bson.M{"username": row.Username},
		bson.M{"$set": row},
		options.Update().SetUpsert(true))
	return convertError(err)
}

// ReindexUsers rebuilds the search index for every user. Used after
// bulk imports and schema changes.
func (s *Store) ReindexUsers(ctx context.Context) (int, error) {
	users, err := s.ListGlobalUsers(ctx, ListUsersFilter{})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	for _, user := range users {
		if err := s.upsertUserSearch(ctx, user); err != nil {
			return 0, trace.Wrap(err, "indexing user %q", user.Username)
		}
	}
	s.log.InfoContext(ctx, "Rebuilt user search index", "users", len(users))
	return len(users), nil
}

// searchHit pairs an index row with its text score.
type searchHit struct {
	Username string  `bson:"username"`
	Score    float64 `bson:"score"`
}

// SearchUsers finds users matching a free-text query. The query is
// expanded into the same gram space as the index, the top hits are
// scored by the weighted text index, and an outlier filter keeps only
// the clear winners: with more than four hits, those scoring over two
// standard deviations above the mean; failing that, those above the
// mean. An optional sitename restricts results to users attached
// there.
func (s *Store) SearchUsers(ctx context.Context, query, sitename string) ([]*types.GlobalUser, error) {
	grams := types.QueryNGrams(query)
	if grams == "" {
		return nil, trace.BadParameter("search query %q has no searchable tokens", query)
	}

	opts := options.Find().
		SetProjection(bson.M{
			"username": 1,
			"score":    bson.M{"$meta": "textScore"},
		}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(defaults.MaxSearchResults)
	cursor, err := s.collection(collUserSearch).Find(ctx,
		bson.M{"$text": bson.M{"$search": grams}}, opts)
	if err != nil {
		return nil, convertError(err)
	}
	var hits []searchHit
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, convertError(err)
	}
	hits = filterSearchHits(hits)

	var users []*types.GlobalUser
	for _, hit := range hits {
		if sitename != "" {
			if _, err := s.GetSiteUser(ctx, sitename, hit.Username); err != nil {
				if trace.IsNotFound(err) {
					continue
				}
				return nil, trace.Wrap(err)
			}
		}
		user, err := s.GetGlobalUser(ctx, hit.Username)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		users = append(users, user)
	}
	return users, nil
}

// filterSearchHits applies the outlier filter: with more than four
// hits, keep those with a z-score above two; if none qualify, keep
// those scoring above the mean.
func filterSearchHits(hits []searchHit) []searchHit {
	if len(hits) <= 4 {
		return hits
	}
	var sum float64
	for _, h := range hits {
		sum += h.Score
	}
	mean := sum / float64(len(hits))
	var variance float64
	for _, h := range hits {
		variance += (h.Score - mean) * (h.Score - mean)
	}
	stddev := math.Sqrt(variance / float64(len(hits)))

	var outliers []searchHit
	if stddev > 0 {
		for _, h := range hits {
			if (h.Score-mean)/stddev > 2 {
				outliers = append(outliers, h)
			}
		}
	}
	if len(outliers) > 0 {
		return outliers
	}
	var aboveMean []searchHit
	for _, h := range hits {
		if h.Score > mean {
			aboveMean = append(aboveMean, h)
		}
	}
	return aboveMean
}
