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

package hippo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/time/rate"

	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// fakeEventsAPI serves a fixed queue and records status postbacks.
type fakeEventsAPI struct {
	events   []types.HippoEvent
	statuses map[int64]types.EventStatus
}

func (f *fakeEventsAPI) GetPendingEvents(ctx context.Context) ([]types.HippoEvent, error) {
	return f.events, nil
}

func (f *fakeEventsAPI) UpdateStatus(ctx context.Context, id int64, status types.EventStatus) error {
	if f.statuses == nil {
		f.statuses = map[int64]types.EventStatus{}
	}
	f.statuses[id] = status
	return nil
}

// processorStore opens a throwaway store database, dropped on cleanup.
// Like the store package's own suite it gates on CHEETO_TEST_MONGO_URI
// pointing at a replica set mongod, since event handlers run under
// transactions.
func processorStore(t *testing.T) *store.Store {
	t.Helper()
	uri := os.Getenv("CHEETO_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set CHEETO_TEST_MONGO_URI to a replica set mongod to run processor tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database := fmt.Sprintf("cheeto_hippo_test_%d", time.Now().UnixNano())
	s, err := store.Open(ctx, store.Config{URI: uri, Database: database})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		require.NoError(t, err)
		require.NoError(t, client.Database(database).Drop(ctx))
		require.NoError(t, client.Disconnect(ctx))
		require.NoError(t, s.Close(ctx))
	})
	return s
}

func newTestProcessor(t *testing.T, db *store.Store, api *fakeEventsAPI, maxTries int) *Processor {
	t.Helper()
	p, err := NewProcessor(ProcessorConfig{
		Store:    db,
		Client:   api,
		MaxTries: maxTries,
		Limiter:  rate.NewLimiter(rate.Inf, 1),
		Postback: true,
		SiteAliases: map[string]string{
			"hive-cluster": "hive",
		},
	})
	require.NoError(t, err)
	return p
}

func TestProcessorCreateAccountReplay(t *testing.T) {
	db := processorStore(t)
	ctx := context.Background()

	_, err := db.CreateSite(ctx, "hive", "hive.example.edu")
	require.NoError(t, err)
	_, err = db.CreateSystemGroup(ctx, "sponsors", "hive")
	require.NoError(t, err)
	require.NoError(t, db.CreateSourceCollection(ctx, &types.SourceCollection{
		Sitename: "hive",
		Name:     "home",
		Kind:     types.MountKindZFS,
		Host:     "nas-1.hive.example.edu",
		Prefix:   "/export/home",
	}))

	event := types.HippoEvent{
		ID:     7,
		Action: types.EventCreateAccount,
		Status: types.EventStatusPending,
		Data: types.EventData{
			Cluster: "hive-cluster",
			Groups:  []string{"sponsors"},
			Accounts: []types.EventAccount{{
				Kerberos: "alice",
				Name:     "Alice Liddell",
				Email:    "alice@example.edu",
				Mothra:   "10000",
			}},
		},
	}
	api := &fakeEventsAPI{events: []types.HippoEvent{event}}
	p := newTestProcessor(t, db, api, 3)

	require.NoError(t, p.Process(ctx, Filter{}))

	user, err := db.GetGlobalUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(10_000), user.UID)
	_, err = db.GetSiteUser(ctx, "hive", "alice")
	require.NoError(t, err)

	// Sponsor membership derives the personal sponsor group.
	sponsorGroup, err := db.GetSiteGroup(ctx, "hive", "alicegrp")
	require.NoError(t, err)
	require.Contains(t, sponsorGroup.Sponsors, "alice")

	row, err := db.GetEvent(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, types.EventStatusComplete, row.Status)
	require.Equal(t, 1, row.Retries)
	require.Equal(t, types.EventStatusComplete, api.statuses[7])

	// A replayed event is a no-op success: no second account, no
	// additional attempt counted.
	require.NoError(t, p.Process(ctx, Filter{}))

	users, err := db.ListGlobalUsers(ctx, store.ListUsersFilter{})
	require.NoError(t, err)
	require.Len(t, users, 1)
	row, err = db.GetEvent(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, types.EventStatusComplete, row.Status)
	require.Equal(t, 1, row.Retries)
}

func TestProcessorRevertsPartialEvent(t *testing.T) {
	db := processorStore(t)
	ctx := context.Background()

	_, err := db.CreateSite(ctx, "hive", "hive.example.edu")
	require.NoError(t, err)
	require.NoError(t, db.CreateSourceCollection(ctx, &types.SourceCollection{
		Sitename: "hive",
		Name:     "home",
		Kind:     types.MountKindZFS,
		Host:     "nas-1.hive.example.edu",
		Prefix:   "/export/home",
	}))

	// The second account fails mid-handler; the first account's
	// writes must revert with it, leaving only the retry bump.
	event := types.HippoEvent{
		ID:     5,
		Action: types.EventCreateAccount,
		Status: types.EventStatusPending,
		Data: types.EventData{
			Cluster: "hive-cluster",
			Accounts: []types.EventAccount{
				{
					Kerberos: "alice",
					Name:     "Alice Liddell",
					Email:    "alice@example.edu",
					Mothra:   "10000",
				},
				{
					Kerberos: "broken",
					Name:     "Broken Account",
					Email:    "broken@example.edu",
					Mothra:   "not-a-uid",
				},
			},
		},
	}
	api := &fakeEventsAPI{events: []types.HippoEvent{event}}
	p := newTestProcessor(t, db, api, 3)

	require.NoError(t, p.Process(ctx, Filter{}))

	_, err = db.GetGlobalUser(ctx, "alice")
	require.Error(t, err)
	_, err = db.GetSiteUser(ctx, "hive", "alice")
	require.Error(t, err)
	_, err = db.GetStorage(ctx, "hive", "alice")
	require.Error(t, err)

	row, err := db.GetEvent(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, types.EventStatusPending, row.Status)
	require.Equal(t, 1, row.Retries)
}

func TestProcessorRetryUntilFailed(t *testing.T) {
	db := processorStore(t)
	ctx := context.Background()

	_, err := db.CreateSite(ctx, "hive", "hive.example.edu")
	require.NoError(t, err)

	// Non-numeric mothra id makes the handler fail every attempt.
	event := types.HippoEvent{
		ID:     9,
		Action: types.EventCreateAccount,
		Status: types.EventStatusPending,
		Data: types.EventData{
			Cluster: "hive-cluster",
			Accounts: []types.EventAccount{{
				Kerberos: "broken",
				Name:     "Broken Account",
				Email:    "broken@example.edu",
				Mothra:   "not-a-uid",
			}},
		},
	}
	api := &fakeEventsAPI{events: []types.HippoEvent{event}}
	p := newTestProcessor(t, db, api, 2)

	require.NoError(t, p.Process(ctx, Filter{}))
	row, err := db.GetEvent(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, types.EventStatusPending, row.Status)
	require.Equal(t, 1, row.Retries)
	require.NotContains(t, api.statuses, int64(9))

	// The second failed attempt exhausts MaxTries and posts back Failed.
	require.NoError(t, p.Process(ctx, Filter{}))
	row, err = db.GetEvent(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, types.EventStatusFailed, row.Status)
	require.Equal(t, 2, row.Retries)
	require.Equal(t, types.EventStatusFailed, api.statuses[9])
}

func TestProcessorFilterSkipsOtherEvents(t *testing.T) {
	db := processorStore(t)
	ctx := context.Background()

	_, err := db.CreateSite(ctx, "hive", "hive.example.edu")
	require.NoError(t, err)
	require.NoError(t, db.CreateSourceCollection(ctx, &types.SourceCollection{
		Sitename: "hive",
		Name:     "home",
		Kind:     types.MountKindZFS,
		Host:     "nas-1.hive.example.edu",
		Prefix:   "/export/home",
	}))

	api := &fakeEventsAPI{events: []types.HippoEvent{
		{
			ID:     1,
			Action: types.EventCreateAccount,
			Status: types.EventStatusPending,
			Data: types.EventData{
				Cluster: "hive-cluster",
				Accounts: []types.EventAccount{{
					Kerberos: "alice",
					Name:     "Alice Liddell",
					Email:    "alice@example.edu",
					Mothra:   "10000",
				}},
			},
		},
		{
			ID:     2,
			Action: types.EventCreateAccount,
			Status: types.EventStatusPending,
			Data: types.EventData{
				Cluster: "hive-cluster",
				Accounts: []types.EventAccount{{
					Kerberos: "bob",
					Name:     "Bob Builder",
					Email:    "bob@example.edu",
					Mothra:   "10001",
				}},
			},
		},
	}}
	p := newTestProcessor(t, db, api, 3)

	require.NoError(t, p.Process(ctx, Filter{ID: 2}))

	_, err = db.GetGlobalUser(ctx, "bob")
	require.NoError(t, err)
	_, err = db.GetGlobalUser(ctx, "alice")
	require.Error(t, err)
}
