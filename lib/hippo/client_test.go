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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(&config.HippoConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)
	return client
}

func TestGetPendingEvents(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/events/queue", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode([]types.HippoEvent{
			{
				ID:     7,
				Action: types.EventCreateAccount,
				Status: types.EventStatusPending,
				Data: types.EventData{
					Cluster: "hive-cluster",
					Groups:  []string{"testgrp"},
					Accounts: []types.EventAccount{{
						Kerberos:    "alice",
						Name:        "Alice Aardvark",
						Email:       "alice@example.edu",
						IAM:         "1000012345",
						Mothra:      "412345",
						AccessTypes: []string{"OpenOnDemand", "SshKey", "Gopher"},
					}},
				},
			},
		}))
	}))

	events, err := client.GetPendingEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(7), events[0].ID)
	require.NoError(t, events[0].Check())

	// Unknown upstream access names are dropped, known ones translate.
	require.Equal(t, []types.Access{types.AccessLoginSSH, types.AccessOndemand},
		events[0].Data.Accounts[0].AccessSet())
}

func TestGetPendingEventsServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.GetPendingEvents(context.Background())
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.UpdateStatus(context.Background(), 42, types.EventStatusComplete))
	require.Equal(t, "/api/events/42/status", gotPath)
	require.Equal(t, map[string]string{"status": "Complete"}, gotBody)
}

func TestFilterMatch(t *testing.T) {
	t.Parallel()

	event := &types.HippoEvent{ID: 3, Action: types.EventUpdateSshKey}
	require.True(t, Filter{}.match(event))
	require.True(t, Filter{ID: 3}.match(event))
	require.False(t, Filter{ID: 4}.match(event))
	require.True(t, Filter{Action: types.EventUpdateSshKey}.match(event))
	require.False(t, Filter{Action: types.EventCreateAccount}.match(event))
	require.False(t, Filter{ID: 3, Action: types.EventCreateAccount}.match(event))
}

func TestResolveSite(t *testing.T) {
	t.Parallel()

	p := &Processor{cfg: ProcessorConfig{
		SiteAliases: map[string]string{"hive-cluster": "hive"},
	}}
	require.Equal(t, "hive", p.resolveSite("hive-cluster"))
	require.Equal(t, "farm", p.resolveSite("farm"))
}
