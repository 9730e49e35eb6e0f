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

package power

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "monitor", user)
		require.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/redfish/v1/Chassis/1/Power":
			fmt.Fprint(w, `{"PowerControl":[{"PowerConsumedWatts":412.5}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	poller, err := NewPoller(PollerConfig{
		Hosts: []BMCHost{
			{Name: "gpu-07-bmc", Addr: srv.URL, Username: "monitor", Password: "secret"},
			{Name: "down-bmc", Addr: "http://127.0.0.1:1", Username: "monitor", Password: "secret"},
		},
	})
	require.NoError(t, err)

	readings, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)

	// Sorted by host name; failures carried per reading.
	require.Equal(t, "down-bmc", readings[0].Host)
	require.Error(t, readings[0].Err)
	require.Equal(t, "gpu-07-bmc", readings[1].Host)
	require.NoError(t, readings[1].Err)
	require.Equal(t, 412.5, readings[1].Watts)
}

func TestPollerConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPoller(PollerConfig{})
	require.Error(t, err)

	_, err = NewPoller(PollerConfig{Hosts: []BMCHost{{Name: "x"}}})
	require.Error(t, err)
}
