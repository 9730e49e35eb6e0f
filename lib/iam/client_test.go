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

package iam

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/ucdavis/cheeto/lib/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(&config.IAMConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	})
	require.NoError(t, err)
	return client
}

func resultsJSON(rows ...string) string {
	out := `{"responseData":{"results":[`
	for i, row := range rows {
		if i > 0 {
			out += ","
		}
		out += row
	}
	return out + `]}}`
}

func TestQueryPersonByUsername(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.Equal(t, "/api/iam/people/search", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		switch r.URL.Query().Get("userId") {
		case "alice":
			fmt.Fprint(w, resultsJSON(
				`{"iamId":"1000012345","userId":"alice","dFullName":"Alice Aardvark"}`))
		default:
			fmt.Fprint(w, resultsJSON())
		}
	}))

	person, err := client.QueryPersonByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "1000012345", person.IAMID)
	require.Equal(t, "Alice Aardvark", person.FullName)

	_, err = client.QueryPersonByUsername(context.Background(), "ghost")
	require.True(t, trace.IsNotFound(err))
}

func TestCollegesDedupesOrgs(t *testing.T) {
	t.Parallel()

	var orgFetches atomic.Int64
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/iam/associations/pps/1000012345":
			fmt.Fprint(w, resultsJSON(
				`{"iamId":"1000012345","bouOrgOId":"ORG1"}`,
				`{"iamId":"1000012345","bouOrgOId":"ORG1"}`,
				`{"iamId":"1000012345","bouOrgOId":"ORG2"}`,
				`{"iamId":"1000012345","bouOrgOId":""}`))
		case "/api/iam/orginfo/search":
			orgFetches.Add(1)
			switch r.URL.Query().Get("orgOId") {
			case "ORG1":
				fmt.Fprint(w, resultsJSON(`{"orgOId":"ORG1","orgOfficialName":"College of Engineering"}`))
			case "ORG2":
				fmt.Fprint(w, resultsJSON(`{"orgOId":"ORG2","orgOfficialName":"College of Agriculture"}`))
			}
		default:
			http.NotFound(w, r)
		}
	}))

	colleges, err := client.Colleges(context.Background(), "1000012345")
	require.NoError(t, err)
	require.Equal(t, []string{"College of Agriculture", "College of Engineering"}, colleges)
	require.Equal(t, int64(2), orgFetches.Load(), "duplicate org oids must be fetched once")
}

func TestIdentityAPIServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, err := client.QueryPersonByUsername(context.Background(), "alice")
	require.True(t, trace.IsConnectionProblem(err))
}
