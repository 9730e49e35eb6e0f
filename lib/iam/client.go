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

// Package iam enriches user records from the institutional identity
// API: canonical full names and college affiliations.
package iam

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/types"
)

// Person is the identity API's view of one person.
type Person struct {
	IAMID    string `json:"iamId"`
	UserID   string `json:"userId"`
	FullName string `json:"dFullName"`
	Email    string `json:"email,omitempty"`
}

// PPSAssociation is one payroll appointment of a person.
type PPSAssociation struct {
	IAMID     string `json:"iamId"`
	BOUOrgOID string `json:"bouOrgOId"`
	DeptCode  string `json:"deptCode,omitempty"`
	DeptName  string `json:"deptOfficialName,omitempty"`
}

// Org is one organizational unit.
type Org struct {
	OrgOID string `json:"orgOId"`
	Name   string `json:"orgOfficialName"`
}

// envelope is the identity API's response wrapper.
type envelope[T any] struct {
	ResponseData struct {
		Results []T `json:"results"`
	} `json:"responseData"`
}

// Client talks to the identity API.
type Client struct {
	rest *resty.Client
}

// NewClient builds a client from the identity API config.
func NewClient(cfg *config.IAMConfig) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetQueryParam("key", cfg.APIKey).
		SetTimeout(defaults.HTTPRequestTimeout)
	return &Client{rest: rest}, nil
}

func get[T any](ctx context.Context, c *Client, path string, params map[string]string) ([]T, error) {
	var out envelope[T]
	req := c.rest.R().SetContext(ctx).SetResult(&out)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "querying identity api %s", path)
	}
	if !resp.IsSuccess() {
		return nil, trace.ConnectionProblem(nil, "identity api %s returned %s", path, resp.Status())
	}
	return out.ResponseData.Results, nil
}

// QueryPersonByUsername looks a person up by campus login id. Absence
// is a NotFound, which Sync records as iam_has_entry=false.
func (c *Client) QueryPersonByUsername(ctx context.Context, username string) (*Person, error) {
	people, err := get[Person](ctx, c, "/api/iam/people/search", map[string]string{
		"userId": username,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(people) == 0 {
		return nil, trace.NotFound("identity api has no entry for %q", username)
	}
	return &people[0], nil
}

// GetPerson fetches a person by iam id.
func (c *Client) GetPerson(ctx context.Context, iamID string) (*Person, error) {
	people, err := get[Person](ctx, c, fmt.Sprintf("/api/iam/people/%s", iamID), nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(people) == 0 {
		return nil, trace.NotFound("identity api has no entry for iam id %q", iamID)
	}
	return &people[0], nil
}

// GetPPSAssociations fetches a person's payroll appointments.
func (c *Client) GetPPSAssociations(ctx context.Context, iamID string) ([]PPSAssociation, error) {
	assocs, err := get[PPSAssociation](ctx, c, fmt.Sprintf("/api/iam/associations/pps/%s", iamID), nil)
	return assocs, trace.Wrap(err)
}

// GetOrg fetches one organizational unit by oid.
func (c *Client) GetOrg(ctx context.Context, orgOID string) (*Org, error) {
	orgs, err := get[Org](ctx, c, "/api/iam/orginfo/search", map[string]string{
		"orgOId": orgOID,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(orgs) == 0 {
		return nil, trace.NotFound("identity api has no org %q", orgOID)
	}
	return &orgs[0], nil
}

// Colleges resolves a person's college affiliations: the deduplicated
// org names behind their appointment bouOrgOIds, fetched with bounded
// parallelism.
func (c *Client) Colleges(ctx context.Context, iamID string) ([]string, error) {
	assocs, err := c.GetPPSAssociations(ctx, iamID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	seen := map[string]struct{}{}
	var oids []string
	for _, a := range assocs {
		if a.BOUOrgOID == "" {
			continue
		}
		if _, ok := seen[a.BOUOrgOID]; ok {
			continue
		}
		seen[a.BOUOrgOID] = struct{}{}
		oids = append(oids, a.BOUOrgOID)
	}

	names := make([]string, len(oids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(defaults.IAMSyncParallelism)
	for i, oid := range oids {
		group.Go(func() error {
			org, err := c.GetOrg(groupCtx, oid)
			if err != nil {
				return trace.Wrap(err)
			}
			names[i] = org.Name
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}
	return types.SortedSet(names), nil
}
