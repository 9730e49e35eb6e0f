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
	"cmp"
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// identityAPI is the slice of Client the syncer needs; tests
// substitute a fake.
type identityAPI interface {
	QueryPersonByUsername(ctx context.Context, username string) (*Person, error)
	GetPerson(ctx context.Context, iamID string) (*Person, error)
	Colleges(ctx context.Context, iamID string) ([]string, error)
}

// SyncerConfig configures the identity sync.
type SyncerConfig struct {
	// Store is the canonical account store.
	Store *store.Store
	// Client talks to the identity API.
	Client identityAPI
	// Parallelism bounds concurrent identity fetches.
	Parallelism int
	// Logger receives per-user progress.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *SyncerConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("iam syncer config is missing store")
	}
	if c.Client == nil {
		return trace.BadParameter("iam syncer config is missing client")
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaults.IAMSyncParallelism
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentIAM))
	return nil
}

// Syncer enriches unsynced user records from the identity API.
type Syncer struct {
	cfg SyncerConfig
}

// NewSyncer returns a syncer for the config.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Syncer{cfg: cfg}, nil
}

// identityResult is one user's fetched identity, or the recorded
// absence of one.
type identityResult struct {
	username string
	hasEntry bool
	iamID    string
	fullname string
	colleges []string
}

// Sync fetches identities for users pending sync and applies them.
// max bounds the number of users processed when positive. Fetches run
// with bounded parallelism; store updates are serial. A user whose
// fetch fails is logged and left unsynced for the next pass.
func (s *Syncer) Sync(ctx context.Context, max int) (int, error) {
	users, err := s.cfg.Store.ListGlobalUsers(ctx, store.ListUsersFilter{NeedsIAMSync: true})
	if err != nil {
		return 0, trace.Wrap(err)
	}
	if max > 0 && len(users) > max {
		users = users[:max]
	}

	results := make([]*identityResult, len(users))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Parallelism)
	for i, user := range users {
		group.Go(func() error {
			result, err := s.fetchIdentity(groupCtx, user)
			if err != nil {
				s.cfg.Logger.WarnContext(groupCtx, "identity fetch failed",
					"username", user.Username, "error", err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, trace.Wrap(err)
	}

	applied := 0
	for _, result := range results {
		if result == nil {
			continue
		}
		err := s.cfg.Store.UpdateUserIAM(ctx, result.username,
			result.iamID, result.hasEntry, result.fullname, result.colleges)
		if err != nil {
			s.cfg.Logger.ErrorContext(ctx, "identity update failed",
				"username", result.username, "error", err)
			continue
		}
		applied++
	}
	s.cfg.Logger.InfoContext(ctx, "identity sync finished",
		"eligible", len(users), "applied", applied)
	return applied, nil
}

func (s *Syncer) fetchIdentity(ctx context.Context, user *types.GlobalUser) (*identityResult, error) {
	var person *Person
	var err error
	if user.IAMID != "" {
		person, err = s.cfg.Client.GetPerson(ctx, user.IAMID)
	} else {
		person, err = s.cfg.Client.QueryPersonByUsername(ctx, user.Username)
	}
	if trace.IsNotFound(err) {
		return &identityResult{username: user.Username, hasEntry: false}, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	colleges, err := s.cfg.Client.Colleges(ctx, person.IAMID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &identityResult{
		username: user.Username,
		hasEntry: true,
		iamID:    person.IAMID,
		fullname: person.FullName,
		colleges: colleges,
	}, nil
}
