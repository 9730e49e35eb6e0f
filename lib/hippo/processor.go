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
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"

	"github.com/gravitational/trace"
	"golang.org/x/time/rate"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/defaults"
	"github.com/ucdavis/cheeto/lib/store"
	"github.com/ucdavis/cheeto/lib/types"
)

// sponsorsGroup is the well-known group whose membership additionally
// provisions a per-sponsor group.
const sponsorsGroup = "sponsors"

// eventsAPI is the slice of Client the processor needs; tests
// substitute a fake.
type eventsAPI interface {
	GetPendingEvents(ctx context.Context) ([]types.HippoEvent, error)
	UpdateStatus(ctx context.Context, id int64, status types.EventStatus) error
}

// ProcessorConfig configures the event processor.
type ProcessorConfig struct {
	// Store is the canonical account store.
	Store *store.Store
	// Client talks to the upstream event API.
	Client eventsAPI
	// SiteAliases maps upstream cluster names to sitenames. Unmapped
	// clusters resolve to themselves.
	SiteAliases map[string]string
	// MaxTries bounds retries before an event is marked failed.
	MaxTries int
	// Limiter throttles event application.
	Limiter *rate.Limiter
	// Postback enables status updates to the upstream API.
	Postback bool
	// Logger receives per-event progress.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ProcessorConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("processor config is missing store")
	}
	if c.Client == nil {
		return trace.BadParameter("processor config is missing client")
	}
	if c.MaxTries <= 0 {
		c.MaxTries = defaults.MaxEventTries
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(defaults.EventsPerSecond, defaults.EventBurst)
	}
	c.Logger = cmp.Or(c.Logger, slog.With(cheeto.ComponentKey, cheeto.ComponentHiPPO))
	return nil
}

// Processor applies upstream account events to the canonical store.
type Processor struct {
	cfg ProcessorConfig
}

// NewProcessor returns a processor for the config.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Processor{cfg: cfg}, nil
}

// Filter restricts a processing run to one event id or one action.
// Zero values match everything.
type Filter struct {
	ID     int64
	Action types.EventAction
}

func (f Filter) match(e *types.HippoEvent) bool {
	if f.ID != 0 && e.ID != f.ID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	return true
}

// Process fetches the pending queue and applies each event in upstream
// id order. Individual event failures are recorded on the event row
// and do not abort the run.
func (p *Processor) Process(ctx context.Context, filter Filter) error {
	events, err := p.cfg.Client.GetPendingEvents(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	slices.SortFunc(events, func(a, b types.HippoEvent) int {
		return cmp.Compare(a.ID, b.ID)
	})

	for i := range events {
		event := &events[i]
		if !filter.match(event) {
			continue
		}
		if err := p.cfg.Limiter.Wait(ctx); err != nil {
			return trace.Wrap(err)
		}
		if err := p.processOne(ctx, event); err != nil {
			p.cfg.Logger.ErrorContext(ctx, "event processing failed",
				"id", event.ID, "action", event.Action, "error", err)
		}
	}
	return nil
}

// processOne upserts the persistent row, dispatches the handler inside
// a transaction, and settles the event status. The retry-counter bump
// deliberately happens outside the handler transaction so failed
// attempts still count.
func (p *Processor) processOne(ctx context.Context, event *types.HippoEvent) error {
	if err := event.Check(); err != nil {
		return trace.Wrap(err)
	}
	row, err := p.cfg.Store.UpsertEvent(ctx, event)
	if err != nil {
		return trace.Wrap(err)
	}
	if row.Status == types.EventStatusComplete {
		if p.cfg.Postback {
			return trace.Wrap(p.cfg.Client.UpdateStatus(ctx, event.ID, types.EventStatusComplete))
		}
		return nil
	}

	retries, err := p.cfg.Store.BumpEventRetries(ctx, event.ID)
	if err != nil {
		return trace.Wrap(err)
	}

	handlerErr := p.cfg.Store.WithTransaction(ctx, func(ctx context.Context) error {
		return p.dispatch(ctx, event)
	})
	if handlerErr == nil {
		if err := p.cfg.Store.SetEventStatus(ctx, event.ID, types.EventStatusComplete); err != nil {
			return trace.Wrap(err)
		}
		p.cfg.Logger.InfoContext(ctx, "event applied",
			"id", event.ID, "action", event.Action, "tries", retries)
		if p.cfg.Postback {
			return trace.Wrap(p.cfg.Client.UpdateStatus(ctx, event.ID, types.EventStatusComplete))
		}
		return nil
	}

	if retries >= p.cfg.MaxTries {
		if err := p.cfg.Store.SetEventStatus(ctx, event.ID, types.EventStatusFailed); err != nil {
			return trace.NewAggregate(handlerErr, err)
		}
		if p.cfg.Postback {
			if err := p.cfg.Client.UpdateStatus(ctx, event.ID, types.EventStatusFailed); err != nil {
				return trace.NewAggregate(handlerErr, err)
			}
		}
	}
	return trace.Wrap(handlerErr)
}

func (p *Processor) dispatch(ctx context.Context, event *types.HippoEvent) error {
	sitename := p.resolveSite(event.Data.Cluster)
	switch event.Action {
	case types.EventCreateAccount:
		return trace.Wrap(p.handleCreateAccount(ctx, sitename, event))
	case types.EventAddAccountToGroup:
		return trace.Wrap(p.handleAddToGroup(ctx, sitename, event))
	case types.EventUpdateSshKey:
		return trace.Wrap(p.handleUpdateSSHKey(ctx, sitename, event))
	}
	return trace.BadParameter("event action %q is not supported", event.Action)
}

func (p *Processor) resolveSite(cluster string) string {
	if sitename, ok := p.cfg.SiteAliases[cluster]; ok {
		return sitename
	}
	return cluster
}

// handleCreateAccount provisions each account at the event's site: the
// global user, the site attachment, home storage, and the requested
// group memberships. Replays against an active user are no-ops.
func (p *Processor) handleCreateAccount(ctx context.Context, sitename string, event *types.HippoEvent) error {
	for i := range event.Data.Accounts {
		account := &event.Data.Accounts[i]
		if err := p.provisionAccount(ctx, sitename, account); err != nil {
			return trace.Wrap(err, "account %q", account.Kerberos)
		}
		if err := p.applyGroups(ctx, sitename, account.Kerberos, event.Data.Groups); err != nil {
			return trace.Wrap(err, "account %q", account.Kerberos)
		}
	}
	return nil
}

func (p *Processor) provisionAccount(ctx context.Context, sitename string, account *types.EventAccount) error {
	username := account.Kerberos
	user, err := p.cfg.Store.GetGlobalUser(ctx, username)
	switch {
	case trace.IsNotFound(err):
		uid, err := strconv.ParseInt(account.Mothra, 10, 64)
		if err != nil {
			return trace.BadParameter("account %q mothra id %q is not numeric", username, account.Mothra)
		}
		params := store.CreateUserParams{
			Username: username,
			Email:    account.Email,
			UID:      uid,
			FullName: account.Name,
			IAMID:    account.IAM,
			Access:   account.AccessSet(),
		}
		if account.Key != "" {
			params.SSHKeys = []string{account.Key}
		}
		if _, err := p.cfg.Store.CreateUser(ctx, params); err != nil {
			return trace.Wrap(err)
		}
	case err != nil:
		return trace.Wrap(err)
	case user.Status == types.UserStatusInactive:
		if err := p.cfg.Store.SetUserStatus(ctx, username,
			types.UserStatusActive, "account event replay", ""); err != nil {
			return trace.Wrap(err)
		}
	}

	if err := p.cfg.Store.AddSiteUser(ctx, sitename, username); err != nil {
		if !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
		if err := p.cfg.Store.SetUserStatus(ctx, username,
			types.UserStatusActive, "account event replay", sitename); err != nil {
			return trace.Wrap(err)
		}
	}

	err = p.cfg.Store.CreateHomeStorage(ctx, store.CreateHomeStorageParams{
		Sitename: sitename,
		Username: username,
	})
	if err != nil && !trace.IsAlreadyExists(err) {
		return trace.Wrap(err)
	}
	return nil
}

// handleAddToGroup adds each account to the listed groups.
func (p *Processor) handleAddToGroup(ctx context.Context, sitename string, event *types.HippoEvent) error {
	for i := range event.Data.Accounts {
		account := &event.Data.Accounts[i]
		if err := p.applyGroups(ctx, sitename, account.Kerberos, event.Data.Groups); err != nil {
			return trace.Wrap(err, "account %q", account.Kerberos)
		}
	}
	return nil
}

func (p *Processor) applyGroups(ctx context.Context, sitename, username string, groups []string) error {
	if len(groups) == 0 {
		return nil
	}
	err := p.cfg.Store.GroupAddUserElement(ctx, sitename, groups, []string{username}, types.RoleMembers)
	if err != nil {
		return trace.Wrap(err)
	}
	if slices.Contains(groups, sponsorsGroup) {
		_, err := p.cfg.Store.CreateGroupFromSponsor(ctx, sitename, username)
		if err != nil && !trace.IsAlreadyExists(err) {
			return trace.Wrap(err)
		}
	}
	return nil
}

// handleUpdateSshKey replaces the user's key list with the payload key
// and grants login access at the site.
func (p *Processor) handleUpdateSSHKey(ctx context.Context, sitename string, event *types.HippoEvent) error {
	for i := range event.Data.Accounts {
		account := &event.Data.Accounts[i]
		if account.Key == "" {
			return trace.BadParameter("account %q carries no ssh key", account.Kerberos)
		}
		if err := p.cfg.Store.SetUserSSHKeys(ctx, account.Kerberos, []string{account.Key}); err != nil {
			return trace.Wrap(err)
		}
		if err := p.cfg.Store.AddUserAccess(ctx, account.Kerberos, types.AccessLoginSSH, sitename); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}
