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

package common

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"

	"github.com/ucdavis/cheeto"
	"github.com/ucdavis/cheeto/lib/config"
	"github.com/ucdavis/cheeto/lib/hippo"
	"github.com/ucdavis/cheeto/lib/iam"
	"github.com/ucdavis/cheeto/lib/ldapsync"
	"github.com/ucdavis/cheeto/lib/store"
)

// closeTimeout bounds the store disconnect on exit.
const closeTimeout = 5 * time.Second

// Env holds the global flags and the lazily-opened clients shared by
// every command. Clients are built on first use so that commands which
// touch only one backend never require the others to be configured.
type Env struct {
	ConfigPath  string
	ProfileName string
	LogPath     string
	Quiet       bool
	Debug       bool
	Log         *slog.Logger

	file      *config.File
	profile   *config.Profile
	db        *store.Store
	directory *ldapsync.Client
}

// ConfigFile loads the config file once and caches it.
func (e *Env) ConfigFile() (*config.File, error) {
	if e.file != nil {
		return e.file, nil
	}
	path := e.ConfigPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	file, err := config.Load(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	e.file = file
	return file, nil
}

// Profile resolves the selected profile from the config file.
func (e *Env) Profile() (*config.Profile, error) {
	if e.profile != nil {
		return e.profile, nil
	}
	file, err := e.ConfigFile()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	profile, err := file.Profile(e.ProfileName)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	e.profile = profile
	return profile, nil
}

// Store opens the canonical store once and caches the handle.
func (e *Env) Store(ctx context.Context) (*store.Store, error) {
	if e.db != nil {
		return e.db, nil
	}
	profile, err := e.Profile()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	mongo, err := profile.CheckMongo()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := store.Open(ctx, store.Config{
		URI:      mongo.URI,
		Database: mongo.Database,
		Logger:   e.componentLog(cheeto.ComponentStore),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	e.db = db
	return db, nil
}

// Directory connects to the configured LDAP server once.
func (e *Env) Directory() (*ldapsync.Client, error) {
	if e.directory != nil {
		return e.directory, nil
	}
	ldapCfg, err := e.LDAPConfig()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	client, err := ldapsync.Connect(ldapCfg)
	if err != nil {
		return nil, WithExitCode(trace.Wrap(err), cheeto.ExitBadLDAPQuery)
	}
	e.directory = client
	return client, nil
}

// LDAPConfig returns the profile's validated directory settings.
func (e *Env) LDAPConfig() (*config.LDAPConfig, error) {
	profile, err := e.Profile()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return profile.CheckLDAP()
}

// HippoClient builds an event API client from the profile.
func (e *Env) HippoClient() (*hippo.Client, *config.HippoConfig, error) {
	profile, err := e.Profile()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	cfg, err := profile.CheckHiPPO()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	client, err := hippo.NewClient(cfg)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return client, cfg, nil
}

// IAMClient builds an identity API client from the profile.
func (e *Env) IAMClient() (*iam.Client, error) {
	profile, err := e.Profile()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg, err := profile.CheckIAM()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return iam.NewClient(cfg)
}

// Close releases whatever the commands opened.
func (e *Env) Close() {
	if e.directory != nil {
		if err := e.directory.Close(); err != nil && e.Log != nil {
			e.Log.Warn("directory close failed", "error", err)
		}
		e.directory = nil
	}
	if e.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := e.db.Close(ctx); err != nil && e.Log != nil {
			e.Log.Warn("store close failed", "error", err)
		}
		e.db = nil
	}
}

func (e *Env) componentLog(component string) *slog.Logger {
	if e.Log == nil {
		return slog.With(cheeto.ComponentKey, component)
	}
	return e.Log.With(cheeto.ComponentKey, component)
}
