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

// Package config loads the profile-keyed YAML configuration file. A
// file maps profile names to connection settings for the canonical
// store, the directory server, the account event service, and the
// identity API. Commands select a profile with --profile and fall
// back to "default".
package config

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ucdavis/cheeto/lib/defaults"
)

// DefaultProfileName is used when --profile is not given.
const DefaultProfileName = "default"

// redactedValue replaces secrets when a profile is printed.
const redactedValue = "*****"

// DefaultPath returns the default config file location,
// $XDG_CONFIG_HOME/cheeto/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", trace.Wrap(err)
	}
	return filepath.Join(dir, "cheeto", "config.yaml"), nil
}

// MongoConfig points at the canonical store.
type MongoConfig struct {
	// URI is a standard mongodb:// connection string, credentials
	// included.
	URI string `yaml:"uri"`
	// Database is the database holding the canonical collections.
	Database string `yaml:"database"`
}

// CheckAndSetDefaults validates the store settings.
func (c *MongoConfig) CheckAndSetDefaults() error {
	if c.URI == "" {
		return trace.BadParameter("mongo config is missing uri")
	}
	if c.Database == "" {
		c.Database = "cheeto"
	}
	return nil
}

// Redacted returns a copy safe for display: the password portion of
// the connection string is masked.
func (c *MongoConfig) Redacted() *MongoConfig {
	out := *c
	if u, err := url.Parse(c.URI); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), redactedValue)
			out.URI = u.String()
		}
	}
	return &out
}

// LDAPConfig points at the directory server.
type LDAPConfig struct {
	// URI is an ldaps:// URL.
	URI string `yaml:"uri"`
	// BindDN and BindPassword authenticate the connection.
	BindDN       string `yaml:"binddn"`
	BindPassword string `yaml:"password"`
	// SearchBase is the directory root, e.g. dc=hpc,dc=example,dc=edu.
	SearchBase string `yaml:"searchbase"`
	// UserBase, GroupBase, and AutomountBase override the conventional
	// ou= containers under SearchBase.
	UserBase      string `yaml:"userbase,omitempty"`
	GroupBase     string `yaml:"groupbase,omitempty"`
	AutomountBase string `yaml:"automountbase,omitempty"`
	// StatusGroups maps a user status to the special group holding
	// users in that status; AccessGroups does the same for access
	// grants. These groups are created on demand but their membership
	// is managed exclusively by the reconciler's step that owns them.
	StatusGroups map[string]string `yaml:"status_groups,omitempty"`
	AccessGroups map[string]string `yaml:"access_groups,omitempty"`
	// CACertPath adds a trust anchor for the server certificate.
	CACertPath string `yaml:"ca_cert_path,omitempty"`
	// InsecureSkipVerify disables server certificate verification.
	// Test environments only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// CheckAndSetDefaults validates the directory settings and fills the
// conventional containers.
func (c *LDAPConfig) CheckAndSetDefaults() error {
	if c.URI == "" {
		return trace.BadParameter("ldap config is missing uri")
	}
	if c.BindDN == "" {
		return trace.BadParameter("ldap config is missing binddn")
	}
	if c.SearchBase == "" {
		return trace.BadParameter("ldap config is missing searchbase")
	}
	if c.UserBase == "" {
		c.UserBase = "ou=users," + c.SearchBase
	}
	if c.GroupBase == "" {
		c.GroupBase = "ou=groups," + c.SearchBase
	}
	if c.AutomountBase == "" {
		c.AutomountBase = "ou=automount," + c.SearchBase
	}
	return nil
}

// Redacted returns a copy safe for display.
func (c *LDAPConfig) Redacted() *LDAPConfig {
	out := *c
	if out.BindPassword != "" {
		out.BindPassword = redactedValue
	}
	return &out
}

// HippoConfig points at the account event service.
type HippoConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// SiteAliases maps upstream cluster names to sitenames.
	SiteAliases map[string]string `yaml:"site_aliases,omitempty"`
	// MaxTries bounds event retries before an event is marked failed.
	MaxTries int `yaml:"max_tries,omitempty"`
}

// CheckAndSetDefaults validates the event service settings.
func (c *HippoConfig) CheckAndSetDefaults() error {
	if c.BaseURL == "" {
		return trace.BadParameter("hippo config is missing base_url")
	}
	if c.APIKey == "" {
		return trace.BadParameter("hippo config is missing api_key")
	}
	if c.MaxTries <= 0 {
		c.MaxTries = defaults.MaxEventTries
	}
	return nil
}

// Redacted returns a copy safe for display.
func (c *HippoConfig) Redacted() *HippoConfig {
	out := *c
	if out.APIKey != "" {
		out.APIKey = redactedValue
	}
	return &out
}

// IAMConfig points at the identity API.
type IAMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// CheckAndSetDefaults validates the identity API settings.
func (c *IAMConfig) CheckAndSetDefaults() error {
	if c.BaseURL == "" {
		return trace.BadParameter("iam config is missing base_url")
	}
	if c.APIKey == "" {
		return trace.BadParameter("iam config is missing api_key")
	}
	return nil
}

// Redacted returns a copy safe for display.
func (c *IAMConfig) Redacted() *IAMConfig {
	out := *c
	if out.APIKey != "" {
		out.APIKey = redactedValue
	}
	return &out
}

// Profile is one named environment in the config file. Sub-sections
// may be omitted; commands validate the sections they actually use.
type Profile struct {
	Mongo *MongoConfig `yaml:"mongo,omitempty"`
	LDAP  *LDAPConfig  `yaml:"ldap,omitempty"`
	HiPPO *HippoConfig `yaml:"hippo,omitempty"`
	IAM   *IAMConfig   `yaml:"iam,omitempty"`
}

// CheckMongo validates and returns the store section.
func (p *Profile) CheckMongo() (*MongoConfig, error) {
	if p.Mongo == nil {
		return nil, trace.NotFound("profile has no mongo section")
	}
	if err := p.Mongo.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return p.Mongo, nil
}

// CheckLDAP validates and returns the directory section.
func (p *Profile) CheckLDAP() (*LDAPConfig, error) {
	if p.LDAP == nil {
		return nil, trace.NotFound("profile has no ldap section")
	}
	if err := p.LDAP.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return p.LDAP, nil
}

// CheckHiPPO validates and returns the event service section.
func (p *Profile) CheckHiPPO() (*HippoConfig, error) {
	if p.HiPPO == nil {
		return nil, trace.NotFound("profile has no hippo section")
	}
	if err := p.HiPPO.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return p.HiPPO, nil
}

// CheckIAM validates and returns the identity API section.
func (p *Profile) CheckIAM() (*IAMConfig, error) {
	if p.IAM == nil {
		return nil, trace.NotFound("profile has no iam section")
	}
	if err := p.IAM.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return p.IAM, nil
}

// Redacted returns a copy of the profile safe for display.
func (p *Profile) Redacted() *Profile {
	out := &Profile{}
	if p.Mongo != nil {
		out.Mongo = p.Mongo.Redacted()
	}
	if p.LDAP != nil {
		out.LDAP = p.LDAP.Redacted()
	}
	if p.HiPPO != nil {
		out.HiPPO = p.HiPPO.Redacted()
	}
	if p.IAM != nil {
		out.IAM = p.IAM.Redacted()
	}
	return out
}

// File is a parsed config file: profiles keyed by name.
type File struct {
	Profiles map[string]*Profile `yaml:",inline"`
}

// Load reads and parses the config file at path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("config file %v does not exist", path)
		}
		return nil, trace.ConvertSystemError(err)
	}
	return Parse(raw)
}

// Parse parses config file contents.
func Parse(raw []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(raw, &f.Profiles); err != nil {
		return nil, trace.BadParameter("parsing config: %v", err)
	}
	if f.Profiles == nil {
		f.Profiles = map[string]*Profile{}
	}
	return f, nil
}

// Profile returns the named profile; the empty name selects
// DefaultProfileName.
func (f *File) Profile(name string) (*Profile, error) {
	if name == "" {
		name = DefaultProfileName
	}
	p, ok := f.Profiles[name]
	if !ok || p == nil {
		return nil, trace.NotFound("config has no profile %q", name)
	}
	return p, nil
}

// ProfileNames lists the profiles in the file.
func (f *File) ProfileNames() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	return names
}

// Dump renders the file as YAML.
func (f *File) Dump() ([]byte, error) {
	out, err := yaml.Marshal(f.Profiles)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// Write stores the file at path with owner-only permissions, creating
// parent directories as needed.
func (f *File) Write(path string) error {
	out, err := f.Dump()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}
