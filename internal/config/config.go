// Package config loads the daemon's external configuration surface:
// directory bind credentials, the tenant list, batching/backoff knobs, and
// the action mode. Values come from the environment via
// github.com/sethvargo/go-envconfig; CLI flags (parsed separately in
// cmd/dirsync) are applied on top and win.
package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// DefaultBaseDNPattern is the default base-DN template, used when
// LDAP_BASE_DN_TEMPLATE is left unset.
const DefaultBaseDNPattern = "${LDAP_USER_OU},ou=${db},${LDAP_BASE_DN}"

// ActionMode selects between the forever CDC loop and a one-shot (or
// sleep-forever) bulk reconciliation.
type ActionMode string

const (
	ActionETL         ActionMode = "etl"
	ActionInitialLoad ActionMode = "initial_load"
)

// TenantSpec is one (database, label) pair from LDAP_DATABASES, before
// the base-DN template is expanded against it.
type TenantSpec struct {
	DB    string
	Label string
}

// Config is the daemon's full external configuration surface.
type Config struct {
	BindDN        string `env:"LDAP_BIND_DN,required"`
	BindPassword  string `env:"LDAP_BIND_PASSWORD"`
	DirectoryURI  string `env:"LDAP_URI,required"`
	LDAPBaseDN    string `env:"LDAP_BASE_DN,required"`
	LDAPUserOU    string `env:"LDAP_USER_OU,default=ou=user"`
	// BaseDNPattern's default contains commas, which the envconfig struct
	// tag format can't carry as a default= value — it is filled in by
	// Load after envconfig.Process runs, only if LDAP_BASE_DN_TEMPLATE was
	// left unset.
	BaseDNPattern string `env:"LDAP_BASE_DN_TEMPLATE"`

	DatabasesRaw    string   `env:"SYNC_DATABASES,required"`
	ReadOnlyRaw     string   `env:"SYNC_READONLY_DATABASES"`
	SharedTenantTag string   `env:"SYNC_SHARED_TENANT_MARKER,default=ph15"`
	ReadOnly        []string `env:"-"`
	Databases       []TenantSpec `env:"-"`

	MaxRecords   int    `env:"SYNC_MAX_RECORDS,default=200"`
	SleepSeconds int    `env:"SYNC_SLEEP_SECONDS,default=60"`
	LivenessPath string `env:"SYNC_LIVENESS_PATH,default=/tmp/liveness"`

	EncryptionPassword string `env:"SYNC_ENCRYPTION_PASSWORD,required"`
	FixedCryptoIVHex   string `env:"SYNC_FIXED_CRYPTO_IV"` // test-only override

	Action    ActionMode `env:"SYNC_ACTION,default=etl"`
	Verbose   bool       `env:"SYNC_VERBOSE,default=false"`
	Terminate bool       `env:"SYNC_TERMINATE,default=false"`
}

// Load reads Config from the environment and derives Databases/ReadOnly
// from their comma-separated raw forms.
func Load(ctx context.Context) (*Config, error) {
	var c Config
	if err := envconfig.Process(ctx, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.BaseDNPattern == "" {
		c.BaseDNPattern = DefaultBaseDNPattern
	}
	c.Databases = parseDatabases(c.DatabasesRaw)
	c.ReadOnly = splitNonEmpty(c.ReadOnlyRaw)
	if len(c.Databases) == 0 {
		return nil, fmt.Errorf("config: SYNC_DATABASES must name at least one tenant")
	}
	if c.Action != ActionETL && c.Action != ActionInitialLoad {
		return nil, fmt.Errorf("config: SYNC_ACTION must be %q or %q, got %q", ActionETL, ActionInitialLoad, c.Action)
	}
	return &c, nil
}

// BaseDN expands BaseDNPattern for one tenant's database name, substituting
// `${LDAP_USER_OU},ou=${db},${LDAP_BASE_DN}`-style placeholders.
func (c *Config) BaseDN(db string) string {
	r := strings.NewReplacer(
		"${LDAP_USER_OU}", c.LDAPUserOU,
		"${LDAP_BASE_DN}", c.LDAPBaseDN,
		"${db}", db,
	)
	return r.Replace(c.BaseDNPattern)
}

// IsSharedTenant reports whether db is the shared tenant, per the
// configurable marker substring.
func (c *Config) IsSharedTenant(db string) bool {
	return strings.Contains(db, c.SharedTenantTag)
}

// IsReadOnly reports whether db's event log must never be mutated.
func (c *Config) IsReadOnly(db string) bool {
	for _, ro := range c.ReadOnly {
		if ro == db {
			return true
		}
	}
	return false
}

// parseDatabases parses "db1:label1,db2:label2" into TenantSpecs; a bare
// "db1" (no ":label") uses db1 as its own label.
func parseDatabases(raw string) []TenantSpec {
	var out []TenantSpec
	for _, entry := range splitNonEmpty(raw) {
		db, label, ok := strings.Cut(entry, ":")
		if !ok {
			label = db
		}
		out = append(out, TenantSpec{DB: db, Label: label})
	}
	return out
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
