package entitlements

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// ResourceKind selects how usage and limits are measured for a key
type ResourceKind string

const (
	ResourceCount   ResourceKind = "count"
	ResourceValue   ResourceKind = "value"
	ResourceFeature ResourceKind = "feature"
	ResourceModule  ResourceKind = "module"
)

// Resource describes one registry key. Column and table names are SQL
// identifiers on the plans and subscriptions tables.
type Resource struct {
	Key   string       `yaml:"key" json:"key"`
	Kind  ResourceKind `yaml:"kind" json:"kind"`
	Label string       `yaml:"label" json:"label"`

	// Table is the tenant table counted for ResourceCount
	Table string `yaml:"table,omitempty" json:"-"`

	// LimitColumn is the plan default (limit or feature flag)
	LimitColumn string `yaml:"limit_column,omitempty" json:"-"`

	// OverrideColumn is the optional subscription-level override
	OverrideColumn string `yaml:"override_column,omitempty" json:"-"`

	// UsageColumn is the subscription column holding usage for ResourceValue
	UsageColumn string `yaml:"usage_column,omitempty" json:"-"`

	// Module is the key looked up in plans.modules for ResourceModule
	Module string `yaml:"module,omitempty" json:"-"`
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks that the resource has every field its kind needs
func (r Resource) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("resource key is required")
	}
	if r.Label == "" {
		return fmt.Errorf("resource %s: label is required", r.Key)
	}

	var required []string
	switch r.Kind {
	case ResourceCount:
		required = []string{r.Table, r.LimitColumn}
	case ResourceValue:
		required = []string{r.LimitColumn, r.UsageColumn}
	case ResourceFeature:
		required = []string{r.LimitColumn}
	case ResourceModule:
		if r.Module == "" {
			return fmt.Errorf("resource %s: module is required", r.Key)
		}
		return nil
	default:
		return fmt.Errorf("resource %s: unknown kind %q", r.Key, r.Kind)
	}

	for _, ident := range required {
		if ident == "" {
			return fmt.Errorf("resource %s: missing column or table for kind %s", r.Key, r.Kind)
		}
	}
	for _, ident := range []string{r.Table, r.LimitColumn, r.OverrideColumn, r.UsageColumn} {
		if ident != "" && !identifierPattern.MatchString(ident) {
			return fmt.Errorf("resource %s: invalid identifier %q", r.Key, ident)
		}
	}
	return nil
}

// Registry is the static key → Resource table. It is immutable once built.
type Registry struct {
	resources map[string]Resource
}

// NewRegistry validates and indexes resources. Later entries replace
// earlier ones with the same key.
func NewRegistry(resources ...Resource) (*Registry, error) {
	r := &Registry{resources: make(map[string]Resource, len(resources))}
	for _, res := range resources {
		if err := res.Validate(); err != nil {
			return nil, err
		}
		r.resources[res.Key] = res
	}
	return r, nil
}

// Lookup returns the resource registered under key
func (r *Registry) Lookup(key string) (Resource, bool) {
	res, ok := r.resources[key]
	return res, ok
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.resources))
	for k := range r.resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry keys known to the application
const (
	KeyMaxUsers      = "maxUsers"
	KeyMaxLeads      = "maxLeads"
	KeyMaxContacts   = "maxContacts"
	KeyMaxAccounts   = "maxAccounts"
	KeyStorage       = "storageMb"
	KeyAPIAccess     = "apiAccess"
	KeyCustomRoles   = "customRoles"
	KeyModuleMarket  = "module.marketing"
	KeyModuleSupport = "module.support"
)

func defaultResources() []Resource {
	return []Resource{
		{Key: KeyMaxUsers, Kind: ResourceCount, Label: "Team Members", Table: "profiles", LimitColumn: "max_users", OverrideColumn: "max_users_override"},
		{Key: KeyMaxLeads, Kind: ResourceCount, Label: "Leads", Table: "leads", LimitColumn: "max_leads", OverrideColumn: "max_leads_override"},
		{Key: KeyMaxContacts, Kind: ResourceCount, Label: "Contacts", Table: "contacts", LimitColumn: "max_contacts", OverrideColumn: "max_contacts_override"},
		{Key: KeyMaxAccounts, Kind: ResourceCount, Label: "Accounts", Table: "accounts", LimitColumn: "max_accounts", OverrideColumn: "max_accounts_override"},
		{Key: KeyStorage, Kind: ResourceValue, Label: "Storage (MB)", LimitColumn: "max_storage_mb", OverrideColumn: "max_storage_mb_override", UsageColumn: "storage_used_mb"},
		{Key: KeyAPIAccess, Kind: ResourceFeature, Label: "API Access", LimitColumn: "feature_api_access", OverrideColumn: "feature_api_access_override"},
		{Key: KeyCustomRoles, Kind: ResourceFeature, Label: "Custom Roles", LimitColumn: "feature_custom_roles", OverrideColumn: "feature_custom_roles_override"},
		{Key: KeyModuleMarket, Kind: ResourceModule, Label: "Marketing", Module: "marketing"},
		{Key: KeyModuleSupport, Kind: ResourceModule, Label: "Support Desk", Module: "support"},
	}
}

// DefaultRegistry returns the built-in registry
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultResources()...)
	if err != nil {
		panic(fmt.Sprintf("invalid default registry: %v", err))
	}
	return r
}

type registryFile struct {
	Resources []Resource `yaml:"resources"`
}

// LoadRegistryFile reads a YAML file of resources layered over the
// defaults. Entries with a built-in key replace the built-in resource.
//
//	resources:
//	  - key: maxDeals
//	    kind: count
//	    label: Deals
//	    table: deals
//	    limit_column: max_deals
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}

	return NewRegistry(append(defaultResources(), file.Resources...)...)
}
