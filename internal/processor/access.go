package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/amansearch/internal/field"
	"github.com/Aman-CERP/amansearch/internal/item"
	"github.com/Aman-CERP/amansearch/internal/query"
)

// Permissions checked by the access processors.
const (
	PermissionAccessContent      = "access content"
	PermissionBypassNodeAccess   = "bypass node access"
	PermissionViewOwnUnpublished = "view own unpublished content"
)

// GrantAll is the grant every published item carries when no grants are
// recorded on the object.
const GrantAll = "node_access__all"

// Account is the user a search is run on behalf of.
type Account struct {
	ID          int64    `json:"id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	// Grants maps realms to the grant IDs the account holds.
	Grants map[string][]int64 `json:"grants,omitempty"`
}

// HasPermission reports whether the account holds perm.
func (a *Account) HasPermission(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// GrantStrings returns the account's grants in indexed form.
func (a *Account) GrantStrings() []string {
	var out []string
	for realm, gids := range a.Grants {
		for _, gid := range gids {
			out = append(out, fmt.Sprintf("node_access_%s:%d", realm, gid))
		}
	}
	return out
}

func contentAccessDescriptor() Descriptor {
	return Descriptor{
		ID:          "content_access",
		Label:       "Content access",
		Description: "Adds content access checks for nodes and comments.",
		Stages:      map[Stage]int{StageAddProperties: 0, StagePreIndexSave: -10, StagePreprocessQuery: -30},
		Supports: func(idx Index) bool {
			for _, ds := range idx.DatasourceIDs() {
				if ds == "entity:node" || ds == "entity:comment" {
					return true
				}
			}
			return false
		},
	}
}

// ContentAccess indexes access grants and restricts queries to what the
// searching account may see.
type ContentAccess struct {
	idx         Index
	datasources map[string]bool
}

func newContentAccess(deps Deps, s Settings) (Processor, error) {
	p := &ContentAccess{idx: deps.Index, datasources: map[string]bool{}}
	for _, ds := range s.Strings("datasources", []string{"entity:node", "entity:comment"}) {
		p.datasources[ds] = true
	}
	return p, nil
}

func (p *ContentAccess) ID() string { return "content_access" }

func (p *ContentAccess) PropertyDefinitions(datasourceID string) map[string]*field.PropertyDefinition {
	if datasourceID != "" {
		return nil
	}
	return map[string]*field.PropertyDefinition{
		PropertyNodeGrants: {Name: PropertyNodeGrants, Label: "Node access information", DataType: "string", List: true, Hidden: true},
	}
}

func (p *ContentAccess) AddFieldValues(ctx context.Context, it *item.Item) error {
	if !p.datasources[it.DatasourceID()] {
		return nil
	}
	fields := fieldsForProperty(it, PropertyNodeGrants)
	if len(fields) == 0 {
		return nil
	}
	grants := objectGrants(ctx, it)
	for _, f := range fields {
		for _, g := range grants {
			f.AddValue(g)
		}
	}
	return nil
}

func objectGrants(ctx context.Context, it *item.Item) []string {
	d, ok := objectValue(ctx, it, "grants")
	if !ok {
		return []string{GrantAll}
	}
	var out []string
	for _, e := range d.Elements() {
		m, ok := e.Value.(map[string]any)
		if !ok {
			continue
		}
		realm, _ := m["realm"].(string)
		gid, _ := field.ToFloat(m["gid"])
		if realm == "all" {
			out = append(out, GrantAll)
			continue
		}
		out = append(out, fmt.Sprintf("node_access_%s:%d", realm, int64(gid)))
	}
	if len(out) == 0 {
		return []string{GrantAll}
	}
	return out
}

// PreIndexSave makes sure the grants, status and author fields exist.
func (p *ContentAccess) PreIndexSave(idx Index) error {
	f, err := idx.EnsureField("", PropertyNodeGrants, field.TypeString)
	if err != nil {
		return err
	}
	f.Hidden = true
	f.IndexedLocked = true
	f.TypeLocked = true
	for _, ds := range idx.DatasourceIDs() {
		if !p.datasources[ds] {
			continue
		}
		if _, err := idx.EnsureField(ds, "status", field.TypeBoolean); err != nil {
			return err
		}
		if _, err := idx.EnsureField(ds, "uid", field.TypeInteger); err != nil {
			return err
		}
	}
	return nil
}

// PreprocessSearchQuery adds the access conditions for the query's account.
func (p *ContentAccess) PreprocessSearchQuery(_ context.Context, q *query.Query) error {
	if q.BoolOption(query.OptionBypassAccess) {
		return nil
	}
	account, _ := q.Options()[query.OptionAccessAccount].(*Account)
	if account == nil {
		account = &Account{}
	}
	if account.HasPermission(PermissionBypassNodeAccess) {
		return nil
	}
	return p.addAccessConditions(q, account)
}

func (p *ContentAccess) addAccessConditions(q *query.Query, account *Account) error {
	var affected []string
	for _, ds := range p.idx.DatasourceIDs() {
		if p.datasources[ds] {
			affected = append(affected, ds)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	if !account.HasPermission(PermissionAccessContent) {
		for _, ds := range affected {
			q.AddCondition(query.FieldDatasource, ds, query.OpNotEqual)
		}
		return nil
	}

	grantsField, ok := p.findField("", PropertyNodeGrants)
	if !ok {
		return fmt.Errorf("field %s missing on index %s", PropertyNodeGrants, p.idx.ID())
	}

	outer := query.NewConditionGroup(query.Or, "content_access")
	for _, ds := range p.idx.DatasourceIDs() {
		if !p.datasources[ds] {
			outer.AddCondition(query.FieldDatasource, ds)
		}
	}

	access := query.NewConditionGroup(query.And)
	enabled := query.NewConditionGroup(query.Or, "content_access_enabled")
	for _, ds := range affected {
		status, ok := p.findField(ds, "status")
		if !ok {
			continue
		}
		published := query.NewConditionGroup(query.Or)
		published.AddCondition(status.ID, true)
		if account.HasPermission(PermissionViewOwnUnpublished) && account.ID != 0 {
			if uid, ok := p.findField(ds, "uid"); ok {
				published.AddCondition(uid.ID, account.ID)
			}
		}
		if len(affected) == 1 {
			enabled.AddGroup(published)
			continue
		}
		perDatasource := query.NewConditionGroup(query.And)
		perDatasource.AddCondition(query.FieldDatasource, ds)
		perDatasource.AddGroup(published)
		enabled.AddGroup(perDatasource)
	}
	if !enabled.IsEmpty() {
		access.AddGroup(enabled)
	}
	grants := query.NewConditionGroup(query.Or, "content_access_grants")
	grants.AddCondition(grantsField.ID, GrantAll)
	for _, g := range account.GrantStrings() {
		grants.AddCondition(grantsField.ID, g)
	}
	access.AddGroup(grants)

	if len(outer.Conditions) == 0 {
		access.Tags = append(access.Tags, "content_access")
		q.AddConditionGroup(access)
		return nil
	}
	outer.AddGroup(access)
	q.AddConditionGroup(outer)
	return nil
}

func (p *ContentAccess) findField(datasourceID, path string) (*field.Field, bool) {
	for _, f := range p.idx.Fields() {
		if f.DatasourceID == datasourceID && f.PropertyPath == path {
			return f, true
		}
	}
	return nil, false
}

func entityStatusDescriptor() Descriptor {
	return Descriptor{
		ID:          "entity_status",
		Label:       "Entity status",
		Description: "Excludes unpublished content and blocked users from being indexed.",
		Stages:      map[Stage]int{StageAlterItems: -10},
	}
}

// EntityStatus drops items whose source object has a false status.
type EntityStatus struct{}

func newEntityStatus(_ Deps, _ Settings) (Processor, error) { return &EntityStatus{}, nil }

func (p *EntityStatus) ID() string { return "entity_status" }

func (p *EntityStatus) AlterIndexedItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	out := make([]*item.Item, 0, len(items))
	for _, it := range items {
		if d, ok := objectValue(ctx, it, "status"); ok {
			if vals := item.ExtractFieldValues(d); len(vals) > 0 {
				if published, ok := field.ToBool(vals[0]); ok && !published {
					continue
				}
			}
		}
		out = append(out, it)
	}
	return out, nil
}

func roleFilterDescriptor() Descriptor {
	return Descriptor{
		ID:          "role_filter",
		Label:       "Role filter",
		Description: "Filters users based on their role.",
		Stages:      map[Stage]int{StageAlterItems: -10},
		Supports: func(idx Index) bool {
			for _, ds := range idx.DatasourceIDs() {
				if ds == "entity:user" {
					return true
				}
			}
			return false
		},
	}
}

// RoleFilter keeps or drops user items by role. With default "allow" users
// holding a selected role are dropped; with "deny" only they are kept.
type RoleFilter struct {
	allowByDefault bool
	roles          map[string]bool
}

func newRoleFilter(_ Deps, s Settings) (Processor, error) {
	p := &RoleFilter{roles: map[string]bool{}}
	switch strings.ToLower(s.String("default", "allow")) {
	case "allow", "true", "1":
		p.allowByDefault = true
	case "deny", "false", "0":
	default:
		return nil, invalidSetting("role_filter", "default", fmt.Errorf("expected allow or deny"))
	}
	for _, r := range s.Strings("roles", nil) {
		p.roles[r] = true
	}
	return p, nil
}

func (p *RoleFilter) ID() string { return "role_filter" }

func (p *RoleFilter) AlterIndexedItems(ctx context.Context, items []*item.Item) ([]*item.Item, error) {
	out := make([]*item.Item, 0, len(items))
	for _, it := range items {
		if it.DatasourceID() != "entity:user" {
			out = append(out, it)
			continue
		}
		hasRole := false
		if d, ok := objectValue(ctx, it, "roles"); ok {
			for _, v := range item.ExtractFieldValues(d) {
				if s, ok := field.Stringify(v); ok && p.roles[s] {
					hasRole = true
					break
				}
			}
		}
		if hasRole != p.allowByDefault {
			out = append(out, it)
		}
	}
	return out, nil
}
