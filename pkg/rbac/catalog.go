package rbac

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog is the read-only table of roles, built once at process start
type Catalog struct {
	roles map[RoleID]*Role
	order []RoleID
	full  []Permission
}

// BuiltInRoles returns the default role table of the portal
func BuiltInRoles() []Role {
	return []Role{
		{
			ID:            RoleSuperAdmin,
			Name:          "Super Admin",
			NameAr:        "المدير الأعلى",
			Description:   "Full access to every area of the portal",
			Priority:      100,
			Category:      CategoryAdmin,
			ImplicatesAll: true,
			Permissions:   AllPermissions(),
		},
		{
			ID:          RoleFinancialManager,
			Name:        "Financial Manager",
			NameAr:      "المدير المالي",
			Description: "Manages finances, subscriptions and payments",
			Priority:    80,
			Category:    CategoryAdmin,
			Permissions: []Permission{
				{Resource: ResourceDashboard, Action: ActionView},
				{Resource: ResourceFinances, Action: ActionManage},
				{Resource: ResourceFinancialReports, Action: ActionView},
				{Resource: ResourceSubscriptions, Action: ActionManage},
				{Resource: ResourcePayments, Action: ActionManage},
			},
		},
		{
			ID:          RoleFamilyTreeAdmin,
			Name:        "Family Tree Admin",
			NameAr:      "مدير شجرة العائلة",
			Description: "Maintains the family tree and relationships",
			Priority:    70,
			Category:    CategoryAdmin,
			Permissions: []Permission{
				{Resource: ResourceDashboard, Action: ActionView},
				{Resource: ResourceFamilyTree, Action: ActionManage},
				{Resource: ResourceFamilyTree, Action: ActionView},
				{Resource: ResourceRelationships, Action: ActionManage},
			},
		},
		{
			ID:          RoleOccasionsAdmin,
			Name:        "Occasions, Initiatives & Diyas Admin",
			NameAr:      "مدير المناسبات والمبادرات والديات",
			Description: "Manages occasions, initiatives and diyas",
			Priority:    60,
			Category:    CategoryAdmin,
			Permissions: []Permission{
				{Resource: ResourceDashboard, Action: ActionView},
				{Resource: ResourceOccasions, Action: ActionManage},
				{Resource: ResourceInitiatives, Action: ActionManage},
				{Resource: ResourceDiyas, Action: ActionManage},
				{Resource: ResourceEventsCalendar, Action: ActionView},
			},
		},
		{
			ID:          RoleUserMember,
			Name:        "Member",
			NameAr:      "عضو عادي",
			Description: "Regular family member",
			Priority:    10,
			Category:    CategoryMember,
			Permissions: []Permission{
				{Resource: ResourceDashboard, Action: ActionView},
				{Resource: ResourceProfile, Action: ActionViewOwn},
				{Resource: ResourcePayments, Action: ActionViewOwn},
				{Resource: ResourceFamilyEvents, Action: ActionView},
			},
		},
	}
}

// NewCatalog validates roles and builds a catalog. Any problem is a *ConfigError;
// callers at boot treat it as fatal.
func NewCatalog(roles []Role) (*Catalog, error) {
	known := make(map[Permission]bool)
	for _, p := range AllPermissions() {
		known[p] = true
	}

	var problems []string
	c := &Catalog{roles: make(map[RoleID]*Role, len(roles))}
	for i := range roles {
		role := roles[i]
		if !role.ID.IsKnown() {
			problems = append(problems, fmt.Sprintf("unknown role id %q", role.ID))
			continue
		}
		if _, dup := c.roles[role.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate role id %q", role.ID))
			continue
		}
		switch role.Category {
		case CategoryAdmin, CategoryMember:
		default:
			problems = append(problems, fmt.Sprintf("role %q has invalid category %q", role.ID, role.Category))
		}
		for _, p := range role.Permissions {
			if !known[p] {
				problems = append(problems, fmt.Sprintf("role %q references unknown permission %q", role.ID, p.String()))
			}
		}
		role.Permissions = append([]Permission(nil), role.Permissions...)
		c.roles[role.ID] = &role
		c.order = append(c.order, role.ID)
	}
	if len(c.roles) == 0 {
		problems = append(problems, "catalog is empty")
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}

	sort.SliceStable(c.order, func(i, j int) bool {
		return c.roles[c.order[i]].Priority > c.roles[c.order[j]].Priority
	})
	c.full = AllPermissions()
	return c, nil
}

// DefaultCatalog returns the catalog of built-in roles
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(BuiltInRoles())
	if err != nil {
		panic(err)
	}
	return c
}

// GetRole looks up a role by identifier
func (c *Catalog) GetRole(id RoleID) (*Role, error) {
	role, ok := c.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return role, nil
}

// Roles returns all roles ordered by descending priority
func (c *Catalog) Roles() []*Role {
	out := make([]*Role, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.roles[id])
	}
	return out
}

// FullPermissionSet returns the set granted by a role that implicates all permissions
func (c *Catalog) FullPermissionSet() PermissionSet {
	return NewPermissionSet(c.full...)
}

// Require checks that every referenced role exists. Used at boot to validate
// role references held in configuration or route declarations.
func (c *Catalog) Require(ids ...RoleID) error {
	var problems []string
	for _, id := range ids {
		if _, ok := c.roles[id]; !ok {
			problems = append(problems, fmt.Sprintf("reference to unknown role %q", id))
		}
	}
	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// catalogFile is the YAML overlay format
type catalogFile struct {
	Roles []struct {
		ID          RoleID   `yaml:"id"`
		Name        string   `yaml:"name"`
		NameAr      string   `yaml:"name_ar"`
		Description string   `yaml:"description"`
		Priority    *int     `yaml:"priority"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"roles"`
}

// LoadCatalog builds the catalog from the built-in roles with an optional YAML overlay.
// The overlay may relabel known roles or replace their permission lists; it cannot
// introduce new role identifiers.
func LoadCatalog(path string) (*Catalog, error) {
	roles := BuiltInRoles()
	if path == "" {
		return NewCatalog(roles)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return applyOverlay(roles, data)
}

func applyOverlay(roles []Role, data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	index := make(map[RoleID]int, len(roles))
	for i, r := range roles {
		index[r.ID] = i
	}

	var problems []string
	for _, override := range file.Roles {
		i, ok := index[override.ID]
		if !ok {
			problems = append(problems, fmt.Sprintf("overlay references unknown role %q", override.ID))
			continue
		}
		role := &roles[i]
		if override.Name != "" {
			role.Name = override.Name
		}
		if override.NameAr != "" {
			role.NameAr = override.NameAr
		}
		if override.Description != "" {
			role.Description = override.Description
		}
		if override.Priority != nil {
			role.Priority = *override.Priority
		}
		if override.Permissions != nil {
			perms := make([]Permission, 0, len(override.Permissions))
			for _, s := range override.Permissions {
				p, ok := ParsePermission(s)
				if !ok {
					problems = append(problems, fmt.Sprintf("role %q has malformed permission %q", override.ID, s))
					continue
				}
				perms = append(perms, p)
			}
			role.Permissions = perms
		}
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return NewCatalog(roles)
}
