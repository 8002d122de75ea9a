package rbac

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Role represents a high-level permission grouping.
type Role uint8

const (
	RoleSuperAdmin Role = iota
	RoleAdmin
	RoleProjectManager
	RoleContentManager
	RoleContentWriter
	RoleSEOSpecialist
	RoleDeveloper
	RoleDesigner
	RoleClient
	roleCount
)

// Module is an area of the back office guarded by capabilities.
type Module uint8

const (
	ModuleDashboard Module = iota
	ModuleClients
	ModuleProjects
	ModuleTasks
	ModuleContent
	ModuleBacklinks
	ModuleReports
	ModuleUsers
	ModuleSettings
	moduleCount
)

// Capability is an atomic action on a module.
type Capability uint8

const (
	CapView Capability = iota
	CapEdit
	CapApprove
	CapExport
	capabilityCount
)

var roleNames = [roleCount]string{
	RoleSuperAdmin:     "super_admin",
	RoleAdmin:          "admin",
	RoleProjectManager: "project_manager",
	RoleContentManager: "content_manager",
	RoleContentWriter:  "content_writer",
	RoleSEOSpecialist:  "seo_specialist",
	RoleDeveloper:      "developer",
	RoleDesigner:       "designer",
	RoleClient:         "client",
}

var moduleNames = [moduleCount]string{
	ModuleDashboard: "dashboard",
	ModuleClients:   "clients",
	ModuleProjects:  "projects",
	ModuleTasks:     "tasks",
	ModuleContent:   "content",
	ModuleBacklinks: "backlinks",
	ModuleReports:   "reports",
	ModuleUsers:     "users",
	ModuleSettings:  "settings",
}

var capabilityNames = [capabilityCount]string{
	CapView:    "view",
	CapEdit:    "edit",
	CapApprove: "approve",
	CapExport:  "export",
}

func (r Role) String() string {
	if r >= roleCount {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// Valid reports whether r is a declared role.
func (r Role) Valid() bool { return r < roleCount }

func (m Module) String() string {
	if m >= moduleCount {
		return fmt.Sprintf("module(%d)", uint8(m))
	}
	return moduleNames[m]
}

// Valid reports whether m is a declared module.
func (m Module) Valid() bool { return m < moduleCount }

func (c Capability) String() string {
	if c >= capabilityCount {
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
	return capabilityNames[c]
}

// Valid reports whether c is a declared capability.
func (c Capability) Valid() bool { return c < capabilityCount }

// ParseRole resolves a role name. Unknown names wrap shared.ErrValidation.
func ParseRole(s string) (Role, error) {
	s = normalize(s)
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, s)
}

// ParseModule resolves a module name. Unknown names wrap shared.ErrValidation.
func ParseModule(s string) (Module, error) {
	s = normalize(s)
	for i, name := range moduleNames {
		if name == s {
			return Module(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown module %q", shared.ErrValidation, s)
}

// ParseCapability resolves a capability name. Unknown names wrap shared.ErrValidation.
func ParseCapability(s string) (Capability, error) {
	s = normalize(s)
	for i, name := range capabilityNames {
		if name == s {
			return Capability(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown capability %q", shared.ErrValidation, s)
}

// Roles lists every role in declaration order.
func Roles() []Role {
	out := make([]Role, 0, roleCount)
	for r := Role(0); r < roleCount; r++ {
		out = append(out, r)
	}
	return out
}

// Modules lists every module in declaration order.
func Modules() []Module {
	out := make([]Module, 0, moduleCount)
	for m := Module(0); m < moduleCount; m++ {
		out = append(out, m)
	}
	return out
}

// Capabilities lists every capability in declaration order.
func Capabilities() []Capability {
	out := make([]Capability, 0, capabilityCount)
	for c := Capability(0); c < capabilityCount; c++ {
		out = append(out, c)
	}
	return out
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// Identity is the principal a permission check is evaluated for.
type Identity struct {
	Email string
	Role  Role
}

// Check describes one permission question. Scope optionally names a
// specific resource within Module.
type Check struct {
	Module     Module
	Capability Capability
	Scope      string
}

// ParseCheck builds a Check from untyped input, rejecting unknown values.
func ParseCheck(module, capability, scope string) (Check, error) {
	m, err := ParseModule(module)
	if err != nil {
		return Check{}, err
	}
	c, err := ParseCapability(capability)
	if err != nil {
		return Check{}, err
	}
	return Check{Module: m, Capability: c, Scope: strings.TrimSpace(scope)}, nil
}

func (c Check) String() string {
	if c.Scope == "" {
		return c.Module.String() + ":" + c.Capability.String()
	}
	return c.Module.String() + ":" + c.Capability.String() + "@" + c.Scope
}
