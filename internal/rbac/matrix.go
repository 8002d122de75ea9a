package rbac

import "strings"

// CapabilitySet is a bit set of capabilities.
type CapabilitySet uint8

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return c.Valid() && s&(1<<c) != 0
}

// List returns the capabilities in the set in declaration order.
func (s CapabilitySet) List() []Capability {
	var out []Capability
	for c := Capability(0); c < capabilityCount; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s CapabilitySet) String() string {
	names := make([]string, 0, capabilityCount)
	for _, c := range s.List() {
		names = append(names, c.String())
	}
	return strings.Join(names, ",")
}

// matrix is indexed by role then module. Entries left out grant nothing.
var matrix = func() [roleCount][moduleCount]CapabilitySet {
	const (
		v = CapabilitySet(1 << CapView)
		e = CapabilitySet(1 << CapEdit)
		a = CapabilitySet(1 << CapApprove)
		x = CapabilitySet(1 << CapExport)

		all = v | e | a | x
	)
	return [roleCount][moduleCount]CapabilitySet{
		RoleSuperAdmin: {
			ModuleDashboard: all, ModuleClients: all, ModuleProjects: all,
			ModuleTasks: all, ModuleContent: all, ModuleBacklinks: all,
			ModuleReports: all, ModuleUsers: all, ModuleSettings: all,
		},
		RoleAdmin: {
			ModuleDashboard: v | x, ModuleClients: all, ModuleProjects: all,
			ModuleTasks: all, ModuleContent: all, ModuleBacklinks: all,
			ModuleReports: v | x, ModuleUsers: v | e, ModuleSettings: v,
		},
		RoleProjectManager: {
			ModuleDashboard: v, ModuleClients: v, ModuleProjects: all,
			ModuleTasks: all, ModuleContent: v | a, ModuleBacklinks: v | a,
			ModuleReports: v | x, ModuleUsers: v,
		},
		RoleContentManager: {
			ModuleDashboard: v, ModuleProjects: v, ModuleTasks: v | e,
			ModuleContent: all, ModuleBacklinks: v, ModuleReports: v,
		},
		RoleContentWriter: {
			ModuleDashboard: v, ModuleProjects: v, ModuleTasks: v | e,
			ModuleContent: v | e,
		},
		RoleSEOSpecialist: {
			ModuleDashboard: v, ModuleProjects: v, ModuleTasks: v | e,
			ModuleContent: v, ModuleBacklinks: v | e | x, ModuleReports: v | x,
		},
		RoleDeveloper: {
			ModuleDashboard: v, ModuleProjects: v, ModuleTasks: v | e,
			ModuleSettings: v,
		},
		RoleDesigner: {
			ModuleDashboard: v, ModuleProjects: v, ModuleTasks: v | e,
			ModuleContent: v,
		},
		RoleClient: {
			ModuleDashboard: v, ModuleProjects: v, ModuleTasks: v,
			ModuleContent: v | a, ModuleBacklinks: v, ModuleReports: v | x,
		},
	}
}()

// Allowed reports whether role holds capability on module. Out-of-range
// values are never allowed.
func Allowed(role Role, module Module, capability Capability) bool {
	if !role.Valid() || !module.Valid() {
		return false
	}
	return matrix[role][module].Has(capability)
}

// Grants returns the capability set role holds on module.
func Grants(role Role, module Module) CapabilitySet {
	if !role.Valid() || !module.Valid() {
		return 0
	}
	return matrix[role][module]
}
