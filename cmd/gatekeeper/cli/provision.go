package cli

import (
	"context"
	"errors"
	"sort"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
)

// IdentityStore persists provisioned identities.
type IdentityStore interface {
	Provision(ctx context.Context, ids []rbac.Identity) error
}

// ResourceStore persists client resource assignments.
type ResourceStore interface {
	Assign(ctx context.Context, a rbac.Assignment) error
}

// ProvisionCLI copies the configured seed into the identity store.
type ProvisionCLI struct {
	identities IdentityStore
	resources  ResourceStore
}

// ProvisionSummary reports what was written.
type ProvisionSummary struct {
	Identities int `json:"identities"`
	Resources  int `json:"resources"`
}

// NewProvisionCLI constructs the helper.
func NewProvisionCLI(identities IdentityStore, resources ResourceStore) (*ProvisionCLI, error) {
	if identities == nil || resources == nil {
		return nil, errors.New("provision cli: stores not configured")
	}
	return &ProvisionCLI{identities: identities, resources: resources}, nil
}

// Run provisions seed (email to role name) and assignments. Nothing is
// written when a role name does not parse.
func (c *ProvisionCLI) Run(ctx context.Context, seed map[string]string, assignments []rbac.Assignment) (ProvisionSummary, error) {
	emails := make([]string, 0, len(seed))
	for email := range seed {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	ids := make([]rbac.Identity, 0, len(emails))
	for _, email := range emails {
		role, err := rbac.ParseRole(seed[email])
		if err != nil {
			return ProvisionSummary{}, err
		}
		ids = append(ids, rbac.Identity{Email: email, Role: role})
	}

	var summary ProvisionSummary
	if len(ids) > 0 {
		if err := c.identities.Provision(ctx, ids); err != nil {
			return summary, err
		}
		summary.Identities = len(ids)
	}
	for _, a := range assignments {
		if err := c.resources.Assign(ctx, a); err != nil {
			return summary, err
		}
		summary.Resources++
	}
	return summary, nil
}
