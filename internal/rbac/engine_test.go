package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

type blockingOwnership struct{}

func (blockingOwnership) Owns(ctx context.Context, _ string, _ Module, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

type brokenOwnership struct{}

func (brokenOwnership) Owns(context.Context, string, Module, string) (bool, error) {
	return false, errors.New("connection reset")
}

var client = &Identity{Email: "client@acme.io", Role: RoleClient}

func TestHasPermissionNilIdentity(t *testing.T) {
	engine := NewEngine(nil, nil, nil)
	assert.False(t, engine.HasPermission(context.Background(), nil, Check{Module: ModuleDashboard, Capability: CapView}))
}

func TestHasPermissionFollowsMatrix(t *testing.T) {
	engine := NewEngine(nil, nil, nil)
	writer := &Identity{Email: "w@b.com", Role: RoleContentWriter}
	assert.True(t, engine.HasPermission(context.Background(), writer, Check{Module: ModuleContent, Capability: CapEdit}))
	assert.False(t, engine.HasPermission(context.Background(), writer, Check{Module: ModuleContent, Capability: CapApprove}))

	admin := &Identity{Email: "a@b.com", Role: RoleAdmin}
	assert.True(t, engine.HasPermission(context.Background(), admin, Check{Module: ModuleProjects, Capability: CapEdit, Scope: "p-9"}), "scope only binds clients")
}

func TestClientScopedChecksRequireOwnership(t *testing.T) {
	ownership := NewStaticOwnership(Assignment{ClientEmail: "Client@acme.io", Module: ModuleProjects, ResourceID: "p-7"})
	engine := NewEngine(ownership, nil, nil)
	ctx := context.Background()

	assert.True(t, engine.HasPermission(ctx, client, Check{Module: ModuleProjects, Capability: CapView}))
	assert.True(t, engine.HasPermission(ctx, client, Check{Module: ModuleProjects, Capability: CapView, Scope: "p-7"}))
	assert.False(t, engine.HasPermission(ctx, client, Check{Module: ModuleProjects, Capability: CapView, Scope: "p-8"}))
	assert.False(t, engine.HasPermission(ctx, client, Check{Module: ModuleProjects, Capability: CapEdit, Scope: "p-7"}), "matrix still applies")

	noRelation := NewEngine(nil, nil, nil)
	assert.False(t, noRelation.HasPermission(ctx, client, Check{Module: ModuleProjects, Capability: CapView, Scope: "p-7"}))
}

func TestDecidePendingOnDeadline(t *testing.T) {
	engine := NewEngine(blockingOwnership{}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	decision := engine.Decide(ctx, client, Check{Module: ModuleContent, Capability: CapApprove, Scope: "c-1"})
	assert.Equal(t, DecisionPending, decision)
	assert.Equal(t, "pending", decision.String())
}

func TestDecideDeniesOnOwnershipFailure(t *testing.T) {
	engine := NewEngine(brokenOwnership{}, nil, nil)
	decision := engine.Decide(context.Background(), client, Check{Module: ModuleContent, Capability: CapView, Scope: "c-1"})
	assert.Equal(t, DecisionDenied, decision)
}

func TestCheckStringBoundary(t *testing.T) {
	engine := NewEngine(nil, identityFromContext, nil)
	ctx := withIdentity(context.Background(), &Identity{Email: "seo@b.com", Role: RoleSEOSpecialist})

	ok, err := engine.Check(ctx, "backlinks", "export", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.Check(ctx, "backlinks", "approve", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = engine.Check(ctx, "billing", "view", "")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = engine.Check(ctx, "content", "publish", "")
	assert.ErrorIs(t, err, shared.ErrValidation)

	ok, err = engine.Check(context.Background(), "dashboard", "view", "")
	require.NoError(t, err)
	assert.False(t, ok, "anonymous")
}

func TestOwnershipChain(t *testing.T) {
	chain := OwnershipChain{
		NewStaticOwnership(),
		NewStaticOwnership(Assignment{ClientEmail: client.Email, Module: ModuleReports, ResourceID: "r-1"}),
	}
	owns, err := chain.Owns(context.Background(), client.Email, ModuleReports, "r-1")
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = OwnershipChain{brokenOwnership{}, chain}.Owns(context.Background(), client.Email, ModuleReports, "r-1")
	assert.Error(t, err)
	assert.False(t, owns)
}

func TestStaticOwnershipFoldsEmail(t *testing.T) {
	a, err := ParseAssignment("Straße@x.io:projects:p-1")
	require.NoError(t, err)
	owns, err := NewStaticOwnership(a).Owns(context.Background(), "STRASSE@x.io", ModuleProjects, "p-1")
	require.NoError(t, err)
	assert.True(t, owns)
}
