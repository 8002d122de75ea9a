package cli

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

type stubIdentities struct {
	got []rbac.Identity
	err error
}

func (s *stubIdentities) Provision(_ context.Context, ids []rbac.Identity) error {
	s.got = append(s.got, ids...)
	return s.err
}

type stubResources struct {
	got []rbac.Assignment
}

func (s *stubResources) Assign(_ context.Context, a rbac.Assignment) error {
	s.got = append(s.got, a)
	return nil
}

func TestProvisionWritesSeedAndAssignments(t *testing.T) {
	identities, resources := &stubIdentities{}, &stubResources{}
	cli, err := NewProvisionCLI(identities, resources)
	require.NoError(t, err)

	summary, err := cli.Run(context.Background(),
		map[string]string{"pm@b.com": "project_manager", "a@b.com": "admin"},
		[]rbac.Assignment{{ClientEmail: "c@acme.io", Module: rbac.ModuleProjects, ResourceID: "p-7"}},
	)
	require.NoError(t, err)
	assert.Equal(t, ProvisionSummary{Identities: 2, Resources: 1}, summary)
	assert.Equal(t, []rbac.Identity{
		{Email: "a@b.com", Role: rbac.RoleAdmin},
		{Email: "pm@b.com", Role: rbac.RoleProjectManager},
	}, identities.got)
	assert.Len(t, resources.got, 1)
}

func TestProvisionRejectsUnknownRole(t *testing.T) {
	identities, resources := &stubIdentities{}, &stubResources{}
	cli, err := NewProvisionCLI(identities, resources)
	require.NoError(t, err)

	_, err = cli.Run(context.Background(), map[string]string{"a@b.com": "owner"}, nil)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, identities.got)
}

func TestProvisionStopsOnStoreFailure(t *testing.T) {
	identities := &stubIdentities{err: errors.New("tx aborted")}
	resources := &stubResources{}
	cli, err := NewProvisionCLI(identities, resources)
	require.NoError(t, err)

	_, err = cli.Run(context.Background(), map[string]string{"a@b.com": "admin"},
		[]rbac.Assignment{{ClientEmail: "c@acme.io", Module: rbac.ModuleProjects, ResourceID: "p-7"}})
	assert.Error(t, err)
	assert.Empty(t, resources.got)
}

func TestNewProvisionCLIRequiresStores(t *testing.T) {
	_, err := NewProvisionCLI(nil, &stubResources{})
	assert.Error(t, err)
}

func TestQueueSendTest(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := NewQueueCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer cli.Close()

	info, err := cli.SendTest(context.Background(), "Ops <ops@b.com>")
	require.NoError(t, err)
	assert.Equal(t, "mail", info.Queue)

	_, err = cli.SendTest(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestRetryEntriesOmitPayload(t *testing.T) {
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := retryEntries([]*asynq.TaskInfo{
		{ID: "t-1", Type: "mail:send", Payload: []byte(`{"body":"123456"}`), Retried: 2, MaxRetry: 5, LastErr: "421 busy", NextProcessAt: next},
		nil,
	})
	assert.Equal(t, []RetryEntry{
		{ID: "t-1", Type: "mail:send", Retried: 2, MaxRetry: 5, LastError: "421 busy", NextProcessAt: next},
	}, entries)
}

func TestListRetryRequiresInspector(t *testing.T) {
	var cli *QueueCLI
	_, err := cli.ListRetry(context.Background(), 5)
	assert.Error(t, err)
}
