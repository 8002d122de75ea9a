package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/view"
)

func newGate(t *testing.T, ownership Ownership) Gate {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	return Gate{Engine: NewEngine(ownership, identityFromContext, nil), Templates: templates}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secret"))
	})
}

func request(id *Identity) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/app/settings", nil)
	return req.WithContext(withIdentity(req.Context(), id))
}

func TestRequireAllowsHolder(t *testing.T) {
	g := newGate(t, nil)
	rr := httptest.NewRecorder()
	g.Require(ModuleSettings, CapView)(okHandler()).ServeHTTP(rr, request(&Identity{Email: "d@b.com", Role: RoleDeveloper}))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "secret", rr.Body.String())
}

func TestRequireRendersDeniedPanel(t *testing.T) {
	g := newGate(t, nil)
	rr := httptest.NewRecorder()
	g.Require(ModuleSettings, CapView)(okHandler()).ServeHTTP(rr, request(client))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Access Denied")
	assert.Contains(t, rr.Body.String(), "settings")
	assert.NotContains(t, rr.Body.String(), "secret")
}

func TestRenderFallback(t *testing.T) {
	g := newGate(t, nil)
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("read-only"))
	})
	rr := httptest.NewRecorder()
	g.Render(rr, request(client), Check{Module: ModuleContent, Capability: CapEdit}, okHandler(), fallback)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "read-only", rr.Body.String())
}

func TestRenderPendingPanel(t *testing.T) {
	g := newGate(t, blockingOwnership{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := request(client).WithContext(withIdentity(ctx, client))

	rr := httptest.NewRecorder()
	g.Render(rr, req, Check{Module: ModuleProjects, Capability: CapView, Scope: "p-1"}, okHandler(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.NotContains(t, rr.Body.String(), "secret")
	assert.NotContains(t, rr.Body.String(), "Access Denied")
}

func TestRequireScopedUsesURLParam(t *testing.T) {
	g := newGate(t, NewStaticOwnership(Assignment{ClientEmail: client.Email, Module: ModuleProjects, ResourceID: "p-7"}))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(withIdentity(req.Context(), client)))
		})
	})
	r.With(g.RequireScoped(ModuleProjects, CapView, "id")).Get("/projects/{id}", okHandler().ServeHTTP)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/projects/p-7", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/projects/p-8", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeniedAsProblemJSON(t *testing.T) {
	g := newGate(t, nil)
	req := request(nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	g.Require(ModuleUsers, CapEdit)(okHandler()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, DeniedMessage(Check{Module: ModuleUsers, Capability: CapEdit}), body["detail"])
}
