package gate

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/session"
)

var protectedPaths = []string{"/app/", "/app/projects/7", "/permissions/check?module=content&capability=edit", "/jobs/health"}

func newGate(t *testing.T, now *time.Time, roles ...rbac.Role) (*Gate, *session.Service) {
	t.Helper()
	svc, err := session.NewService(session.Config{Key: []byte("gate-key"), Now: func() time.Time { return *now }})
	require.NoError(t, err)
	g := New(Config{
		Protected: []string{"/app", "/permissions", "/jobs"},
		Public:    []string{"/auth/login", "/otp", "/static"},
		LoginPath: "/auth/login",
		Roles:     roles,
	}, svc, nil, nil)
	return g, svc
}

func serve(g *Gate, target, token string) (*httptest.ResponseRecorder, *session.Claims) {
	var seen *session.Claims
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := session.ClaimsFromContext(r.Context()); ok {
			seen = &claims
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, seen
}

func TestPublicPathsPassWithoutSession(t *testing.T) {
	now := time.Now()
	g, _ := newGate(t, &now)
	for _, target := range []string{"/", "/auth/login", "/otp/request", "/static/css/app.css", "/identity", "/application"} {
		rr, _ := serve(g, target, "")
		assert.Equal(t, http.StatusNoContent, rr.Code, target)
	}
}

func TestMissingSessionRedirectsWithReturnPath(t *testing.T) {
	now := time.Now()
	g, _ := newGate(t, &now)

	rr, _ := serve(g, "/app/projects/7?tab=tasks", "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", loc.Path)
	assert.Equal(t, "/app/projects/7?tab=tasks", loc.Query().Get(NextParam))
}

func TestAdminSessionAcceptedUntilExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	g, svc := newGate(t, &now, rbac.RoleAdmin)
	token, claims, err := svc.Issue(rbac.Identity{Email: "a@b.com", Role: rbac.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	for _, offset := range []time.Duration{0, 30 * time.Minute, time.Hour - time.Second} {
		now = claims.IssuedAt.Add(offset)
		for _, target := range protectedPaths {
			rr, seen := serve(g, target, token)
			require.Equal(t, http.StatusNoContent, rr.Code, "%s at +%s", target, offset)
			require.NotNil(t, seen)
			assert.Equal(t, "a@b.com", seen.Email)
		}
	}

	now = claims.ExpiresAt.Add(time.Second)
	for _, target := range protectedPaths {
		rr, _ := serve(g, target, token)
		assert.Equal(t, http.StatusSeeOther, rr.Code, target)
	}
}

func TestInvalidTokenRedirects(t *testing.T) {
	now := time.Now()
	g, _ := newGate(t, &now)
	rr, _ := serve(g, "/app/", "not-a-token")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	decision, _ := g.Evaluate(httptest.NewRequest(http.MethodGet, "/app/", nil))
	assert.Equal(t, DecisionUnauthenticated, decision)
}

func TestRoleRestriction(t *testing.T) {
	now := time.Now()
	g, svc := newGate(t, &now, rbac.RoleAdmin)
	token, _, err := svc.Issue(rbac.Identity{Email: "w@b.com", Role: rbac.RoleContentWriter}, 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/app/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	decision, _ := g.Evaluate(req)
	assert.Equal(t, DecisionForbiddenRole, decision)

	open, _ := newGate(t, &now)
	decision, _ = open.Evaluate(req)
	assert.Equal(t, DecisionAuthenticated, decision)
}

func TestLoginURL(t *testing.T) {
	assert.Equal(t, "/auth/login", LoginURL("/auth/login", ""))
	assert.Equal(t, "/auth/login?next=%2Fapp%2F%3Fa%3D1", LoginURL("/auth/login", "/app/?a=1"))
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/app/x", SafeNext("/app/x", "/app/"))
	for _, bad := range []string{"", "https://evil.test", "//evil.test", "/\\evil.test", "app"} {
		assert.Equal(t, "/app/", SafeNext(bad, "/app/"), bad)
	}
}
