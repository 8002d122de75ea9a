// Package gate enforces session authentication at the HTTP boundary.
package gate

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/session"
)

// Decision names the state a request was classified into.
type Decision string

const (
	DecisionPublic          Decision = "public"
	DecisionUnauthenticated Decision = "unauthenticated"
	DecisionInvalid         Decision = "invalid"
	DecisionForbiddenRole   Decision = "forbidden_role"
	DecisionAuthenticated   Decision = "authenticated"
)

// NextParam carries the intended destination through the login redirect.
const NextParam = "next"

// Verifier checks session credentials.
type Verifier interface {
	Verify(token string) (session.Claims, bool)
}

// Config describes which paths the gate protects.
type Config struct {
	// Protected lists path prefixes that require a session.
	Protected []string
	// Public lists path prefixes that always pass, even under a protected prefix.
	Public []string
	// LoginPath is the redirect target for unauthenticated requests.
	LoginPath string
	// Roles, when non-empty, restricts protected paths to these roles.
	Roles []rbac.Role
}

// Gate is the request gate middleware.
type Gate struct {
	cfg      Config
	sessions Verifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New constructs a Gate.
func New(cfg Config, sessions Verifier, logger *slog.Logger, metrics *observability.Metrics) *Gate {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{cfg: cfg, sessions: sessions, logger: logger, metrics: metrics}
}

// Middleware applies the gate to next.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, claims := g.Evaluate(r)
		g.metrics.ObserveGate(string(decision))
		switch decision {
		case DecisionPublic:
			next.ServeHTTP(w, r)
		case DecisionAuthenticated:
			next.ServeHTTP(w, r.WithContext(session.ContextWithClaims(r.Context(), claims)))
		default:
			g.logger.Debug("request gate redirect", slog.String("path", r.URL.Path), slog.String("decision", string(decision)))
			http.Redirect(w, r, LoginURL(g.cfg.LoginPath, r.URL.RequestURI()), http.StatusSeeOther)
		}
	})
}

// Evaluate classifies r without side effects.
func (g *Gate) Evaluate(r *http.Request) (Decision, session.Claims) {
	path := r.URL.Path
	if matchesAny(path, g.cfg.Public) || !matchesAny(path, g.cfg.Protected) {
		return DecisionPublic, session.Claims{}
	}
	token, ok := session.Read(r, session.CookieName)
	if !ok {
		return DecisionUnauthenticated, session.Claims{}
	}
	claims, ok := g.sessions.Verify(token)
	if !ok {
		return DecisionInvalid, session.Claims{}
	}
	if !g.roleAllowed(claims.Role) {
		return DecisionForbiddenRole, session.Claims{}
	}
	return DecisionAuthenticated, claims
}

func (g *Gate) roleAllowed(name string) bool {
	if len(g.cfg.Roles) == 0 {
		return true
	}
	role, err := rbac.ParseRole(name)
	if err != nil {
		return false
	}
	for _, allowed := range g.cfg.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// LoginURL builds the login redirect preserving next as a return path.
func LoginURL(loginPath, next string) string {
	if next == "" || next == loginPath {
		return loginPath
	}
	return loginPath + "?" + url.Values{NextParam: {next}}.Encode()
}

// SafeNext returns next when it is a local absolute path, else fallback.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}

func matchesAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
