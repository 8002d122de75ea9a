package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/view"
)

// Gate renders protected content only when the current identity holds the
// requested capability.
type Gate struct {
	Engine    *Engine
	Templates *view.Engine
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Require guards next with module:capability.
func (g Gate) Require(module Module, capability Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.Render(w, r, Check{Module: module, Capability: capability}, next, nil)
		})
	}
}

// RequireScoped guards next with module:capability scoped to the resource
// named by the chi URL parameter param.
func (g Gate) RequireScoped(module Module, capability Capability, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			check := Check{Module: module, Capability: capability, Scope: chi.URLParam(r, param)}
			g.Render(w, r, check, next, nil)
		})
	}
}

// Render serves allowed when check passes. Otherwise fallback is served, or
// the access denied panel when fallback is nil. While the decision cannot be
// made a neutral loading panel is shown instead.
func (g Gate) Render(w http.ResponseWriter, r *http.Request, check Check, allowed, fallback http.Handler) {
	id := g.Engine.Current(r.Context())
	decision := g.Engine.Decide(r.Context(), id, check)
	g.Metrics.ObservePermission(check.Module.String(), check.Capability.String(), decision.String())

	switch decision {
	case DecisionAllowed:
		allowed.ServeHTTP(w, r)
	case DecisionPending:
		w.Header().Set("Retry-After", "1")
		g.panel(w, r, http.StatusServiceUnavailable, "pages/pending.html", view.Panel{
			Kind:    "pending",
			Heading: "Loading",
			Message: "Checking your access. This page will be available in a moment.",
		})
	default:
		if fallback != nil {
			fallback.ServeHTTP(w, r)
			return
		}
		g.panel(w, r, http.StatusForbidden, "pages/denied.html", view.Panel{
			Kind:    "denied",
			Heading: "Access Denied",
			Message: DeniedMessage(check),
		})
	}
}

// DeniedMessage names the missing capability and module.
func DeniedMessage(check Check) string {
	return fmt.Sprintf("You do not have the %q capability on %q.", check.Capability.String(), check.Module.String())
}

func (g Gate) panel(w http.ResponseWriter, r *http.Request, status int, page string, panel view.Panel) {
	if g.Templates == nil || wantsJSON(r) {
		httpx.Problem(w, status, panel.Heading, panel.Message)
		return
	}
	data := view.TemplateData{Title: panel.Heading, CurrentPath: r.URL.Path, Data: panel}
	if err := g.Templates.RenderStatus(w, status, page, data); err != nil && g.Logger != nil {
		g.Logger.Error("render permission panel", slog.Any("error", err))
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
