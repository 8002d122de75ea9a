package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/view"
)

// PermissionsHandler exposes permission checks to the front end.
type PermissionsHandler struct {
	logger    *slog.Logger
	engine    *Engine
	templates *view.Engine
	gate      Gate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, engine *Engine, templates *view.Engine, gate Gate) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, engine: engine, templates: templates, gate: gate}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/check", h.check)
	r.Get("/matrix", h.matrix)
}

// MountDashboard registers the home panel, guarded by dashboard:view.
func (h *PermissionsHandler) MountDashboard(r chi.Router) {
	r.With(h.gate.Require(ModuleDashboard, CapView)).Get("/", h.dashboard)
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// ModuleGrants lists the capabilities held on one module.
type ModuleGrants struct {
	Module       string   `json:"module"`
	Capabilities []string `json:"capabilities"`
}

type matrixResponse struct {
	Email   string         `json:"email"`
	Role    string         `json:"role"`
	Modules []ModuleGrants `json:"modules"`
}

func (h *PermissionsHandler) check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	allowed, err := h.engine.Check(r.Context(), q.Get("module"), q.Get("capability"), q.Get("scope"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

func (h *PermissionsHandler) matrix(w http.ResponseWriter, r *http.Request) {
	id := h.engine.Current(r.Context())
	if id == nil {
		httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "no identity")
		return
	}
	httpx.JSON(w, http.StatusOK, matrixResponse{Email: id.Email, Role: id.Role.String(), Modules: RoleGrants(id.Role)})
}

func (h *PermissionsHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	id := h.engine.Current(r.Context())
	if id == nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	viewData := view.TemplateData{
		Title:       "Dashboard",
		CurrentPath: r.URL.Path,
		Data:        matrixResponse{Email: id.Email, Role: id.Role.String(), Modules: RoleGrants(id.Role)},
	}
	if err := h.templates.Render(w, "pages/home.html", viewData); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
	}
}

// RoleGrants lists the modules role holds at least one capability on.
func RoleGrants(role Role) []ModuleGrants {
	var out []ModuleGrants
	for _, m := range Modules() {
		set := Grants(role, m)
		if set == 0 {
			continue
		}
		caps := set.List()
		names := make([]string, len(caps))
		for i, c := range caps {
			names[i] = c.String()
		}
		out = append(out, ModuleGrants{Module: m.String(), Capabilities: names})
	}
	return out
}
