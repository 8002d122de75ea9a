package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/gatekeeper/internal/gate"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/otp"
	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/session"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/view"
)

// HomePath is where a signed-in user lands when no return path is given.
const HomePath = "/app/"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	cookies   session.Cookies
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, cookies session.Cookies, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		cookies:   cookies,
		metrics:   metrics,
		validator: validator.New(),
	}
}

// MountOTP registers the challenge endpoints.
func (h *Handler) MountOTP(r chi.Router) {
	r.Post("/request", h.handleRequest)
	r.Post("/verify", h.handleVerify)
}

// MountRoutes registers the login page and logout.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/logout", h.handleLogout)
}

// Identity reports the claims of the presented session, or null.
func (h *Handler) Identity(w http.ResponseWriter, r *http.Request) {
	resp := identityResponse{OK: true}
	if token, ok := session.Read(r, session.CookieName); ok {
		if claims, ok := h.service.Current(token); ok {
			resp.User = &claims
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type otpRequestForm struct {
	Email string `json:"email" validate:"omitempty,email"`
}

type otpVerifyForm struct {
	Email string `json:"email" validate:"omitempty,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

type requestResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

type verifyResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type identityResponse struct {
	OK   bool            `json:"ok"`
	User *session.Claims `json:"user"`
}

type loginPageData struct {
	Next  string
	Email string
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var form otpRequestForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		h.metrics.ObserveOTP("issue", "validation")
		httpx.JSON(w, http.StatusBadRequest, requestResponse{Error: "invalid request body"})
		return
	}
	if err := h.validator.Struct(form); err != nil {
		h.metrics.ObserveOTP("issue", "validation")
		httpx.JSON(w, http.StatusBadRequest, requestResponse{Error: "a valid email is required"})
		return
	}

	issued, err := h.service.RequestCode(r.Context(), form.Email)
	if issued.Artifact != "" {
		h.cookies.Set(w, ChallengeCookie, issued.Artifact, otp.ChallengeTTL)
	}
	if err != nil {
		h.metrics.ObserveOTP("issue", issueOutcome(err))
		if !errors.Is(err, shared.ErrValidation) {
			h.logger.Error("otp request", slog.Any("error", err))
		}
		httpx.JSON(w, httpx.StatusFor(err), requestResponse{Error: httpx.PublicMessage(err)})
		return
	}
	h.metrics.ObserveOTP("issue", "ok")
	httpx.JSON(w, http.StatusOK, requestResponse{OK: true})
}

func issueOutcome(err error) string {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrConfiguration):
		return "configuration"
	case errors.Is(err, shared.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !h.service.Ready() {
		h.metrics.ObserveOTP("verify", "configuration")
		h.logger.Error("otp verify without configuration")
		httpx.JSON(w, http.StatusInternalServerError, verifyResponse{Message: http.StatusText(http.StatusInternalServerError)})
		return
	}
	var form otpVerifyForm
	if err := httpx.DecodeJSON(r, &form); err != nil || h.validator.Struct(form) != nil {
		h.metrics.ObserveOTP("verify", "validation")
		httpx.JSON(w, http.StatusBadRequest, verifyResponse{Message: InvalidOTPMessage})
		return
	}

	artifact, _ := session.Read(r, ChallengeCookie)
	signIn, err := h.service.SignIn(r.Context(), form.Email, form.OTP, artifact)
	if err != nil {
		h.metrics.ObserveOTP("verify", "error")
		h.logger.Error("otp verify", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, verifyResponse{Message: http.StatusText(http.StatusInternalServerError)})
		return
	}
	h.metrics.ObserveOTP("verify", signIn.Result.Kind.String())

	if !signIn.OK() {
		if signIn.Result.Kind == otp.KindChallengeExpired {
			h.cookies.Clear(w, ChallengeCookie)
		}
		httpx.JSON(w, http.StatusBadRequest, verifyResponse{Message: InvalidOTPMessage})
		return
	}

	h.cookies.Clear(w, ChallengeCookie)
	h.cookies.Set(w, session.CookieName, signIn.Token, h.service.SessionTTL())
	httpx.JSON(w, http.StatusOK, verifyResponse{OK: true, Message: "Signed in"})
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	next := gate.SafeNext(r.URL.Query().Get(gate.NextParam), HomePath)
	if token, ok := session.Read(r, session.CookieName); ok {
		if _, ok := h.service.Current(token); ok {
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}
	}
	viewData := view.TemplateData{
		Title:       "Sign in",
		CurrentPath: r.URL.Path,
		Data:        loginPageData{Next: next, Email: r.URL.Query().Get("email")},
	}
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w, session.CookieName)
	h.cookies.Clear(w, ChallengeCookie)
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}
