package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/gatekeeper/internal/auth"
	"github.com/odyssey-erp/gatekeeper/internal/gate"
	"github.com/odyssey-erp/gatekeeper/internal/identity"
	"github.com/odyssey-erp/gatekeeper/internal/mail"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/otp"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/session"
	"github.com/odyssey-erp/gatekeeper/internal/view"
	"github.com/odyssey-erp/gatekeeper/jobs"
)

// Dependencies are the external resources the HTTP application runs on.
// Redis, Pool and Inspector are optional.
type Dependencies struct {
	Redis     *redis.Client
	Pool      *pgxpool.Pool
	Sender    mail.Sender
	Inspector *asynq.Inspector
	Metrics   *observability.Metrics
}

// NewHandler assembles the services and returns the root HTTP handler.
func NewHandler(cfg *Config, logger *slog.Logger, deps Dependencies) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	templates, err := view.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}

	sessions, err := session.NewService(session.Config{Key: cfg.SessionKey(), TTL: cfg.SessionTTL})
	if err != nil {
		return nil, err
	}

	static, err := identity.NewStaticDirectory(cfg.Seed())
	if err != nil {
		return nil, err
	}
	directory := identity.Chain{static}
	if deps.Pool != nil {
		directory = append(directory, identity.NewPGDirectory(deps.Pool))
	}

	assignments, err := cfg.Assignments()
	if err != nil {
		return nil, err
	}
	ownership := rbac.OwnershipChain{rbac.NewStaticOwnership(assignments...)}
	if deps.Pool != nil {
		ownership = append(ownership, rbac.NewPGOwnership(deps.Pool))
	}

	var ledger otp.Ledger = otp.NopLedger{}
	if deps.Redis != nil {
		ledger = otp.NewRedisLedger(deps.Redis)
	} else {
		logger.Warn("no redis client, verified challenges are not recorded as spent")
	}

	issuer := otp.NewIssuer(otp.IssuerConfig{
		Key:          cfg.OTPKey(),
		DefaultEmail: cfg.OTPDefaultEmail,
		SendTimeout:  cfg.MailSendTimeout,
		Sender:       deps.Sender,
	})
	verifier := otp.NewVerifier(otp.VerifierConfig{
		Key:          cfg.OTPKey(),
		DefaultEmail: cfg.OTPDefaultEmail,
		Ledger:       ledger,
		Logger:       logger,
	})

	authService := auth.NewService(issuer, verifier, sessions, identity.NewService(directory, logger), logger)
	authHandler := auth.NewHandler(logger, authService, templates, session.Cookies{Secure: cfg.IsProduction()}, deps.Metrics)

	engine := rbac.NewEngine(ownership, session.IdentityFromContext, logger)
	permissionGate := rbac.Gate{Engine: engine, Templates: templates, Logger: logger, Metrics: deps.Metrics}
	permissionsHandler := rbac.NewPermissionsHandler(logger, engine, templates, permissionGate)

	roles, err := cfg.Roles()
	if err != nil {
		return nil, err
	}
	requestGate := gate.New(gate.Config{
		Protected: cfg.GateProtectedPrefixes,
		Public:    cfg.GatePublicPaths,
		LoginPath: "/auth/login",
		Roles:     roles,
	}, sessions, logger, deps.Metrics)

	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             cfg,
		Gate:               requestGate,
		AuthHandler:        authHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobs.NewHandler(deps.Inspector, logger),
		Metrics:            deps.Metrics,
	}), nil
}
