package app

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/hkdf"

	"github.com/odyssey-erp/gatekeeper/internal/mail"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Mail delivery modes.
const (
	MailDeliveryDirect = "direct"
	MailDeliveryQueue  = "queue"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// PGDSN is optional; without it the identity directory and client
	// ownership come from IDENTITY_SEED and CLIENT_RESOURCES only.
	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"8"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"1h"`

	OTPSecret       string `envconfig:"OTP_SECRET"`
	OTPDefaultEmail string `envconfig:"OTP_DEFAULT_EMAIL"`
	OTPRateLimit    int    `envconfig:"OTP_RATE_LIMIT" default:"10"`

	SMTPHost     string `envconfig:"SMTP_HOST" default:"127.0.0.1"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"no-reply@gatekeeper.local"`

	MailDelivery    string        `envconfig:"MAIL_DELIVERY" default:"direct"`
	MailSendTimeout time.Duration `envconfig:"MAIL_SEND_TIMEOUT" default:"10s"`

	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	GateProtectedPrefixes []string `envconfig:"GATE_PROTECTED_PREFIXES" default:"/app,/permissions,/jobs"`
	GatePublicPaths       []string `envconfig:"GATE_PUBLIC_PATHS" default:"/auth/login,/otp,/static,/healthz"`
	GateRoles             []string `envconfig:"GATE_ROLES" default:"admin"`

	// IdentitySeed provisions email:role pairs, e.g. "a@b.com:admin,c@d.com:client".
	IdentitySeed    map[string]string `envconfig:"IDENTITY_SEED"`
	ClientResources []string          `envconfig:"CLIENT_RESOURCES"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return errors.New("session secret must be provided")
	}
	switch c.MailDelivery {
	case MailDeliveryDirect, MailDeliveryQueue:
	default:
		return fmt.Errorf("%w: MAIL_DELIVERY must be %q or %q", shared.ErrConfiguration, MailDeliveryDirect, MailDeliveryQueue)
	}
	if _, err := c.Roles(); err != nil {
		return err
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// RedisOptions describes the Redis endpoint.
func (c *Config) RedisOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// DBOptions describes the optional identity store.
func (c *Config) DBOptions() db.Options {
	return db.Options{DSN: c.PGDSN, MaxConns: c.PGMaxConns}
}

// SMTPConfig describes the direct mail transport.
func (c *Config) SMTPConfig() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
	}
}

// Roles parses GATE_ROLES.
func (c *Config) Roles() ([]rbac.Role, error) {
	roles := make([]rbac.Role, 0, len(c.GateRoles))
	for _, name := range c.GateRoles {
		if strings.TrimSpace(name) == "" {
			continue
		}
		role, err := rbac.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("GATE_ROLES: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Assignments parses CLIENT_RESOURCES.
func (c *Config) Assignments() ([]rbac.Assignment, error) {
	out := make([]rbac.Assignment, 0, len(c.ClientResources))
	for _, raw := range c.ClientResources {
		a, err := rbac.ParseAssignment(raw)
		if err != nil {
			return nil, fmt.Errorf("CLIENT_RESOURCES: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Seed returns the identity seed with the default OTP recipient provisioned
// as admin unless the seed already names it.
func (c *Config) Seed() map[string]string {
	seed := make(map[string]string, len(c.IdentitySeed)+1)
	for email, role := range c.IdentitySeed {
		seed[shared.NormalizeEmail(email)] = role
	}
	if email := shared.NormalizeEmail(c.OTPDefaultEmail); email != "" {
		if _, ok := seed[email]; !ok {
			seed[email] = rbac.RoleAdmin.String()
		}
	}
	return seed
}

// SessionKey is the session signing key.
func (c *Config) SessionKey() []byte {
	return deriveKey(c.SessionSecret, "gatekeeper session v1")
}

// OTPKey is the challenge signing key. OTP_SECRET wins; otherwise a key
// independent from the session key is derived from SESSION_SECRET.
func (c *Config) OTPKey() []byte {
	if c.OTPSecret != "" {
		return []byte(c.OTPSecret)
	}
	return deriveKey(c.SessionSecret, "gatekeeper otp v1")
}

func deriveKey(secret, info string) []byte {
	if secret == "" {
		return nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil
	}
	return key
}
