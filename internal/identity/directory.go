// Package identity resolves the role assigned to an authenticated email.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Directory looks up provisioned identities. Missing entries return
// shared.ErrNotFound.
type Directory interface {
	Lookup(ctx context.Context, email string) (rbac.Identity, error)
}

// StaticDirectory is an in-memory directory seeded from configuration.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[string]rbac.Role
}

// NewStaticDirectory parses an email to role-name seed.
func NewStaticDirectory(seed map[string]string) (*StaticDirectory, error) {
	d := &StaticDirectory{roles: make(map[string]rbac.Role, len(seed))}
	for email, name := range seed {
		role, err := rbac.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("identity: seed %s: %w", email, err)
		}
		d.Put(email, role)
	}
	return d, nil
}

// Put provisions or replaces an entry.
func (d *StaticDirectory) Put(email string, role rbac.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[canonical(email)] = role
}

// Lookup implements Directory.
func (d *StaticDirectory) Lookup(_ context.Context, email string) (rbac.Identity, error) {
	key := canonical(email)
	d.mu.RLock()
	role, ok := d.roles[key]
	d.mu.RUnlock()
	if !ok {
		return rbac.Identity{}, fmt.Errorf("identity %s: %w", key, shared.ErrNotFound)
	}
	return rbac.Identity{Email: key, Role: role}, nil
}

// PGDirectory reads the identities table.
type PGDirectory struct {
	pool *pgxpool.Pool
}

// NewPGDirectory constructs a PostgreSQL directory.
func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

// Lookup implements Directory.
func (p *PGDirectory) Lookup(ctx context.Context, email string) (rbac.Identity, error) {
	const query = `SELECT email, role FROM identities WHERE email = $1 AND active`
	key := canonical(email)
	var stored, roleName string
	if err := p.pool.QueryRow(ctx, query, key).Scan(&stored, &roleName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Identity{}, fmt.Errorf("identity %s: %w", key, shared.ErrNotFound)
		}
		return rbac.Identity{}, fmt.Errorf("identity: lookup: %w", err)
	}
	role, err := rbac.ParseRole(roleName)
	if err != nil {
		return rbac.Identity{}, fmt.Errorf("identity %s: stored role: %w", key, err)
	}
	return rbac.Identity{Email: stored, Role: role}, nil
}

// Provision upserts identities in one transaction and reactivates any that
// were disabled.
func (p *PGDirectory) Provision(ctx context.Context, ids []rbac.Identity) error {
	const stmt = `INSERT INTO identities (email, role, active) VALUES ($1, $2, TRUE)
ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role, active = TRUE`
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		for _, id := range ids {
			if !id.Role.Valid() {
				return fmt.Errorf("%w: identity %s has no valid role", shared.ErrValidation, id.Email)
			}
			if _, err := tx.Exec(ctx, stmt, canonical(id.Email), id.Role.String()); err != nil {
				return fmt.Errorf("identity: provision %s: %w", canonical(id.Email), err)
			}
		}
		return nil
	})
}

// Chain consults each directory in order and returns the first hit.
type Chain []Directory

// Lookup implements Directory.
func (c Chain) Lookup(ctx context.Context, email string) (rbac.Identity, error) {
	for _, d := range c {
		id, err := d.Lookup(ctx, email)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return rbac.Identity{}, err
		}
	}
	return rbac.Identity{}, fmt.Errorf("identity %s: %w", canonical(email), shared.ErrNotFound)
}

// DefaultLookupTimeout bounds a shared directory lookup.
const DefaultLookupTimeout = 5 * time.Second

// Service coalesces concurrent lookups for the same email. The shared lookup
// ignores caller cancellation and is bounded by its own timeout; each caller
// stops waiting when its own context ends.
type Service struct {
	dir     Directory
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

// NewService wraps dir.
func NewService(dir Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dir: dir, timeout: DefaultLookupTimeout, logger: logger}
}

// Lookup resolves email through the underlying directory.
func (s *Service) Lookup(ctx context.Context, email string) (rbac.Identity, error) {
	key := canonical(email)
	if key == "" {
		return rbac.Identity{}, fmt.Errorf("%w: email required", shared.ErrValidation)
	}
	resultChan := s.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.dir.Lookup(lookupCtx, key)
	})
	select {
	case <-ctx.Done():
		return rbac.Identity{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			if !errors.Is(res.Err, shared.ErrNotFound) {
				s.logger.Warn("identity lookup", slog.String("email", key), slog.Any("error", res.Err))
			}
			return rbac.Identity{}, res.Err
		}
		if res.Shared {
			s.logger.Debug("identity lookup coalesced", slog.String("email", key))
		}
		return res.Val.(rbac.Identity), nil
	}
}

func canonical(email string) string {
	return shared.NormalizeEmail(email)
}

var (
	_ Directory = (*StaticDirectory)(nil)
	_ Directory = (*PGDirectory)(nil)
	_ Directory = Chain(nil)
	_ Directory = (*Service)(nil)
)
