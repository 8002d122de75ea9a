package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Ownership answers whether a client identity is assigned a resource.
type Ownership interface {
	Owns(ctx context.Context, email string, module Module, resourceID string) (bool, error)
}

// Assignment ties a client to one resource within a module.
type Assignment struct {
	ClientEmail string
	Module      Module
	ResourceID  string
}

// ParseAssignment parses "email:module:resource".
func ParseAssignment(raw string) (Assignment, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Assignment{}, fmt.Errorf("%w: assignment %q must be email:module:resource", shared.ErrValidation, raw)
	}
	module, err := ParseModule(parts[1])
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{ClientEmail: shared.NormalizeEmail(parts[0]), Module: module, ResourceID: strings.TrimSpace(parts[2])}, nil
}

type ownershipKey struct {
	email    string
	module   Module
	resource string
}

// StaticOwnership is an in-memory ownership relation.
type StaticOwnership struct {
	mu  sync.RWMutex
	set map[ownershipKey]struct{}
}

// NewStaticOwnership builds a relation from assignments.
func NewStaticOwnership(assignments ...Assignment) *StaticOwnership {
	s := &StaticOwnership{set: make(map[ownershipKey]struct{}, len(assignments))}
	for _, a := range assignments {
		s.Assign(a)
	}
	return s
}

// Assign records an assignment.
func (s *StaticOwnership) Assign(a Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[ownershipKey{email: shared.NormalizeEmail(a.ClientEmail), module: a.Module, resource: a.ResourceID}] = struct{}{}
}

// Owns implements Ownership.
func (s *StaticOwnership) Owns(_ context.Context, email string, module Module, resourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[ownershipKey{email: shared.NormalizeEmail(email), module: module, resource: resourceID}]
	return ok, nil
}

// PGOwnership reads the client_resources table.
type PGOwnership struct {
	pool *pgxpool.Pool
}

// NewPGOwnership constructs a PostgreSQL ownership relation.
func NewPGOwnership(pool *pgxpool.Pool) *PGOwnership {
	return &PGOwnership{pool: pool}
}

// Owns implements Ownership.
func (p *PGOwnership) Owns(ctx context.Context, email string, module Module, resourceID string) (bool, error) {
	const query = `SELECT 1 FROM client_resources WHERE client_email = $1 AND module = $2 AND resource_id = $3 LIMIT 1`
	var one int
	err := p.pool.QueryRow(ctx, query, shared.NormalizeEmail(email), module.String(), resourceID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("rbac: ownership lookup: %w", err)
	}
	return true, nil
}

// Assign inserts an assignment. Existing assignments are left untouched.
func (p *PGOwnership) Assign(ctx context.Context, a Assignment) error {
	const stmt = `INSERT INTO client_resources (client_email, module, resource_id) VALUES ($1, $2, $3)`
	_, err := p.pool.Exec(ctx, stmt, shared.NormalizeEmail(a.ClientEmail), a.Module.String(), a.ResourceID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("rbac: assign resource: %w", err)
	}
	return nil
}

// OwnershipChain reports ownership when any relation in it does.
type OwnershipChain []Ownership

// Owns implements Ownership. The first lookup error ends the walk.
func (c OwnershipChain) Owns(ctx context.Context, email string, module Module, resourceID string) (bool, error) {
	for _, o := range c {
		owns, err := o.Owns(ctx, email, module, resourceID)
		if err != nil {
			return false, err
		}
		if owns {
			return true, nil
		}
	}
	return false, nil
}

var (
	_ Ownership = OwnershipChain(nil)
	_ Ownership = (*StaticOwnership)(nil)
	_ Ownership = (*PGOwnership)(nil)
)
