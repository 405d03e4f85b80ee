package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/store"
)

// refreshTimeout bounds a background display-name update.
const refreshTimeout = 10 * time.Second

// SQLGateway implements Gateway on the local SQLite store.
type SQLGateway struct {
	store  *store.Store
	policy *Policy

	// background display-name refreshes
	wg sync.WaitGroup
}

// NewSQLGateway creates a gateway. Addresses on the policy's superadmin
// allowlist are registered as SUPERADMIN instead of pending.
func NewSQLGateway(st *store.Store, policy *Policy) *SQLGateway {
	return &SQLGateway{store: st, policy: policy}
}

func (g *SQLGateway) LookupOrCreate(ctx context.Context, address, displayName string) (Role, error) {
	u, err := g.store.GetUser(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		return g.create(ctx, address, displayName)
	}
	if err != nil {
		return "", err
	}

	role, ok := ParseRole(u.Role)
	if !ok {
		L_warn("access: unknown stored role, treating as pending", "address", address, "role", u.Role)
		role = RolePending
	}

	if role == RolePending && g.policy.IsSuperadmin(address) {
		if _, err := g.store.UpdateRole(ctx, address, string(RoleSuperadmin)); err != nil {
			return "", err
		}
		L_info("access: promoted allowlisted superadmin", "address", address)
		role = RoleSuperadmin
	}

	if displayName != "" && displayName != u.DisplayName {
		g.refreshName(address, displayName)
	}
	return role, nil
}

func (g *SQLGateway) create(ctx context.Context, address, displayName string) (Role, error) {
	role := RolePending
	if g.policy.IsSuperadmin(address) {
		role = RoleSuperadmin
	}
	created, err := g.store.InsertUser(ctx, &store.User{
		Address:     address,
		DisplayName: displayName,
		Role:        string(role),
	})
	if err != nil {
		return "", err
	}
	if !created {
		// lost a race with another insert, read what won
		u, err := g.store.GetUser(ctx, address)
		if err != nil {
			return "", err
		}
		if r, ok := ParseRole(u.Role); ok {
			return r, nil
		}
		return RolePending, nil
	}
	L_info("access: registered new user", "address", address, "name", displayName, "role", role)
	return role, nil
}

// refreshName updates the stored display name without blocking the caller.
func (g *SQLGateway) refreshName(address, name string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := g.store.UpdateDisplayName(ctx, address, name); err != nil {
			L_warn("access: display name refresh failed", "address", address, "error", err)
		}
	}()
}

// Wait blocks until background refreshes finish.
func (g *SQLGateway) Wait() {
	g.wg.Wait()
}

func (g *SQLGateway) ListPending(ctx context.Context) ([]Record, error) {
	return g.list(ctx, string(RolePending))
}

func (g *SQLGateway) ListAll(ctx context.Context) ([]Record, error) {
	return g.list(ctx, "")
}

func (g *SQLGateway) list(ctx context.Context, role string) ([]Record, error) {
	users, err := g.store.ListUsers(ctx, role)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(users))
	for _, u := range users {
		r, ok := ParseRole(u.Role)
		if !ok {
			r = RolePending
		}
		out = append(out, Record{
			Address:     u.Address,
			DisplayName: u.DisplayName,
			Role:        r,
			CreatedAt:   u.CreatedAt,
		})
	}
	return out, nil
}

func (g *SQLGateway) SetRole(ctx context.Context, address string, role Role) (bool, error) {
	if _, ok := ParseRole(string(role)); !ok {
		return false, fmt.Errorf("unknown role %q", role)
	}
	return g.store.UpdateRole(ctx, address, string(role))
}

func (g *SQLGateway) Stats(ctx context.Context) (Stats, error) {
	total, pending, err := g.store.CountUsers(ctx, string(RolePending))
	if err != nil {
		return Stats{}, err
	}
	running, err := g.store.CountRunning(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Users: total, PendingUsers: pending, QueueDepth: running}, nil
}
