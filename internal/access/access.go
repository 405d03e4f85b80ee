// Package access resolves who may use the bot: roles from the access store
// and zone entitlements from configured allowlists.
package access

import (
	"context"
	"time"
)

// Role is a coarse authorization level.
type Role string

const (
	RolePending    Role = "pending"
	RoleViewer     Role = "VIEWER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperadmin Role = "SUPERADMIN"
	RoleBlocked    Role = "BLOCKED"
)

// ParseRole accepts the stored role names.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RolePending, RoleViewer, RoleAdmin, RoleSuperadmin, RoleBlocked:
		return r, true
	}
	return "", false
}

// Privileged reports whether the role may use admin commands.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// Record is an identity known to the access store.
type Record struct {
	Address     string
	DisplayName string
	Role        Role
	CreatedAt   time.Time
}

// Stats are aggregate counts for the admin stats screen.
type Stats struct {
	Users        int
	PendingUsers int
	QueueDepth   int
}

// Gateway is the identity store as seen by the conversation engine.
type Gateway interface {
	// LookupOrCreate returns the role of address, registering unknown
	// addresses as pending.
	LookupOrCreate(ctx context.Context, address, displayName string) (Role, error)
	ListPending(ctx context.Context) ([]Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	SetRole(ctx context.Context, address string, role Role) (bool, error)
	Stats(ctx context.Context) (Stats, error)
}
