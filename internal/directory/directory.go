package directory

import (
	"context"
	"errors"
	"time"

	"support-signaling/internal/rbac"
)

// Lookup is the identity/role/liveness collaborator consumed by the signaling
// core. Identities are opaque and owned elsewhere; this package only reads
// role and display data and writes the durable liveness flag.

type Lookup interface {
	IsAdmin(ctx context.Context, identity string) (bool, error)
	IsReachable(ctx context.Context, identity string) (bool, error)
	DisplayName(ctx context.Context, identity string) (string, error)
	SetLiveness(ctx context.Context, identity string, online bool, at time.Time) error
}

var ErrNotFound = errors.New("directory: identity not found")

// Profile is the cacheable, slow-changing slice of a user row.
type Profile struct {
	Identity    string
	DisplayName string
	Role        string
}

func isAdminRole(role string) bool {
	return role == rbac.RoleAdmin || role == rbac.RoleSuperAdmin
}
