package rbac

// Role names. Keep these stable; they are part of the token contract and of
// the signaling fan-out (admin connections are the resolution set for the
// support ring target).
const (
	RoleCustomer   = "customer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin || role == RoleSuperAdmin }

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
