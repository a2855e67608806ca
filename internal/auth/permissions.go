package auth

import (
	"maps"
	"slices"
)

// Permission names an API capability.
type Permission string

const (
	PermBeaconRead      Permission = "beacon:read"
	PermBeaconConfigure Permission = "beacon:configure"
	PermAuditRead       Permission = "audit:read"
	PermBeaconDangerous Permission = "beacon:dangerous"
)

// minimumRole is the lowest role granted each permission.
var minimumRole = map[Permission]Role{
	PermBeaconRead:      RoleUser,
	PermBeaconConfigure: RoleAdmin,
	PermAuditRead:       RoleAdmin,
	PermBeaconDangerous: RoleOwner,
}

// HasPermission reports whether role is granted perm. Unknown roles and
// unknown permissions are always denied.
func HasPermission(role Role, perm Permission) bool {
	floor, ok := minimumRole[perm]
	return ok && role.AtLeast(floor)
}

// PermissionsForRole lists the permissions granted to role in sorted
// order, or nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	if !role.Valid() {
		return nil
	}
	var out []Permission
	for _, perm := range slices.Sorted(maps.Keys(minimumRole)) {
		if HasPermission(role, perm) {
			out = append(out, perm)
		}
	}
	return out
}
