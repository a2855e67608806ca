package auth

import "errors"

// Role is the authorisation tier carried in an access token. Roles are
// ordered: each one holds every permission of the roles below it.
type Role string

// user reads state, admin writes configuration, owner may factory reset.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// roleRank orders the roles. Zero means unknown.
var roleRank = map[Role]int{
	RoleUser:  1,
	RoleAdmin: 2,
	RoleOwner: 3,
}

// Valid reports whether the beacon understands r.
func (r Role) Valid() bool {
	return roleRank[r] > 0
}

// AtLeast reports whether r ranks at or above floor. Unknown roles rank
// below everything.
func (r Role) AtLeast(floor Role) bool {
	return r.Valid() && roleRank[r] >= roleRank[floor]
}

// Principal is the authenticated caller of an API request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrWrongBeacon  = errors.New("token not valid for this beacon")
)
