package enums

type Role string

const (
	RoleStandard  Role = "standard"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Privileged roles survive cleanup sweeps; standard accounts that stay
// offline past the grace period are removed entirely.
func (r Role) Privileged() bool {
	return r == RoleModerator || r == RoleAdmin
}

func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleModerator, RoleAdmin:
		return true
	}
	return false
}
