package enums

// Role is the operator role carried in access tokens.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

var roles = set[Role]{RoleAdmin, RoleStaff}

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool { return roles.has(r) }

func ParseRole(value string) (Role, error) {
	return roles.parse(value, "role")
}
