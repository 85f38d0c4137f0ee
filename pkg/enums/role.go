package enums

import "fmt"

// ActorRole is carried in access tokens issued by the identity service.
type ActorRole string

const (
	RoleUser     ActorRole = "user"
	RoleOperator ActorRole = "operator"
	RoleAdmin    ActorRole = "admin"
)

var validActorRoles = []ActorRole{RoleUser, RoleOperator, RoleAdmin}

func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanOperate reports whether the role may use server-signed settlement paths.
func (r ActorRole) CanOperate() bool {
	return r == RoleOperator || r == RoleAdmin
}

func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
