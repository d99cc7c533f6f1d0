package types

import (
	"slices"
	"strings"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

var roles = []Role{RoleUser, RoleAssistant, RoleSystem}

// Valid reports whether r is one of the roles upstreams accept. It backs the
// "role" validation tag on Message.
func (r Role) Valid() bool {
	return slices.Contains(roles, r)
}

func roleList() string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
