// Package user defines the User aggregate and its contribution counters.
package user

import "time"

// Role controls which lifecycle operations a user may perform.
type Role string

const (
	RoleMapper         Role = "MAPPER"
	RoleValidator      Role = "VALIDATOR"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleAdmin          Role = "ADMIN"
)

// CanValidate reports whether the role permits the validation step.
func (r Role) CanValidate() bool {
	return r == RoleValidator || r == RoleProjectManager || r == RoleAdmin
}

// Elevated reports whether the role carries project-manager/admin authority.
func (r Role) Elevated() bool {
	return r == RoleProjectManager || r == RoleAdmin
}

// Counters holds the incrementally maintained per-user contribution counters.
type Counters struct {
	Mapped             int        `json:"tasks_mapped"`
	Validated          int        `json:"tasks_validated"`
	Invalidated        int        `json:"tasks_invalidated"`
	LastValidationDate *time.Time `json:"last_validation_date,omitempty"`
}

// User is a registered contributor.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Counters  Counters  `json:"counters"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}
