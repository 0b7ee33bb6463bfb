package models

type UserRole string

const (
	UserRoleViewer UserRole = "viewer"
	UserRoleEditor UserRole = "editor"
	UserRoleAdmin  UserRole = "admin"
)

// Identity is the already-authenticated caller handed over by the identity
// provider.
type Identity struct {
	UserID string
	Role   UserRole
}

func (i Identity) IsAdmin() bool {
	return i.Role == UserRoleAdmin
}
