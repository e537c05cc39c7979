// Package domain contains core concepts of the clinic chat.
// No runtime, network, or UI logic should be added here.
package domain

type Role string

const (
	RolePatient Role = "Patient"
	RoleDoctor  Role = "Doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Session is the authenticated user as seen by the chat core.
// It is owned by the authentication collaborator and read-only here.
type Session struct {
	UserID      string
	Role        Role
	DisplayName string
	Email       string
}

func (s Session) IsZero() bool {
	return s.UserID == ""
}
