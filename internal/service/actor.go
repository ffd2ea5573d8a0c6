package service

import "github.com/kelasku/kelasku-api/internal/models"

// Actor identifies the authenticated caller. Handlers build it from JWT
// claims and pass it explicitly so services stay independent of transport.
type Actor struct {
	UserID string
	Role   models.UserRole
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// IsStudent reports whether the actor has the student role.
func (a Actor) IsStudent() bool { return a.Role == models.RoleStudent }

func canManageCourse(actor Actor, course *models.Course) bool {
	if actor.IsAdmin() {
		return true
	}
	return actor.Role == models.RoleTeacher && course.TeacherID == actor.UserID
}
