package models

import "time"

// TimeStatus is the derived open/extended/closed state of a mission or review.
// It is computed from timestamps on read and never stored.
type TimeStatus string

const (
	StatusOpen     TimeStatus = "OPEN"
	StatusExtended TimeStatus = "EXTENDED"
	StatusClosed   TimeStatus = "CLOSED"
)

// Mission is an assignment attached to a lesson. A lesson has at most one.
type Mission struct {
	ID           string    `db:"id" json:"id"`
	LessonID     string    `db:"lesson_id" json:"lesson_id"`
	Title        string    `db:"title" json:"title"`
	Instructions string    `db:"instructions" json:"instructions"`
	MaxScore     int       `db:"max_score" json:"max_score"`
	Deadline     time.Time `db:"deadline" json:"deadline"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// MissionDetail annotates a mission with its derived aggregate status.
type MissionDetail struct {
	Mission
	Status      TimeStatus `json:"status"`
	ReviewCount int        `json:"review_count"`
}
