package models

import "time"

// Lesson is one unit of a course with a dense zero-based position.
// For a fixed course the set of positions is always exactly {0..N-1}.
type Lesson struct {
	ID            string     `db:"id" json:"id"`
	CourseID      string     `db:"course_id" json:"course_id"`
	Title         string     `db:"title" json:"title"`
	Description   string     `db:"description" json:"description"`
	Position      int        `db:"position" json:"position"`
	StartAt       *time.Time `db:"start_at" json:"start_at,omitempty"`
	RescheduledAt *time.Time `db:"rescheduled_at" json:"rescheduled_at,omitempty"`
	VideoURL      *string    `db:"video_url" json:"video_url,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// EffectiveDate returns the reschedule override when set, else the planned start.
func (l Lesson) EffectiveDate() *time.Time {
	if l.RescheduledAt != nil {
		return l.RescheduledAt
	}
	return l.StartAt
}
