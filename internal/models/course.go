package models

import "time"

// Course is a teacher-authored offering containing ordered lessons.
type Course struct {
	ID          string    `db:"id" json:"id"`
	Slug        string    `db:"slug" json:"slug"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	PriceIDR    int64     `db:"price_idr" json:"price_idr"`
	StartDate   time.Time `db:"start_date" json:"start_date"`
	EndDate     time.Time `db:"end_date" json:"end_date"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	Archived    bool      `db:"archived" json:"archived"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with teacher info and lesson count.
type CourseDetail struct {
	Course
	TeacherName string `db:"teacher_name" json:"teacher_name"`
	LessonCount int    `db:"lesson_count" json:"lesson_count"`
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	TeacherID string
	Search    string
	Archived  *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
