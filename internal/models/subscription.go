package models

import "time"

// Subscription is a student's enrollment record in a course.
type Subscription struct {
	ID           string    `db:"id" json:"id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	Paid         bool      `db:"paid" json:"paid"`
	Active       bool      `db:"active" json:"active"`
	SubscribedAt time.Time `db:"subscribed_at" json:"subscribed_at"`
}

// SubscriptionDetail enriches Subscription with student and course info.
type SubscriptionDetail struct {
	Subscription
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
	CourseName   string `db:"course_name" json:"course_name"`
	CourseSlug   string `db:"course_slug" json:"course_slug"`
}

// SubscriptionFilter captures filtering criteria for listing subscriptions.
type SubscriptionFilter struct {
	CourseID  string
	StudentID string
	Paid      *bool
	Page      int
	PageSize  int
}
