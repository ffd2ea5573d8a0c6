package models

import "time"

// Review is one student's record for a mission, keyed by subscription.
// Exactly one review exists per (mission, subscription) pair.
type Review struct {
	ID             string     `db:"id" json:"id"`
	MissionID      string     `db:"mission_id" json:"mission_id"`
	SubscriptionID string     `db:"subscription_id" json:"subscription_id"`
	Extension      *time.Time `db:"extension" json:"extension,omitempty"`
	Score          *int       `db:"score" json:"score,omitempty"`
	Feedback       *string    `db:"feedback" json:"feedback,omitempty"`
	GradedAt       *time.Time `db:"graded_at" json:"graded_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ReviewDetail annotates a review with derived status and student info.
type ReviewDetail struct {
	Review
	Status       TimeStatus `json:"status"`
	StudentID    string     `db:"student_id" json:"student_id"`
	StudentName  string     `db:"student_name" json:"student_name"`
	StudentEmail string     `db:"student_email" json:"-"`
}

// ReviewDocument is a file a student attached to a review.
type ReviewDocument struct {
	ID          string    `db:"id" json:"id"`
	ReviewID    string    `db:"review_id" json:"review_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	StoragePath string    `db:"storage_path" json:"-"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	UploadedBy  string    `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Message is one chat entry on a review thread.
type Message struct {
	ID        string    `db:"id" json:"id"`
	ReviewID  string    `db:"review_id" json:"review_id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
