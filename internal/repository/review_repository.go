package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kelasku/kelasku-api/internal/models"
)

// ReviewRepository handles persistence of reviews, their documents and messages.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository constructs the repository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// FindByID returns a review by its ID.
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*models.Review, error) {
	const query = `SELECT id, mission_id, subscription_id, extension, score, feedback, graded_at, created_at, updated_at
        FROM reviews WHERE id = $1`
	var review models.Review
	if err := r.db.GetContext(ctx, &review, query, id); err != nil {
		return nil, err
	}
	return &review, nil
}

// FindDetailByID returns a review joined with student info.
func (r *ReviewRepository) FindDetailByID(ctx context.Context, id string) (*models.ReviewDetail, error) {
	const query = `SELECT r.id, r.mission_id, r.subscription_id, r.extension, r.score, r.feedback, r.graded_at,
        r.created_at, r.updated_at,
        s.student_id AS student_id, u.full_name AS student_name, u.email AS student_email
        FROM reviews r
        LEFT JOIN subscriptions s ON s.id = r.subscription_id
        LEFT JOIN users u ON u.id = s.student_id
        WHERE r.id = $1`
	var detail models.ReviewDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByMission returns all reviews for a mission with student info.
func (r *ReviewRepository) ListByMission(ctx context.Context, missionID string) ([]models.ReviewDetail, error) {
	const query = `SELECT r.id, r.mission_id, r.subscription_id, r.extension, r.score, r.feedback, r.graded_at,
        r.created_at, r.updated_at,
        s.student_id AS student_id, u.full_name AS student_name, u.email AS student_email
        FROM reviews r
        LEFT JOIN subscriptions s ON s.id = r.subscription_id
        LEFT JOIN users u ON u.id = s.student_id
        WHERE r.mission_id = $1
        ORDER BY u.full_name ASC`
	var reviews []models.ReviewDetail
	if err := r.db.SelectContext(ctx, &reviews, query, missionID); err != nil {
		return nil, fmt.Errorf("list mission reviews: %w", err)
	}
	return reviews, nil
}

// Create inserts a review for a (mission, subscription) pair. The unique
// constraint on the pair plus ON CONFLICT DO NOTHING makes retries idempotent;
// the returned bool reports whether a row was actually inserted.
func (r *ReviewRepository) Create(ctx context.Context, review *models.Review) (bool, error) {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	review.CreatedAt = now
	review.UpdatedAt = now
	const query = `INSERT INTO reviews (id, mission_id, subscription_id, extension, score, feedback, graded_at, created_at, updated_at)
        VALUES (:id, :mission_id, :subscription_id, :extension, :score, :feedback, :graded_at, :created_at, :updated_at)
        ON CONFLICT (mission_id, subscription_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, review)
	if err != nil {
		return false, fmt.Errorf("create review: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create review: %w", err)
	}
	return affected > 0, nil
}

// UpdateGrade persists a score and feedback for a review.
func (r *ReviewRepository) UpdateGrade(ctx context.Context, id string, score int, feedback *string, gradedAt time.Time) error {
	const query = `UPDATE reviews SET score = $2, feedback = $3, graded_at = $4, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, score, feedback, gradedAt); err != nil {
		return fmt.Errorf("grade review: %w", err)
	}
	return nil
}

// UpdateExtension sets or clears a review's per-student deadline override.
func (r *ReviewRepository) UpdateExtension(ctx context.Context, id string, extension *time.Time) error {
	const query = `UPDATE reviews SET extension = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, extension, time.Now().UTC()); err != nil {
		return fmt.Errorf("extend review: %w", err)
	}
	return nil
}

// CreateDocument stores metadata for an uploaded review document.
func (r *ReviewRepository) CreateDocument(ctx context.Context, doc *models.ReviewDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO review_documents (id, review_id, file_name, storage_path, content_type, size_bytes, uploaded_by, created_at)
        VALUES (:id, :review_id, :file_name, :storage_path, :content_type, :size_bytes, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create review document: %w", err)
	}
	return nil
}

// FindDocumentByID returns one review document.
func (r *ReviewRepository) FindDocumentByID(ctx context.Context, id string) (*models.ReviewDocument, error) {
	const query = `SELECT id, review_id, file_name, storage_path, content_type, size_bytes, uploaded_by, created_at
        FROM review_documents WHERE id = $1`
	var doc models.ReviewDocument
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocumentsByReview returns a review's documents, newest first.
func (r *ReviewRepository) ListDocumentsByReview(ctx context.Context, reviewID string) ([]models.ReviewDocument, error) {
	const query = `SELECT id, review_id, file_name, storage_path, content_type, size_bytes, uploaded_by, created_at
        FROM review_documents WHERE review_id = $1 ORDER BY created_at DESC`
	var docs []models.ReviewDocument
	if err := r.db.SelectContext(ctx, &docs, query, reviewID); err != nil {
		return nil, fmt.Errorf("list review documents: %w", err)
	}
	return docs, nil
}

// CreateMessage appends a chat message to a review thread.
func (r *ReviewRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO messages (id, review_id, sender_id, body, created_at)
        VALUES (:id, :review_id, :sender_id, :body, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListMessagesByReview returns a review's chat thread in chronological order.
func (r *ReviewRepository) ListMessagesByReview(ctx context.Context, reviewID string) ([]models.Message, error) {
	const query = `SELECT id, review_id, sender_id, body, created_at
        FROM messages WHERE review_id = $1 ORDER BY created_at ASC`
	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, reviewID); err != nil {
		return nil, fmt.Errorf("list review messages: %w", err)
	}
	return messages, nil
}
