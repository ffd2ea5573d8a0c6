package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kelasku/kelasku-api/internal/models"
)

// SubscriptionRepository handles persistence of course subscriptions.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// List returns subscriptions matching the filter with a total count.
func (r *SubscriptionRepository) List(ctx context.Context, filter models.SubscriptionFilter) ([]models.SubscriptionDetail, int, error) {
	base := `FROM subscriptions s
LEFT JOIN users u ON u.id = s.student_id
LEFT JOIN courses c ON c.id = s.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("s.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("s.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Paid != nil {
		conditions = append(conditions, fmt.Sprintf("s.paid = $%d", len(args)+1))
		args = append(args, *filter.Paid)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.course_id, s.student_id, s.paid, s.active, s.subscribed_at,
        u.full_name AS student_name, u.email AS student_email,
        c.name AS course_name, c.slug AS course_slug
        %s ORDER BY s.subscribed_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var subs []models.SubscriptionDetail
	if err := r.db.SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subscriptions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return subs, total, nil
}

// ListPaidByCourse returns the subscriptions of every paying student of a
// course. Reconciliation fans out over exactly this set.
func (r *SubscriptionRepository) ListPaidByCourse(ctx context.Context, courseID string) ([]models.Subscription, error) {
	const query = `SELECT id, course_id, student_id, paid, active, subscribed_at
        FROM subscriptions WHERE course_id = $1 AND paid = TRUE AND active = TRUE
        ORDER BY subscribed_at ASC`
	var subs []models.Subscription
	if err := r.db.SelectContext(ctx, &subs, query, courseID); err != nil {
		return nil, fmt.Errorf("list paid subscriptions: %w", err)
	}
	return subs, nil
}

// FindByID returns a subscription by its ID.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	const query = `SELECT id, course_id, student_id, paid, active, subscribed_at FROM subscriptions WHERE id = $1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindDetailByID returns a subscription joined with student and course info.
func (r *SubscriptionRepository) FindDetailByID(ctx context.Context, id string) (*models.SubscriptionDetail, error) {
	const query = `SELECT s.id, s.course_id, s.student_id, s.paid, s.active, s.subscribed_at,
        u.full_name AS student_name, u.email AS student_email,
        c.name AS course_name, c.slug AS course_slug
        FROM subscriptions s
        LEFT JOIN users u ON u.id = s.student_id
        LEFT JOIN courses c ON c.id = s.course_id
        WHERE s.id = $1`
	var detail models.SubscriptionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByCourseAndStudent returns the student's subscription for a course.
func (r *SubscriptionRepository) FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Subscription, error) {
	const query = `SELECT id, course_id, student_id, paid, active, subscribed_at
        FROM subscriptions WHERE course_id = $1 AND student_id = $2 LIMIT 1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, courseID, studentID); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Create persists a new subscription record.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = time.Now().UTC()
	}
	const query = `INSERT INTO subscriptions (id, course_id, student_id, paid, active, subscribed_at)
        VALUES (:id, :course_id, :student_id, :paid, :active, :subscribed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// MarkPaid flips a subscription to paid after payment settlement.
func (r *SubscriptionRepository) MarkPaid(ctx context.Context, id string) error {
	const query = `UPDATE subscriptions SET paid = TRUE WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark subscription paid: %w", err)
	}
	return nil
}
