package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kelasku/kelasku-api/internal/models"
)

// LessonRepository handles persistence of lessons and their ordering.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs the repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

// ListByCourse returns a course's lessons in position order.
func (r *LessonRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Lesson, error) {
	const query = `SELECT id, course_id, title, description, position, start_at, rescheduled_at, video_url, created_at, updated_at
        FROM lessons WHERE course_id = $1 ORDER BY position ASC`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, courseID); err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	return lessons, nil
}

// FindByID returns a lesson by its ID.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	const query = `SELECT id, course_id, title, description, position, start_at, rescheduled_at, video_url, created_at, updated_at
        FROM lessons WHERE id = $1`
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// FindByPosition returns the lesson occupying a position within a course.
func (r *LessonRepository) FindByPosition(ctx context.Context, courseID string, position int) (*models.Lesson, error) {
	const query = `SELECT id, course_id, title, description, position, start_at, rescheduled_at, video_url, created_at, updated_at
        FROM lessons WHERE course_id = $1 AND position = $2`
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, courseID, position); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// CountByCourse returns the number of lessons in a course.
func (r *LessonRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM lessons WHERE course_id = $1`, courseID); err != nil {
		return 0, fmt.Errorf("count lessons: %w", err)
	}
	return count, nil
}

// Create persists a new lesson at the provided position.
func (r *LessonRepository) Create(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lesson.CreatedAt = now
	lesson.UpdatedAt = now
	const query = `INSERT INTO lessons (id, course_id, title, description, position, start_at, rescheduled_at, video_url, created_at, updated_at)
        VALUES (:id, :course_id, :title, :description, :position, :start_at, :rescheduled_at, :video_url, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, lesson); err != nil {
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// Update persists editable lesson fields (not position).
func (r *LessonRepository) Update(ctx context.Context, lesson *models.Lesson) error {
	lesson.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lessons SET title = :title, description = :description, start_at = :start_at,
        rescheduled_at = :rescheduled_at, video_url = :video_url, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, lesson); err != nil {
		return fmt.Errorf("update lesson: %w", err)
	}
	return nil
}

// SwapPositions exchanges the positions of two lessons inside one transaction.
// Each update is guarded by the position the caller observed; a concurrent
// reorder makes the guard fail and the whole transaction rolls back.
func (r *LessonRepository) SwapPositions(ctx context.Context, a, b *models.Lesson) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin swap: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	if err := swapUpdate(ctx, tx, a.ID, a.Position, b.Position, now); err != nil {
		return err
	}
	if err := swapUpdate(ctx, tx, b.ID, b.Position, a.Position, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit swap: %w", err)
	}
	return nil
}

func swapUpdate(ctx context.Context, tx *sqlx.Tx, id string, fromPos, toPos int, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE lessons SET position = $3, updated_at = $4 WHERE id = $1 AND position = $2`,
		id, fromPos, toPos, now)
	if err != nil {
		return fmt.Errorf("swap lesson %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap lesson %s: %w", id, err)
	}
	if affected == 0 {
		return ErrStaleOrder
	}
	return nil
}

// DeleteAndRenumber removes a lesson and closes the gap it leaves, decrementing
// each higher position one row at a time in ascending order, all in one
// transaction. Mission and review rows cascade at the schema level.
func (r *LessonRepository) DeleteAndRenumber(ctx context.Context, courseID, lessonID string, position int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM lessons WHERE id = $1 AND course_id = $2`, lessonID, courseID)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if affected == 0 {
		return ErrStaleOrder
	}

	var followerIDs []string
	if err := tx.SelectContext(ctx, &followerIDs,
		`SELECT id FROM lessons WHERE course_id = $1 AND position > $2 ORDER BY position ASC`,
		courseID, position); err != nil {
		return fmt.Errorf("load followers: %w", err)
	}

	now := time.Now().UTC()
	for _, id := range followerIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE lessons SET position = position - 1, updated_at = $2 WHERE id = $1`, id, now); err != nil {
			return fmt.Errorf("renumber lesson %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove: %w", err)
	}
	return nil
}
