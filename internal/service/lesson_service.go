package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	"github.com/kelasku/kelasku-api/internal/repository"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
)

type lessonRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Lesson, error)
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	FindByPosition(ctx context.Context, courseID string, position int) (*models.Lesson, error)
	CountByCourse(ctx context.Context, courseID string) (int, error)
	Create(ctx context.Context, lesson *models.Lesson) error
	Update(ctx context.Context, lesson *models.Lesson) error
	SwapPositions(ctx context.Context, a, b *models.Lesson) error
	DeleteAndRenumber(ctx context.Context, courseID, lessonID string, position int) error
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// CreateLessonRequest appends a lesson to the end of a course.
type CreateLessonRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description"`
	StartAt     *time.Time `json:"start_at"`
	VideoURL    *string    `json:"video_url" validate:"omitempty,url"`
}

// UpdateLessonRequest edits or reschedules a lesson. Position is not
// editable here; ordering changes go through Move.
type UpdateLessonRequest struct {
	Title         *string    `json:"title" validate:"omitempty,max=200"`
	Description   *string    `json:"description"`
	StartAt       *time.Time `json:"start_at"`
	RescheduledAt *time.Time `json:"rescheduled_at"`
	VideoURL      *string    `json:"video_url" validate:"omitempty,url"`
}

// MoveLessonRequest names the target position of a transposition.
type MoveLessonRequest struct {
	To int `json:"to" validate:"gte=0"`
}

// LessonService maintains the dense zero-based ordering of a course's lessons.
type LessonService struct {
	repo      lessonRepository
	courses   courseReader
	cache     cacheStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLessonService constructs LessonService.
func NewLessonService(repo lessonRepository, courses courseReader, cache cacheStore, validate *validator.Validate, logger *zap.Logger) *LessonService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LessonService{repo: repo, courses: courses, cache: cache, validator: validate, logger: logger}
}

// List returns a course's lessons in position order.
func (s *LessonService) List(ctx context.Context, courseID string) ([]models.Lesson, error) {
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}
	lessons, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	return lessons, nil
}

// Append adds a lesson at the end of the course order.
func (s *LessonService) Append(ctx context.Context, actor Actor, courseID string, req CreateLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	count, err := s.repo.CountByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count lessons")
	}

	lesson := &models.Lesson{
		CourseID:    courseID,
		Title:       req.Title,
		Description: req.Description,
		Position:    count,
		StartAt:     req.StartAt,
		VideoURL:    req.VideoURL,
	}
	if err := s.repo.Create(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
	}

	s.invalidateCatalog(ctx)
	return lesson, nil
}

// Move swaps the lesson with the occupant of the target position. The swap is
// a pure transposition, so repeating it restores the original order.
func (s *LessonService) Move(ctx context.Context, actor Actor, courseID, lessonID string, req MoveLessonRequest) ([]models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid move payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	lesson, err := s.loadLessonInCourse(ctx, courseID, lessonID)
	if err != nil {
		return nil, err
	}

	if lesson.Position != req.To {
		target, err := s.repo.FindByPosition(ctx, courseID, req.To)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no lesson at position %d", req.To))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target lesson")
		}
		if err := s.repo.SwapPositions(ctx, lesson, target); err != nil {
			if errors.Is(err, repository.ErrStaleOrder) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "lesson order changed, retry the move")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move lesson")
		}
	}

	lessons, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	return lessons, nil
}

// Update edits lesson content or reschedules it.
func (s *LessonService) Update(ctx context.Context, actor Actor, lessonID string, req UpdateLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lesson payload")
	}
	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, lesson.CourseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	if req.Title != nil {
		lesson.Title = *req.Title
	}
	if req.Description != nil {
		lesson.Description = *req.Description
	}
	if req.StartAt != nil {
		lesson.StartAt = req.StartAt
	}
	if req.RescheduledAt != nil {
		lesson.RescheduledAt = req.RescheduledAt
	}
	if req.VideoURL != nil {
		lesson.VideoURL = req.VideoURL
	}

	if err := s.repo.Update(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson")
	}
	return lesson, nil
}

// Remove deletes a lesson and renumbers the lessons after it so positions
// stay dense. The lesson's mission and reviews cascade at the schema level.
func (s *LessonService) Remove(ctx context.Context, actor Actor, courseID, lessonID string) ([]models.Lesson, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	lesson, err := s.loadLessonInCourse(ctx, courseID, lessonID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteAndRenumber(ctx, courseID, lessonID, lesson.Position); err != nil {
		if errors.Is(err, repository.ErrStaleOrder) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "lesson order changed, retry the removal")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove lesson")
	}

	s.invalidateCatalog(ctx)

	lessons, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}
	return lessons, nil
}

func (s *LessonService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *LessonService) loadLesson(ctx context.Context, lessonID string) (*models.Lesson, error) {
	lesson, err := s.repo.FindByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	return lesson, nil
}

func (s *LessonService) loadLessonInCourse(ctx context.Context, courseID, lessonID string) (*models.Lesson, error) {
	lesson, err := s.loadLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	if lesson.CourseID != courseID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found in course")
	}
	return lesson, nil
}

func (s *LessonService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "courses:*"); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}
