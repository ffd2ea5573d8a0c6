package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	SlugExists(ctx context.Context, slug, excludeID string) (bool, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// CreateCourseRequest describes course creation payload.
type CreateCourseRequest struct {
	Slug        string    `json:"slug" validate:"required,max=120"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description"`
	PriceIDR    int64     `json:"price_idr" validate:"gte=0"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`
	TeacherID   string    `json:"teacher_id"`
}

// UpdateCourseRequest describes course update payload.
type UpdateCourseRequest struct {
	Slug        *string    `json:"slug" validate:"omitempty,max=120"`
	Name        *string    `json:"name" validate:"omitempty,max=200"`
	Description *string    `json:"description"`
	PriceIDR    *int64     `json:"price_idr" validate:"omitempty,gte=0"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	Archived    *bool      `json:"archived"`
}

type courseListResult struct {
	Courses    []models.CourseDetail `json:"courses"`
	Pagination models.Pagination     `json:"pagination"`
}

// CourseService orchestrates the course catalog.
type CourseService struct {
	repo      courseRepository
	cache     cacheStore
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, cache cacheStore, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns courses with pagination metadata, served from cache when warm.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	key := courseListCacheKey(filter)
	if s.cache != nil {
		var cached courseListResult
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			pagination := cached.Pagination
			return cached.Courses, &pagination, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course list cache read failed", zap.Error(err))
		}
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, courseListResult{Courses: courses, Pagination: *pagination}, s.cacheTTL); err != nil {
			s.logger.Warn("course list cache write failed", zap.Error(err))
		}
	}
	return courses, pagination, nil
}

// Get returns one course with teacher and lesson count info.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return detail, nil
}

// Create registers a new course owned by the acting teacher.
func (s *CourseService) Create(ctx context.Context, actor Actor, req CreateCourseRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if !slugPattern.MatchString(req.Slug) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slug must be lowercase letters, digits and hyphens")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must not precede start date")
	}

	teacherID := actor.UserID
	if actor.IsAdmin() && req.TeacherID != "" {
		teacherID = req.TeacherID
	}

	exists, err := s.repo.SlugExists(ctx, req.Slug, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate slug")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course slug already in use")
	}

	course := &models.Course{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		PriceIDR:    req.PriceIDR,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		TeacherID:   teacherID,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidateCatalog(ctx)
	return s.Get(ctx, course.ID)
}

// Update edits a course the actor owns. Courses are archived, never deleted.
func (s *CourseService) Update(ctx context.Context, actor Actor, id string, req UpdateCourseRequest) (*models.CourseDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	if req.Slug != nil && *req.Slug != course.Slug {
		if !slugPattern.MatchString(*req.Slug) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "slug must be lowercase letters, digits and hyphens")
		}
		exists, err := s.repo.SlugExists(ctx, *req.Slug, course.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate slug")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course slug already in use")
		}
		course.Slug = *req.Slug
	}
	if req.Name != nil {
		course.Name = *req.Name
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.PriceIDR != nil {
		course.PriceIDR = *req.PriceIDR
	}
	if req.StartDate != nil {
		course.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		course.EndDate = *req.EndDate
	}
	if course.EndDate.Before(course.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must not precede start date")
	}
	if req.Archived != nil {
		course.Archived = *req.Archived
	}

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	s.invalidateCatalog(ctx)
	return s.Get(ctx, course.ID)
}

func (s *CourseService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "courses:*"); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}

func courseListCacheKey(filter models.CourseFilter) string {
	archived := "any"
	if filter.Archived != nil {
		archived = fmt.Sprintf("%t", *filter.Archived)
	}
	return fmt.Sprintf("courses:list:%s:%s:%s:%d:%d:%s:%s",
		filter.TeacherID, filter.Search, archived, filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}
