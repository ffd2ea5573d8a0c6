package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
)

type subscriptionRepository interface {
	List(ctx context.Context, filter models.SubscriptionFilter) ([]models.SubscriptionDetail, int, error)
	FindDetailByID(ctx context.Context, id string) (*models.SubscriptionDetail, error)
}

// SubscriptionService exposes read access to subscriptions.
type SubscriptionService struct {
	repo    subscriptionRepository
	courses courseReader
	logger  *zap.Logger
}

// NewSubscriptionService constructs SubscriptionService.
func NewSubscriptionService(repo subscriptionRepository, courses courseReader, logger *zap.Logger) *SubscriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{repo: repo, courses: courses, logger: logger}
}

// List returns subscriptions visible to the actor. Students only ever see
// their own; teachers see subscriptions of courses they own.
func (s *SubscriptionService) List(ctx context.Context, actor Actor, filter models.SubscriptionFilter) ([]models.SubscriptionDetail, *models.Pagination, error) {
	if actor.IsStudent() {
		filter.StudentID = actor.UserID
	} else if !actor.IsAdmin() {
		if filter.CourseID == "" {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "course_id is required")
		}
		course, err := s.courses.FindByID(ctx, filter.CourseID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		if !canManageCourse(actor, course) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
		}
	}

	subs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subscriptions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return subs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one subscription, visible to its student, the course teacher,
// or an admin.
func (s *SubscriptionService) Get(ctx context.Context, actor Actor, id string) (*models.SubscriptionDetail, error) {
	sub, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}

	if actor.IsAdmin() || sub.StudentID == actor.UserID {
		return sub, nil
	}
	course, err := s.courses.FindByID(ctx, sub.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "subscription belongs to another student")
	}
	return sub, nil
}
