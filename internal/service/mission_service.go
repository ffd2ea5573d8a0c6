package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
)

type missionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Mission, error)
	FindByLessonID(ctx context.Context, lessonID string) (*models.Mission, error)
	Create(ctx context.Context, mission *models.Mission) error
	Update(ctx context.Context, mission *models.Mission) error
}

type lessonReader interface {
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
}

type subscriptionLister interface {
	ListPaidByCourse(ctx context.Context, courseID string) ([]models.Subscription, error)
}

type reviewWriter interface {
	Create(ctx context.Context, review *models.Review) (bool, error)
	ListByMission(ctx context.Context, missionID string) ([]models.ReviewDetail, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type missionNotifier interface {
	MissionPublished(ctx context.Context, recipient models.User, courseName, missionTitle string, deadline time.Time) error
}

// CreateMissionRequest attaches a mission to a lesson.
type CreateMissionRequest struct {
	Title        string    `json:"title" validate:"required,max=200"`
	Instructions string    `json:"instructions"`
	MaxScore     int       `json:"max_score" validate:"required,gt=0"`
	Deadline     time.Time `json:"deadline" validate:"required"`
}

// UpdateMissionRequest edits a mission. Editing never re-runs reconciliation.
type UpdateMissionRequest struct {
	Title        *string    `json:"title" validate:"omitempty,max=200"`
	Instructions *string    `json:"instructions"`
	MaxScore     *int       `json:"max_score" validate:"omitempty,gt=0"`
	Deadline     *time.Time `json:"deadline"`
}

// MissionService creates missions and reconciles one review per paid
// subscription of the owning course.
type MissionService struct {
	repo      missionRepository
	lessons   lessonReader
	courses   courseReader
	subs      subscriptionLister
	reviews   reviewWriter
	users     userReader
	notifier  missionNotifier
	cache     cacheStore
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMissionService constructs MissionService.
func NewMissionService(repo missionRepository, lessons lessonReader, courses courseReader, subs subscriptionLister, reviews reviewWriter, users userReader, notifier missionNotifier, cache cacheStore, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *MissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MissionService{
		repo:      repo,
		lessons:   lessons,
		courses:   courses,
		subs:      subs,
		reviews:   reviews,
		users:     users,
		notifier:  notifier,
		cache:     cache,
		cacheTTL:  cacheTTL,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Create attaches a mission to a lesson and reconciles reviews for every paid
// subscription of the course. Review inserts run concurrently and settle
// independently; a partial failure reports which subscriptions succeeded and
// which did not, and retrying the creation is idempotent.
func (s *MissionService) Create(ctx context.Context, actor Actor, lessonID string, req CreateMissionRequest) (*models.MissionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mission payload")
	}

	lesson, err := s.lessons.FindByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	course, err := s.courses.FindByID(ctx, lesson.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	if _, err := s.repo.FindByLessonID(ctx, lessonID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "lesson already has a mission")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing mission")
	}

	mission := &models.Mission{
		LessonID:     lessonID,
		Title:        req.Title,
		Instructions: req.Instructions,
		MaxScore:     req.MaxScore,
		Deadline:     req.Deadline,
	}
	if err := s.repo.Create(ctx, mission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create mission")
	}

	succeeded, failed, err := s.reconcile(ctx, mission, course)
	if err != nil {
		return nil, err
	}

	detail := &models.MissionDetail{
		Mission:     *mission,
		Status:      ResolveMissionStatus(mission.Deadline, nil, time.Now().UTC()),
		ReviewCount: len(succeeded),
	}

	if len(failed) > 0 {
		return detail, appErrors.NewPartialFailure("some reviews could not be created", succeeded, failed)
	}
	return detail, nil
}

// Reconcile re-runs review creation for a mission. Existing reviews are
// skipped by the conflict guard, so this is the retry path after a partial
// failure.
func (s *MissionService) Reconcile(ctx context.Context, actor Actor, missionID string) (*models.MissionDetail, error) {
	mission, _, course, err := s.loadScope(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	succeeded, failed, err := s.reconcile(ctx, mission, course)
	if err != nil {
		return nil, err
	}

	detail := &models.MissionDetail{
		Mission:     *mission,
		Status:      ResolveMissionStatus(mission.Deadline, nil, time.Now().UTC()),
		ReviewCount: len(succeeded),
	}
	if len(failed) > 0 {
		return detail, appErrors.NewPartialFailure("some reviews could not be created", succeeded, failed)
	}
	return detail, nil
}

// Get returns a mission with its derived aggregate status and the reviews it
// owns, each carrying its own derived status.
func (s *MissionService) Get(ctx context.Context, actor Actor, missionID string) (*models.MissionDetail, []models.ReviewDetail, error) {
	mission, _, course, err := s.loadScope(ctx, missionID)
	if err != nil {
		return nil, nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	cacheKey := "missions:status:" + missionID
	if s.cache != nil {
		var cached missionStatusSnapshot
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			detail := cached.Detail
			return &detail, cached.Reviews, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("mission status cache read failed", zap.Error(err))
		}
	}

	details, err := s.reviews.ListByMission(ctx, missionID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
	}

	now := time.Now().UTC()
	reviews := make([]models.Review, 0, len(details))
	for i := range details {
		details[i].Status = ResolveReviewStatus(mission.Deadline, details[i].Extension, now)
		reviews = append(reviews, details[i].Review)
	}

	detail := &models.MissionDetail{
		Mission:     *mission,
		Status:      ResolveMissionStatus(mission.Deadline, reviews, now),
		ReviewCount: len(details),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, missionStatusSnapshot{Detail: *detail, Reviews: details}, s.cacheTTL); err != nil {
			s.logger.Warn("mission status cache write failed", zap.Error(err))
		}
	}
	return detail, details, nil
}

type missionStatusSnapshot struct {
	Detail  models.MissionDetail  `json:"detail"`
	Reviews []models.ReviewDetail `json:"reviews"`
}

// Update edits mission fields. Reconciliation is deliberately not re-run and
// reviews for since-lapsed subscriptions are kept.
func (s *MissionService) Update(ctx context.Context, actor Actor, missionID string, req UpdateMissionRequest) (*models.MissionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mission payload")
	}

	mission, _, course, err := s.loadScope(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	if req.Title != nil {
		mission.Title = *req.Title
	}
	if req.Instructions != nil {
		mission.Instructions = *req.Instructions
	}
	if req.MaxScore != nil {
		mission.MaxScore = *req.MaxScore
	}
	if req.Deadline != nil {
		mission.Deadline = *req.Deadline
	}

	if err := s.repo.Update(ctx, mission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update mission")
	}
	s.invalidateStatus(ctx)

	detail, _, err := s.Get(ctx, actor, missionID)
	return detail, err
}

func (s *MissionService) reconcile(ctx context.Context, mission *models.Mission, course *models.Course) (succeeded, failed []string, err error) {
	subs, err := s.subs.ListPaidByCourse(ctx, course.ID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list paid subscriptions")
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		inserted []string
		skipped  int
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub models.Subscription) {
			defer wg.Done()
			created, insertErr := s.reviews.Create(ctx, &models.Review{
				MissionID:      mission.ID,
				SubscriptionID: sub.ID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case insertErr != nil:
				s.logger.Error("review reconciliation insert failed",
					zap.String("mission_id", mission.ID),
					zap.String("subscription_id", sub.ID),
					zap.Error(insertErr))
				failed = append(failed, sub.ID)
			case created:
				inserted = append(inserted, sub.ID)
				succeeded = append(succeeded, sub.ID)
			default:
				// Review already exists, counted as succeeded for idempotent retries.
				skipped++
				succeeded = append(succeeded, sub.ID)
			}
		}(sub)
	}
	wg.Wait()

	sort.Strings(succeeded)
	sort.Strings(failed)

	s.metrics.RecordReconcileOutcome("created", len(inserted))
	s.metrics.RecordReconcileOutcome("skipped", skipped)
	s.metrics.RecordReconcileOutcome("failed", len(failed))
	s.invalidateStatus(ctx)

	s.notifyStudents(ctx, subs, inserted, course, mission)
	return succeeded, failed, nil
}

func (s *MissionService) notifyStudents(ctx context.Context, subs []models.Subscription, inserted []string, course *models.Course, mission *models.Mission) {
	if s.notifier == nil || len(inserted) == 0 {
		return
	}
	insertedSet := make(map[string]struct{}, len(inserted))
	for _, id := range inserted {
		insertedSet[id] = struct{}{}
	}
	for _, sub := range subs {
		if _, ok := insertedSet[sub.ID]; !ok {
			continue
		}
		student, err := s.users.FindByID(ctx, sub.StudentID)
		if err != nil {
			s.logger.Warn("failed to load student for mission notification",
				zap.String("student_id", sub.StudentID), zap.Error(err))
			continue
		}
		if err := s.notifier.MissionPublished(ctx, *student, course.Name, mission.Title, mission.Deadline); err != nil {
			s.logger.Warn("failed to enqueue mission notification",
				zap.String("student_id", sub.StudentID), zap.Error(err))
		}
	}
}

func (s *MissionService) loadScope(ctx context.Context, missionID string) (*models.Mission, *models.Lesson, *models.Course, error) {
	mission, err := s.repo.FindByID(ctx, missionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "mission not found")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mission")
	}
	lesson, err := s.lessons.FindByID(ctx, mission.LessonID)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	course, err := s.courses.FindByID(ctx, lesson.CourseID)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return mission, lesson, course, nil
}

func (s *MissionService) invalidateStatus(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "missions:*"); err != nil {
		s.logger.Warn("mission status cache invalidation failed", zap.Error(err))
	}
}
