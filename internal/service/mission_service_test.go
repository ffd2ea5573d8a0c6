package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
)

type mockMissionRepo struct {
	missions map[string]models.Mission
}

func (m *mockMissionRepo) FindByID(ctx context.Context, id string) (*models.Mission, error) {
	if mission, ok := m.missions[id]; ok {
		return &mission, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMissionRepo) FindByLessonID(ctx context.Context, lessonID string) (*models.Mission, error) {
	for _, mission := range m.missions {
		if mission.LessonID == lessonID {
			found := mission
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockMissionRepo) Create(ctx context.Context, mission *models.Mission) error {
	if m.missions == nil {
		m.missions = make(map[string]models.Mission)
	}
	if mission.ID == "" {
		mission.ID = "new-mission"
	}
	m.missions[mission.ID] = *mission
	return nil
}

func (m *mockMissionRepo) Update(ctx context.Context, mission *models.Mission) error {
	m.missions[mission.ID] = *mission
	return nil
}

type mockLessonReader struct {
	lessons map[string]models.Lesson
}

func (m *mockLessonReader) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	if l, ok := m.lessons[id]; ok {
		return &l, nil
	}
	return nil, sql.ErrNoRows
}

type mockSubLister struct {
	subs []models.Subscription
}

func (m *mockSubLister) ListPaidByCourse(ctx context.Context, courseID string) ([]models.Subscription, error) {
	return m.subs, nil
}

type mockReviewWriter struct {
	mu      sync.Mutex
	reviews map[string]models.Review
	failFor map[string]bool
	inserts int
}

func (m *mockReviewWriter) Create(ctx context.Context, review *models.Review) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[review.SubscriptionID] {
		return false, errors.New("insert failed")
	}
	if m.reviews == nil {
		m.reviews = make(map[string]models.Review)
	}
	key := review.MissionID + "/" + review.SubscriptionID
	if _, ok := m.reviews[key]; ok {
		return false, nil
	}
	review.ID = key
	m.reviews[key] = *review
	m.inserts++
	return true, nil
}

func (m *mockReviewWriter) ListByMission(ctx context.Context, missionID string) ([]models.ReviewDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReviewDetail
	for _, r := range m.reviews {
		if r.MissionID == missionID {
			out = append(out, models.ReviewDetail{Review: r})
		}
	}
	return out, nil
}

type mockUserReader struct {
	users map[string]models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

type mockMissionNotifier struct {
	mu        sync.Mutex
	published []string
}

func (m *mockMissionNotifier) MissionPublished(ctx context.Context, recipient models.User, courseName, missionTitle string, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, recipient.ID)
	return nil
}

func newMissionServiceFixture(reviews *mockReviewWriter, subs []models.Subscription) (*MissionService, *mockMissionRepo, *mockMissionNotifier) {
	repo := &mockMissionRepo{}
	lessons := &mockLessonReader{lessons: map[string]models.Lesson{
		"les-1": {ID: "les-1", CourseID: "crs-1", Position: 0},
	}}
	courses := &mockCourseReader{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Name: "Go 101", TeacherID: "tch-1"},
	}}
	users := &mockUserReader{users: map[string]models.User{
		"stu-1": {ID: "stu-1", Email: "stu1@example.com", FullName: "Ana"},
		"stu-2": {ID: "stu-2", Email: "stu2@example.com", FullName: "Budi"},
		"stu-3": {ID: "stu-3", Email: "stu3@example.com", FullName: "Citra"},
	}}
	notifier := &mockMissionNotifier{}
	svc := NewMissionService(repo, lessons, courses, &mockSubLister{subs: subs}, reviews, users, notifier, nil, time.Minute, NewMetricsService(), validator.New(), zap.NewNop())
	return svc, repo, notifier
}

func paidSubs() []models.Subscription {
	return []models.Subscription{
		{ID: "sub-1", CourseID: "crs-1", StudentID: "stu-1", Paid: true, Active: true},
		{ID: "sub-2", CourseID: "crs-1", StudentID: "stu-2", Paid: true, Active: true},
		{ID: "sub-3", CourseID: "crs-1", StudentID: "stu-3", Paid: true, Active: true},
	}
}

func TestMissionServiceCreateReconcilesAllPaidSubscriptions(t *testing.T) {
	reviews := &mockReviewWriter{}
	svc, _, notifier := newMissionServiceFixture(reviews, paidSubs())
	actor := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	detail, err := svc.Create(context.Background(), actor, "les-1", CreateMissionRequest{
		Title:    "Essay",
		MaxScore: 100,
		Deadline: time.Now().UTC().Add(72 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, detail.ReviewCount)
	assert.Equal(t, 3, reviews.inserts)
	assert.Equal(t, models.StatusOpen, detail.Status)
	assert.Len(t, notifier.published, 3)
}

func TestMissionServiceCreateReportsPartialFailure(t *testing.T) {
	reviews := &mockReviewWriter{failFor: map[string]bool{"sub-2": true}}
	svc, _, _ := newMissionServiceFixture(reviews, paidSubs())
	actor := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	detail, err := svc.Create(context.Background(), actor, "les-1", CreateMissionRequest{
		Title:    "Essay",
		MaxScore: 100,
		Deadline: time.Now().UTC().Add(72 * time.Hour),
	})
	require.Error(t, err)
	require.NotNil(t, detail)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPartialFailure.Code, appErr.Code)
	pf, ok := appErr.Detail.(appErrors.PartialFailure)
	require.True(t, ok)
	assert.Equal(t, []string{"sub-1", "sub-3"}, pf.Succeeded)
	assert.Equal(t, []string{"sub-2"}, pf.Failed)
}

func TestMissionServiceReconcileRetryIsIdempotent(t *testing.T) {
	reviews := &mockReviewWriter{failFor: map[string]bool{"sub-3": true}}
	svc, repo, _ := newMissionServiceFixture(reviews, paidSubs())
	actor := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	_, err := svc.Create(context.Background(), actor, "les-1", CreateMissionRequest{
		Title:    "Essay",
		MaxScore: 100,
		Deadline: time.Now().UTC().Add(72 * time.Hour),
	})
	require.Error(t, err)
	assert.Equal(t, 2, reviews.inserts)

	var missionID string
	for id := range repo.missions {
		missionID = id
	}

	// Retry after the transient failure clears: existing rows are skipped,
	// only the missing review is inserted.
	reviews.failFor = nil
	detail, err := svc.Reconcile(context.Background(), actor, missionID)
	require.NoError(t, err)
	assert.Equal(t, 3, detail.ReviewCount)
	assert.Equal(t, 3, reviews.inserts)

	detail, err = svc.Reconcile(context.Background(), actor, missionID)
	require.NoError(t, err)
	assert.Equal(t, 3, detail.ReviewCount)
	assert.Equal(t, 3, reviews.inserts)
}

func TestMissionServiceCreateConflictsWhenLessonHasMission(t *testing.T) {
	reviews := &mockReviewWriter{}
	svc, _, _ := newMissionServiceFixture(reviews, paidSubs())
	actor := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	req := CreateMissionRequest{Title: "Essay", MaxScore: 100, Deadline: time.Now().UTC().Add(time.Hour)}
	_, err := svc.Create(context.Background(), actor, "les-1", req)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), actor, "les-1", req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestMissionServiceGetDerivesAggregateStatus(t *testing.T) {
	reviews := &mockReviewWriter{}
	svc, repo, _ := newMissionServiceFixture(reviews, paidSubs())
	actor := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	_, err := svc.Create(context.Background(), actor, "les-1", CreateMissionRequest{
		Title:    "Essay",
		MaxScore: 100,
		Deadline: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)

	var missionID string
	for id := range repo.missions {
		missionID = id
	}

	// Deadline elapsed, no extensions: closed for everyone.
	detail, details, err := svc.Get(context.Background(), actor, missionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, detail.Status)
	for _, r := range details {
		assert.Equal(t, models.StatusClosed, r.Status)
	}

	// One extension into the future flips the aggregate to extended.
	ext := time.Now().UTC().Add(48 * time.Hour)
	for key, r := range reviews.reviews {
		if r.SubscriptionID == "sub-2" {
			r.Extension = &ext
			reviews.reviews[key] = r
		}
	}
	detail, _, err = svc.Get(context.Background(), actor, missionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExtended, detail.Status)
}
