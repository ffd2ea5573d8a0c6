package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelasku/kelasku-api/internal/models"
	"github.com/kelasku/kelasku-api/internal/service"
)

type fakeMissionRepo struct {
	missions map[string]models.Mission
}

func (f *fakeMissionRepo) FindByID(ctx context.Context, id string) (*models.Mission, error) {
	if m, ok := f.missions[id]; ok {
		return &m, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeMissionRepo) FindByLessonID(ctx context.Context, lessonID string) (*models.Mission, error) {
	for _, m := range f.missions {
		if m.LessonID == lessonID {
			mission := m
			return &mission, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeMissionRepo) Create(ctx context.Context, mission *models.Mission) error {
	if mission.ID == "" {
		mission.ID = "mis-1"
	}
	f.missions[mission.ID] = *mission
	return nil
}

func (f *fakeMissionRepo) Update(ctx context.Context, mission *models.Mission) error {
	f.missions[mission.ID] = *mission
	return nil
}

type fakeLessonReader struct {
	lessons map[string]models.Lesson
}

func (f *fakeLessonReader) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	if l, ok := f.lessons[id]; ok {
		return &l, nil
	}
	return nil, sql.ErrNoRows
}

type fakeSubLister struct {
	subs []models.Subscription
}

func (f *fakeSubLister) ListPaidByCourse(ctx context.Context, courseID string) ([]models.Subscription, error) {
	return f.subs, nil
}

type fakeReviewWriter struct {
	mu      sync.Mutex
	reviews map[string]models.Review
	failFor map[string]bool
}

func (f *fakeReviewWriter) Create(ctx context.Context, review *models.Review) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[review.SubscriptionID] {
		return false, errors.New("insert failed")
	}
	key := review.MissionID + "/" + review.SubscriptionID
	if _, ok := f.reviews[key]; ok {
		return false, nil
	}
	review.ID = key
	f.reviews[key] = *review
	return true, nil
}

func (f *fakeReviewWriter) ListByMission(ctx context.Context, missionID string) ([]models.ReviewDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReviewDetail
	for _, r := range f.reviews {
		if r.MissionID == missionID {
			out = append(out, models.ReviewDetail{Review: r})
		}
	}
	return out, nil
}

type fakeUserReader struct{}

func (f *fakeUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	return &models.User{ID: id, Email: id + "@example.com"}, nil
}

type fakeMissionNotifier struct{}

func (f *fakeMissionNotifier) MissionPublished(ctx context.Context, recipient models.User, courseName, missionTitle string, deadline time.Time) error {
	return nil
}

func newMissionHandlerFixture(failFor map[string]bool) *MissionHandler {
	repo := &fakeMissionRepo{missions: map[string]models.Mission{}}
	lessons := &fakeLessonReader{lessons: map[string]models.Lesson{
		"les-1": {ID: "les-1", CourseID: "crs-1"},
	}}
	courses := &fakeCourseReader{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Name: "Go 101", TeacherID: "tch-1"},
	}}
	subs := &fakeSubLister{subs: []models.Subscription{
		{ID: "sub-1", CourseID: "crs-1", StudentID: "stu-1", Paid: true, Active: true},
		{ID: "sub-2", CourseID: "crs-1", StudentID: "stu-2", Paid: true, Active: true},
	}}
	reviews := &fakeReviewWriter{reviews: map[string]models.Review{}, failFor: failFor}
	svc := service.NewMissionService(repo, lessons, courses, subs, reviews, &fakeUserReader{}, &fakeMissionNotifier{}, nil, time.Minute, nil, nil, nil)
	return NewMissionHandler(svc)
}

func TestMissionHandlerCreateSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newMissionHandlerFixture(nil)

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodPost, "/lessons/les-1/mission",
		`{"title":"Essay","max_score":100,"deadline":"2026-12-01T00:00:00Z"}`)
	c.Params = gin.Params{{Key: "lessonId", Value: "les-1"}}

	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	var mission models.MissionDetail
	require.NoError(t, json.Unmarshal(envelope.Data, &mission))
	assert.Equal(t, 2, mission.ReviewCount)
}

func TestMissionHandlerCreatePartialFailureAnswers207(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newMissionHandlerFixture(map[string]bool{"sub-2": true})

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodPost, "/lessons/les-1/mission",
		`{"title":"Essay","max_score":100,"deadline":"2026-12-01T00:00:00Z"}`)
	c.Params = gin.Params{{Key: "lessonId", Value: "les-1"}}

	handler.Create(c)

	require.Equal(t, http.StatusMultiStatus, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "PARTIAL_FAILURE", envelope.Error["code"])
	detail := envelope.Error["detail"].(map[string]interface{})
	assert.Len(t, detail["succeeded"], 1)
	assert.Len(t, detail["failed"], 1)

	// The mission itself was created and is returned alongside the error.
	var mission models.MissionDetail
	require.NoError(t, json.Unmarshal(envelope.Data, &mission))
	assert.NotEmpty(t, mission.ID)
}

func TestMissionHandlerCreateConflictsOnSecondMission(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newMissionHandlerFixture(nil)

	payload := `{"title":"Essay","max_score":100,"deadline":"2026-12-01T00:00:00Z"}`

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodPost, "/lessons/les-1/mission", payload)
	c.Params = gin.Params{{Key: "lessonId", Value: "les-1"}}
	handler.Create(c)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	c = teacherContext(rec, http.MethodPost, "/lessons/les-1/mission", payload)
	c.Params = gin.Params{{Key: "lessonId", Value: "les-1"}}
	handler.Create(c)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
