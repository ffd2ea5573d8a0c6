package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
)

type mockCourseRepo struct {
	courses   map[string]models.Course
	listCalls int
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	m.listCalls++
	var out []models.CourseDetail
	for _, c := range m.courses {
		out = append(out, models.CourseDetail{Course: c})
	}
	return out, len(out), nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		course := c
		return &course, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	if c, ok := m.courses[id]; ok {
		return &models.CourseDetail{Course: c}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) SlugExists(ctx context.Context, slug, excludeID string) (bool, error) {
	for _, c := range m.courses {
		if c.Slug == slug && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]models.Course)
	}
	if course.ID == "" {
		course.ID = "new-course"
	}
	m.courses[course.ID] = *course
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	m.courses[course.ID] = *course
	return nil
}

func validCourseRequest() CreateCourseRequest {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return CreateCourseRequest{
		Slug:      "go-101",
		Name:      "Go 101",
		PriceIDR:  250000,
		StartDate: start,
		EndDate:   start.AddDate(0, 3, 0),
	}
}

func TestCourseServiceCreateAssignsActingTeacher(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, nil, time.Minute, validator.New(), zap.NewNop())
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	detail, err := svc.Create(context.Background(), teacher, validCourseRequest())
	require.NoError(t, err)
	assert.Equal(t, "tch-1", detail.TeacherID)
	assert.Equal(t, "go-101", detail.Slug)
}

func TestCourseServiceAdminMayAssignTeacher(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, nil, time.Minute, validator.New(), zap.NewNop())
	admin := Actor{UserID: "adm-1", Role: models.RoleAdmin}

	req := validCourseRequest()
	req.TeacherID = "tch-9"
	detail, err := svc.Create(context.Background(), admin, req)
	require.NoError(t, err)
	assert.Equal(t, "tch-9", detail.TeacherID)
}

func TestCourseServiceCreateRejectsDuplicateSlug(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Slug: "go-101", TeacherID: "tch-1"},
	}}
	svc := NewCourseService(repo, nil, time.Minute, validator.New(), zap.NewNop())
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	_, err := svc.Create(context.Background(), teacher, validCourseRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateRejectsBadSlug(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, nil, time.Minute, validator.New(), zap.NewNop())
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	req := validCourseRequest()
	req.Slug = "Go 101!"
	_, err := svc.Create(context.Background(), teacher, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceCreateRejectsInvertedDates(t *testing.T) {
	repo := &mockCourseRepo{}
	svc := NewCourseService(repo, nil, time.Minute, validator.New(), zap.NewNop())
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	req := validCourseRequest()
	req.EndDate = req.StartDate.AddDate(0, 0, -1)
	_, err := svc.Create(context.Background(), teacher, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCourseServiceUpdateArchivesInsteadOfDelete(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]models.Course{
		"crs-1": {
			ID: "crs-1", Slug: "go-101", Name: "Go 101", TeacherID: "tch-1",
			StartDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		},
	}}
	svc := NewCourseService(repo, nil, time.Minute, validator.New(), zap.NewNop())
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	archived := true
	detail, err := svc.Update(context.Background(), teacher, "crs-1", UpdateCourseRequest{Archived: &archived})
	require.NoError(t, err)
	assert.True(t, detail.Archived)
	assert.True(t, repo.courses["crs-1"].Archived)
}

func TestCourseServiceUpdateForbiddenForOtherTeacher(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]models.Course{
		"crs-1": {
			ID: "crs-1", Slug: "go-101", TeacherID: "tch-1",
			StartDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		},
	}}
	svc := NewCourseService(repo, nil, time.Minute, validator.New(), zap.NewNop())
	other := Actor{UserID: "tch-2", Role: models.RoleTeacher}

	name := "Hijacked"
	_, err := svc.Update(context.Background(), other, "crs-1", UpdateCourseRequest{Name: &name})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

type stubCache struct {
	store map[string][]byte
}

func (c *stubCache) Get(ctx context.Context, key string, dest interface{}) error {
	if _, ok := c.store[key]; !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(c.store[key], dest)
}

func (c *stubCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.store == nil {
		c.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store[key] = payload
	return nil
}

func (c *stubCache) DeleteByPattern(ctx context.Context, pattern string) error {
	for key := range c.store {
		if strings.HasPrefix(pattern, "courses:") && strings.HasPrefix(key, "courses:") {
			delete(c.store, key)
		}
	}
	return nil
}

func TestCourseServiceListServesFromCache(t *testing.T) {
	repo := &mockCourseRepo{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Slug: "go-101", Name: "Go 101", TeacherID: "tch-1"},
	}}
	cache := &stubCache{}
	svc := NewCourseService(repo, cache, time.Minute, validator.New(), zap.NewNop())

	filter := models.CourseFilter{Page: 1, PageSize: 20}
	_, _, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	_, _, err = svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)

	// A write invalidates the catalog keys, so the next list hits the repo.
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}
	req := validCourseRequest()
	req.Slug = "go-201"
	_, err = svc.Create(context.Background(), teacher, req)
	require.NoError(t, err)

	_, _, err = svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
}
