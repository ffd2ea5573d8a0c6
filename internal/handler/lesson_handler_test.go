package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelasku/kelasku-api/internal/middleware"
	"github.com/kelasku/kelasku-api/internal/models"
	"github.com/kelasku/kelasku-api/internal/repository"
	"github.com/kelasku/kelasku-api/internal/service"
)

type responseEnvelope struct {
	Data  json.RawMessage        `json:"data"`
	Error map[string]interface{} `json:"error"`
}

type fakeLessonRepo struct {
	lessons   map[string]models.Lesson
	swapStale bool
}

func (f *fakeLessonRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Lesson, error) {
	var out []models.Lesson
	for _, l := range f.lessons {
		if l.CourseID == courseID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeLessonRepo) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	if l, ok := f.lessons[id]; ok {
		return &l, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeLessonRepo) FindByPosition(ctx context.Context, courseID string, position int) (*models.Lesson, error) {
	for _, l := range f.lessons {
		if l.CourseID == courseID && l.Position == position {
			lesson := l
			return &lesson, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeLessonRepo) CountByCourse(ctx context.Context, courseID string) (int, error) {
	count := 0
	for _, l := range f.lessons {
		if l.CourseID == courseID {
			count++
		}
	}
	return count, nil
}

func (f *fakeLessonRepo) Create(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = "new-lesson"
	}
	f.lessons[lesson.ID] = *lesson
	return nil
}

func (f *fakeLessonRepo) Update(ctx context.Context, lesson *models.Lesson) error {
	f.lessons[lesson.ID] = *lesson
	return nil
}

func (f *fakeLessonRepo) SwapPositions(ctx context.Context, a, b *models.Lesson) error {
	if f.swapStale {
		return repository.ErrStaleOrder
	}
	la, lb := f.lessons[a.ID], f.lessons[b.ID]
	la.Position, lb.Position = lb.Position, la.Position
	f.lessons[a.ID] = la
	f.lessons[b.ID] = lb
	return nil
}

func (f *fakeLessonRepo) DeleteAndRenumber(ctx context.Context, courseID, lessonID string, position int) error {
	delete(f.lessons, lessonID)
	for id, l := range f.lessons {
		if l.CourseID == courseID && l.Position > position {
			l.Position--
			f.lessons[id] = l
		}
	}
	return nil
}

type fakeCourseReader struct {
	courses map[string]models.Course
}

func (f *fakeCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func newLessonHandlerFixture(swapStale bool) *LessonHandler {
	repo := &fakeLessonRepo{
		lessons: map[string]models.Lesson{
			"les-a": {ID: "les-a", CourseID: "crs-1", Title: "Intro", Position: 0},
			"les-b": {ID: "les-b", CourseID: "crs-1", Title: "Basics", Position: 1},
			"les-c": {ID: "les-c", CourseID: "crs-1", Title: "Deep Dive", Position: 2},
		},
		swapStale: swapStale,
	}
	courses := &fakeCourseReader{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", TeacherID: "tch-1"},
	}}
	svc := service.NewLessonService(repo, courses, nil, nil, nil)
	return NewLessonHandler(svc)
}

func teacherContext(rec *httptest.ResponseRecorder, method, target, body string) *gin.Context {
	c, _ := gin.CreateTestContext(rec)
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tch-1", Role: models.RoleTeacher})
	return c
}

func TestLessonHandlerMoveReturnsReorderedList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLessonHandlerFixture(false)

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodPost, "/courses/crs-1/lessons/les-a/move", `{"to":2}`)
	c.Params = gin.Params{{Key: "id", Value: "crs-1"}, {Key: "lessonId", Value: "les-a"}}

	handler.Move(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	var lessons []models.Lesson
	require.NoError(t, json.Unmarshal(envelope.Data, &lessons))
	require.Len(t, lessons, 3)
	assert.Equal(t, "les-c", lessons[0].ID)
	assert.Equal(t, "les-a", lessons[2].ID)
}

func TestLessonHandlerMoveConflictOnStaleOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLessonHandlerFixture(true)

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodPost, "/courses/crs-1/lessons/les-a/move", `{"to":2}`)
	c.Params = gin.Params{{Key: "id", Value: "crs-1"}, {Key: "lessonId", Value: "les-a"}}

	handler.Move(c)

	require.Equal(t, http.StatusConflict, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "CONFLICT", envelope.Error["code"])
}

func TestLessonHandlerMoveRejectsNegativeTarget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLessonHandlerFixture(false)

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodPost, "/courses/crs-1/lessons/les-a/move", `{"to":-1}`)
	c.Params = gin.Params{{Key: "id", Value: "crs-1"}, {Key: "lessonId", Value: "les-a"}}

	handler.Move(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLessonHandlerRemoveRenumbers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLessonHandlerFixture(false)

	rec := httptest.NewRecorder()
	c := teacherContext(rec, http.MethodDelete, "/courses/crs-1/lessons/les-b", "")
	c.Params = gin.Params{{Key: "id", Value: "crs-1"}, {Key: "lessonId", Value: "les-b"}}

	handler.Remove(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	var lessons []models.Lesson
	require.NoError(t, json.Unmarshal(envelope.Data, &lessons))
	require.Len(t, lessons, 2)
	assert.Equal(t, 0, lessons[0].Position)
	assert.Equal(t, 1, lessons[1].Position)
}

func TestLessonHandlerAppendRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newLessonHandlerFixture(false)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/courses/crs-1/lessons", strings.NewReader(`{"title":"X"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: "crs-1"}}

	handler.Append(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
