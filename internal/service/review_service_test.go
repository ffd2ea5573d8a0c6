package service

import (
	"context"
	"database/sql"
	"os"
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

type mockReviewRepo struct {
	details   map[string]models.ReviewDetail
	documents map[string]models.ReviewDocument
	messages  []models.Message
}

func (m *mockReviewRepo) FindByID(ctx context.Context, id string) (*models.Review, error) {
	if d, ok := m.details[id]; ok {
		r := d.Review
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReviewRepo) FindDetailByID(ctx context.Context, id string) (*models.ReviewDetail, error) {
	if d, ok := m.details[id]; ok {
		detail := d
		return &detail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReviewRepo) UpdateGrade(ctx context.Context, id string, score int, feedback *string, gradedAt time.Time) error {
	d := m.details[id]
	d.Score = &score
	d.Feedback = feedback
	d.GradedAt = &gradedAt
	m.details[id] = d
	return nil
}

func (m *mockReviewRepo) UpdateExtension(ctx context.Context, id string, extension *time.Time) error {
	d := m.details[id]
	d.Extension = extension
	m.details[id] = d
	return nil
}

func (m *mockReviewRepo) CreateDocument(ctx context.Context, doc *models.ReviewDocument) error {
	if m.documents == nil {
		m.documents = make(map[string]models.ReviewDocument)
	}
	m.documents[doc.ID] = *doc
	return nil
}

func (m *mockReviewRepo) FindDocumentByID(ctx context.Context, id string) (*models.ReviewDocument, error) {
	if d, ok := m.documents[id]; ok {
		doc := d
		return &doc, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReviewRepo) ListDocumentsByReview(ctx context.Context, reviewID string) ([]models.ReviewDocument, error) {
	var out []models.ReviewDocument
	for _, d := range m.documents {
		if d.ReviewID == reviewID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockReviewRepo) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = "new-message"
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockReviewRepo) ListMessagesByReview(ctx context.Context, reviewID string) ([]models.Message, error) {
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ReviewID == reviewID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type mockFileStore struct {
	saved map[string][]byte
}

func (m *mockFileStore) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockFileStore) Open(filename string) (*os.File, error) {
	return nil, sql.ErrNoRows
}

type mockReviewNotifier struct {
	mu     sync.Mutex
	graded []string
}

func (m *mockReviewNotifier) ReviewGraded(ctx context.Context, recipient models.User, courseName, missionTitle string, score, maxScore int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.graded = append(m.graded, recipient.ID)
	return nil
}

func newReviewServiceFixture(deadline time.Time) (*ReviewService, *mockReviewRepo, *mockReviewNotifier) {
	repo := &mockReviewRepo{details: map[string]models.ReviewDetail{
		"rev-1": {
			Review:      models.Review{ID: "rev-1", MissionID: "mis-1", SubscriptionID: "sub-1"},
			StudentID:   "stu-1",
			StudentName: "Ana",
		},
	}}
	missions := &mockMissionRepo{missions: map[string]models.Mission{
		"mis-1": {ID: "mis-1", LessonID: "les-1", Title: "Essay", MaxScore: 100, Deadline: deadline},
	}}
	lessons := &mockLessonReader{lessons: map[string]models.Lesson{
		"les-1": {ID: "les-1", CourseID: "crs-1"},
	}}
	courses := &mockCourseReader{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Name: "Go 101", TeacherID: "tch-1"},
	}}
	users := &mockUserReader{users: map[string]models.User{
		"stu-1": {ID: "stu-1", Email: "ana@example.com", FullName: "Ana"},
	}}
	notifier := &mockReviewNotifier{}
	policy := UploadPolicy{MaxFileSizeBytes: 1024, AllowedMIMEs: []string{"application/pdf"}}
	svc := NewReviewService(repo, missions, lessons, courses, users, &mockFileStore{}, nil, notifier, nil, policy, validator.New(), zap.NewNop())
	return svc, repo, notifier
}

func TestReviewServiceGradeWithinBounds(t *testing.T) {
	svc, repo, notifier := newReviewServiceFixture(time.Now().UTC().Add(-time.Hour))
	actor := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	// Closed review: grading is still allowed.
	feedback := "well argued"
	detail, err := svc.Grade(context.Background(), actor, "rev-1", GradeReviewRequest{Score: 85, Feedback: &feedback})
	require.NoError(t, err)
	require.NotNil(t, detail.Score)
	assert.Equal(t, 85, *detail.Score)
	assert.Equal(t, models.StatusClosed, detail.Status)
	assert.NotNil(t, repo.details["rev-1"].GradedAt)
	assert.Equal(t, []string{"stu-1"}, notifier.graded)
}

func TestReviewServiceGradeExceedsMaxScore(t *testing.T) {
	svc, _, _ := newReviewServiceFixture(time.Now().UTC().Add(time.Hour))
	actor := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	_, err := svc.Grade(context.Background(), actor, "rev-1", GradeReviewRequest{Score: 101})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceExtendReopensClosedReview(t *testing.T) {
	svc, _, _ := newReviewServiceFixture(time.Now().UTC().Add(-time.Hour))
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	ext := time.Now().UTC().Add(48 * time.Hour)
	detail, err := svc.Extend(context.Background(), teacher, "rev-1", ExtendReviewRequest{Extension: &ext})
	require.NoError(t, err)
	assert.Equal(t, models.StatusExtended, detail.Status)

	detail, err = svc.Extend(context.Background(), teacher, "rev-1", ExtendReviewRequest{Extension: nil})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, detail.Status)
}

func TestReviewServiceUploadGatedOnStatus(t *testing.T) {
	svc, _, _ := newReviewServiceFixture(time.Now().UTC().Add(-time.Hour))
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	_, err := svc.UploadDocument(context.Background(), student, "rev-1", UploadDocumentInput{
		FileName:    "essay.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceUploadAcceptsOpenReview(t *testing.T) {
	svc, repo, _ := newReviewServiceFixture(time.Now().UTC().Add(time.Hour))
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	doc, err := svc.UploadDocument(context.Background(), student, "rev-1", UploadDocumentInput{
		FileName:    "essay.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, "essay.pdf", doc.FileName)
	assert.Equal(t, "stu-1", doc.UploadedBy)
	assert.Len(t, repo.documents, 1)
}

func TestReviewServiceUploadRejectsDisallowedMIME(t *testing.T) {
	svc, _, _ := newReviewServiceFixture(time.Now().UTC().Add(time.Hour))
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	_, err := svc.UploadDocument(context.Background(), student, "rev-1", UploadDocumentInput{
		FileName:    "virus.exe",
		ContentType: "application/octet-stream",
		Data:        []byte{0x4d, 0x5a},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceStudentCannotReadOthersReview(t *testing.T) {
	svc, _, _ := newReviewServiceFixture(time.Now().UTC().Add(time.Hour))
	other := Actor{UserID: "stu-2", Role: models.RoleStudent}

	_, err := svc.Get(context.Background(), other, "rev-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReviewServiceMessageThread(t *testing.T) {
	svc, _, _ := newReviewServiceFixture(time.Now().UTC().Add(time.Hour))
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	_, err := svc.PostMessage(context.Background(), student, "rev-1", PostMessageRequest{Body: "Is a late draft okay?"})
	require.NoError(t, err)
	_, err = svc.PostMessage(context.Background(), teacher, "rev-1", PostMessageRequest{Body: "Yes, within the extension."})
	require.NoError(t, err)

	messages, err := svc.ListMessages(context.Background(), student, "rev-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "stu-1", messages[0].SenderID)
	assert.Equal(t, "tch-1", messages[1].SenderID)
}
