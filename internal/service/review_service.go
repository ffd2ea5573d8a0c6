package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
)

type reviewRepository interface {
	FindByID(ctx context.Context, id string) (*models.Review, error)
	FindDetailByID(ctx context.Context, id string) (*models.ReviewDetail, error)
	UpdateGrade(ctx context.Context, id string, score int, feedback *string, gradedAt time.Time) error
	UpdateExtension(ctx context.Context, id string, extension *time.Time) error
	CreateDocument(ctx context.Context, doc *models.ReviewDocument) error
	FindDocumentByID(ctx context.Context, id string) (*models.ReviewDocument, error)
	ListDocumentsByReview(ctx context.Context, reviewID string) ([]models.ReviewDocument, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessagesByReview(ctx context.Context, reviewID string) ([]models.Message, error)
}

type missionReader interface {
	FindByID(ctx context.Context, id string) (*models.Mission, error)
}

type fileStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type downloadSigner interface {
	Generate(docID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (docID, relPath string, expiresAt time.Time, err error)
}

type reviewNotifier interface {
	ReviewGraded(ctx context.Context, recipient models.User, courseName, missionTitle string, score, maxScore int) error
}

// UploadPolicy bounds review document uploads.
type UploadPolicy struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// GradeReviewRequest posts a score and optional feedback.
type GradeReviewRequest struct {
	Score    int     `json:"score" validate:"gte=0"`
	Feedback *string `json:"feedback" validate:"omitempty,max=4000"`
}

// ExtendReviewRequest sets or clears the per-student deadline override.
type ExtendReviewRequest struct {
	Extension *time.Time `json:"extension"`
}

// PostMessageRequest appends a message to the review thread.
type PostMessageRequest struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// UploadDocumentInput carries one uploaded file.
type UploadDocumentInput struct {
	FileName    string
	ContentType string
	Data        []byte
}

// SignedDownload is a generated download token for a review document.
type SignedDownload struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReviewService manages grading, extensions, documents, and the discussion
// thread of reviews.
type ReviewService struct {
	repo      reviewRepository
	missions  missionReader
	lessons   lessonReader
	courses   courseReader
	users     userReader
	files     fileStore
	signer    downloadSigner
	notifier  reviewNotifier
	cache     cacheStore
	policy    UploadPolicy
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReviewService constructs ReviewService.
func NewReviewService(repo reviewRepository, missions missionReader, lessons lessonReader, courses courseReader, users userReader, files fileStore, signer downloadSigner, notifier reviewNotifier, cache cacheStore, policy UploadPolicy, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		repo:      repo,
		missions:  missions,
		lessons:   lessons,
		courses:   courses,
		users:     users,
		files:     files,
		signer:    signer,
		notifier:  notifier,
		cache:     cache,
		policy:    policy,
		validator: validate,
		logger:    logger,
	}
}

type reviewScope struct {
	detail  *models.ReviewDetail
	mission *models.Mission
	course  *models.Course
}

// Get returns one review with its derived status.
func (s *ReviewService) Get(ctx context.Context, actor Actor, reviewID string) (*models.ReviewDetail, error) {
	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(actor, scope); err != nil {
		return nil, err
	}
	scope.detail.Status = ResolveReviewStatus(scope.mission.Deadline, scope.detail.Extension, time.Now().UTC())
	return scope.detail, nil
}

// Grade records a score and feedback. Grading is independent of the derived
// status, so a closed review can still be graded.
func (s *ReviewService) Grade(ctx context.Context, actor Actor, reviewID string, req GradeReviewRequest) (*models.ReviewDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, scope.course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}
	if req.Score > scope.mission.MaxScore {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("score exceeds mission maximum of %d", scope.mission.MaxScore))
	}

	gradedAt := time.Now().UTC()
	if err := s.repo.UpdateGrade(ctx, reviewID, req.Score, req.Feedback, gradedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade review")
	}
	s.invalidateStatus(ctx)

	if s.notifier != nil {
		if student, err := s.users.FindByID(ctx, scope.detail.StudentID); err == nil {
			if err := s.notifier.ReviewGraded(ctx, *student, scope.course.Name, scope.mission.Title, req.Score, scope.mission.MaxScore); err != nil {
				s.logger.Warn("failed to enqueue grade notification", zap.Error(err))
			}
		} else {
			s.logger.Warn("failed to load student for grade notification", zap.Error(err))
		}
	}

	return s.Get(ctx, actor, reviewID)
}

// Extend sets or clears the review's deadline override. An extension takes
// precedence over the mission deadline for this student only.
func (s *ReviewService) Extend(ctx context.Context, actor Actor, reviewID string, req ExtendReviewRequest) (*models.ReviewDetail, error) {
	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !canManageCourse(actor, scope.course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	if err := s.repo.UpdateExtension(ctx, reviewID, req.Extension); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set extension")
	}
	s.invalidateStatus(ctx)

	return s.Get(ctx, actor, reviewID)
}

// UploadDocument attaches a file to a review. Uploads are accepted only while
// the review's derived status is open or extended.
func (s *ReviewService) UploadDocument(ctx context.Context, actor Actor, reviewID string, input UploadDocumentInput) (*models.ReviewDocument, error) {
	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(actor, scope); err != nil {
		return nil, err
	}

	status := ResolveReviewStatus(scope.mission.Deadline, scope.detail.Extension, time.Now().UTC())
	if status == models.StatusClosed {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "review is closed for submissions")
	}

	if input.FileName == "" || len(input.Data) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if s.policy.MaxFileSizeBytes > 0 && int64(len(input.Data)) > s.policy.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds the %d byte limit", s.policy.MaxFileSizeBytes))
	}
	if !s.mimeAllowed(input.ContentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content type %s is not allowed", input.ContentType))
	}

	docID := uuid.NewString()
	relPath := filepath.Join("reviews", reviewID, docID+"_"+filepath.Base(input.FileName))
	storedPath, err := s.files.Save(relPath, input.Data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	doc := &models.ReviewDocument{
		ID:          docID,
		ReviewID:    reviewID,
		FileName:    filepath.Base(input.FileName),
		StoragePath: storedPath,
		ContentType: input.ContentType,
		SizeBytes:   int64(len(input.Data)),
		UploadedBy:  actor.UserID,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record document")
	}
	return doc, nil
}

// ListDocuments returns the documents attached to a review.
func (s *ReviewService) ListDocuments(ctx context.Context, actor Actor, reviewID string) ([]models.ReviewDocument, error) {
	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(actor, scope); err != nil {
		return nil, err
	}
	docs, err := s.repo.ListDocumentsByReview(ctx, reviewID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return docs, nil
}

// DocumentDownload issues a signed, expiring download token for a document.
func (s *ReviewService) DocumentDownload(ctx context.Context, actor Actor, reviewID, docID string) (*SignedDownload, error) {
	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(actor, scope); err != nil {
		return nil, err
	}

	doc, err := s.repo.FindDocumentByID(ctx, docID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.ReviewID != reviewID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found on review")
	}

	token, expiresAt, err := s.signer.Generate(doc.ID, doc.StoragePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &SignedDownload{
		Token:     token,
		URL:       "/api/v1/downloads?token=" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveDownload validates a signed token and opens the referenced file.
// The token itself is the credential, so no actor is required.
func (s *ReviewService) ResolveDownload(ctx context.Context, token string) (*models.ReviewDocument, *os.File, error) {
	docID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}

	doc, err := s.repo.FindDocumentByID(ctx, docID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.StoragePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "download token does not match document")
	}

	file, err := s.files.Open(doc.StoragePath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document")
	}
	return doc, file, nil
}

// ListMessages returns the review's discussion thread.
func (s *ReviewService) ListMessages(ctx context.Context, actor Actor, reviewID string) ([]models.Message, error) {
	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(actor, scope); err != nil {
		return nil, err
	}
	messages, err := s.repo.ListMessagesByReview(ctx, reviewID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list messages")
	}
	return messages, nil
}

// PostMessage appends a message to the review thread.
func (s *ReviewService) PostMessage(ctx context.Context, actor Actor, reviewID string, req PostMessageRequest) (*models.Message, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid message payload")
	}
	scope, err := s.loadScope(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(actor, scope); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ReviewID: reviewID,
		SenderID: actor.UserID,
		Body:     strings.TrimSpace(req.Body),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to post message")
	}
	return msg, nil
}

func (s *ReviewService) loadScope(ctx context.Context, reviewID string) (*reviewScope, error) {
	detail, err := s.repo.FindDetailByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review")
	}
	mission, err := s.missions.FindByID(ctx, detail.MissionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mission")
	}
	lesson, err := s.lessons.FindByID(ctx, mission.LessonID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	course, err := s.courses.FindByID(ctx, lesson.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return &reviewScope{detail: detail, mission: mission, course: course}, nil
}

func (s *ReviewService) authorizeRead(actor Actor, scope *reviewScope) error {
	if canManageCourse(actor, scope.course) {
		return nil
	}
	if actor.IsStudent() && scope.detail.StudentID == actor.UserID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "review belongs to another student")
}

func (s *ReviewService) mimeAllowed(contentType string) bool {
	if len(s.policy.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.policy.AllowedMIMEs {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func (s *ReviewService) invalidateStatus(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "missions:*"); err != nil {
		s.logger.Warn("mission status cache invalidation failed", zap.Error(err))
	}
}
