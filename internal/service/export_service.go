package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
	"github.com/kelasku/kelasku-api/pkg/export"
)

// ReportFormat names a supported export encoding.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type reportLessonReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.Lesson, error)
}

type reportMissionReader interface {
	FindByLessonID(ctx context.Context, lessonID string) (*models.Mission, error)
}

type reportReviewReader interface {
	ListByMission(ctx context.Context, missionID string) ([]models.ReviewDetail, error)
}

// ReportFile is a rendered course grade report.
type ReportFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ExportService renders course grade reports.
type ExportService struct {
	courses  courseReader
	lessons  reportLessonReader
	missions reportMissionReader
	reviews  reportReviewReader
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(courses courseReader, lessons reportLessonReader, missions reportMissionReader, reviews reportReviewReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		courses:  courses,
		lessons:  lessons,
		missions: missions,
		reviews:  reviews,
		csv:      csv,
		pdf:      pdf,
		logger:   logger,
	}
}

// CourseGradeReport renders the per-student grade sheet of a course.
func (s *ExportService) CourseGradeReport(ctx context.Context, actor Actor, courseID string, format ReportFormat) (*ReportFile, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !canManageCourse(actor, course) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another teacher")
	}

	dataset, err := s.buildGradeDataset(ctx, course)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("Grade Report %s", course.Name)
	timestamp := time.Now().UTC().Format("20060102_150405")
	base := fmt.Sprintf("grades_%s_%s", sanitizeFilename(course.Slug), timestamp)

	switch format {
	case ReportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &ReportFile{FileName: base + ".csv", ContentType: "text/csv", Data: payload}, nil
	case ReportFormatPDF:
		payload, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &ReportFile{FileName: base + ".pdf", ContentType: "application/pdf", Data: payload}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}
}

func (s *ExportService) buildGradeDataset(ctx context.Context, course *models.Course) (export.Dataset, error) {
	lessons, err := s.lessons.ListByCourse(ctx, course.ID)
	if err != nil {
		return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}

	now := time.Now().UTC()
	rows := make([]map[string]string, 0)
	for _, lesson := range lessons {
		mission, err := s.missions.FindByLessonID(ctx, lesson.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mission")
		}
		reviews, err := s.reviews.ListByMission(ctx, mission.ID)
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
		}
		for _, review := range reviews {
			score := ""
			if review.Score != nil {
				score = fmt.Sprintf("%d", *review.Score)
			}
			gradedAt := ""
			if review.GradedAt != nil {
				gradedAt = review.GradedAt.UTC().Format(time.RFC3339)
			}
			rows = append(rows, map[string]string{
				"Lesson":    lesson.Title,
				"Mission":   mission.Title,
				"Student":   review.StudentName,
				"Email":     review.StudentEmail,
				"Score":     score,
				"Max Score": fmt.Sprintf("%d", mission.MaxScore),
				"Status":    string(ResolveReviewStatus(mission.Deadline, review.Extension, now)),
				"Graded At": gradedAt,
			})
		}
	}

	return export.Dataset{
		Headers: []string{"Lesson", "Mission", "Student", "Email", "Score", "Max Score", "Status", "Graded At"},
		Rows:    rows,
	}, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
