package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	"github.com/kelasku/kelasku-api/pkg/jobs"
	"github.com/kelasku/kelasku-api/pkg/mail"
)

// NotificationService renders outbound notifications and dispatches them
// through a background queue. Email goes out via the configured sender;
// WhatsApp bodies are rendered for recipients with a phone number and logged
// until a gateway is connected.
type NotificationService struct {
	sender  mail.Sender
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs the service and its dispatch queue.
func NewNotificationService(sender mail.Sender, metrics *MetricsService, logger *zap.Logger, cfg jobs.QueueConfig) *NotificationService {
	if sender == nil {
		sender = mail.NopSender{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{sender: sender, metrics: metrics, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("notifications", s.dispatch, cfg)
	return s
}

// Start begins background dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// MissionPublished notifies a student that a new mission is available.
func (s *NotificationService) MissionPublished(ctx context.Context, recipient models.User, courseName, missionTitle string, deadline time.Time) error {
	due := deadline.Format("2 Jan 2006 15:04 MST")
	n := models.Notification{
		Kind:           models.NotificationMissionPublished,
		RecipientName:  recipient.FullName,
		RecipientEmail: recipient.Email,
		Subject:        fmt.Sprintf("New mission in %s", courseName),
		TextBody: fmt.Sprintf("Hi %s,\n\nA new mission %q was published in %s. It is due %s.\n",
			recipient.FullName, missionTitle, courseName, due),
		HTMLBody: fmt.Sprintf("<p>Hi %s,</p><p>A new mission <strong>%s</strong> was published in <strong>%s</strong>. It is due %s.</p>",
			recipient.FullName, missionTitle, courseName, due),
		WhatsAppBody: fmt.Sprintf("Kelasku: new mission %q in %s, due %s.", missionTitle, courseName, due),
	}
	if recipient.Phone != nil {
		n.RecipientPhone = *recipient.Phone
	}
	return s.enqueue(n)
}

// ReviewGraded notifies a student that their review received a grade.
func (s *NotificationService) ReviewGraded(ctx context.Context, recipient models.User, courseName, missionTitle string, score, maxScore int) error {
	n := models.Notification{
		Kind:           models.NotificationReviewGraded,
		RecipientName:  recipient.FullName,
		RecipientEmail: recipient.Email,
		Subject:        fmt.Sprintf("Your mission %q was graded", missionTitle),
		TextBody: fmt.Sprintf("Hi %s,\n\nYour submission for %q in %s was graded: %d/%d.\n",
			recipient.FullName, missionTitle, courseName, score, maxScore),
		HTMLBody: fmt.Sprintf("<p>Hi %s,</p><p>Your submission for <strong>%s</strong> in <strong>%s</strong> was graded: <strong>%d/%d</strong>.</p>",
			recipient.FullName, missionTitle, courseName, score, maxScore),
		WhatsAppBody: fmt.Sprintf("Kelasku: %q graded %d/%d.", missionTitle, score, maxScore),
	}
	if recipient.Phone != nil {
		n.RecipientPhone = *recipient.Phone
	}
	return s.enqueue(n)
}

// SubscriptionActivated welcomes a student after their payment settles.
func (s *NotificationService) SubscriptionActivated(ctx context.Context, recipient models.User, courseName string) error {
	n := models.Notification{
		Kind:           models.NotificationSubscriptionActivated,
		RecipientName:  recipient.FullName,
		RecipientEmail: recipient.Email,
		Subject:        fmt.Sprintf("Welcome to %s", courseName),
		TextBody: fmt.Sprintf("Hi %s,\n\nYour payment settled and you now have full access to %s.\n",
			recipient.FullName, courseName),
		HTMLBody: fmt.Sprintf("<p>Hi %s,</p><p>Your payment settled and you now have full access to <strong>%s</strong>.</p>",
			recipient.FullName, courseName),
		WhatsAppBody: fmt.Sprintf("Kelasku: payment received, %s is unlocked.", courseName),
	}
	if recipient.Phone != nil {
		n.RecipientPhone = *recipient.Phone
	}
	return s.enqueue(n)
}

func (s *NotificationService) enqueue(n models.Notification) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(n.Kind),
		Payload: n,
	})
}

func (s *NotificationService) dispatch(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		s.logger.Error("notification job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	if err := s.sender.Send(ctx, mail.Message{
		ToName:   n.RecipientName,
		ToEmail:  n.RecipientEmail,
		Subject:  n.Subject,
		TextBody: n.TextBody,
		HTMLBody: n.HTMLBody,
	}); err != nil {
		s.metrics.RecordNotification(string(n.Kind), "failed")
		return fmt.Errorf("send %s email: %w", n.Kind, err)
	}

	if n.RecipientPhone != "" {
		s.logger.Info("whatsapp notification rendered",
			zap.String("kind", string(n.Kind)),
			zap.String("phone", n.RecipientPhone),
			zap.String("body", n.WhatsAppBody))
	}

	s.metrics.RecordNotification(string(n.Kind), "sent")
	return nil
}
