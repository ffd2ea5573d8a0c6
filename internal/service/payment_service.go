package service

import (
	"context"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
	"github.com/kelasku/kelasku-api/pkg/payment"
)

type paymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	FindPendingBySubscription(ctx context.Context, subscriptionID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, settledAt *time.Time) error
}

type subscriptionWriter interface {
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) error
	MarkPaid(ctx context.Context, id string) error
}

type subscriptionNotifier interface {
	SubscriptionActivated(ctx context.Context, recipient models.User, courseName string) error
}

// SubscribeResult is returned from a subscribe call: the subscription plus
// the pending checkout, when the course is not free.
type SubscribeResult struct {
	Subscription *models.Subscription `json:"subscription"`
	Payment      *models.Payment      `json:"payment,omitempty"`
}

// GatewayNotification is the payment gateway's server-to-server callback.
type GatewayNotification struct {
	OrderID           string `json:"order_id" validate:"required"`
	TransactionStatus string `json:"transaction_status" validate:"required"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	FraudStatus       string `json:"fraud_status"`
}

// PaymentService runs the subscribe checkout flow and settles gateway
// callbacks.
type PaymentService struct {
	payments  paymentRepository
	subs      subscriptionWriter
	courses   courseReader
	users     userReader
	gateway   payment.Gateway
	notifier  subscriptionNotifier
	serverKey string
	finishURL string
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(payments paymentRepository, subs subscriptionWriter, courses courseReader, users userReader, gateway payment.Gateway, notifier subscriptionNotifier, serverKey, finishURL string, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		payments:  payments,
		subs:      subs,
		courses:   courses,
		users:     users,
		gateway:   gateway,
		notifier:  notifier,
		serverKey: serverKey,
		finishURL: finishURL,
		validator: validate,
		logger:    logger,
	}
}

// Subscribe enrolls the acting student in a course. Paid courses get a
// pending payment with a Snap checkout token; free courses activate
// immediately.
func (s *PaymentService) Subscribe(ctx context.Context, actor Actor, courseID string) (*SubscribeResult, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can subscribe to courses")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Archived {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course is archived")
	}

	sub, err := s.subs.FindByCourseAndStudent(ctx, courseID, actor.UserID)
	switch {
	case err == nil:
		if sub.Paid {
			return nil, appErrors.Clone(appErrors.ErrConflict, "already subscribed to this course")
		}
	case errors.Is(err, sql.ErrNoRows):
		sub = &models.Subscription{
			CourseID:  courseID,
			StudentID: actor.UserID,
			Paid:      false,
			Active:    true,
		}
		if err := s.subs.Create(ctx, sub); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subscription")
		}
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}

	if course.PriceIDR == 0 {
		if err := s.subs.MarkPaid(ctx, sub.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate subscription")
		}
		sub.Paid = true
		s.notifyActivation(ctx, sub.StudentID, course.Name)
		return &SubscribeResult{Subscription: sub}, nil
	}

	// An open checkout is reused so repeated subscribe calls do not pile up
	// pending orders at the gateway.
	if pending, err := s.payments.FindPendingBySubscription(ctx, sub.ID); err == nil {
		return &SubscribeResult{Subscription: sub, Payment: pending}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending payment")
	}

	student, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	orderID := "KLS-" + uuid.NewString()
	checkout, err := s.gateway.CreateCheckout(payment.CheckoutRequest{
		OrderID:       orderID,
		GrossAmount:   course.PriceIDR,
		ItemID:        course.ID,
		ItemName:      course.Name,
		CustomerName:  student.FullName,
		CustomerEmail: student.Email,
		FinishURL:     s.finishURL,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create checkout")
	}

	pay := &models.Payment{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		AmountIDR:      course.PriceIDR,
		Status:         models.PaymentStatusPending,
		SnapToken:      checkout.Token,
		RedirectURL:    checkout.RedirectURL,
	}
	if err := s.payments.Create(ctx, pay); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}

	return &SubscribeResult{Subscription: sub, Payment: pay}, nil
}

// HandleNotification processes the gateway callback. Settlement flips the
// payment to SETTLED and the subscription to paid; replays of an already
// settled order are acknowledged without side effects.
func (s *PaymentService) HandleNotification(ctx context.Context, payload GatewayNotification) (*models.Payment, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}
	if !s.signatureValid(payload) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "notification signature mismatch")
	}

	pay, err := s.payments.FindByOrderID(ctx, payload.OrderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if pay.Status == models.PaymentStatusSettled {
		return pay, nil
	}

	switch payload.TransactionStatus {
	case "capture", "settlement":
		if payload.FraudStatus == "challenge" || payload.FraudStatus == "deny" {
			s.logger.Warn("payment flagged by fraud check", zap.String("order_id", payload.OrderID), zap.String("fraud_status", payload.FraudStatus))
			return pay, nil
		}
		return s.settle(ctx, pay)
	case "deny", "cancel", "failure":
		if err := s.payments.UpdateStatus(ctx, pay.ID, models.PaymentStatusFailed, nil); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment")
		}
		pay.Status = models.PaymentStatusFailed
	case "expire":
		if err := s.payments.UpdateStatus(ctx, pay.ID, models.PaymentStatusExpired, nil); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update payment")
		}
		pay.Status = models.PaymentStatusExpired
	default:
		// pending and other interim statuses keep the payment open
	}
	return pay, nil
}

func (s *PaymentService) settle(ctx context.Context, pay *models.Payment) (*models.Payment, error) {
	settledAt := time.Now().UTC()
	if err := s.payments.UpdateStatus(ctx, pay.ID, models.PaymentStatusSettled, &settledAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle payment")
	}
	pay.Status = models.PaymentStatusSettled
	pay.SettledAt = &settledAt

	if err := s.subs.MarkPaid(ctx, pay.SubscriptionID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate subscription")
	}

	sub, err := s.subs.FindByID(ctx, pay.SubscriptionID)
	if err != nil {
		s.logger.Warn("failed to load subscription after settlement", zap.Error(err))
		return pay, nil
	}
	course, err := s.courses.FindByID(ctx, sub.CourseID)
	if err != nil {
		s.logger.Warn("failed to load course after settlement", zap.Error(err))
		return pay, nil
	}
	s.notifyActivation(ctx, sub.StudentID, course.Name)
	return pay, nil
}

func (s *PaymentService) notifyActivation(ctx context.Context, studentID, courseName string) {
	if s.notifier == nil {
		return
	}
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		s.logger.Warn("failed to load student for activation notification", zap.Error(err))
		return
	}
	if err := s.notifier.SubscriptionActivated(ctx, *student, courseName); err != nil {
		s.logger.Warn("failed to enqueue activation notification", zap.Error(err))
	}
}

// signatureValid checks the gateway's sha512(order_id+status_code+gross_amount+server_key) signature.
func (s *PaymentService) signatureValid(payload GatewayNotification) bool {
	if s.serverKey == "" {
		// Local and test setups run without a configured gateway key.
		return true
	}
	sum := sha512.Sum512([]byte(payload.OrderID + payload.StatusCode + payload.GrossAmount + s.serverKey))
	return hex.EncodeToString(sum[:]) == payload.SignatureKey
}
