package service

import (
	"context"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kelasku/kelasku-api/internal/models"
	appErrors "github.com/kelasku/kelasku-api/pkg/errors"
	"github.com/kelasku/kelasku-api/pkg/payment"
)

type mockPaymentRepo struct {
	payments map[string]models.Payment
}

func (m *mockPaymentRepo) Create(ctx context.Context, pay *models.Payment) error {
	if m.payments == nil {
		m.payments = make(map[string]models.Payment)
	}
	if pay.ID == "" {
		pay.ID = "new-payment"
	}
	m.payments[pay.ID] = *pay
	return nil
}

func (m *mockPaymentRepo) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.OrderID == orderID {
			pay := p
			return &pay, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) FindPendingBySubscription(ctx context.Context, subscriptionID string) (*models.Payment, error) {
	for _, p := range m.payments {
		if p.SubscriptionID == subscriptionID && p.Status == models.PaymentStatusPending {
			pay := p
			return &pay, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPaymentRepo) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, settledAt *time.Time) error {
	p := m.payments[id]
	p.Status = status
	p.SettledAt = settledAt
	m.payments[id] = p
	return nil
}

type mockSubWriter struct {
	subs map[string]models.Subscription
}

func (m *mockSubWriter) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	if s, ok := m.subs[id]; ok {
		sub := s
		return &sub, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubWriter) FindByCourseAndStudent(ctx context.Context, courseID, studentID string) (*models.Subscription, error) {
	for _, s := range m.subs {
		if s.CourseID == courseID && s.StudentID == studentID {
			sub := s
			return &sub, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubWriter) Create(ctx context.Context, sub *models.Subscription) error {
	if m.subs == nil {
		m.subs = make(map[string]models.Subscription)
	}
	if sub.ID == "" {
		sub.ID = "new-sub"
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *mockSubWriter) MarkPaid(ctx context.Context, id string) error {
	s := m.subs[id]
	s.Paid = true
	m.subs[id] = s
	return nil
}

type mockGateway struct {
	calls int
}

func (m *mockGateway) CreateCheckout(req payment.CheckoutRequest) (*payment.Checkout, error) {
	m.calls++
	return &payment.Checkout{Token: "snap-token", RedirectURL: "https://app.sandbox.midtrans.com/snap/v2/" + req.OrderID}, nil
}

type mockSubNotifier struct {
	activated []string
}

func (m *mockSubNotifier) SubscriptionActivated(ctx context.Context, recipient models.User, courseName string) error {
	m.activated = append(m.activated, recipient.ID)
	return nil
}

func newPaymentServiceFixture(price int64, serverKey string) (*PaymentService, *mockPaymentRepo, *mockSubWriter, *mockGateway, *mockSubNotifier) {
	payments := &mockPaymentRepo{}
	subs := &mockSubWriter{}
	courses := &mockCourseReader{courses: map[string]models.Course{
		"crs-1": {ID: "crs-1", Name: "Go 101", TeacherID: "tch-1", PriceIDR: price},
	}}
	users := &mockUserReader{users: map[string]models.User{
		"stu-1": {ID: "stu-1", Email: "ana@example.com", FullName: "Ana"},
	}}
	gateway := &mockGateway{}
	notifier := &mockSubNotifier{}
	svc := NewPaymentService(payments, subs, courses, users, gateway, notifier, serverKey, "https://kelasku.id/finish", validator.New(), zap.NewNop())
	return svc, payments, subs, gateway, notifier
}

func TestPaymentServiceSubscribeCreatesPendingPayment(t *testing.T) {
	svc, payments, subs, gateway, _ := newPaymentServiceFixture(250000, "")
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	result, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.False(t, result.Subscription.Paid)
	assert.Equal(t, models.PaymentStatusPending, result.Payment.Status)
	assert.Equal(t, "snap-token", result.Payment.SnapToken)
	assert.Equal(t, int64(250000), result.Payment.AmountIDR)
	assert.Equal(t, 1, gateway.calls)
	assert.Len(t, payments.payments, 1)
	assert.Len(t, subs.subs, 1)
}

func TestPaymentServiceSubscribeReusesPendingCheckout(t *testing.T) {
	svc, _, _, gateway, _ := newPaymentServiceFixture(250000, "")
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	first, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.NoError(t, err)
	second, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.NoError(t, err)

	assert.Equal(t, first.Payment.OrderID, second.Payment.OrderID)
	assert.Equal(t, 1, gateway.calls)
}

func TestPaymentServiceSubscribeConflictsWhenAlreadyPaid(t *testing.T) {
	svc, _, subs, _, _ := newPaymentServiceFixture(250000, "")
	subs.subs = map[string]models.Subscription{
		"sub-1": {ID: "sub-1", CourseID: "crs-1", StudentID: "stu-1", Paid: true, Active: true},
	}
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	_, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceSubscribeFreeCourseActivatesImmediately(t *testing.T) {
	svc, payments, subs, gateway, notifier := newPaymentServiceFixture(0, "")
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	result, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.NoError(t, err)
	assert.Nil(t, result.Payment)
	assert.True(t, result.Subscription.Paid)
	assert.True(t, subs.subs[result.Subscription.ID].Paid)
	assert.Equal(t, 0, gateway.calls)
	assert.Empty(t, payments.payments)
	assert.Equal(t, []string{"stu-1"}, notifier.activated)
}

func TestPaymentServiceSubscribeForbiddenForTeacher(t *testing.T) {
	svc, _, _, _, _ := newPaymentServiceFixture(250000, "")
	teacher := Actor{UserID: "tch-1", Role: models.RoleTeacher}

	_, err := svc.Subscribe(context.Background(), teacher, "crs-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestPaymentServiceSettlementActivatesSubscription(t *testing.T) {
	svc, payments, subs, _, notifier := newPaymentServiceFixture(250000, "")
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	result, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.NoError(t, err)

	pay, err := svc.HandleNotification(context.Background(), GatewayNotification{
		OrderID:           result.Payment.OrderID,
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "250000.00",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSettled, pay.Status)
	require.NotNil(t, pay.SettledAt)
	assert.True(t, subs.subs[result.Subscription.ID].Paid)
	assert.Equal(t, []string{"stu-1"}, notifier.activated)

	// Replaying the settled callback is acknowledged without side effects.
	replay, err := svc.HandleNotification(context.Background(), GatewayNotification{
		OrderID:           result.Payment.OrderID,
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "250000.00",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSettled, replay.Status)
	assert.Len(t, notifier.activated, 1)
	assert.Len(t, payments.payments, 1)
}

func TestPaymentServiceNotificationRejectsBadSignature(t *testing.T) {
	svc, _, _, _, _ := newPaymentServiceFixture(250000, "server-key")
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	result, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.NoError(t, err)

	_, err = svc.HandleNotification(context.Background(), GatewayNotification{
		OrderID:           result.Payment.OrderID,
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "250000.00",
		SignatureKey:      "forged",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	sum := sha512.Sum512([]byte(result.Payment.OrderID + "200" + "250000.00" + "server-key"))
	pay, err := svc.HandleNotification(context.Background(), GatewayNotification{
		OrderID:           result.Payment.OrderID,
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "250000.00",
		SignatureKey:      hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSettled, pay.Status)
}

func TestPaymentServiceExpiredNotificationKeepsSubscriptionUnpaid(t *testing.T) {
	svc, _, subs, _, _ := newPaymentServiceFixture(250000, "")
	student := Actor{UserID: "stu-1", Role: models.RoleStudent}

	result, err := svc.Subscribe(context.Background(), student, "crs-1")
	require.NoError(t, err)

	pay, err := svc.HandleNotification(context.Background(), GatewayNotification{
		OrderID:           result.Payment.OrderID,
		TransactionStatus: "expire",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusExpired, pay.Status)
	assert.False(t, subs.subs[result.Subscription.ID].Paid)
}
