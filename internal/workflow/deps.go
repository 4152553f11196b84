package workflow

import (
	"context"
	"time"

	"github.com/imrishuroy/vps-orderflow/internal/aws"
	"github.com/imrishuroy/vps-orderflow/internal/notify"
	"github.com/imrishuroy/vps-orderflow/internal/orders"
	"github.com/imrishuroy/vps-orderflow/internal/payment"
)

// OrderStore is the persistence the controller needs. *orders.Store implements it.
type OrderStore interface {
	Create(ctx context.Context, order *orders.Order) error
	AttachPaymentSession(ctx context.Context, orderID, sessionID string) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	FindBySession(ctx context.Context, sessionID string) (*orders.Order, error)
	Complete(ctx context.Context, orderID, sessionID, payerID string) (*orders.Order, error)
	ClaimProvisioning(ctx context.Context, orderID string, lease time.Duration) error
	RecordProvisioning(ctx context.Context, orderID, status, detail string) error
	RecordNotification(ctx context.Context, orderID, status, detail string) error
}

// PaymentGateway opens and executes redirect payments. *payment.Client implements it.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error)
	Execute(ctx context.Context, sessionID, payerID string) (*payment.Execution, error)
}

// Notifier emails the customer. *notify.Mailer implements it.
type Notifier interface {
	SendConfirmation(ctx context.Context, c notify.Confirmation) error
}

// RetryQueue accepts paid orders whose remaining work must be retried. *aws.Publisher implements it.
type RetryQueue interface {
	Enqueue(ctx context.Context, msg aws.RetryMessage) error
}

// Metrics counts workflow outcomes. *aws.Metrics implements it.
type Metrics interface {
	Count(ctx context.Context, name string) error
}

// Metric names.
const (
	MetricOrderSubmitted     = "OrderSubmitted"
	MetricSessionFailed      = "PaymentSessionFailed"
	MetricPaymentConfirmed   = "PaymentConfirmed"
	MetricPaymentFailed      = "PaymentConfirmationFailed"
	MetricCompletionDeferred = "OrderCompletionDeferred"
	MetricProvisioned        = "VPSProvisioned"
	MetricProvisioningFailed = "VPSProvisioningFailed"
	MetricNotificationFailed = "NotificationFailed"
	MetricDuplicateCallback  = "DuplicateConfirmation"
	MetricUnknownSession     = "UnknownPaymentSession"
)

type nopMetrics struct{}

func (nopMetrics) Count(context.Context, string) error { return nil }

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, aws.RetryMessage) error { return nil }
