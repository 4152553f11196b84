package orders

import "time"

// Order statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Provisioning outcomes recorded after payment.
const (
	ProvisioningInProgress  = "provisioning"
	ProvisioningProvisioned = "provisioned"
	ProvisioningFailed      = "failed"
)

// Notification outcomes recorded after payment.
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID          string  `dynamodbav:"order_id" json:"orderId"` // PK
	Email            string  `dynamodbav:"email" json:"email"`
	Amount           float64 `dynamodbav:"amount" json:"amount"`
	Currency         string  `dynamodbav:"currency" json:"currency"`
	PlanIdentifier   string  `dynamodbav:"plan_identifier" json:"planIdentifier"`
	OSImage          string  `dynamodbav:"os_image" json:"osImage"`
	Status           string  `dynamodbav:"status" json:"status"`                                           // pending | completed
	PaymentSessionID string  `dynamodbav:"payment_session_id,omitempty" json:"paymentSessionId,omitempty"` // GSI key
	PayerID          string  `dynamodbav:"payer_id,omitempty" json:"payerId,omitempty"`

	ProvisioningStatus   string `dynamodbav:"provisioning_status,omitempty" json:"provisioningStatus,omitempty"`
	ProvisioningAttempts int    `dynamodbav:"provisioning_attempts,omitempty" json:"provisioningAttempts,omitempty"`
	ProvisioningError    string `dynamodbav:"provisioning_error,omitempty" json:"provisioningError,omitempty"`
	ProvisioningLease    int64  `dynamodbav:"provisioning_lease,omitempty" json:"-"` // epoch seconds the current claim holds until
	InstanceID           string `dynamodbav:"instance_id,omitempty" json:"instanceId,omitempty"`

	NotificationStatus string `dynamodbav:"notification_status,omitempty" json:"notificationStatus,omitempty"`
	NotificationError  string `dynamodbav:"notification_error,omitempty" json:"notificationError,omitempty"`

	CreatedAt time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updatedAt"`
	ExpiresAt int64     `dynamodbav:"expires_at,omitempty" json:"-"` // TTL epoch seconds while pending
}

// NeedsProvisioning reports whether a paid order has no running instance yet.
func (o *Order) NeedsProvisioning() bool {
	return o.Status == StatusCompleted && o.ProvisioningStatus != ProvisioningProvisioned
}
