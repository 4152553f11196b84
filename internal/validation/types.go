package validation

// SubmitOrderRequest is the payload for POST /pay
type SubmitOrderRequest struct {
	Email          string `json:"email" validate:"required,email,max=254"`
	PlanIdentifier string `json:"planIdentifier" validate:"required,max=32"`
	OSImage        string `json:"osImage" validate:"required,max=64,osimage"`

	// Amount is accepted for compatibility with older clients and never trusted;
	// the charged amount is always computed from the plan.
	Amount *float64 `json:"amount,omitempty" validate:"-"`
}

// ConfirmPaymentQuery is the query string PayPal appends to the return URL.
type ConfirmPaymentQuery struct {
	PaymentID string `form:"paymentId" validate:"required,max=128"`
	PayerID   string `form:"PayerID" validate:"required,max=128"`
	Token     string `form:"token"`
}
