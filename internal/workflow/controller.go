// Package workflow sequences the order lifecycle: pending order, payment
// session, confirmation, provisioning and customer notification.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/vps-orderflow/internal/aws"
	"github.com/imrishuroy/vps-orderflow/internal/notify"
	"github.com/imrishuroy/vps-orderflow/internal/orders"
	"github.com/imrishuroy/vps-orderflow/internal/payment"
	"github.com/imrishuroy/vps-orderflow/internal/pricing"
	"github.com/imrishuroy/vps-orderflow/internal/provisioning"
)

// CancelMessage is returned when the buyer abandons checkout at the gateway.
const CancelMessage = "Payment cancelled."

// DefaultStepTimeout bounds each gateway and mail call.
const DefaultStepTimeout = 30 * time.Second

// DefaultProvisionLease is how long a provisioning claim holds an order.
const DefaultProvisionLease = 15 * time.Minute

// completion writes after a charge are retried this many times
const completeRetries = 2

// Dependencies groups the collaborators of a Controller. Retries and Metrics may be nil.
type Dependencies struct {
	Store       OrderStore
	Gateway     PaymentGateway
	Provisioner provisioning.Provisioner
	Notifier    Notifier
	Retries     RetryQueue
	Metrics     Metrics
	Catalog     *pricing.Catalog
	Logger      *slog.Logger
}

// Options tunes a Controller.
type Options struct {
	SiteURL        string // public origin used for the gateway callbacks
	SupportEmail   string
	StepTimeout    time.Duration
	ProvisionLease time.Duration // must outlast a full provisioning run including retries
}

// Controller runs the order workflow.
type Controller struct {
	store       OrderStore
	gateway     PaymentGateway
	provisioner provisioning.Provisioner
	notifier    Notifier
	retries     RetryQueue
	metrics     Metrics
	catalog     *pricing.Catalog
	logger      *slog.Logger

	siteURL         string
	support         string
	stepTimeout     time.Duration
	provisionLease  time.Duration
	completeBackoff time.Duration
	newID           func() string
}

// NewController wires a Controller.
func NewController(deps Dependencies, opts Options) *Controller {
	c := &Controller{
		store:       deps.Store,
		gateway:     deps.Gateway,
		provisioner: deps.Provisioner,
		notifier:    deps.Notifier,
		retries:     deps.Retries,
		metrics:     deps.Metrics,
		catalog:     deps.Catalog,
		logger:      deps.Logger,

		siteURL:         strings.TrimRight(opts.SiteURL, "/"),
		support:         opts.SupportEmail,
		stepTimeout:     opts.StepTimeout,
		provisionLease:  opts.ProvisionLease,
		completeBackoff: 200 * time.Millisecond,
		newID:           uuid.NewString,
	}
	if c.retries == nil {
		c.retries = nopQueue{}
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.catalog == nil {
		c.catalog = pricing.DefaultCatalog()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.stepTimeout <= 0 {
		c.stepTimeout = DefaultStepTimeout
	}
	if c.provisionLease <= 0 {
		c.provisionLease = DefaultProvisionLease
	}
	return c
}

// SubmitInput is a purchase request. The price is never taken from the client.
type SubmitInput struct {
	Email          string
	PlanIdentifier string
	OSImage        string
}

// Submission is the result of a successful SubmitOrder.
type Submission struct {
	OrderID     string
	ApprovalURL string
	Amount      decimal.Decimal
}

// SubmitOrder persists a pending order and opens a payment session for it.
// A gateway failure leaves the pending order in place; it expires via TTL.
func (c *Controller) SubmitOrder(ctx context.Context, in SubmitInput) (*Submission, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.PlanIdentifier = strings.TrimSpace(in.PlanIdentifier)
	in.OSImage = strings.TrimSpace(in.OSImage)
	switch {
	case in.Email == "":
		return nil, &ValidationError{Field: "email", Reason: "required"}
	case in.PlanIdentifier == "":
		return nil, &ValidationError{Field: "planIdentifier", Reason: "required"}
	case in.OSImage == "":
		return nil, &ValidationError{Field: "osImage", Reason: "required"}
	}

	plan, ok := c.catalog.Lookup(in.PlanIdentifier)
	if !ok {
		return nil, &ValidationError{Field: "planIdentifier", Reason: "unknown plan"}
	}
	amount, err := c.catalog.Price(plan.Identifier)
	if err != nil {
		return nil, fmt.Errorf("price plan: %w", err)
	}

	order := &orders.Order{
		OrderID:        c.newID(),
		Email:          in.Email,
		Amount:         amount.InexactFloat64(),
		Currency:       pricing.Currency,
		PlanIdentifier: plan.Identifier,
		OSImage:        in.OSImage,
		Status:         orders.StatusPending,
	}
	if err := c.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	c.count(ctx, MetricOrderSubmitted)
	log := c.logger.With("order_id", order.OrderID, "plan", plan.Identifier)

	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	session, err := c.gateway.CreateSession(stepCtx, payment.SessionRequest{
		Item: payment.Item{
			Name:     plan.Label,
			SKU:      plan.Identifier,
			Price:    amount.StringFixed(2),
			Currency: pricing.Currency,
			Quantity: 1,
		},
		Description: fmt.Sprintf("VPS %s (%s)", plan.Label, in.OSImage),
		ReturnURL:   c.siteURL + "/success",
		CancelURL:   c.siteURL + "/cancel",
	})
	cancel()
	if err != nil {
		log.Warn("payment session failed", "err", err)
		c.count(ctx, MetricSessionFailed)
		return nil, &GatewayError{Op: "create session", Err: err}
	}

	if err := c.store.AttachPaymentSession(ctx, order.OrderID, session.ID); err != nil {
		return nil, fmt.Errorf("attach payment session: %w", err)
	}
	log.Info("order submitted", "session_id", session.ID, "amount", amount.StringFixed(2))

	return &Submission{OrderID: order.OrderID, ApprovalURL: session.ApprovalURL, Amount: amount}, nil
}

// Confirmation is the outcome of ConfirmPayment.
type Confirmation struct {
	Order            *orders.Order
	AlreadyCompleted bool // a previous callback already completed the order
	Reconciling      bool // charged, but the order update was deferred to the worker
	Provisioned      bool
	Notified         bool
}

func alreadyCompleted(o *orders.Order) *Confirmation {
	return &Confirmation{
		Order:            o,
		AlreadyCompleted: true,
		Provisioned:      o.ProvisioningStatus == orders.ProvisioningProvisioned,
		Notified:         o.NotificationStatus == orders.NotificationSent,
	}
}

// ConfirmPayment executes the approved payment for sessionID, completes the
// order, provisions the VPS and emails the customer. Provisioning and email
// failures are recorded on the order and never turn the result into an error.
// Repeated or concurrent callbacks for the same session run the side effects once.
func (c *Controller) ConfirmPayment(ctx context.Context, sessionID, payerID string) (*Confirmation, error) {
	if sessionID == "" {
		return nil, &ValidationError{Field: "paymentId", Reason: "required"}
	}
	if payerID == "" {
		return nil, &ValidationError{Field: "PayerID", Reason: "required"}
	}
	log := c.logger.With("session_id", sessionID)

	order, err := c.store.FindBySession(ctx, sessionID)
	if errors.Is(err, orders.ErrNotFound) {
		log.Warn("confirmation for unknown payment session")
		c.count(ctx, MetricUnknownSession)
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	log = log.With("order_id", order.OrderID)

	if order.Status == orders.StatusCompleted {
		log.Info("order already completed, skipping")
		c.count(ctx, MetricDuplicateCallback)
		return alreadyCompleted(order), nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	_, err = c.gateway.Execute(stepCtx, sessionID, payerID)
	cancel()
	if err != nil {
		// a concurrent callback may have executed and completed it meanwhile
		if current := c.completedBy(ctx, order.OrderID, sessionID, log); current != nil {
			log.Info("order completed by a concurrent confirmation", "execute_err", err)
			c.count(ctx, MetricDuplicateCallback)
			return alreadyCompleted(current), nil
		}
		if !payment.IsAlreadyExecuted(err) {
			log.Warn("payment execution failed", "err", err)
			c.count(ctx, MetricPaymentFailed)
			return nil, &GatewayError{Op: "execute payment", Err: err}
		}
		log.Warn("payment already executed, completing order", "err", err)
	}

	// The customer has been charged; finish even if the callback request goes away.
	ctx = context.WithoutCancel(ctx)

	updated, err := c.complete(ctx, order.OrderID, sessionID, payerID)
	if errors.Is(err, orders.ErrStatusMismatch) {
		log.Info("order completed by a concurrent confirmation")
		c.count(ctx, MetricDuplicateCallback)
		if current := c.completedBy(ctx, order.OrderID, sessionID, log); current != nil {
			order = current
		}
		return alreadyCompleted(order), nil
	}
	if err != nil {
		log.Error("payment executed but order not completed", "payer_id", payerID, "err", err)
		c.count(ctx, MetricCompletionDeferred)
		msg := aws.RetryMessage{
			Action:           aws.ActionComplete,
			OrderID:          order.OrderID,
			PaymentSessionID: sessionID,
			PayerID:          payerID,
			Reason:           err.Error(),
		}
		if qerr := c.retries.Enqueue(ctx, msg); qerr != nil {
			log.Error("enqueue order completion failed, reconcile manually", "payer_id", payerID, "err", qerr)
		}
		return &Confirmation{Order: order, Reconciling: true}, nil
	}
	c.count(ctx, MetricPaymentConfirmed)
	log.Info("payment confirmed", "payer_id", payerID)

	res := &Confirmation{Order: updated}
	res.Provisioned = c.provision(ctx, updated, true) == nil
	res.Notified = c.notify(ctx, updated)
	return res, nil
}

// CompletePayment records a payment that was executed but whose completion
// write failed, then provisions the VPS and emails the customer. It is safe to
// repeat: an order that is already completed only gets its provisioning retried.
func (c *Controller) CompletePayment(ctx context.Context, orderID, sessionID, payerID string) error {
	if sessionID == "" || payerID == "" {
		return &ValidationError{Field: "payment_session_id", Reason: "session and payer are required"}
	}
	log := c.logger.With("order_id", orderID, "session_id", sessionID)

	updated, err := c.complete(ctx, orderID, sessionID, payerID)
	if errors.Is(err, orders.ErrStatusMismatch) {
		log.Info("order already completed")
		return c.RetryProvisioning(ctx, orderID)
	}
	if err != nil {
		return fmt.Errorf("complete order %s: %w", orderID, err)
	}
	c.count(ctx, MetricPaymentConfirmed)
	log.Info("deferred payment completion recorded", "payer_id", payerID)

	perr := c.provision(ctx, updated, false)
	c.notify(ctx, updated)
	if perr != nil && !errors.Is(perr, orders.ErrProvisioningClaimed) {
		return fmt.Errorf("provision order %s: %w", orderID, perr)
	}
	return nil
}

// complete retries transient store failures; a status mismatch is final.
func (c *Controller) complete(ctx context.Context, orderID, sessionID, payerID string) (*orders.Order, error) {
	var updated *orders.Order
	op := func() error {
		var err error
		updated, err = c.store.Complete(ctx, orderID, sessionID, payerID)
		if errors.Is(err, orders.ErrStatusMismatch) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.completeBackoff), completeRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return updated, nil
}

// completedBy re-reads the order and returns it if it is completed for sessionID.
func (c *Controller) completedBy(ctx context.Context, orderID, sessionID string, log *slog.Logger) *orders.Order {
	current, err := c.store.Get(ctx, orderID)
	if err != nil {
		log.Warn("re-read order failed", "err", err)
		return nil
	}
	if current.Status == orders.StatusCompleted && current.PaymentSessionID == sessionID {
		return current
	}
	return nil
}

// RetryProvisioning provisions a paid order whose earlier attempt failed.
// Orders that are unpaid or already provisioned are left alone.
func (c *Controller) RetryProvisioning(ctx context.Context, orderID string) error {
	order, err := c.store.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if !order.NeedsProvisioning() {
		c.logger.Info("order needs no provisioning", "order_id", orderID, "status", order.Status, "provisioning_status", order.ProvisioningStatus)
		return nil
	}
	err = c.provision(ctx, order, false)
	if errors.Is(err, orders.ErrProvisioningClaimed) {
		// done by someone else, or still held; a held claim is retried on redelivery
		if current, gerr := c.store.Get(ctx, orderID); gerr == nil && !current.NeedsProvisioning() {
			return nil
		}
		return fmt.Errorf("retry provisioning %s: %w", orderID, err)
	}
	if err != nil {
		return fmt.Errorf("retry provisioning %s: %w", orderID, err)
	}
	return nil
}

// CancelPayment acknowledges an abandoned checkout. No order is touched.
func (c *Controller) CancelPayment() string {
	return CancelMessage
}

// Offerings lists the catalog with computed prices.
func (c *Controller) Offerings() []pricing.Offering {
	return c.catalog.Offerings()
}

// provision claims the order, creates the VPS and records the outcome on
// order. It returns orders.ErrProvisioningClaimed when another caller holds
// the claim or the order is already provisioned. When enqueue is set, a
// failure is handed to the retry queue.
func (c *Controller) provision(ctx context.Context, order *orders.Order, enqueue bool) error {
	log := c.logger.With("order_id", order.OrderID, "plan", order.PlanIdentifier)

	if err := c.store.ClaimProvisioning(ctx, order.OrderID, c.provisionLease); err != nil {
		if errors.Is(err, orders.ErrProvisioningClaimed) {
			log.Info("provisioning claimed elsewhere or already done")
			return err
		}
		log.Error("claim provisioning", "err", err)
		c.requeue(ctx, order, err, enqueue, log)
		return fmt.Errorf("claim provisioning: %w", err)
	}

	inst, err := c.provisioner.Create(ctx, provisioning.Request{
		OrderID: order.OrderID,
		Plan:    order.PlanIdentifier,
		OSImage: order.OSImage,
		Email:   order.Email,
	})
	if err != nil {
		log.Error("vps provisioning failed", "err", err)
		c.count(ctx, MetricProvisioningFailed)
		order.ProvisioningStatus = orders.ProvisioningFailed
		order.ProvisioningError = err.Error()
		if rerr := c.store.RecordProvisioning(ctx, order.OrderID, orders.ProvisioningFailed, err.Error()); rerr != nil {
			log.Error("record provisioning failure", "err", rerr)
		}
		c.requeue(ctx, order, err, enqueue, log)
		return err
	}

	order.ProvisioningStatus = orders.ProvisioningProvisioned
	order.InstanceID = inst.ID
	order.ProvisioningError = ""
	if rerr := c.store.RecordProvisioning(ctx, order.OrderID, orders.ProvisioningProvisioned, inst.ID); rerr != nil {
		log.Error("record provisioning success", "instance_id", inst.ID, "err", rerr)
	}
	c.count(ctx, MetricProvisioned)
	log.Info("vps provisioned", "instance_id", inst.ID)
	return nil
}

func (c *Controller) requeue(ctx context.Context, order *orders.Order, cause error, enqueue bool, log *slog.Logger) {
	if !enqueue {
		return
	}
	msg := aws.RetryMessage{Action: aws.ActionProvision, OrderID: order.OrderID, PaymentSessionID: order.PaymentSessionID, Reason: cause.Error()}
	if err := c.retries.Enqueue(ctx, msg); err != nil {
		log.Error("enqueue provisioning retry", "err", err)
	}
}

func (c *Controller) notify(ctx context.Context, order *orders.Order) bool {
	log := c.logger.With("order_id", order.OrderID)

	label := order.PlanIdentifier
	if plan, ok := c.catalog.Lookup(order.PlanIdentifier); ok {
		label = plan.Label
	}
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	err := c.notifier.SendConfirmation(stepCtx, notify.Confirmation{
		OrderID: order.OrderID,
		Email:   order.Email,
		Plan:    label,
		OSImage: order.OSImage,
		Amount:  decimal.NewFromFloat(order.Amount).StringFixed(2) + " " + order.Currency,
		Support: c.support,
	})
	cancel()

	status, detail := orders.NotificationSent, ""
	if err != nil {
		log.Error("confirmation email failed", "err", err)
		c.count(ctx, MetricNotificationFailed)
		status, detail = orders.NotificationFailed, err.Error()
	}
	order.NotificationStatus = status
	order.NotificationError = detail
	if rerr := c.store.RecordNotification(ctx, order.OrderID, status, detail); rerr != nil {
		log.Error("record notification outcome", "err", rerr)
	}
	return err == nil
}

func (c *Controller) count(ctx context.Context, name string) {
	if err := c.metrics.Count(ctx, name); err != nil {
		c.logger.Debug("metric publish failed", "metric", name, "err", err)
	}
}
