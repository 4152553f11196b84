package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/imrishuroy/vps-orderflow/internal/aws"
	"github.com/imrishuroy/vps-orderflow/internal/notify"
	"github.com/imrishuroy/vps-orderflow/internal/orders"
	"github.com/imrishuroy/vps-orderflow/internal/payment"
	"github.com/imrishuroy/vps-orderflow/internal/provisioning"
)

// memStore mirrors the conditional semantics of orders.Store.
type memStore struct {
	mu     sync.Mutex
	orders map[string]orders.Order

	completeErrs []error // returned by successive Complete calls before the write is applied
	afterFind    func()  // runs after FindBySession, outside the lock
}

func newMemStore() *memStore { return &memStore{orders: map[string]orders.Order{}} }

func (s *memStore) Create(ctx context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; ok {
		return errors.New("duplicate")
	}
	s.orders[o.OrderID] = *o
	return nil
}

func (s *memStore) AttachPaymentSession(ctx context.Context, orderID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.PaymentSessionID != "" {
		return orders.ErrSessionAssigned
	}
	o.PaymentSessionID = sessionID
	s.orders[orderID] = o
	return nil
}

func (s *memStore) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

func (s *memStore) FindBySession(ctx context.Context, sessionID string) (*orders.Order, error) {
	o, err := s.findBySession(sessionID)
	if s.afterFind != nil {
		s.afterFind()
	}
	return o, err
}

func (s *memStore) findBySession(sessionID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PaymentSessionID == sessionID {
			return &o, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (s *memStore) Complete(ctx context.Context, orderID, sessionID, payerID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.completeErrs) > 0 {
		err := s.completeErrs[0]
		s.completeErrs = s.completeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	o, ok := s.orders[orderID]
	if !ok || o.Status != orders.StatusPending || o.PaymentSessionID != sessionID {
		return nil, orders.ErrStatusMismatch
	}
	o.Status = orders.StatusCompleted
	o.PayerID = payerID
	s.orders[orderID] = o
	return &o, nil
}

func (s *memStore) ClaimProvisioning(ctx context.Context, orderID string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	now := time.Now()
	if !ok || o.Status != orders.StatusCompleted || o.ProvisioningStatus == orders.ProvisioningProvisioned ||
		(o.ProvisioningLease != 0 && o.ProvisioningLease >= now.Unix()) {
		return orders.ErrProvisioningClaimed
	}
	o.ProvisioningStatus = orders.ProvisioningInProgress
	o.ProvisioningLease = now.Add(lease).Unix()
	s.orders[orderID] = o
	return nil
}

func (s *memStore) RecordProvisioning(ctx context.Context, orderID, status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.ProvisioningStatus = status
	o.ProvisioningLease = 0
	o.ProvisioningAttempts++
	if status == orders.ProvisioningProvisioned {
		o.InstanceID, o.ProvisioningError = detail, ""
	} else {
		o.ProvisioningError = detail
	}
	s.orders[orderID] = o
	return nil
}

func (s *memStore) RecordNotification(ctx context.Context, orderID, status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.NotificationStatus, o.NotificationError = status, detail
	s.orders[orderID] = o
	return nil
}

func (s *memStore) all() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out
}

type fakeGateway struct {
	mu         sync.Mutex
	createErr  error
	executeErr error
	created    []payment.SessionRequest
	executed   []string
	onCreate   func()
	nextID     string

	// rejectRepeat makes a second execute of a payment fail the way PayPal does
	rejectRepeat bool
	done         map[string]bool
}

func (g *fakeGateway) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	if g.onCreate != nil {
		g.onCreate()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	id := g.nextID
	if id == "" {
		id = "PAY-1"
	}
	return &payment.Session{ID: id, ApprovalURL: "https://paypal.example/approve?token=" + id}, nil
}

func (g *fakeGateway) Execute(ctx context.Context, sessionID, payerID string) (*payment.Execution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executed = append(g.executed, sessionID+"/"+payerID)
	if g.executeErr != nil {
		return nil, g.executeErr
	}
	if g.rejectRepeat {
		if g.done[sessionID] {
			return nil, &payment.APIError{StatusCode: http.StatusBadRequest, Name: "PAYMENT_ALREADY_DONE", Message: "Payment has been done already for this cart."}
		}
		if g.done == nil {
			g.done = map[string]bool{}
		}
		g.done[sessionID] = true
	}
	return &payment.Execution{ID: sessionID, State: "approved"}, nil
}

type fakeProvisioner struct {
	mu    sync.Mutex
	err   error
	calls []provisioning.Request
}

func (p *fakeProvisioner) Create(ctx context.Context, req provisioning.Request) (*provisioning.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	return &provisioning.Instance{ID: "vm-1"}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []notify.Confirmation
}

func (n *fakeNotifier) SendConfirmation(ctx context.Context, c notify.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return n.err
}

type fakeQueue struct {
	mu   sync.Mutex
	err  error
	msgs []aws.RetryMessage
}

func (q *fakeQueue) Enqueue(ctx context.Context, msg aws.RetryMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return q.err
}

type harness struct {
	ctrl     *Controller
	store    *memStore
	gateway  *fakeGateway
	provider *fakeProvisioner
	notifier *fakeNotifier
	queue    *fakeQueue
}

func newHarness() *harness {
	h := &harness{
		store:    newMemStore(),
		gateway:  &fakeGateway{},
		provider: &fakeProvisioner{},
		notifier: &fakeNotifier{},
		queue:    &fakeQueue{},
	}
	h.ctrl = NewController(Dependencies{
		Store:       h.store,
		Gateway:     h.gateway,
		Provisioner: h.provider,
		Notifier:    h.notifier,
		Retries:     h.queue,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{SiteURL: "https://shop.example/", SupportEmail: "support@shop.example"})
	h.ctrl.completeBackoff = time.Millisecond
	return h
}

// seedPending stores a pending order that already has a payment session.
func (h *harness) seedPending(orderID, sessionID string) {
	_ = h.store.Create(context.Background(), &orders.Order{
		OrderID:          orderID,
		Email:            "a@b.com",
		Amount:           4.39,
		Currency:         "USD",
		PlanIdentifier:   "vps1",
		OSImage:          "debian12",
		Status:           orders.StatusPending,
		PaymentSessionID: sessionID,
	})
}
