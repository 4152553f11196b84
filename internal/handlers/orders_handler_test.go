package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/vps-orderflow/internal/orders"
	"github.com/imrishuroy/vps-orderflow/internal/pricing"
	"github.com/imrishuroy/vps-orderflow/internal/web"
	"github.com/imrishuroy/vps-orderflow/internal/workflow"
)

type stubWorkflow struct {
	submitted  []workflow.SubmitInput
	submitErr  error
	confirmRes *workflow.Confirmation
	confirmErr error
	confirmed  []string
}

func (s *stubWorkflow) SubmitOrder(ctx context.Context, in workflow.SubmitInput) (*workflow.Submission, error) {
	s.submitted = append(s.submitted, in)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &workflow.Submission{OrderID: "o1", ApprovalURL: "https://paypal.example/approve", Amount: decimal.RequireFromString("4.39")}, nil
}

func (s *stubWorkflow) ConfirmPayment(ctx context.Context, sessionID, payerID string) (*workflow.Confirmation, error) {
	s.confirmed = append(s.confirmed, sessionID+"/"+payerID)
	return s.confirmRes, s.confirmErr
}

func (s *stubWorkflow) CancelPayment() string { return workflow.CancelMessage }

func (s *stubWorkflow) Offerings() []pricing.Offering { return pricing.DefaultCatalog().Offerings() }

func newTestRouter(wf *stubWorkflow) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterOrdersRoutes(r, HandlerConfig{
		Workflow:     wf,
		Plans:        pricing.DefaultCatalog(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		SupportEmail: "support@shop.example",
	})
	r.NoRoute(web.Fallback(web.Static()))
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPay_ReturnsApprovalURL(t *testing.T) {
	wf := &stubWorkflow{}
	w := do(newTestRouter(wf), http.MethodPost, "/pay", `{"email":"a@b.com","planIdentifier":"vps1","osImage":"debian12","amount":0.01}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://paypal.example/approve", body["approvalUrl"])

	require.Len(t, wf.submitted, 1)
	assert.Equal(t, workflow.SubmitInput{Email: "a@b.com", PlanIdentifier: "vps1", OSImage: "debian12"}, wf.submitted[0])
}

func TestPay_ValidationFailure(t *testing.T) {
	wf := &stubWorkflow{}
	w := do(newTestRouter(wf), http.MethodPost, "/pay", `{"email":"a@b.com","planIdentifier":"vps42","osImage":"debian12"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "planIdentifier")
	assert.Empty(t, wf.submitted)
}

func TestPay_MalformedBody(t *testing.T) {
	wf := &stubWorkflow{}
	w := do(newTestRouter(wf), http.MethodPost, "/pay", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_body")
}

func TestPay_GatewayError(t *testing.T) {
	wf := &stubWorkflow{submitErr: &workflow.GatewayError{Op: "create session", Err: errors.New("INTERNAL_SERVICE_ERROR")}}
	w := do(newTestRouter(wf), http.MethodPost, "/pay", `{"email":"a@b.com","planIdentifier":"vps1","osImage":"debian12"}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVICE_ERROR")
}

func TestPay_InternalError(t *testing.T) {
	wf := &stubWorkflow{submitErr: errors.New("dynamodb unavailable")}
	w := do(newTestRouter(wf), http.MethodPost, "/pay", `{"email":"a@b.com","planIdentifier":"vps1","osImage":"debian12"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "dynamodb")
}

func TestSuccess_Provisioned(t *testing.T) {
	wf := &stubWorkflow{confirmRes: &workflow.Confirmation{Order: &orders.Order{OrderID: "o1"}, Provisioned: true, Notified: true}}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S1&PayerID=P1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "emailed you")
	assert.Equal(t, []string{"S1/P1"}, wf.confirmed)
}

func TestSuccess_AlreadyCompleted(t *testing.T) {
	wf := &stubWorkflow{confirmRes: &workflow.Confirmation{
		Order:            &orders.Order{OrderID: "o1", Status: orders.StatusCompleted},
		AlreadyCompleted: true,
		Provisioned:      true,
		Notified:         true,
	}}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S1&PayerID=P1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Thank you")
	assert.Contains(t, w.Body.String(), "emailed you")
}

func TestSuccess_EmailFailedPointsToSupport(t *testing.T) {
	wf := &stubWorkflow{confirmRes: &workflow.Confirmation{Order: &orders.Order{OrderID: "o1"}, Provisioned: true}}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S1&PayerID=P1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "emailed you")
	assert.Contains(t, w.Body.String(), "support@shop.example")
}

func TestSuccess_Reconciling(t *testing.T) {
	wf := &stubWorkflow{confirmRes: &workflow.Confirmation{Order: &orders.Order{OrderID: "o1"}, Reconciling: true}}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S1&PayerID=P1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "being processed")
	assert.NotContains(t, w.Body.String(), "emailed you")
}

func TestSuccess_ProvisioningDelayedStillSucceeds(t *testing.T) {
	wf := &stubWorkflow{confirmRes: &workflow.Confirmation{Order: &orders.Order{OrderID: "o1"}}}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S1&PayerID=P1", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "payment is confirmed")
}

func TestSuccess_NotFound(t *testing.T) {
	wf := &stubWorkflow{confirmErr: workflow.ErrOrderNotFound}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S404&PayerID=P1", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), "Thank you")
}

func TestSuccess_GatewayFailure(t *testing.T) {
	wf := &stubWorkflow{confirmErr: &workflow.GatewayError{Op: "execute payment", Err: errors.New("timeout")}}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S1&PayerID=P1", "")

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSuccess_MissingQuery(t *testing.T) {
	wf := &stubWorkflow{}
	w := do(newTestRouter(wf), http.MethodGet, "/success?paymentId=S1", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, wf.confirmed)
}

func TestCancel(t *testing.T) {
	w := do(newTestRouter(&stubWorkflow{}), http.MethodGet, "/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.CancelMessage, w.Body.String())
}

func TestVPSList(t *testing.T) {
	w := do(newTestRouter(&stubWorkflow{}), http.MethodGet, "/api/vps-list", "")
	require.Equal(t, http.StatusOK, w.Code)

	var offers []pricing.Offering
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &offers))
	require.Len(t, offers, 4)
	assert.Equal(t, "vps1", offers[0].PlanIdentifier)
	assert.Equal(t, 4.39, offers[0].Price)
}

func TestFallback_ServesLandingPage(t *testing.T) {
	r := newTestRouter(&stubWorkflow{})
	for _, path := range []string{"/", "/some/client/route"} {
		w := do(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), "Order a VPS", path)
	}

	w := do(r, http.MethodPost, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
