package handlers

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/vps-orderflow/internal/pricing"
	"github.com/imrishuroy/vps-orderflow/internal/validation"
	"github.com/imrishuroy/vps-orderflow/internal/workflow"
)

// OrderWorkflow is what the HTTP layer needs from the workflow controller.
type OrderWorkflow interface {
	SubmitOrder(ctx context.Context, in workflow.SubmitInput) (*workflow.Submission, error)
	ConfirmPayment(ctx context.Context, sessionID, payerID string) (*workflow.Confirmation, error)
	CancelPayment() string
	Offerings() []pricing.Offering
}

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Workflow     OrderWorkflow
	Plans        validation.PlanLookup
	Logger       *slog.Logger
	SupportEmail string // shown when the confirmation email could not be sent
}

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p><p><a href="/">Back to the shop</a></p></body></html>
`))

type pageData struct {
	Title   string
	Message string
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New(cfg.Plans)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.POST("/pay", func(c *gin.Context) {
		var req validation.SubmitOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}
		if req.Amount != nil {
			logger.Warn("ignoring client-supplied amount", "plan", req.PlanIdentifier, "amount", *req.Amount)
		}

		sub, err := cfg.Workflow.SubmitOrder(c.Request.Context(), workflow.SubmitInput{
			Email:          req.Email,
			PlanIdentifier: req.PlanIdentifier,
			OSImage:        req.OSImage,
		})
		if err != nil {
			var ve *workflow.ValidationError
			var ge *workflow.GatewayError
			switch {
			case errors.As(err, &ve):
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{ve.Field: ve.Reason}})
			case errors.As(err, &ge):
				c.JSON(http.StatusBadGateway, gin.H{"error": "payment_gateway_error", "detail": ge.Err.Error()})
			default:
				logger.Error("submit order", "err", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"approvalUrl": sub.ApprovalURL})
	})

	r.GET("/success", func(c *gin.Context) {
		var q validation.ConfirmPaymentQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}

		res, err := cfg.Workflow.ConfirmPayment(c.Request.Context(), q.PaymentID, q.PayerID)
		if err != nil {
			var ve *workflow.ValidationError
			var ge *workflow.GatewayError
			switch {
			case errors.Is(err, workflow.ErrOrderNotFound):
				renderPage(c, http.StatusNotFound, "Order not found", "We could not find an order for this payment. You have not been charged by us.")
			case errors.As(err, &ve):
				renderPage(c, http.StatusBadRequest, "Invalid request", ve.Error())
			case errors.As(err, &ge):
				renderPage(c, http.StatusBadGateway, "Payment error", "PayPal could not confirm your payment. Please try again.")
			default:
				logger.Error("confirm payment", "session_id", q.PaymentID, "err", err)
				renderPage(c, http.StatusInternalServerError, "Something went wrong", "Your payment is being checked. Our team will contact you.")
			}
			return
		}

		switch {
		case res.Reconciling:
			renderPage(c, http.StatusOK, "Payment received", "Your payment was received and your order is being processed. We will email you as soon as your VPS is ready.")
		case res.Provisioned && res.Notified:
			renderPage(c, http.StatusOK, "Thank you!", "We have emailed you the details of your VPS. Have a nice day!")
		case res.Provisioned:
			renderPage(c, http.StatusOK, "Thank you!", supportMessage(cfg.SupportEmail))
		default:
			renderPage(c, http.StatusOK, "Payment received", "Your payment is confirmed. Your VPS setup is taking longer than usual; we will email you as soon as it is ready.")
		}
	})

	r.GET("/cancel", func(c *gin.Context) {
		c.String(http.StatusOK, cfg.Workflow.CancelPayment())
	})

	r.GET("/api/vps-list", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.Workflow.Offerings())
	})
}

func supportMessage(support string) string {
	if support == "" {
		return "Your VPS is ready, but we could not send the confirmation email. Please contact support for your access details."
	}
	return "Your VPS is ready, but we could not send the confirmation email. Please contact " + support + " for your access details."
}

func renderPage(c *gin.Context, status int, title, message string) {
	var buf bytes.Buffer
	if err := resultPage.Execute(&buf, pageData{Title: title, Message: message}); err != nil {
		c.String(http.StatusInternalServerError, message)
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
