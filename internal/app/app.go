// Package app builds the shared object graph used by the API, the worker and
// the operator CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/imrishuroy/vps-orderflow/internal/aws"
	"github.com/imrishuroy/vps-orderflow/internal/config"
	"github.com/imrishuroy/vps-orderflow/internal/notify"
	"github.com/imrishuroy/vps-orderflow/internal/orders"
	"github.com/imrishuroy/vps-orderflow/internal/payment"
	"github.com/imrishuroy/vps-orderflow/internal/pricing"
	"github.com/imrishuroy/vps-orderflow/internal/provisioning"
	"github.com/imrishuroy/vps-orderflow/internal/workflow"
)

// App holds the wired components.
type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Catalog    *pricing.Catalog
	Store      *orders.Store
	Publisher  *aws.Publisher
	Controller *workflow.Controller
}

// NewLogger returns the JSON logger every process writes to stdout.
func NewLogger(level slog.Level, service string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("service", service)
}

// New builds the AWS clients once and hands them to the store, the retry
// queue and the metrics publisher.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, service string) (*App, error) {
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}

	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.MailHost,
		Port:     cfg.MailPort,
		Username: cfg.MailUser,
		Password: cfg.MailPass,
		FromName: cfg.MailFrom,
		Timeout:  cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init mailer: %w", err)
	}

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	gateway := payment.NewClient(payment.Config{
		Mode:         cfg.PayPalMode,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		HTTPClient:   hc,
	})
	provisioner := provisioning.NewRetrying(
		provisioning.NewHostinger(cfg.HostingerURL, cfg.HostingerToken, hc),
		cfg.ProvisionAttempts, cfg.ProvisionBackoff, logger,
	)

	catalog := pricing.DefaultCatalog()
	store := orders.NewStore(clients.DynamoDB, cfg.OrdersTable, cfg.SessionIndex, cfg.PendingTTL)
	publisher := aws.NewPublisher(clients.SQS, cfg.ProvisionQueueURL)

	deps := workflow.Dependencies{
		Store:       store,
		Gateway:     gateway,
		Provisioner: provisioner,
		Notifier:    mailer,
		Metrics:     aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace, service),
		Catalog:     catalog,
		Logger:      logger,
	}
	if cfg.ProvisionQueueURL != "" {
		deps.Retries = publisher
	} else {
		logger.Warn("PROVISION_QUEUE_URL not set; failed provisioning will not be retried")
	}

	controller := workflow.NewController(deps, workflow.Options{
		SiteURL:        cfg.SiteURL,
		SupportEmail:   cfg.SupportEmail,
		StepTimeout:    cfg.HTTPTimeout,
		ProvisionLease: cfg.ProvisionLease,
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		Catalog:    catalog,
		Store:      store,
		Publisher:  publisher,
		Controller: controller,
	}, nil
}
