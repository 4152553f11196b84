// Package config loads process settings from the environment and an optional
// config file named by CONFIG_FILE.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting used by the API, the worker and the CLI.
type Config struct {
	HTTPAddr string
	RunLocal bool
	SiteURL  string
	LogLevel slog.Level

	OrdersTable       string
	SessionIndex      string
	ProvisionQueueURL string
	MetricsNamespace  string

	PayPalMode         string
	PayPalClientID     string
	PayPalClientSecret string

	MailHost string
	MailPort int
	MailUser string
	MailPass string
	MailFrom string // display name

	SupportEmail string

	HostingerURL   string
	HostingerToken string

	HTTPTimeout       time.Duration
	PendingTTL        time.Duration
	ProvisionAttempts int
	ProvisionBackoff  time.Duration
	ProvisionLease    time.Duration
}

var defaults = map[string]any{
	"http_addr":            ":8080",
	"run_local":            false,
	"site_url":             "http://localhost:8080",
	"log_level":            "info",
	"orders_table":         "orders",
	"orders_session_index": "payment_session_id-index",
	"provision_queue_url":  "",
	"metrics_namespace":    "VPSOrderflow",
	"paypal_mode":          "sandbox",
	"mail_host":            "smtp.gmail.com",
	"mail_port":            587,
	"mail_from":            "VPS Orderflow",
	"support_email":        "",
	"hostinger_api_url":    "https://api.hostinger.com/v1",
	"http_timeout":         30 * time.Second,
	"pending_ttl":          72 * time.Hour,
	"provision_attempts":   3,
	"provision_backoff":    2 * time.Second,
	"provision_lease":      15 * time.Minute,
}

// Load reads configuration. Environment variables (upper-cased keys) win over
// the config file, which wins over defaults.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	for _, k := range []string{"paypal_client_id", "paypal_client_secret", "mail_user", "mail_pass", "hostinger_token"} {
		_ = v.BindEnv(k)
	}

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return Config{}, fmt.Errorf("parse log_level: %w", err)
	}

	support := v.GetString("support_email")
	if support == "" {
		support = v.GetString("mail_user")
	}

	return Config{
		HTTPAddr:           v.GetString("http_addr"),
		RunLocal:           v.GetBool("run_local"),
		SiteURL:            strings.TrimRight(v.GetString("site_url"), "/"),
		LogLevel:           level,
		OrdersTable:        v.GetString("orders_table"),
		SessionIndex:       v.GetString("orders_session_index"),
		ProvisionQueueURL:  v.GetString("provision_queue_url"),
		MetricsNamespace:   v.GetString("metrics_namespace"),
		PayPalMode:         v.GetString("paypal_mode"),
		PayPalClientID:     v.GetString("paypal_client_id"),
		PayPalClientSecret: v.GetString("paypal_client_secret"),
		MailHost:           v.GetString("mail_host"),
		MailPort:           v.GetInt("mail_port"),
		MailUser:           v.GetString("mail_user"),
		MailPass:           v.GetString("mail_pass"),
		MailFrom:           v.GetString("mail_from"),
		SupportEmail:       support,
		HostingerURL:       v.GetString("hostinger_api_url"),
		HostingerToken:     v.GetString("hostinger_token"),
		HTTPTimeout:        v.GetDuration("http_timeout"),
		PendingTTL:         v.GetDuration("pending_ttl"),
		ProvisionAttempts:  v.GetInt("provision_attempts"),
		ProvisionBackoff:   v.GetDuration("provision_backoff"),
		ProvisionLease:     v.GetDuration("provision_lease"),
	}, nil
}

// ValidateAPI reports settings the API process cannot run without.
func (c Config) ValidateAPI() error {
	var errs []error
	if c.SiteURL == "" {
		errs = append(errs, errors.New("SITE_URL is required"))
	}
	if c.OrdersTable == "" {
		errs = append(errs, errors.New("ORDERS_TABLE is required"))
	}
	if c.PayPalClientID == "" || c.PayPalClientSecret == "" {
		errs = append(errs, errors.New("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required"))
	}
	if c.MailUser == "" || c.MailPass == "" {
		errs = append(errs, errors.New("MAIL_USER and MAIL_PASS are required"))
	}
	errs = append(errs, c.validateProvisioning()...)
	return errors.Join(errs...)
}

// ValidateWorker reports settings the provisioning worker cannot run without.
func (c Config) ValidateWorker() error {
	errs := c.validateProvisioning()
	if c.OrdersTable == "" {
		errs = append(errs, errors.New("ORDERS_TABLE is required"))
	}
	return errors.Join(errs...)
}

func (c Config) validateProvisioning() []error {
	var errs []error
	if c.HostingerToken == "" {
		errs = append(errs, errors.New("HOSTINGER_TOKEN is required"))
	}
	if c.ProvisionAttempts < 1 {
		errs = append(errs, errors.New("PROVISION_ATTEMPTS must be at least 1"))
	}
	return errs
}
