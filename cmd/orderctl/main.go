package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/vps-orderflow/internal/app"
	"github.com/imrishuroy/vps-orderflow/internal/aws"
	"github.com/imrishuroy/vps-orderflow/internal/config"
	"github.com/imrishuroy/vps-orderflow/internal/orders"
	"github.com/imrishuroy/vps-orderflow/internal/pricing"
)

var Version = "dev"

type orderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	FindBySession(ctx context.Context, sessionID string) (*orders.Order, error)
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, msg aws.RetryMessage) error
}

// backend is built lazily so commands that need no AWS access never load it.
type backend struct {
	orders orderReader
	queue  retryEnqueuer
}

type backendFunc func(ctx context.Context) (*backend, error)

func main() {
	if err := newRootCmd(pricing.DefaultCatalog(), loadBackend).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadBackend(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, app.NewLogger(cfg.LogLevel, "orderctl"), "orderctl")
	if err != nil {
		return nil, err
	}
	return &backend{orders: a.Store, queue: a.Publisher}, nil
}

func newRootCmd(catalog *pricing.Catalog, load backendFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "orderctl",
		Short:         "Operator tooling for the VPS order backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(pricesCmd(catalog))
	rootCmd.AddCommand(orderCmd(load))
	rootCmd.AddCommand(reprovisionCmd(load))

	return rootCmd
}
