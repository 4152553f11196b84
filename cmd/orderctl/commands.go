package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/vps-orderflow/internal/aws"
	"github.com/imrishuroy/vps-orderflow/internal/orders"
	"github.com/imrishuroy/vps-orderflow/internal/pricing"
)

func pricesCmd(catalog *pricing.Catalog) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Print the offering catalog with computed prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			offers := catalog.Offerings()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), offers)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %-8s %10s\n", "PLAN", "LABEL", "PRICE")
			for _, o := range offers {
				fmt.Fprintf(out, "%-6s %-8s %6.2f %s\n", o.PlanIdentifier, o.Label, o.Price, pricing.Currency)
			}
			return nil
		},
	}

	cmd.Flags().BoolP("json", "j", false, "Output as JSON")

	return cmd
}

func orderCmd(load backendFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order [payment-session-id]",
		Short: "Show the order stored for a payment session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := load(cmd.Context())
			if err != nil {
				return err
			}
			byID, _ := cmd.Flags().GetBool("by-id")

			var order *orders.Order
			if byID {
				order, err = b.orders.Get(cmd.Context(), args[0])
			} else {
				order, err = b.orders.FindBySession(cmd.Context(), args[0])
			}
			if errors.Is(err, orders.ErrNotFound) {
				return fmt.Errorf("no order for %s", args[0])
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), order)
		},
	}

	cmd.Flags().Bool("by-id", false, "Treat the argument as an order id")

	return cmd
}

func reprovisionCmd(load backendFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reprovision [order-id]",
		Short: "Queue a completed order for another provisioning attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := load(cmd.Context())
			if err != nil {
				return err
			}
			order, err := b.orders.Get(cmd.Context(), args[0])
			if errors.Is(err, orders.ErrNotFound) {
				return fmt.Errorf("no order %s", args[0])
			}
			if err != nil {
				return err
			}
			if !order.NeedsProvisioning() {
				return fmt.Errorf("order %s does not need provisioning (status=%s, provisioning=%s)",
					order.OrderID, order.Status, order.ProvisioningStatus)
			}

			msg := aws.RetryMessage{
				Action:           aws.ActionProvision,
				OrderID:          order.OrderID,
				PaymentSessionID: order.PaymentSessionID,
				Reason:           "operator request",
			}
			if err := b.queue.Enqueue(cmd.Context(), msg); err != nil {
				return fmt.Errorf("enqueue order %s: %w", order.OrderID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", order.OrderID)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
