package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// ---- Server Commands ----

func healthCmd(c *CLI) *cobra.Command {
	return &cobra.Command{
		Use:       "health [live|ready|full]",
		Short:     "Check server health",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"live", "ready", "full"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := "full"
			if len(args) > 0 {
				sub = args[0]
			}

			var path string
			switch sub {
			case "live":
				path = "/healthz"
			case "ready":
				path = "/ready"
			case "full":
				path = "/health"
			default:
				return fmt.Errorf("unknown health subcommand: %s", sub)
			}

			resp, err := c.get(cmd.Context(), path)
			if err != nil {
				return err
			}
			return prettyPrint(cmd.OutOrStdout(), resp)
		},
	}
}

func issueCmd(c *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <order-id>",
		Short: "Request a pickup token for an order (--token is the session id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			resp, err := c.post(cmd.Context(), "/api/v1/pickup/token", map[string]int64{"orderId": orderID})
			if err != nil {
				return err
			}
			return prettyPrint(cmd.OutOrStdout(), resp)
		},
	}
}

func verifyCmd(c *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <pickup-token>",
		Short: "Verify a pickup token (--token is the device credential)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.post(cmd.Context(), "/api/v1/pickup/verify", map[string]string{"pickupToken": args[0]})
			if err != nil {
				return err
			}
			return prettyPrint(cmd.OutOrStdout(), resp)
		},
	}
}

func ordersCmd(c *CLI) *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List the orders visible to the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(limit))
			resp, err := c.get(cmd.Context(), "/api/v1/orders?"+q.Encode())
			if err != nil {
				return err
			}
			return prettyPrint(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "orders per page")
	return cmd
}
