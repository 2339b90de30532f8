package cli

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
	"price-tracker/internal/storage"
)

var (
	alertType      string
	alertThreshold string
	alertNoEmail   bool
	alertNoWeb     bool
	alertListFor   string
	alertSimPrice  string
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage price alerts",
}

var alertAddCmd = &cobra.Command{
	Use:   "add <product-id>",
	Short: "Create an alert on a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		threshold, err := decimal.NewFromString(alertThreshold)
		if err != nil {
			return fmt.Errorf("invalid --threshold value: %w", err)
		}
		alert, err := getApp().AddAlert(cmd.Context(), app.AddAlertOptions{
			ProductID: args[0],
			Kind:      storage.AlertKind(alertType),
			Threshold: threshold,
			Email:     !alertNoEmail,
			Web:       !alertNoWeb,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Alert %d created (%s at %s)\n", alert.ID, alert.Kind, alert.Threshold)
		return nil
	},
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowAlerts(cmd.Context(), app.ShowOptions{ProductID: alertListFor})
	},
}

var alertDisableCmd = &cobra.Command{
	Use:   "disable <alert-id>",
	Short: "Disable an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		return getApp().DisableAlert(cmd.Context(), id)
	},
}

var alertDeleteCmd = &cobra.Command{
	Use:   "delete <alert-id>",
	Short: "Delete an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		return getApp().DeleteAlert(cmd.Context(), id)
	},
}

var alertSimulateCmd = &cobra.Command{
	Use:   "simulate <alert-id>",
	Short: "Send a test notification for an alert without changing its state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		price, err := decimal.NewFromString(alertSimPrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}
		return getApp().SimulateAlert(cmd.Context(), id, price)
	},
}

func parseInt64(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}

func init() {
	alertAddCmd.Flags().StringVar(&alertType, "type", string(storage.AlertPriceDrop), "price_drop, price_increase or demand_spike")
	alertAddCmd.Flags().StringVar(&alertThreshold, "threshold", "", "Price threshold, or demand score within (0, 1]")
	alertAddCmd.Flags().BoolVar(&alertNoEmail, "no-email", false, "Disable email notification")
	alertAddCmd.Flags().BoolVar(&alertNoWeb, "no-web", false, "Disable web (Telegram) notification")
	_ = alertAddCmd.MarkFlagRequired("threshold")

	alertListCmd.Flags().StringVar(&alertListFor, "product-id", "", "Only list alerts of this product")

	alertSimulateCmd.Flags().StringVar(&alertSimPrice, "price", "", "Price to report in the test notification")
	_ = alertSimulateCmd.MarkFlagRequired("price")

	alertCmd.AddCommand(alertAddCmd, alertListCmd, alertDisableCmd, alertDeleteCmd, alertSimulateCmd)
}
