package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	showLimit     int
	showProductID string
	showOwner     string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display products, scrape attempts, forecasts, or alerts",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return nil
	},
}

func showOptions() app.ShowOptions {
	return app.ShowOptions{ProductID: showProductID, OwnerID: showOwner, Limit: showLimit}
}

var showProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "Display tracked products with their 30 day price change",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowProducts(cmd.Context(), showOptions())
	},
}

var showAttemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Display recent scrape attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowAttempts(cmd.Context(), showOptions())
	},
}

var showForecastsCmd = &cobra.Command{
	Use:   "forecasts",
	Short: "Display upcoming forecasts of a product",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowForecasts(cmd.Context(), showOptions())
	},
}

var showAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowAlerts(cmd.Context(), showOptions())
	},
}

func init() {
	showCmd.PersistentFlags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.PersistentFlags().StringVar(&showProductID, "product-id", "", "Restrict to one product")
	showCmd.PersistentFlags().StringVar(&showOwner, "owner", "", "Restrict products to one owner")

	showCmd.AddCommand(showProductsCmd, showAttemptsCmd, showForecastsCmd, showAlertsCmd)
}
