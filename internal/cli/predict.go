package cli

import (
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	predictProductID string
	predictDryRun    bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Regenerate forecasts from stored price history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Predict(cmd.Context(), app.PredictOptions{
			ProductID: predictProductID,
			DryRun:    predictDryRun,
		})
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictProductID, "product-id", "", "Only regenerate forecasts for this product")
	predictCmd.Flags().BoolVar(&predictDryRun, "dry-run", false, "List products without writing forecasts")
}
