package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"price-tracker/internal/service"
)

var (
	updateProductID       string
	updateForce           bool
	updateDryRun          bool
	updateSkipPredictions bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update prices for active products and generate predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := service.UpdateOptions{
			Force:           updateForce,
			DryRun:          updateDryRun,
			SkipPredictions: updateSkipPredictions,
		}
		if updateProductID != "" {
			id, err := uuid.Parse(updateProductID)
			if err != nil {
				return err
			}
			opts.ProductID = id
		}

		_, err := getApp().Update(cmd.Context(), opts)
		return err
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateProductID, "product-id", "", "Update a specific product by ID")
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "Force update even if recently updated")
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "Show what would be updated without making changes")
	updateCmd.Flags().BoolVar(&updateSkipPredictions, "skip-predictions", false, "Skip generating predictions")
}
