package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	productOwner     string
	productEmail     string
	productName      string
	productURL       string
	productCurrency  string
	productThreshold string
	productPrice     string
	productListOwner string
	productListLimit int
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Manage tracked products",
}

var productAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Start tracking a product page",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AddProductOptions{
			OwnerID:    productOwner,
			OwnerEmail: productEmail,
			Name:       productName,
			URL:        productURL,
			Currency:   productCurrency,
		}
		var err error
		if opts.Threshold, err = optionalDecimal("--threshold", productThreshold); err != nil {
			return err
		}
		if opts.InitialPrice, err = optionalDecimal("--price", productPrice); err != nil {
			return err
		}

		product, err := getApp().AddProduct(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Product %q added (ID: %s)\n", product.Name, product.ID)
		return nil
	},
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked products",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowProducts(cmd.Context(), app.ShowOptions{OwnerID: productListOwner, Limit: productListLimit})
	},
}

var productToggleCmd = &cobra.Command{
	Use:   "toggle <product-id>",
	Short: "Activate or deactivate a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		active, err := getApp().ToggleProduct(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		status := "deactivated"
		if active {
			status = "activated"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Product %s %s\n", args[0], status)
		return nil
	},
}

var productDeleteCmd = &cobra.Command{
	Use:   "delete <product-id>",
	Short: "Delete a product with its history, forecasts, and alerts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().DeleteProduct(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Product %s deleted\n", args[0])
		return nil
	},
}

func optionalDecimal(flag, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %w", flag, err)
	}
	return &d, nil
}

func init() {
	productAddCmd.Flags().StringVar(&productOwner, "owner", "", "Owner user id")
	productAddCmd.Flags().StringVar(&productEmail, "email", "", "Owner email for notifications")
	productAddCmd.Flags().StringVar(&productName, "name", "", "Product name")
	productAddCmd.Flags().StringVar(&productURL, "url", "", "Amazon or Flipkart product URL")
	productAddCmd.Flags().StringVar(&productCurrency, "currency", "", "Currency code (defaults to INR)")
	productAddCmd.Flags().StringVar(&productThreshold, "threshold", "", "Create a price drop alert at this price")
	productAddCmd.Flags().StringVar(&productPrice, "price", "", "Record an initial price observation")
	_ = productAddCmd.MarkFlagRequired("owner")
	_ = productAddCmd.MarkFlagRequired("name")
	_ = productAddCmd.MarkFlagRequired("url")

	productListCmd.Flags().StringVar(&productListOwner, "owner", "", "Only list products of this owner")
	productListCmd.Flags().IntVar(&productListLimit, "limit", 0, "Maximum rows to display")

	productCmd.AddCommand(productAddCmd, productListCmd, productToggleCmd, productDeleteCmd)
}
