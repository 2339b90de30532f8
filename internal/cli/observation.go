package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var observationCmd = &cobra.Command{
	Use:   "observation",
	Short: "Manage recorded price observations",
}

var observationInvalidateCmd = &cobra.Command{
	Use:   "invalidate <observation-id>",
	Short: "Exclude an outlier observation from history and forecasts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		if err := getApp().InvalidateObservation(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Observation %d marked invalid\n", id)
		return nil
	},
}

func init() {
	observationCmd.AddCommand(observationInvalidateCmd)
}
