package cli

import (
	"github.com/spf13/cobra"

	"github.com/Kenblair1226/bitfinex-lending-bot/internal/funding"
)

var statusCmd = &cobra.Command{
	Use:   "status [currency]",
	Short: "Show the latest funding snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		currency := ""
		if len(args) > 0 {
			currency = args[0]
		}
		return getApp().Status(cmd.Context(), currency)
	},
}

var activeCmd = &cobra.Command{
	Use:   "active",
	Short: "Show active loans from the latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().FilteredStatus(cmd.Context(), funding.StatusActive)
	},
}

var offeredCmd = &cobra.Command{
	Use:   "offered",
	Short: "Show open offers from the latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().FilteredStatus(cmd.Context(), funding.StatusOffered)
	},
}

var inactiveCmd = &cobra.Command{
	Use:   "inactive",
	Short: "Show idle funds from the latest snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().FilteredStatus(cmd.Context(), funding.StatusInactive)
	},
}
