package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"rate-arb-watch/internal/app"
)

var (
	transfersCurrency string
	transfersFrom     string
	transfersAmount   string
)

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "List transfer edges and what arrives across each",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.TransfersOptions{Currency: transfersCurrency, From: transfersFrom}
		if transfersAmount != "" {
			amount, err := decimal.NewFromString(transfersAmount)
			if err != nil {
				return fmt.Errorf("invalid --amount value: %w", err)
			}
			opts.Amount = amount
		}
		return getApp().Transfers(opts)
	},
}

func init() {
	transfersCmd.Flags().StringVar(&transfersCurrency, "currency", "", "Only list edges moving this currency")
	transfersCmd.Flags().StringVar(&transfersFrom, "from", "", "Only list edges leaving this venue")
	transfersCmd.Flags().StringVar(&transfersAmount, "amount", "", "Amount to push through each edge")
}
