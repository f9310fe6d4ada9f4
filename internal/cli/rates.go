package cli

import (
	"time"

	"github.com/spf13/cobra"

	"rate-arb-watch/internal/app"
)

var (
	ratesFrom    string
	ratesTo      string
	ratesBridges []string
	ratesWarmup  time.Duration
	ratesCached  bool
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Print direct and bridged quotes between two currencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Rates(cmd.Context(), app.RatesOptions{
			From:    ratesFrom,
			To:      ratesTo,
			Bridges: ratesBridges,
			Warmup:  ratesWarmup,
			Cached:  ratesCached,
		})
	},
}

func init() {
	ratesCmd.Flags().StringVar(&ratesFrom, "from", "", "Currency to convert from")
	ratesCmd.Flags().StringVar(&ratesTo, "to", "", "Currency to convert to")
	ratesCmd.Flags().StringSliceVar(&ratesBridges, "bridge", nil, "Bridge currencies for cross rates (defaults to config)")
	ratesCmd.Flags().DurationVar(&ratesWarmup, "warmup", 5*time.Second, "How long to collect live quotes")
	ratesCmd.Flags().BoolVar(&ratesCached, "cached", false, "Read quotes from the redis mirror instead of connecting to venues")
	_ = ratesCmd.MarkFlagRequired("from")
	_ = ratesCmd.MarkFlagRequired("to")
}
