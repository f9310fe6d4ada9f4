package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"rate-arb-watch/internal/app"
)

var (
	simulateComparison string
	simulateMakerBid   string
	simulateMakerAsk   string
	simulateTakerBid   string
	simulateTakerAsk   string
	simulateExpiry     string
	simulateAlert      bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "用给定报价计算一次 APR, 可选触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{Comparison: simulateComparison, Alert: simulateAlert}

		prices := []struct {
			flag string
			raw  string
			dst  *decimal.Decimal
		}{
			{"--maker-bid", simulateMakerBid, &opts.MakerBid},
			{"--maker-ask", simulateMakerAsk, &opts.MakerAsk},
			{"--taker-bid", simulateTakerBid, &opts.TakerBid},
			{"--taker-ask", simulateTakerAsk, &opts.TakerAsk},
		}
		for _, p := range prices {
			v, err := decimal.NewFromString(p.raw)
			if err != nil || !v.IsPositive() {
				return fmt.Errorf("%s 必须是正数", p.flag)
			}
			*p.dst = v
		}

		if simulateExpiry != "" {
			expiry, err := time.Parse(time.RFC3339, simulateExpiry)
			if err != nil {
				return fmt.Errorf("invalid --expiry value: %w", err)
			}
			if !expiry.After(time.Now()) {
				return errors.New("--expiry 必须晚于当前时间")
			}
			opts.Expiry = expiry
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateComparison, "comparison", "", "比较对名称 (默认第一个)")
	simulateCmd.Flags().StringVar(&simulateMakerBid, "maker-bid", "", "maker 买一价")
	simulateCmd.Flags().StringVar(&simulateMakerAsk, "maker-ask", "", "maker 卖一价")
	simulateCmd.Flags().StringVar(&simulateTakerBid, "taker-bid", "", "taker 买一价")
	simulateCmd.Flags().StringVar(&simulateTakerAsk, "taker-ask", "", "taker 卖一价")
	simulateCmd.Flags().StringVar(&simulateExpiry, "expiry", "", "到期时间 (RFC3339), 覆盖 maker 配置")
	simulateCmd.Flags().BoolVar(&simulateAlert, "alert", false, "同时走告警流程")
}
