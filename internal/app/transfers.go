package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/currency"
)

// Transfers lists configured transfer edges, filtered by currency and source
// venue, with the amount received for opts.Amount when it is set.
func (a *App) Transfers(opts TransfersOptions) error {
	registry, err := a.Registry()
	if err != nil {
		return err
	}

	edges := registry.Edges(opts.Currency)
	if opts.From != "" {
		filtered := edges[:0]
		for _, e := range edges {
			if e.From == opts.From {
				filtered = append(filtered, e)
			}
		}
		edges = filtered
	}
	return writeTransfersTable(os.Stdout, edges, opts.Amount)
}

func writeTransfersTable(out io.Writer, edges []currency.TransferEdge, amount decimal.Decimal) error {
	if len(edges) == 0 {
		fmt.Fprintln(out, "no transfer edges configured")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Currency\tFrom\tTo\tFee%\tFixed\tRate%\tMin\tMax\tReceived")
	for _, e := range edges {
		received := "-"
		if amount.IsPositive() {
			got, err := e.Receive(amount)
			switch {
			case errors.Is(err, currency.ErrOutsideLimits):
				received = "outside limits"
			case err != nil:
				received = err.Error()
			default:
				received = got.String()
			}
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Currency, e.From, e.To,
			e.Fee.Shift(2).String(), e.FeeFixed.String(), e.Rate.Shift(2).String(),
			e.Min.String(), e.Max.String(), received)
	}
	return writer.Flush()
}
