package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/alerting"
	"rate-arb-watch/internal/market"
	"rate-arb-watch/internal/ratestore"
	"rate-arb-watch/internal/service"
	"rate-arb-watch/internal/storage"
)

// Simulate evaluates one comparison on literal top-of-book prices with the
// configured venue costs and prints the four APR figures. With opts.Alert the
// result also goes through the alerting path.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Alert && !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	samples, err := a.runSimulation(ctx, opts, &collectSink{})
	if err != nil {
		return err
	}
	return writeSimulationTable(os.Stdout, samples)
}

func (a *App) runSimulation(ctx context.Context, opts SimulateOptions, sink *collectSink) ([]storage.ArbitrageSample, error) {
	cmp, err := a.pickComparison(opts.Comparison)
	if err != nil {
		return nil, err
	}
	if !opts.Expiry.IsZero() {
		cmp.MakerCosts.Expiry = opts.Expiry
	}

	now := time.Now().UTC()
	source := staticSnapshot{snap: ratestore.NewSnapshot(nil, []market.OrderBook{
		literalBook(cmp.Maker, opts.MakerBid, opts.MakerAsk, now),
		literalBook(cmp.Taker, opts.TakerBid, opts.TakerAsk, now),
	})}

	var notifier alerting.Notifier
	if opts.Alert {
		notifier = a.newNotifier()
	}
	svc := service.New(a.Config, nil, source, a.newEvaluator(), []service.Comparison{cmp},
		[]service.NamedSink{{Name: "simulate", Sink: sink}}, nil, notifier, nil, a.Logger)
	if err := svc.ProcessTick(ctx, now); err != nil {
		return nil, err
	}
	if len(sink.samples) == 0 {
		return nil, errors.New("comparison could not be evaluated; see log for the reason")
	}
	return sink.samples, nil
}

func (a *App) pickComparison(name string) (service.Comparison, error) {
	comparisons, err := service.Comparisons(a.Config)
	if err != nil {
		return service.Comparison{}, err
	}
	if len(comparisons) == 0 {
		return service.Comparison{
			Name:  "maker~taker",
			Maker: market.Key{Venue: "maker", Symbol: "SIM"},
			Taker: market.Key{Venue: "taker", Symbol: "SIM"},
		}, nil
	}
	if name == "" {
		return comparisons[0], nil
	}
	for _, c := range comparisons {
		if c.Name == name {
			return c, nil
		}
	}
	return service.Comparison{}, fmt.Errorf("unknown comparison %q", name)
}

func literalBook(key market.Key, bid, ask decimal.Decimal, at time.Time) market.OrderBook {
	return market.BookFromRate(market.Rate{
		Instrument: market.Instrument{Venue: key.Venue, Symbol: key.Symbol},
		Bid:        bid,
		Ask:        ask,
		ObservedAt: at,
	})
}

func writeSimulationTable(out io.Writer, samples []storage.ArbitrageSample) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Direction\tAdjusted\tMaker\tTaker\tHorizon\tAPR%")
	for _, s := range samples {
		fmt.Fprintf(writer, "%s\t%t\t%s\t%s\t%s\t%s\n",
			s.Direction, s.FeeAdjusted, s.MakerPrice, s.TakerPrice, s.Horizon.Round(time.Second), s.APR.StringFixed(4))
	}
	return writer.Flush()
}

type staticSnapshot struct {
	snap ratestore.Snapshot
}

func (s staticSnapshot) Snapshot(context.Context) (ratestore.Snapshot, error) {
	return s.snap, nil
}

type collectSink struct {
	samples []storage.ArbitrageSample
}

func (c *collectSink) Emit(_ context.Context, sample storage.ArbitrageSample) error {
	c.samples = append(c.samples, sample)
	return nil
}

var (
	_ service.Snapshotter = staticSnapshot{}
	_ service.Sink        = (*collectSink)(nil)
)
