package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"rate-arb-watch/internal/cache"
	"rate-arb-watch/internal/ratestore"
	"rate-arb-watch/internal/resolver"
)

// Rates prints every direct and bridged quote converting opts.From into
// opts.To, from live venues after a warm-up window or from the redis mirror.
func (a *App) Rates(ctx context.Context, opts RatesOptions) error {
	from, to := strings.ToUpper(opts.From), strings.ToUpper(opts.To)
	if from == "" || to == "" {
		return errors.New("--from and --to are required")
	}
	bridges := opts.Bridges
	if len(bridges) == 0 {
		bridges = a.Config.Currency.Bridges
	}

	var (
		snap ratestore.Snapshot
		err  error
	)
	if opts.Cached {
		snap, err = a.cachedSnapshot(ctx)
	} else {
		snap, err = a.warmSnapshot(ctx, opts.Warmup)
	}
	if err != nil {
		return err
	}

	direct := resolver.GetRate(snap, from, to)
	cross := resolver.CrossRate(snap, from, to, bridges)
	return writeRatesTable(os.Stdout, from, to, direct, cross)
}

func (a *App) cachedSnapshot(ctx context.Context) (ratestore.Snapshot, error) {
	client, err := a.openCache(ctx)
	if err != nil {
		return ratestore.Snapshot{}, err
	}
	if client == nil {
		return ratestore.Snapshot{}, errors.New("redis not configured; cannot read cached rates")
	}
	defer client.Close()

	mirror := cache.NewRateMirror(client, a.Config.Redis.KeyPrefix, a.Config.Redis.RateTTL, a.Logger)
	rates, err := mirror.Load(ctx)
	if err != nil {
		return ratestore.Snapshot{}, err
	}
	return ratestore.NewSnapshot(rates, nil), nil
}

// warmSnapshot runs the venue adapters against a private rate store for the
// warm-up window and returns what arrived.
func (a *App) warmSnapshot(ctx context.Context, warmup time.Duration) (ratestore.Snapshot, error) {
	if warmup <= 0 {
		warmup = 5 * time.Second
	}
	registry, err := a.Registry()
	if err != nil {
		return ratestore.Snapshot{}, err
	}
	adapters, err := a.newAdapters()
	if err != nil {
		return ratestore.Snapshot{}, err
	}
	if len(adapters) == 0 {
		return ratestore.Snapshot{}, errors.New("no venues configured")
	}

	store := ratestore.New(ratestore.Options{Buffer: a.Config.Feed.Buffer}, registry, a.Logger)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error { return store.Run(gctx) })
	for _, ad := range adapters {
		ad := ad
		group.Go(func() error { return ad.Run(gctx, store) })
	}

	a.Logger.Info().Dur("warmup", warmup).Int("venues", len(adapters)).Msg("collecting rates")
	timer := time.NewTimer(warmup)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ratestore.Snapshot{}, ctx.Err()
	case <-timer.C:
	}

	snap, snapErr := store.Snapshot(ctx)
	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Warn().Err(err).Msg("adapter stopped with error")
	}
	return snap, snapErr
}

func writeRatesTable(out io.Writer, from, to string, direct []resolver.Quote, cross []resolver.CrossQuote) error {
	if len(direct) == 0 && len(cross) == 0 {
		fmt.Fprintf(out, "no quotes for %s -> %s\n", from, to)
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Path (%s -> %s)\tBid\tAsk\tInverted\n", from, to)
	for _, q := range direct {
		fmt.Fprintf(writer, "%s:%s\t%s\t%s\t%t\n", q.Venue, q.Symbol, q.Bid.StringFixed(8), q.Ask.StringFixed(8), q.Inverted)
	}
	for _, c := range cross {
		fmt.Fprintf(writer, "%s\t%s\t%s\t-\n", strings.Join(c.Path, " > "), c.Bid.StringFixed(8), c.Ask.StringFixed(8))
	}
	return writer.Flush()
}
