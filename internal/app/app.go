package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"rate-arb-watch/internal/alerting"
	"rate-arb-watch/internal/cache"
	"rate-arb-watch/internal/config"
	"rate-arb-watch/internal/currency"
	"rate-arb-watch/internal/evaluator"
	"rate-arb-watch/internal/feed"
	"rate-arb-watch/internal/market"
	"rate-arb-watch/internal/ratestore"
	"rate-arb-watch/internal/scheduler"
	"rate-arb-watch/internal/service"
	"rate-arb-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// Registry builds the currency registry from the default alias table, the
// configured aliases (which override defaults of the same symbol) and the
// configured transfer edges.
func (a *App) Registry() (*currency.Registry, error) {
	cc := a.Config.Currency

	var aliases []currency.Alias
	overridden := make(map[string]struct{}, len(cc.Aliases))
	for _, al := range cc.Aliases {
		overridden[al.Symbol] = struct{}{}
	}
	if cc.UseDefaultAliases {
		for _, al := range currency.DefaultAliases() {
			if _, ok := overridden[al.Symbol]; !ok {
				aliases = append(aliases, al)
			}
		}
	}
	for _, al := range cc.Aliases {
		aliases = append(aliases, currency.Alias{
			Symbol:     al.Symbol,
			Canonical:  al.Canonical,
			Multiplier: decimal.NewFromFloat(al.Multiplier),
		})
	}

	edges := make([]currency.TransferEdge, 0, len(cc.Transfers))
	for _, t := range cc.Transfers {
		edges = append(edges, currency.TransferEdge{
			Currency: t.Currency,
			From:     t.From,
			To:       t.To,
			Fee:      decimal.NewFromFloat(t.Fee),
			FeeFixed: decimal.NewFromFloat(t.FeeFixed),
			Rate:     decimal.NewFromFloat(t.Rate),
			Min:      decimal.NewFromFloat(t.Min),
			Max:      decimal.NewFromFloat(t.Max),
		})
	}

	return currency.NewRegistry(aliases, edges)
}

func (a *App) newEvaluator() *evaluator.Evaluator {
	return evaluator.New(evaluator.Options{SpotHorizon: a.Config.Evaluator.SpotHorizon})
}

func (a *App) newAdapters() ([]feed.Adapter, error) {
	adapters := make([]feed.Adapter, 0, len(a.Config.Venues))
	for _, venue := range a.Config.Venues {
		if venue.Disabled {
			a.Logger.Info().Str("venue", venue.Name).Msg("venue disabled")
			continue
		}
		ad, err := feed.New(venue, a.Config.Feed, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", venue.Name, err)
		}
		adapters = append(adapters, ad)
	}
	return adapters, nil
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
	}
	return notifiers
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (*cache.Client, error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil
	}
	rc := a.Config.Redis
	return cache.New(ctx, cache.ClientConfig{
		Addr:       rc.Addr,
		Password:   rc.Password,
		DB:         rc.DB,
		PoolSize:   rc.PoolSize,
		MaxRetries: rc.MaxRetries,
		TLSEnabled: rc.TLSEnabled,
	})
}

// Run executes the long-running aggregation engine: venue adapters feed the
// rate store, the service evaluates comparisons on every tick, and optional
// sinks receive the samples.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := a.Registry()
	if err != nil {
		return err
	}
	comparisons, err := service.Comparisons(a.Config)
	if err != nil {
		return err
	}
	adapters, err := a.newAdapters()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store != nil && a.Config.Database.RunMigrations {
		if err := store.RunMigrations(ctx); err != nil {
			return err
		}
	}

	redisClient, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	rates := ratestore.New(ratestore.Options{Buffer: a.Config.Feed.Buffer}, registry, a.Logger)
	var mirror *cache.RateMirror
	var mirrorUpdates <-chan market.Update
	if redisClient != nil && a.Config.Redis.MirrorRates {
		mirror = cache.NewRateMirror(redisClient, a.Config.Redis.KeyPrefix, a.Config.Redis.RateTTL, a.Logger)
		mirrorUpdates = rates.Subscribe(a.Config.Feed.Buffer)
	}

	sinks, closeSinks, err := a.buildSinks(store, redisClient)
	if err != nil {
		return err
	}
	defer closeSinks()

	var alertStore storage.AlertStore
	var locker storage.AdvisoryLocker
	if store != nil {
		alertStore = store
		locker = store
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, rates, a.newEvaluator(), comparisons, sinks, alertStore, a.newNotifier(), locker, a.Logger)

	a.Logger.Info().Int("venues", len(adapters)).Int("comparisons", len(comparisons)).Msg("starting aggregation engine")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return rates.Run(gctx) })
	for _, ad := range adapters {
		ad := ad
		group.Go(func() error { return ad.Run(gctx, rates) })
	}
	if mirror != nil {
		group.Go(func() error { return mirror.Run(gctx, mirrorUpdates) })
	}
	group.Go(func() error { return svc.Run(gctx) })

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ratestore.ErrStopped) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("aggregation engine stopped")
	return nil
}

func (a *App) buildSinks(store *storage.Store, redisClient *cache.Client) ([]service.NamedSink, func(), error) {
	var sinks []service.NamedSink
	closers := make([]func() error, 0, 1)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	sc := a.Config.Sinks
	if sc.Log {
		sinks = append(sinks, service.NamedSink{Name: "log", Sink: service.NewLogSink(a.Logger)})
	}
	if sc.File != "" {
		fs, err := service.NewFileSink(sc.File)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, fs.Close)
		sinks = append(sinks, service.NamedSink{Name: "file", Sink: fs})
	}
	if sc.Database && store != nil {
		sinks = append(sinks, service.NamedSink{Name: "database", Sink: store})
	}
	if sc.Redis && redisClient != nil {
		rc := a.Config.Redis
		sinks = append(sinks, service.NamedSink{Name: "redis", Sink: cache.NewSampleStream(redisClient, rc.Stream, rc.StreamMaxLen, rc.Channel)})
	}
	if len(sinks) == 0 {
		a.Logger.Warn().Msg("no sample sinks enabled")
	}
	return sinks, closeAll, nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
	Comparison string
	Upload     bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// RatesOptions configure the rates command.
type RatesOptions struct {
	From    string
	To      string
	Bridges []string
	Warmup  time.Duration
	// Cached reads the latest rates from the redis mirror instead of
	// connecting to venues.
	Cached bool
}

// SimulateOptions carry literal top-of-book prices for one comparison.
type SimulateOptions struct {
	Comparison string
	MakerBid   decimal.Decimal
	MakerAsk   decimal.Decimal
	TakerBid   decimal.Decimal
	TakerAsk   decimal.Decimal
	Expiry     time.Time
	Alert      bool
}

// TransfersOptions configure the transfers command.
type TransfersOptions struct {
	Currency string
	From     string
	Amount   decimal.Decimal
}
