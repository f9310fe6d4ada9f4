package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/alerting"
	"rate-arb-watch/internal/config"
	"rate-arb-watch/internal/evaluator"
	"rate-arb-watch/internal/market"
	"rate-arb-watch/internal/ratestore"
	"rate-arb-watch/internal/scheduler"
	"rate-arb-watch/internal/storage"
)

// Snapshotter hands out consistent views of the rate table.
type Snapshotter interface {
	Snapshot(ctx context.Context) (ratestore.Snapshot, error)
}

// Comparison is one maker/taker pair evaluated on every tick.
type Comparison struct {
	Name       string
	Maker      market.Key
	Taker      market.Key
	MakerCosts evaluator.Costs
	TakerCosts evaluator.Costs
}

// Comparisons resolves configured comparisons and their venue costs.
func Comparisons(cfg *config.Config) ([]Comparison, error) {
	out := make([]Comparison, 0, len(cfg.Comparisons))
	for _, cc := range cfg.Comparisons {
		maker, ok := cfg.Venue(cc.Maker.Venue)
		if !ok {
			return nil, fmt.Errorf("comparison %s: unknown maker venue %s", cc.ComparisonName(), cc.Maker.Venue)
		}
		taker, ok := cfg.Venue(cc.Taker.Venue)
		if !ok {
			return nil, fmt.Errorf("comparison %s: unknown taker venue %s", cc.ComparisonName(), cc.Taker.Venue)
		}
		out = append(out, Comparison{
			Name:       cc.ComparisonName(),
			Maker:      market.Key{Venue: cc.Maker.Venue, Symbol: cc.Maker.Symbol},
			Taker:      market.Key{Venue: cc.Taker.Venue, Symbol: cc.Taker.Symbol},
			MakerCosts: VenueCosts(maker),
			TakerCosts: VenueCosts(taker),
		})
	}
	return out, nil
}

// VenueCosts converts a venue's configured fee, slippage and expiry.
func VenueCosts(v config.VenueConfig) evaluator.Costs {
	return evaluator.Costs{
		Fee:      decimal.NewFromFloat(v.Fee),
		Slippage: decimal.NewFromFloat(v.Slippage),
		Expiry:   v.Expiry,
	}
}

// Service runs the aggregation loop: snapshot, evaluate, emit, alert.
type Service struct {
	scheduler   *scheduler.Scheduler
	source      Snapshotter
	eval        *evaluator.Evaluator
	comparisons []Comparison
	sinks       []NamedSink
	alertStore  storage.AlertStore
	notifier    alerting.Notifier
	cooldown    *alerting.Cooldown
	logger      zerolog.Logger

	staleAfter time.Duration
	threshold  decimal.Decimal
	channels   []string
	alertsOn   bool
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the aggregation service. alertStore, notifier and locker may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, source Snapshotter, eval *evaluator.Evaluator, comparisons []Comparison, sinks []NamedSink, alertStore storage.AlertStore, notifier alerting.Notifier, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdAPR > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdAPR)
	}

	return &Service{
		scheduler:   sched,
		source:      source,
		eval:        eval,
		comparisons: comparisons,
		sinks:       sinks,
		alertStore:  alertStore,
		notifier:    notifier,
		cooldown:    alerting.NewCooldown(cfg.Alerting.Cooldown),
		logger:      logger.With().Str("component", "service").Logger(),
		staleAfter:  cfg.StaleAfter(),
		threshold:   threshold,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the tick loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单次聚合: 一个快照, 每个比较对最多四个样本。
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed := s.acquireLock(ctx)
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	emitted := 0
	for _, cmp := range s.comparisons {
		samples := s.evaluate(snap, cmp, at)
		for _, sample := range samples {
			s.emit(ctx, sample)
			s.maybeAlert(ctx, sample)
		}
		emitted += len(samples)
	}
	s.logger.Debug().Time("at", at).Int("samples", emitted).Int("rates", snap.Len()).Msg("tick complete")
	return nil
}

// evaluate computes the samples of one comparison. Missing or stale legs
// yield none.
func (s *Service) evaluate(snap ratestore.Snapshot, cmp Comparison, at time.Time) []storage.ArbitrageSample {
	maker, ok := s.freshBook(snap, cmp.Maker, at)
	if !ok {
		return nil
	}
	taker, ok := s.freshBook(snap, cmp.Taker, at)
	if !ok {
		return nil
	}

	res, err := s.eval.EvaluateAll(evaluator.Input{
		Maker:      maker,
		Taker:      taker,
		MakerCosts: cmp.MakerCosts,
		TakerCosts: cmp.TakerCosts,
		Now:        at,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("comparison", cmp.Name).Msg("evaluation skipped")
		return nil
	}

	makerBid, _ := maker.BestBid()
	makerAsk, _ := maker.BestAsk()
	takerBid, _ := taker.BestBid()
	takerAsk, _ := taker.BestAsk()

	out := make([]storage.ArbitrageSample, 0, 4)
	for _, dir := range []evaluator.Direction{evaluator.ShortMaker, evaluator.LongMaker} {
		makerPrice, takerPrice := makerBid.Price, takerAsk.Price
		if dir == evaluator.LongMaker {
			makerPrice, takerPrice = makerAsk.Price, takerBid.Price
		}
		for _, adjusted := range []bool{false, true} {
			out = append(out, storage.ArbitrageSample{
				ID:          uuid.New(),
				Timestamp:   at,
				Comparison:  cmp.Name,
				MakerVenue:  cmp.Maker.Venue,
				MakerSymbol: cmp.Maker.Symbol,
				TakerVenue:  cmp.Taker.Venue,
				TakerSymbol: cmp.Taker.Symbol,
				Instrument:  maker.Pair(),
				Direction:   string(dir),
				APR:         res.Get(dir, adjusted),
				FeeAdjusted: adjusted,
				MakerPrice:  makerPrice,
				TakerPrice:  takerPrice,
				Horizon:     res.Horizon,
			})
		}
	}
	return out
}

// freshBook returns the book for key when it exists and was observed within
// the staleness window.
func (s *Service) freshBook(snap ratestore.Snapshot, key market.Key, at time.Time) (market.OrderBook, bool) {
	book, ok := snap.Book(key)
	if !ok {
		s.logger.Debug().Str("key", key.String()).Msg("no data yet")
		return market.OrderBook{}, false
	}
	if s.staleAfter > 0 && book.ObservedAt.Before(at.Add(-s.staleAfter)) {
		s.logger.Debug().Str("key", key.String()).Time("observed_at", book.ObservedAt).Msg("stale quote")
		return market.OrderBook{}, false
	}
	return book, true
}

func (s *Service) emit(ctx context.Context, sample storage.ArbitrageSample) {
	for _, sink := range s.sinks {
		if err := sink.Sink.Emit(ctx, sample); err != nil {
			s.logger.Error().Err(err).Str("sink", sink.Name).Str("comparison", sample.Comparison).Msg("failed to emit sample")
		}
	}
}

func (s *Service) maybeAlert(ctx context.Context, sample storage.ArbitrageSample) {
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() || !sample.FeeAdjusted {
		return
	}
	if sample.APR.LessThan(s.threshold) {
		return
	}
	if !s.cooldown.Allow(sample.Comparison+"/"+sample.Direction, sample.Timestamp) {
		return
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			SampleID:   sample.ID,
			SampleTS:   sample.Timestamp,
			Comparison: sample.Comparison,
			Direction:  sample.Direction,
			APR:        sample.APR,
			Threshold:  s.threshold,
			Channels:   s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("comparison", sample.Comparison).Msg("failed to persist alert record")
		}
	}

	note := alerting.Notification{
		At:         sample.Timestamp,
		Comparison: sample.Comparison,
		Instrument: sample.Instrument,
		MakerVenue: sample.MakerVenue,
		TakerVenue: sample.TakerVenue,
		Direction:  sample.Direction,
		APR:        sample.APR,
		Threshold:  s.threshold,
		MakerPrice: sample.MakerPrice,
		TakerPrice: sample.TakerPrice,
		Horizon:    sample.Horizon,
		Channels:   s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("comparison", sample.Comparison).Msg("failed to dispatch alert")
	}
}

// acquireLock reports whether the tick may run. A lock that cannot be
// checked does not block the tick; only a live holder elsewhere does.
func (s *Service) acquireLock(ctx context.Context) (func(), bool) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		s.logger.Warn().Err(err).Int64("lock_key", s.lockKey).Msg("advisory lock unavailable, running tick unlocked")
		return nil, true
	}
	if !acquired {
		return nil, false
	}
	return unlock, true
}
