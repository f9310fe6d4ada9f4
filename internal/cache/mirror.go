package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// RateMirror keeps the latest accepted quote per instrument in a redis hash at
// "{prefix}:rate:{venue}:{symbol}" with fields bid, ask, base, quote and ts
// (unix nanoseconds). Other processes read it; the engine never does.
type RateMirror struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRateMirror creates a mirror. Keys expire after ttl when it is positive.
func NewRateMirror(c *Client, prefix string, ttl time.Duration, logger zerolog.Logger) *RateMirror {
	return &RateMirror{
		rdb:    c.Underlying(),
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    ttl,
		logger: logger.With().Str("component", "rate_mirror").Logger(),
	}
}

// RateKey is the hash key for one instrument.
func RateKey(prefix string, key market.Key) string {
	return ratePrefix(prefix) + key.String()
}

func ratePrefix(prefix string) string {
	if prefix == "" {
		return "rate:"
	}
	return prefix + ":rate:"
}

// Set writes one quote.
func (m *RateMirror) Set(ctx context.Context, r market.Rate) error {
	key := RateKey(m.prefix, r.Key())
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key, rateFields(r))
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set rate %s: %w", key, err)
	}
	return nil
}

// Run mirrors updates until the channel closes or ctx is cancelled.
// Write failures are logged and do not stop the loop.
func (m *RateMirror) Run(ctx context.Context, updates <-chan market.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			r := u.Rate
			if u.Book != nil {
				top := u.Book.TopOfBook()
				r = &top
			}
			if r == nil {
				continue
			}
			if err := m.Set(ctx, *r); err != nil && ctx.Err() == nil {
				m.logger.Warn().Err(err).Str("key", r.Key().String()).Msg("mirror write failed")
			}
		}
	}
}

// Load reads back every mirrored quote under the prefix.
func (m *RateMirror) Load(ctx context.Context) ([]market.Rate, error) {
	pattern := ratePrefix(m.prefix) + "*"
	var out []market.Rate
	iter := m.rdb.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := m.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: get rate %s: %w", key, err)
		}
		r, err := parseRateFields(strings.TrimPrefix(key, ratePrefix(m.prefix)), vals)
		if err != nil {
			m.logger.Debug().Err(err).Str("key", key).Msg("skipping mirrored rate")
			continue
		}
		out = append(out, r)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan rates: %w", err)
	}
	return out, nil
}

func rateFields(r market.Rate) map[string]any {
	return map[string]any{
		"bid":   r.Bid.String(),
		"ask":   r.Ask.String(),
		"base":  r.Base,
		"quote": r.Quote,
		"ts":    strconv.FormatInt(r.ObservedAt.UnixNano(), 10),
	}
}

// parseRateFields rebuilds a rate from "venue:symbol" and its hash fields.
func parseRateFields(id string, vals map[string]string) (market.Rate, error) {
	venue, symbol, ok := strings.Cut(id, ":")
	if !ok || venue == "" || symbol == "" {
		return market.Rate{}, fmt.Errorf("malformed rate key %q", id)
	}
	bid, err := decimal.NewFromString(vals["bid"])
	if err != nil {
		return market.Rate{}, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := decimal.NewFromString(vals["ask"])
	if err != nil {
		return market.Rate{}, fmt.Errorf("parse ask: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return market.Rate{}, fmt.Errorf("parse ts: %w", err)
	}
	return market.Rate{
		Instrument: market.Instrument{Venue: venue, Symbol: symbol, Base: vals["base"], Quote: vals["quote"]},
		Bid:        bid,
		Ask:        ask,
		ObservedAt: time.Unix(0, ts).UTC(),
	}, nil
}
