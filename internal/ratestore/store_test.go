package ratestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/currency"
	"rate-arb-watch/internal/market"
)

func startStore(t *testing.T, norm Normalizer) (*Store, <-chan market.Update) {
	t.Helper()
	store := New(Options{Buffer: 8}, norm, zerolog.Nop())
	updates := store.Subscribe(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = store.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return store, updates
}

func quote(venue, symbol string, bid, ask int64, at time.Time) market.Update {
	return market.RateUpdate(market.Rate{
		Instrument: market.Instrument{Venue: venue, Symbol: symbol, Base: "BTC", Quote: "USD"},
		Bid:        decimal.NewFromInt(bid),
		Ask:        decimal.NewFromInt(ask),
		ObservedAt: at,
	})
}

func waitApplied(t *testing.T, ch <-chan market.Update) market.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("update was not applied")
	}
	return market.Update{}
}

func TestStoreLatestReplaces(t *testing.T) {
	store, applied := startStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	if err := store.Publish(ctx, quote("hitbtc", "BTCUSD", 100, 101, now)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitApplied(t, applied)
	if err := store.Publish(ctx, quote("hitbtc", "BTCUSD", 102, 103, now.Add(time.Second))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitApplied(t, applied)

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Len() != 1 {
		t.Fatalf("expected one live entry, got %d", snap.Len())
	}
	r, ok := snap.Rate(market.Key{Venue: "hitbtc", Symbol: "BTCUSD"})
	if !ok || !r.Bid.Equal(decimal.NewFromInt(102)) || !r.Ask.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("newest quote should replace the prior one, got %#v", r)
	}
}

func TestStoreDropsOutOfOrderQuote(t *testing.T) {
	store, applied := startStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	_ = store.Publish(ctx, quote("okx", "BTC-USD", 102, 103, now))
	waitApplied(t, applied)
	_ = store.Publish(ctx, quote("okx", "BTC-USD", 90, 91, now.Add(-time.Second)))
	_ = store.Publish(ctx, quote("bybit", "BTCUSDT", 100, 101, now))
	if u := waitApplied(t, applied); u.Rate.Venue != "bybit" {
		t.Fatalf("late quote should not be broadcast, got %s", u.Key())
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	r, _ := snap.Rate(market.Key{Venue: "okx", Symbol: "BTC-USD"})
	if !r.Bid.Equal(decimal.NewFromInt(102)) || !r.ObservedAt.Equal(now) {
		t.Fatalf("late quote should not roll the entry back, got %s at %s", r.Bid, r.ObservedAt)
	}
}

func TestStoreRejectsInvalidUpdate(t *testing.T) {
	store, applied := startStore(t, nil)
	ctx := context.Background()

	_ = store.Publish(ctx, quote("bitfinex", "tBTCUSD", 0, 101, time.Now()))
	_ = store.Publish(ctx, quote("bitfinex", "tBTCUSD", 100, 101, time.Now()))
	u := waitApplied(t, applied)
	if !u.Rate.Bid.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("only the valid update should be applied, got %s", u.Rate.Bid)
	}

	snap, _ := store.Snapshot(ctx)
	if snap.Len() != 1 {
		t.Fatalf("expected one entry, got %d", snap.Len())
	}
}

func TestStoreBookAndNormalization(t *testing.T) {
	reg, err := currency.NewRegistry(currency.DefaultAliases(), nil)
	if err != nil {
		t.Fatal(err)
	}
	store, applied := startStore(t, reg)
	ctx := context.Background()

	book := market.OrderBook{
		Instrument: market.Instrument{Venue: "exchanger", Symbol: "WMXWMZ", Base: "WMX", Quote: "WMZ"},
		Bids:       []market.Level{{Price: decimal.RequireFromString("29.9")}, {Price: decimal.NewFromInt(30)}},
		Asks:       []market.Level{{Price: decimal.NewFromInt(31)}},
		ObservedAt: time.Now(),
	}
	if err := store.Publish(ctx, market.BookUpdate(book)); err != nil {
		t.Fatal(err)
	}
	waitApplied(t, applied)

	snap, _ := store.Snapshot(ctx)
	key := market.Key{Venue: "exchanger", Symbol: "WMXWMZ"}
	got, ok := snap.Book(key)
	if !ok {
		t.Fatal("book should be stored")
	}
	best, _ := got.BestBid()
	if !best.Price.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("best bid should be sorted and normalized, got %s", best.Price)
	}
	r, _ := snap.Rate(key)
	if r.Base != "BTC" || r.Quote != "USD" {
		t.Fatalf("rate should carry canonical pair, got %s", r.Pair())
	}
}

func TestStoreStopped(t *testing.T) {
	store := New(Options{}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = store.Run(ctx)

	if _, err := store.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("snapshot after stop should fail with ErrStopped, got %v", err)
	}
}
