package market

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderBookSortAndBest(t *testing.T) {
	book := OrderBook{
		Instrument: Instrument{Venue: "exmo", Symbol: "BTC_USD", Base: "BTC", Quote: "USD"},
		Bids:       []Level{{Price: decimal.NewFromInt(99)}, {Price: decimal.NewFromInt(100)}},
		Asks:       []Level{{Price: decimal.NewFromInt(103)}, {Price: decimal.NewFromInt(101)}},
	}
	book.Sort()

	bid, ok := book.BestBid()
	if !ok || !bid.Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("best bid should be 100, got %s", bid.Price)
	}
	ask, ok := book.BestAsk()
	if !ok || !ask.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("best ask should be 101, got %s", ask.Price)
	}
}

func TestOrderBookValidate(t *testing.T) {
	inst := Instrument{Venue: "okx", Symbol: "BTC-USDT", Base: "BTC", Quote: "USDT"}

	empty := OrderBook{Instrument: inst, Bids: []Level{{Price: decimal.NewFromInt(1)}}}
	if err := empty.Validate(); !errors.Is(err, ErrEmptyBook) {
		t.Fatalf("book without asks should fail with ErrEmptyBook, got %v", err)
	}

	zero := OrderBook{
		Instrument: inst,
		Bids:       []Level{{Price: decimal.Zero}},
		Asks:       []Level{{Price: decimal.NewFromInt(1)}},
	}
	if err := zero.Validate(); !errors.Is(err, ErrNonPositivePrice) {
		t.Fatalf("zero priced level should fail, got %v", err)
	}
}

func TestParseLevels(t *testing.T) {
	levels, err := ParseLevels([][]string{{"30000.5", "0.25", "7500"}, {"29999", "1"}})
	if err != nil {
		t.Fatalf("parse levels: %v", err)
	}
	if len(levels) != 2 || !levels[0].Quantity.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("unexpected levels %#v", levels)
	}

	if _, err := ParseLevels([][]string{{"1"}}); err == nil {
		t.Fatal("short row should be rejected")
	}
	if _, err := ParseLevels([][]string{{"abc", "1"}}); err == nil {
		t.Fatal("non numeric price should be rejected")
	}
}

func TestBookFromRateRoundTrip(t *testing.T) {
	rate := Rate{
		Instrument: Instrument{Venue: "hitbtc", Symbol: "BTCUSD", Base: "BTC", Quote: "USD"},
		Bid:        decimal.NewFromInt(100),
		Ask:        decimal.NewFromInt(101),
		ObservedAt: time.Unix(1700000000, 0),
	}
	top := BookFromRate(rate).TopOfBook()
	if !top.Bid.Equal(rate.Bid) || !top.Ask.Equal(rate.Ask) || !top.ObservedAt.Equal(rate.ObservedAt) {
		t.Fatalf("top of book mismatch: %#v", top)
	}
}

func TestUpdateValidate(t *testing.T) {
	if err := (Update{}).Validate(); err == nil {
		t.Fatal("empty update should be rejected")
	}
	u := RateUpdate(Rate{Instrument: Instrument{Venue: "bitfinex"}, Bid: decimal.NewFromInt(1), Ask: decimal.NewFromInt(1)})
	if err := u.Validate(); !errors.Is(err, ErrMissingSymbol) {
		t.Fatalf("rate without symbol should fail, got %v", err)
	}
}
