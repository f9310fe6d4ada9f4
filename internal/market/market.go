package market

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyBook indicates an order book without a bid or an ask level.
	ErrEmptyBook = errors.New("market: order book has no bid or ask")
	// ErrNonPositivePrice indicates a quote or level priced at or below zero.
	ErrNonPositivePrice = errors.New("market: price must be positive")
	// ErrMissingSymbol indicates an update that cannot be keyed.
	ErrMissingSymbol = errors.New("market: symbol is required")
)

// Instrument is a venue symbol mapped onto a normalized base/quote pair.
type Instrument struct {
	Venue  string
	Symbol string
	Base   string
	Quote  string
}

// Key identifies one live entry in the rate table.
type Key struct {
	Venue  string
	Symbol string
}

func (k Key) String() string {
	return k.Venue + ":" + k.Symbol
}

// Key returns the (venue, symbol) key of the instrument.
func (i Instrument) Key() Key {
	return Key{Venue: i.Venue, Symbol: i.Symbol}
}

// Pair renders the normalized pair as BASE/QUOTE.
func (i Instrument) Pair() string {
	return i.Base + "/" + i.Quote
}

// Rate is the latest top-of-book quote for an instrument.
type Rate struct {
	Instrument
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	ObservedAt time.Time
}

// Validate rejects quotes that cannot take part in any computation.
func (r Rate) Validate() error {
	if r.Symbol == "" {
		return ErrMissingSymbol
	}
	if !r.Bid.IsPositive() || !r.Ask.IsPositive() {
		return fmt.Errorf("%s bid=%s ask=%s: %w", r.Key(), r.Bid, r.Ask, ErrNonPositivePrice)
	}
	return nil
}

// Crossed reports a bid above the ask, a known data-quality issue on some venues.
func (r Rate) Crossed() bool {
	return r.Bid.GreaterThan(r.Ask)
}

// Level is one price level of an order book.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook holds bids sorted descending and asks sorted ascending.
type OrderBook struct {
	Instrument
	Bids       []Level
	Asks       []Level
	ObservedAt time.Time
}

// Sort orders bids from best (highest) and asks from best (lowest).
func (b *OrderBook) Sort() {
	sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price.GreaterThan(b.Bids[j].Price) })
	sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price.LessThan(b.Asks[j].Price) })
}

// BestBid returns the highest bid level.
func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Validate checks that both sides are populated and every price is positive.
func (b OrderBook) Validate() error {
	if b.Symbol == "" {
		return ErrMissingSymbol
	}
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return fmt.Errorf("%s: %w", b.Key(), ErrEmptyBook)
	}
	for _, side := range [][]Level{b.Bids, b.Asks} {
		for _, lvl := range side {
			if !lvl.Price.IsPositive() {
				return fmt.Errorf("%s level %s: %w", b.Key(), lvl.Price, ErrNonPositivePrice)
			}
		}
	}
	return nil
}

// TopOfBook derives the top-of-book rate. The book must be valid.
func (b OrderBook) TopOfBook() Rate {
	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	return Rate{Instrument: b.Instrument, Bid: bid.Price, Ask: ask.Price, ObservedAt: b.ObservedAt}
}

// Clone returns a deep copy so snapshots never share level slices with the owner.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = append([]Level(nil), b.Bids...)
	out.Asks = append([]Level(nil), b.Asks...)
	return out
}

// BookFromRate builds a one-level book from a ticker quote with zero depth.
func BookFromRate(r Rate) OrderBook {
	return OrderBook{
		Instrument: r.Instrument,
		Bids:       []Level{{Price: r.Bid}},
		Asks:       []Level{{Price: r.Ask}},
		ObservedAt: r.ObservedAt,
	}
}

// ParseLevels converts venue [price, quantity, ...] string rows into levels.
func ParseLevels(rows [][]string) ([]Level, error) {
	levels := make([]Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level row has %d fields", len(row))
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, fmt.Errorf("parse level price %q: %w", row[0], err)
		}
		qty, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("parse level quantity %q: %w", row[1], err)
		}
		levels = append(levels, Level{Price: price, Quantity: qty})
	}
	return levels, nil
}

// Update is the single message shape adapters hand to the rate store.
// Exactly one of Rate or Book is set.
type Update struct {
	Rate *Rate
	Book *OrderBook
}

// RateUpdate wraps a ticker quote.
func RateUpdate(r Rate) Update {
	return Update{Rate: &r}
}

// BookUpdate wraps an order book snapshot.
func BookUpdate(b OrderBook) Update {
	return Update{Book: &b}
}

// Key returns the (venue, symbol) the update applies to.
func (u Update) Key() Key {
	switch {
	case u.Book != nil:
		return u.Book.Key()
	case u.Rate != nil:
		return u.Rate.Key()
	default:
		return Key{}
	}
}

// ObservedAt returns the observation time carried by the update.
func (u Update) ObservedAt() time.Time {
	switch {
	case u.Book != nil:
		return u.Book.ObservedAt
	case u.Rate != nil:
		return u.Rate.ObservedAt
	default:
		return time.Time{}
	}
}

// Validate rejects updates that would corrupt the rate table.
func (u Update) Validate() error {
	switch {
	case u.Book != nil && u.Rate != nil:
		return errors.New("market: update carries both rate and book")
	case u.Book != nil:
		return u.Book.Validate()
	case u.Rate != nil:
		return u.Rate.Validate()
	default:
		return errors.New("market: empty update")
	}
}
