// Package evaluator turns a maker/taker order book pair into an annualized return.
package evaluator

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// SecondsPerYear is the annualization base (365 days).
const SecondsPerYear = 31_536_000

var (
	// ErrNonPositiveHorizon means expiry is at or before the evaluation instant.
	ErrNonPositiveHorizon = errors.New("seconds to expiration must be positive")
	// ErrNoExpiry means neither venue is dated and no spot horizon is configured.
	ErrNoExpiry = errors.New("no expiry and no spot horizon configured")
	// ErrEmptyBook means a book lacks the side the direction needs.
	ErrEmptyBook = market.ErrEmptyBook
	// ErrNonPositivePrice means a best level is priced at or below zero.
	ErrNonPositivePrice = market.ErrNonPositivePrice
)

// DomainError reports inputs for which no meaningful APR exists.
type DomainError struct {
	Venue  string
	Reason string
	Err    error
}

func (e *DomainError) Error() string {
	if e.Venue == "" {
		return fmt.Sprintf("evaluator: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("evaluator: %s %s: %v", e.Venue, e.Reason, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Direction names which venue carries the short leg.
type Direction string

const (
	ShortMaker Direction = "short-maker"
	LongMaker  Direction = "long-maker"
)

// DirectionOf maps the shortMaker flag onto a Direction.
func DirectionOf(shortMaker bool) Direction {
	if shortMaker {
		return ShortMaker
	}
	return LongMaker
}

// Costs are one venue's execution parameters. Fee and Slippage are fractions
// (0.0005 for 0.05%). Expiry is zero for instruments that never expire.
type Costs struct {
	Fee      decimal.Decimal
	Slippage decimal.Decimal
	Expiry   time.Time
}

// Input is everything one evaluation needs.
type Input struct {
	Maker      market.OrderBook
	Taker      market.OrderBook
	MakerCosts Costs
	TakerCosts Costs
	Now        time.Time
}

// Result holds the four numbers produced per comparison, in percent.
type Result struct {
	Short         decimal.Decimal
	Long          decimal.Decimal
	ShortAdjusted decimal.Decimal
	LongAdjusted  decimal.Decimal
	// Horizon is the time to expiration the values were annualized over.
	Horizon time.Duration
}

// Get returns the value for one direction/cost combination.
func (r Result) Get(dir Direction, adjusted bool) decimal.Decimal {
	switch {
	case dir == ShortMaker && adjusted:
		return r.ShortAdjusted
	case dir == ShortMaker:
		return r.Short
	case adjusted:
		return r.LongAdjusted
	default:
		return r.Long
	}
}

// Options configure an Evaluator.
type Options struct {
	// SpotHorizon annualizes non-expiring pairs over a fixed period.
	// Zero excludes them with ErrNoExpiry.
	SpotHorizon time.Duration
}

// Evaluator is stateless apart from its options and safe for concurrent use.
type Evaluator struct {
	opts Options
}

// New constructs an Evaluator.
func New(opts Options) *Evaluator {
	return &Evaluator{opts: opts}
}

var (
	one            = decimal.NewFromInt(1)
	hundred        = decimal.NewFromInt(100)
	secondsPerYear = decimal.NewFromInt(SecondsPerYear)
)

// APR computes the annualized return, in percent, of shorting on one venue and
// buying on the other. With shortMaker the maker bid is sold against the taker
// ask; otherwise the maker ask is bought against the taker bid.
func (e *Evaluator) APR(in Input, shortMaker, applyCosts bool) (decimal.Decimal, error) {
	seconds, _, err := e.secondsToExpiration(in)
	if err != nil {
		return decimal.Zero, err
	}
	return apr(in, shortMaker, applyCosts, seconds)
}

// EvaluateAll computes every direction/cost combination against one horizon.
func (e *Evaluator) EvaluateAll(in Input) (Result, error) {
	seconds, horizon, err := e.secondsToExpiration(in)
	if err != nil {
		return Result{}, err
	}

	res := Result{Horizon: horizon}
	targets := []struct {
		short, costs bool
		dst          *decimal.Decimal
	}{
		{true, false, &res.Short},
		{false, false, &res.Long},
		{true, true, &res.ShortAdjusted},
		{false, true, &res.LongAdjusted},
	}
	for _, t := range targets {
		v, err := apr(in, t.short, t.costs, seconds)
		if err != nil {
			return Result{}, err
		}
		*t.dst = v
	}
	return res, nil
}

func (e *Evaluator) secondsToExpiration(in Input) (decimal.Decimal, time.Duration, error) {
	var horizon time.Duration
	switch {
	case !in.MakerCosts.Expiry.IsZero():
		horizon = in.MakerCosts.Expiry.Sub(in.Now)
	case !in.TakerCosts.Expiry.IsZero():
		horizon = in.TakerCosts.Expiry.Sub(in.Now)
	case e.opts.SpotHorizon > 0:
		horizon = e.opts.SpotHorizon
	default:
		return decimal.Zero, 0, &DomainError{Reason: "annualization", Err: ErrNoExpiry}
	}
	if horizon <= 0 {
		return decimal.Zero, 0, &DomainError{Venue: in.Maker.Venue, Reason: fmt.Sprintf("expiry in %s", horizon), Err: ErrNonPositiveHorizon}
	}
	return decimal.New(horizon.Nanoseconds(), -9), horizon, nil
}

func apr(in Input, shortMaker, applyCosts bool, seconds decimal.Decimal) (decimal.Decimal, error) {
	makerCosts, takerCosts := in.MakerCosts, in.TakerCosts
	if !applyCosts {
		makerCosts, takerCosts = Costs{}, Costs{}
	}

	var shortPrice, longPrice decimal.Decimal
	if shortMaker {
		bid, err := bestPrice(in.Maker, true)
		if err != nil {
			return decimal.Zero, err
		}
		ask, err := bestPrice(in.Taker, false)
		if err != nil {
			return decimal.Zero, err
		}
		shortPrice = sell(bid, makerCosts)
		longPrice = buy(ask, takerCosts)
	} else {
		ask, err := bestPrice(in.Maker, false)
		if err != nil {
			return decimal.Zero, err
		}
		bid, err := bestPrice(in.Taker, true)
		if err != nil {
			return decimal.Zero, err
		}
		longPrice = buy(ask, makerCosts)
		shortPrice = sell(bid, takerCosts)
	}

	if !longPrice.IsPositive() {
		return decimal.Zero, &DomainError{Reason: "long price after costs", Err: ErrNonPositivePrice}
	}

	pnl := shortPrice.Sub(longPrice)
	return pnl.Div(longPrice).Mul(secondsPerYear.Div(seconds)).Mul(hundred), nil
}

func bestPrice(book market.OrderBook, bid bool) (decimal.Decimal, error) {
	side := "ask"
	lvl, ok := book.BestAsk()
	if bid {
		side = "bid"
		lvl, ok = book.BestBid()
	}
	if !ok {
		return decimal.Zero, &DomainError{Venue: book.Venue, Reason: side + " side", Err: ErrEmptyBook}
	}
	if !lvl.Price.IsPositive() {
		return decimal.Zero, &DomainError{Venue: book.Venue, Reason: "best " + side, Err: ErrNonPositivePrice}
	}
	return lvl.Price, nil
}

// sell is the price realized when hitting a bid.
func sell(price decimal.Decimal, c Costs) decimal.Decimal {
	return price.Mul(one.Sub(c.Slippage)).Mul(one.Sub(c.Fee))
}

// buy is the price paid when lifting an ask.
func buy(price decimal.Decimal, c Costs) decimal.Decimal {
	return price.Mul(one.Add(c.Slippage)).Mul(one.Add(c.Fee))
}
