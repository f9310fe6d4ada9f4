package currency

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrOutsideLimits is returned when a transfer amount is outside an edge's bounds.
var ErrOutsideLimits = errors.New("currency: amount outside transfer limits")

// TransferEdge is the cost of moving one currency between two venues or wallets.
type TransferEdge struct {
	Currency string
	From     string
	To       string
	// Fee is proportional, 0.008 for 0.8%.
	Fee decimal.Decimal
	// FeeFixed is deducted once per transfer, in Currency units.
	FeeFixed decimal.Decimal
	// Rate is a premium applied on arrival; negative for a discount.
	Rate decimal.Decimal
	// Min and Max bound the amount; zero means unbounded.
	Min decimal.Decimal
	Max decimal.Decimal
}

func (e TransferEdge) validate() error {
	if e.Currency == "" || e.From == "" || e.To == "" {
		return errors.New("currency, from and to are required")
	}
	if e.Fee.IsNegative() || e.Fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee %s outside [0,1)", e.Fee)
	}
	if e.FeeFixed.IsNegative() {
		return fmt.Errorf("fee_fixed %s is negative", e.FeeFixed)
	}
	if e.Rate.LessThanOrEqual(decimal.NewFromInt(-1)) {
		return fmt.Errorf("rate %s would zero the transfer", e.Rate)
	}
	if e.Max.IsPositive() && e.Min.GreaterThan(e.Max) {
		return fmt.Errorf("min %s above max %s", e.Min, e.Max)
	}
	return nil
}

// Receive returns what arrives at To when amount leaves From.
func (e TransferEdge) Receive(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("transfer %s %s->%s: amount must be positive", e.Currency, e.From, e.To)
	}
	if amount.LessThan(e.Min) || (e.Max.IsPositive() && amount.GreaterThan(e.Max)) {
		return decimal.Zero, fmt.Errorf("transfer %s %s %s->%s: %w", amount, e.Currency, e.From, e.To, ErrOutsideLimits)
	}
	one := decimal.NewFromInt(1)
	out := amount.Mul(one.Sub(e.Fee)).Mul(one.Add(e.Rate)).Sub(e.FeeFixed)
	if out.IsNegative() {
		return decimal.Zero, nil
	}
	return out, nil
}

// Edges lists every transfer edge for currency, ordered by source then destination.
func (r *Registry) Edges(currency string) []TransferEdge {
	return r.filterEdges(func(e TransferEdge) bool { return currency == "" || e.Currency == currency })
}

// EdgesFrom lists the transfer edges leaving venue.
func (r *Registry) EdgesFrom(venue string) []TransferEdge {
	return r.filterEdges(func(e TransferEdge) bool { return e.From == venue })
}

// Edge looks up the edge moving currency from one venue to another.
func (r *Registry) Edge(currency, from, to string) (TransferEdge, bool) {
	if r == nil {
		return TransferEdge{}, false
	}
	for _, e := range r.edges {
		if e.Currency == currency && e.From == from && e.To == to {
			return e, true
		}
	}
	return TransferEdge{}, false
}

func (r *Registry) filterEdges(keep func(TransferEdge) bool) []TransferEdge {
	if r == nil {
		return nil
	}
	out := make([]TransferEdge, 0)
	for _, e := range r.edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
