package resolver

import (
	"sort"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// Source is any read-only view of current rates.
type Source interface {
	Rates() []market.Rate
}

// Quote is one venue's bid/ask for a from->to conversion.
type Quote struct {
	Venue    string
	Symbol   string
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	Inverted bool
}

// CrossQuote is a two-leg quote composed through a bridge currency.
type CrossQuote struct {
	Path []string
	Legs [2]Quote
	Bid  decimal.Decimal
	Ask  decimal.Decimal
}

var one = decimal.NewFromInt(1)

// GetRate lists every direct and inverse quote converting from into to.
// An inverse quote swaps sides: bid = 1/ask, ask = 1/bid.
func GetRate(src Source, from, to string) []Quote {
	out := make([]Quote, 0)
	if from == to {
		return out
	}
	for _, r := range src.Rates() {
		switch {
		case r.Base == from && r.Quote == to:
			out = append(out, Quote{Venue: r.Venue, Symbol: r.Symbol, Bid: r.Bid, Ask: r.Ask})
		case r.Base == to && r.Quote == from:
			if r.Bid.IsZero() || r.Ask.IsZero() {
				continue
			}
			out = append(out, Invert(Quote{Venue: r.Venue, Symbol: r.Symbol, Bid: r.Bid, Ask: r.Ask}))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Invert flips a quote to the opposite direction.
func Invert(q Quote) Quote {
	return Quote{
		Venue:    q.Venue,
		Symbol:   q.Symbol,
		Bid:      one.Div(q.Ask),
		Ask:      one.Div(q.Bid),
		Inverted: !q.Inverted,
	}
}

// CrossRate composes from->bridge and bridge->to legs for each bridge.
// Combinations with a missing leg are omitted.
func CrossRate(src Source, from, to string, bridges []string) []CrossQuote {
	out := make([]CrossQuote, 0)
	seen := make(map[string]struct{}, len(bridges))
	for _, bridge := range bridges {
		if bridge == from || bridge == to {
			continue
		}
		if _, dup := seen[bridge]; dup {
			continue
		}
		seen[bridge] = struct{}{}

		first := GetRate(src, from, bridge)
		if len(first) == 0 {
			continue
		}
		second := GetRate(src, bridge, to)
		for _, l1 := range first {
			for _, l2 := range second {
				out = append(out, CrossQuote{
					Path: []string{from, l1.Venue, bridge, l2.Venue, to},
					Legs: [2]Quote{l1, l2},
					Bid:  l1.Bid.Mul(l2.Bid),
					Ask:  l1.Ask.Mul(l2.Ask),
				})
			}
		}
	}
	return out
}

// Best picks the highest bid and the lowest ask across quotes.
func Best(quotes []Quote) (bestBid, bestAsk Quote, ok bool) {
	if len(quotes) == 0 {
		return Quote{}, Quote{}, false
	}
	bestBid, bestAsk = quotes[0], quotes[0]
	for _, q := range quotes[1:] {
		if q.Bid.GreaterThan(bestBid.Bid) {
			bestBid = q
		}
		if q.Ask.LessThan(bestAsk.Ask) {
			bestAsk = q
		}
	}
	return bestBid, bestAsk, true
}
