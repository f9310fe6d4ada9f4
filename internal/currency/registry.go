package currency

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// Alias maps a venue unit onto a canonical unit: one Canonical is worth
// Multiplier units of Symbol (1000 WMX make one BTC).
type Alias struct {
	Symbol     string
	Canonical  string
	Multiplier decimal.Decimal
}

// Registry is an immutable table of aliases and transfer edges.
type Registry struct {
	aliases map[string]Alias
	edges   []TransferEdge
}

// NewRegistry validates the alias table and indexes it by symbol.
func NewRegistry(aliases []Alias, edges []TransferEdge) (*Registry, error) {
	index := make(map[string]Alias, len(aliases))
	for _, a := range aliases {
		if a.Symbol == "" || a.Canonical == "" {
			return nil, fmt.Errorf("alias %q: symbol and canonical unit required", a.Symbol)
		}
		if !a.Multiplier.IsPositive() {
			return nil, fmt.Errorf("alias %s: multiplier must be positive", a.Symbol)
		}
		if _, dup := index[a.Symbol]; dup {
			return nil, fmt.Errorf("alias %s declared twice", a.Symbol)
		}
		index[a.Symbol] = a
	}
	// A canonical unit that is itself aliased would make normalization non-idempotent.
	for _, a := range index {
		if _, chained := index[a.Canonical]; chained {
			return nil, fmt.Errorf("alias %s maps to %s which is itself an alias", a.Symbol, a.Canonical)
		}
	}

	for i, e := range edges {
		if err := e.validate(); err != nil {
			return nil, fmt.Errorf("transfer edge %d: %w", i, err)
		}
	}

	return &Registry{aliases: index, edges: append([]TransferEdge(nil), edges...)}, nil
}

// ResolveAlias returns the alias declared for symbol, if any.
func (r *Registry) ResolveAlias(symbol string) (Alias, bool) {
	if r == nil {
		return Alias{}, false
	}
	a, ok := r.aliases[symbol]
	return a, ok
}

// Aliases returns the alias table sorted by symbol.
func (r *Registry) Aliases() []Alias {
	out := make([]Alias, 0, len(r.aliases))
	for _, a := range r.aliases {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// NormalizeRate rescales a quote into canonical units.
// An aliased base multiplies bid and ask; an aliased quote divides them.
func (r *Registry) NormalizeRate(rate market.Rate) market.Rate {
	if a, ok := r.ResolveAlias(rate.Base); ok {
		rate.Bid = rate.Bid.Mul(a.Multiplier)
		rate.Ask = rate.Ask.Mul(a.Multiplier)
		rate.Base = a.Canonical
	}
	if a, ok := r.ResolveAlias(rate.Quote); ok {
		rate.Bid = rate.Bid.Div(a.Multiplier)
		rate.Ask = rate.Ask.Div(a.Multiplier)
		rate.Quote = a.Canonical
	}
	return rate
}

// NormalizeBook applies the NormalizeRate price rule to every level.
// Quantities are denominated in the base, so an aliased base divides them.
func (r *Registry) NormalizeBook(book market.OrderBook) market.OrderBook {
	base, baseAliased := r.ResolveAlias(book.Base)
	quote, quoteAliased := r.ResolveAlias(book.Quote)
	if !baseAliased && !quoteAliased {
		return book
	}

	rescale := func(levels []market.Level) []market.Level {
		out := make([]market.Level, len(levels))
		for i, lvl := range levels {
			if baseAliased {
				lvl.Price = lvl.Price.Mul(base.Multiplier)
				lvl.Quantity = lvl.Quantity.Div(base.Multiplier)
			}
			if quoteAliased {
				lvl.Price = lvl.Price.Div(quote.Multiplier)
			}
			out[i] = lvl
		}
		return out
	}

	book.Bids = rescale(book.Bids)
	book.Asks = rescale(book.Asks)
	if baseAliased {
		book.Base = base.Canonical
	}
	if quoteAliased {
		book.Quote = quote.Canonical
	}
	return book
}

// NormalizeUpdate normalizes whichever payload the update carries.
func (r *Registry) NormalizeUpdate(u market.Update) market.Update {
	switch {
	case u.Book != nil:
		return market.BookUpdate(r.NormalizeBook(*u.Book))
	case u.Rate != nil:
		return market.RateUpdate(r.NormalizeRate(*u.Rate))
	default:
		return u
	}
}

// DefaultAliases lists the venue-specific units the legacy gateways quoted in.
func DefaultAliases() []Alias {
	one := decimal.NewFromInt(1)
	milli := decimal.NewFromInt(1000)
	return []Alias{
		{Symbol: "WMZ", Canonical: "USD", Multiplier: one},
		{Symbol: "WME", Canonical: "EUR", Multiplier: one},
		{Symbol: "WMR", Canonical: "RUR", Multiplier: one},
		{Symbol: "WMP", Canonical: "RUR", Multiplier: one},
		{Symbol: "WMX", Canonical: "BTC", Multiplier: milli},
		{Symbol: "WMH", Canonical: "BCH", Multiplier: milli},
		{Symbol: "WML", Canonical: "LTC", Multiplier: milli},
		{Symbol: "WMG", Canonical: "XAU", Multiplier: decimal.RequireFromString("31.1035")},
		{Symbol: "nWMG", Canonical: "XAU", Multiplier: decimal.RequireFromString("3110.35")},
		{Symbol: "mBTC", Canonical: "BTC", Multiplier: milli},
		{Symbol: "mETH", Canonical: "ETH", Multiplier: milli},
		{Symbol: "mBCH", Canonical: "BCH", Multiplier: milli},
		{Symbol: "mLTC", Canonical: "LTC", Multiplier: milli},
		{Symbol: "XAUt", Canonical: "XAU", Multiplier: one},
		{Symbol: "BAB", Canonical: "BCH", Multiplier: one},
	}
}
