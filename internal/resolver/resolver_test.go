package resolver

import (
	"testing"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

type staticSource []market.Rate

func (s staticSource) Rates() []market.Rate { return s }

func mkRate(venue, base, quote, bid, ask string) market.Rate {
	return market.Rate{
		Instrument: market.Instrument{Venue: venue, Symbol: base + quote, Base: base, Quote: quote},
		Bid:        decimal.RequireFromString(bid),
		Ask:        decimal.RequireFromString(ask),
	}
}

func TestGetRateDirectAndInverse(t *testing.T) {
	src := staticSource{
		mkRate("bitfinex", "BTC", "USD", "30000", "30010"),
		mkRate("exmo", "USD", "BTC", "0.00003", "0.00004"),
		mkRate("hitbtc", "ETH", "USD", "2000", "2001"),
	}

	quotes := GetRate(src, "BTC", "USD")
	if len(quotes) != 2 {
		t.Fatalf("expected direct and inverse quote, got %d", len(quotes))
	}
	direct := quotes[0]
	if direct.Venue != "bitfinex" || direct.Inverted || !direct.Bid.Equal(decimal.NewFromInt(30000)) {
		t.Fatalf("direct quote must pass unchanged: %#v", direct)
	}
	inverse := quotes[1]
	if !inverse.Inverted {
		t.Fatal("exmo quote should be marked inverted")
	}
	// bid = 1/ask, ask = 1/bid
	if !inverse.Bid.Equal(decimal.NewFromInt(25000)) {
		t.Fatalf("inverse bid should be 1/ask = 25000, got %s", inverse.Bid)
	}
	if inverse.Ask.StringFixed(4) != "33333.3333" {
		t.Fatalf("inverse ask should be 1/bid, got %s", inverse.Ask)
	}
	if inverse.Bid.GreaterThan(inverse.Ask) {
		t.Fatal("inversion must keep bid <= ask")
	}
}

func TestInvertRoundTrip(t *testing.T) {
	q := Quote{Venue: "okx", Bid: decimal.RequireFromString("0.8"), Ask: decimal.RequireFromString("1.25")}
	back := Invert(Invert(q))
	if !back.Bid.Equal(q.Bid) || !back.Ask.Equal(q.Ask) || back.Inverted {
		t.Fatalf("double inversion should round trip: %#v", back)
	}
}

func TestCrossRateTriangulation(t *testing.T) {
	src := staticSource{
		mkRate("a", "BTC", "EUR", "27000", "27100"),
		mkRate("b", "USD", "EUR", "0.8", "1.25"),
		mkRate("c", "BTC", "USDT", "30000", "30050"),
	}

	got := CrossRate(src, "BTC", "USD", []string{"EUR", "USDT", "BTC"})
	if len(got) != 1 {
		t.Fatalf("only the EUR bridge has both legs, got %d", len(got))
	}
	cq := got[0]
	// EUR->USD is the inverse of USD/EUR: bid 1/1.25=0.8, ask 1/0.8=1.25
	if !cq.Bid.Equal(decimal.NewFromInt(21600)) {
		t.Fatalf("cross bid should be 27000*0.8, got %s", cq.Bid)
	}
	if !cq.Ask.Equal(decimal.NewFromInt(33875)) {
		t.Fatalf("cross ask should be 27100*1.25, got %s", cq.Ask)
	}
	if !cq.Bid.Equal(cq.Legs[0].Bid.Mul(cq.Legs[1].Bid)) || !cq.Ask.Equal(cq.Legs[0].Ask.Mul(cq.Legs[1].Ask)) {
		t.Fatal("cross quote must equal the product of its legs")
	}
	if len(cq.Path) != 5 || cq.Path[2] != "EUR" {
		t.Fatalf("unexpected path %v", cq.Path)
	}
}

func TestBest(t *testing.T) {
	quotes := []Quote{
		{Venue: "a", Bid: decimal.NewFromInt(10), Ask: decimal.NewFromInt(12)},
		{Venue: "b", Bid: decimal.NewFromInt(11), Ask: decimal.NewFromInt(13)},
		{Venue: "c", Bid: decimal.NewFromInt(9), Ask: decimal.NewFromInt(11)},
	}
	bid, ask, ok := Best(quotes)
	if !ok || bid.Venue != "b" || ask.Venue != "c" {
		t.Fatalf("unexpected best quotes bid=%s ask=%s", bid.Venue, ask.Venue)
	}
	if _, _, ok := Best(nil); ok {
		t.Fatal("no quotes should report ok=false")
	}
}
