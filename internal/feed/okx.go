package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// OKXURL is the public v5 websocket endpoint.
const OKXURL = "wss://ws.okx.com:8443/ws/v5/public"

// OKXCodec reads best bid/ask from the tickers channel.
type OKXCodec struct {
	venue string
	index instrumentIndex
}

// NewOKXCodec builds a codec for instruments on venue.
func NewOKXCodec(venue string, instruments []market.Instrument) *OKXCodec {
	return &OKXCodec{venue: venue, index: newInstrumentIndex(venue, instruments)}
}

func (c *OKXCodec) Venue() string { return c.venue }

func (c *OKXCodec) SubscribeMessages() ([][]byte, error) {
	symbols := c.index.symbols()
	args := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]string{"channel": "tickers", "instId": s})
	}
	msg, err := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return nil, err
	}
	return [][]byte{msg}, nil
}

type okxTicker struct {
	InstID string `json:"instId"`
	BidPx  string `json:"bidPx"`
	BidSz  string `json:"bidSz"`
	AskPx  string `json:"askPx"`
	AskSz  string `json:"askSz"`
	TS     string `json:"ts"`
}

type okxMessage struct {
	Arg *struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data  []okxTicker `json:"data"`
	Event string      `json:"event"`
	Code  string      `json:"code"`
	Msg   string      `json:"msg"`
}

func (c *OKXCodec) Decode(raw []byte, receivedAt time.Time) ([]market.Update, error) {
	// keepalive reply to a text "ping"
	if string(raw) == "pong" {
		return nil, nil
	}
	var msg okxMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("okx: decode: %w", err)
	}
	if msg.Event == "error" {
		return nil, fmt.Errorf("okx: venue error %s: %s", msg.Code, msg.Msg)
	}
	if msg.Event != "" || msg.Arg == nil || msg.Arg.Channel != "tickers" {
		return nil, nil
	}

	out := make([]market.Update, 0, len(msg.Data))
	for _, t := range msg.Data {
		symbol := t.InstID
		if symbol == "" {
			symbol = msg.Arg.InstID
		}
		inst, err := c.index.lookup(symbol)
		if err != nil {
			return nil, fmt.Errorf("okx: %w", err)
		}
		bid, err := decimal.NewFromString(t.BidPx)
		if err != nil {
			return nil, fmt.Errorf("okx: bidPx %q: %w", t.BidPx, err)
		}
		ask, err := decimal.NewFromString(t.AskPx)
		if err != nil {
			return nil, fmt.Errorf("okx: askPx %q: %w", t.AskPx, err)
		}
		bidSz, _ := decimal.NewFromString(t.BidSz)
		askSz, _ := decimal.NewFromString(t.AskSz)

		observed := receivedAt
		if ms, err := strconv.ParseInt(t.TS, 10, 64); err == nil && ms > 0 {
			observed = time.UnixMilli(ms).UTC()
		}
		out = append(out, market.BookUpdate(market.OrderBook{
			Instrument: inst,
			Bids:       []market.Level{{Price: bid, Quantity: bidSz}},
			Asks:       []market.Level{{Price: ask, Quantity: askSz}},
			ObservedAt: observed,
		}))
	}
	return out, nil
}

var _ Codec = (*OKXCodec)(nil)
