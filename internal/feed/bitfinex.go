package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// BitfinexURL is the public v2 websocket endpoint.
const BitfinexURL = "wss://api-pub.bitfinex.com/ws/2"

// BitfinexCodec speaks the v2 ticker channel. Data frames reference a
// channel id assigned in the "subscribed" event, so the codec keeps that
// mapping per connection.
type BitfinexCodec struct {
	venue    string
	index    instrumentIndex
	channels map[int64]string
}

// NewBitfinexCodec builds a codec for instruments on venue.
func NewBitfinexCodec(venue string, instruments []market.Instrument) *BitfinexCodec {
	return &BitfinexCodec{
		venue:    venue,
		index:    newInstrumentIndex(venue, instruments),
		channels: make(map[int64]string),
	}
}

func (c *BitfinexCodec) Venue() string { return c.venue }

// Reset forgets channel ids from a previous connection.
func (c *BitfinexCodec) Reset() {
	c.channels = make(map[int64]string)
}

func (c *BitfinexCodec) SubscribeMessages() ([][]byte, error) {
	out := make([][]byte, 0, len(c.index))
	for _, symbol := range c.index.symbols() {
		msg, err := json.Marshal(map[string]string{
			"event":   "subscribe",
			"channel": "ticker",
			"symbol":  symbol,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

type bitfinexEvent struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

func (c *BitfinexCodec) Decode(raw []byte, receivedAt time.Time) ([]market.Update, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("bitfinex: empty frame")
	}
	if raw[0] == '{' {
		return nil, c.decodeEvent(raw)
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("bitfinex: decode frame: %w", err)
	}
	if len(frame) < 2 {
		return nil, fmt.Errorf("bitfinex: frame has %d elements", len(frame))
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return nil, fmt.Errorf("bitfinex: channel id: %w", err)
	}
	// heartbeat: [chanId, "hb"]
	if bytes.HasPrefix(bytes.TrimSpace(frame[1]), []byte(`"`)) {
		return nil, nil
	}

	symbol, ok := c.channels[chanID]
	if !ok {
		return nil, fmt.Errorf("bitfinex: channel %d: %w", chanID, ErrUnknownSymbol)
	}
	inst, err := c.index.lookup(symbol)
	if err != nil {
		return nil, err
	}

	// [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, ...]
	var fields []json.Number
	if err := json.Unmarshal(frame[1], &fields); err != nil {
		return nil, fmt.Errorf("bitfinex: ticker payload: %w", err)
	}
	if len(fields) < 4 {
		return nil, fmt.Errorf("bitfinex: ticker has %d fields", len(fields))
	}
	bid, err := decimal.NewFromString(fields[0].String())
	if err != nil {
		return nil, fmt.Errorf("bitfinex: bid: %w", err)
	}
	ask, err := decimal.NewFromString(fields[2].String())
	if err != nil {
		return nil, fmt.Errorf("bitfinex: ask: %w", err)
	}
	bidSize, _ := decimal.NewFromString(fields[1].String())
	askSize, _ := decimal.NewFromString(fields[3].String())

	book := market.OrderBook{
		Instrument: inst,
		Bids:       []market.Level{{Price: bid, Quantity: bidSize}},
		Asks:       []market.Level{{Price: ask, Quantity: askSize}},
		ObservedAt: receivedAt,
	}
	return []market.Update{market.BookUpdate(book)}, nil
}

func (c *BitfinexCodec) decodeEvent(raw []byte) error {
	var ev bitfinexEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("bitfinex: decode event: %w", err)
	}
	switch ev.Event {
	case "subscribed":
		if ev.Symbol == "" {
			return fmt.Errorf("bitfinex: subscribed event: %w", market.ErrMissingSymbol)
		}
		c.channels[ev.ChanID] = ev.Symbol
	case "error":
		return fmt.Errorf("bitfinex: venue error %d: %s", ev.Code, ev.Msg)
	}
	return nil
}

var _ Codec = (*BitfinexCodec)(nil)
