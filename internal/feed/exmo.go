package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rate-arb-watch/internal/market"
)

// ExmoURL is the public v1 websocket endpoint.
const ExmoURL = "wss://ws-api.exmo.com:443/v1/public"

const (
	exmoTickerTopic = "spot/ticker:"
	exmoBookTopic   = "spot/order_book_snapshots:"
)

// ExmoCodec subscribes to both the ticker and the order book snapshot
// topics. Books carry depth; tickers keep the quote fresh between books.
type ExmoCodec struct {
	venue string
	index instrumentIndex
}

// NewExmoCodec builds a codec for instruments on venue.
func NewExmoCodec(venue string, instruments []market.Instrument) *ExmoCodec {
	return &ExmoCodec{venue: venue, index: newInstrumentIndex(venue, instruments)}
}

func (c *ExmoCodec) Venue() string { return c.venue }

func (c *ExmoCodec) SubscribeMessages() ([][]byte, error) {
	symbols := c.index.symbols()
	topics := make([]string, 0, 2*len(symbols))
	for _, s := range symbols {
		topics = append(topics, exmoTickerTopic+s, exmoBookTopic+s)
	}
	msg, err := json.Marshal(map[string]any{
		"id":     1,
		"method": "subscribe",
		"topics": topics,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{msg}, nil
}

type exmoMessage struct {
	TS      int64           `json:"ts"`
	Event   string          `json:"event"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
}

type exmoTicker struct {
	BuyPrice  string `json:"buy_price"`
	SellPrice string `json:"sell_price"`
	Updated   int64  `json:"updated"`
}

type exmoBook struct {
	Ask [][]string `json:"ask"`
	Bid [][]string `json:"bid"`
}

func (c *ExmoCodec) Decode(raw []byte, receivedAt time.Time) ([]market.Update, error) {
	var msg exmoMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("exmo: decode: %w", err)
	}
	switch msg.Event {
	case "update", "snapshot":
	case "error":
		return nil, fmt.Errorf("exmo: venue error %d: %s", msg.Code, msg.Message)
	default:
		// info, subscribed, unsubscribed
		return nil, nil
	}

	observed := receivedAt
	if msg.TS > 0 {
		observed = time.UnixMilli(msg.TS).UTC()
	}

	switch {
	case strings.HasPrefix(msg.Topic, exmoTickerTopic):
		inst, err := c.index.lookup(strings.TrimPrefix(msg.Topic, exmoTickerTopic))
		if err != nil {
			return nil, fmt.Errorf("exmo: %w", err)
		}
		return c.decodeTicker(inst, msg.Data, observed)
	case strings.HasPrefix(msg.Topic, exmoBookTopic):
		inst, err := c.index.lookup(strings.TrimPrefix(msg.Topic, exmoBookTopic))
		if err != nil {
			return nil, fmt.Errorf("exmo: %w", err)
		}
		return c.decodeBook(inst, msg.Data, observed)
	case msg.Topic == "":
		return nil, fmt.Errorf("exmo: update without topic: %w", market.ErrMissingSymbol)
	default:
		return nil, nil
	}
}

func (c *ExmoCodec) decodeTicker(inst market.Instrument, data json.RawMessage, observed time.Time) ([]market.Update, error) {
	var t exmoTicker
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("exmo: ticker payload: %w", err)
	}
	bid, err := decimal.NewFromString(t.BuyPrice)
	if err != nil {
		return nil, fmt.Errorf("exmo: buy_price %q: %w", t.BuyPrice, err)
	}
	ask, err := decimal.NewFromString(t.SellPrice)
	if err != nil {
		return nil, fmt.Errorf("exmo: sell_price %q: %w", t.SellPrice, err)
	}
	return []market.Update{market.RateUpdate(market.Rate{
		Instrument: inst,
		Bid:        bid,
		Ask:        ask,
		ObservedAt: observed,
	})}, nil
}

func (c *ExmoCodec) decodeBook(inst market.Instrument, data json.RawMessage, observed time.Time) ([]market.Update, error) {
	var b exmoBook
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("exmo: book payload: %w", err)
	}
	bids, err := market.ParseLevels(b.Bid)
	if err != nil {
		return nil, fmt.Errorf("exmo: bids: %w", err)
	}
	asks, err := market.ParseLevels(b.Ask)
	if err != nil {
		return nil, fmt.Errorf("exmo: asks: %w", err)
	}
	return []market.Update{market.BookUpdate(market.OrderBook{
		Instrument: inst,
		Bids:       bids,
		Asks:       asks,
		ObservedAt: observed,
	})}, nil
}

var _ Codec = (*ExmoCodec)(nil)
